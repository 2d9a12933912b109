package idlepool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddRemoveContains(t *testing.T) {
	p := New()
	assert.False(t, p.Contains("fps", "proc-1"))

	p.Add("fps", "proc-1")
	assert.True(t, p.Contains("fps", "proc-1"))
	assert.False(t, p.Contains("rts", "proc-1"))

	p.Remove("fps", "proc-1")
	assert.False(t, p.Contains("fps", "proc-1"))
}

func TestPopEmptyReturnsFalse(t *testing.T) {
	p := New()
	_, ok := p.Pop("fps")
	assert.False(t, ok)
}

func TestPopRemovesExactlyOne(t *testing.T) {
	p := New()
	p.Add("fps", "proc-1")
	p.Add("fps", "proc-2")

	id, ok := p.Pop("fps")
	assert.True(t, ok)
	assert.Contains(t, []string{"proc-1", "proc-2"}, id)
	assert.Equal(t, 1, p.Len("fps"))
}

func TestConcurrentAddPop(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Add("fps", string(rune('a'+i%26)))
		}(i)
	}
	wg.Wait()

	count := 0
	for {
		if _, ok := p.Pop("fps"); !ok {
			break
		}
		count++
	}
	assert.LessOrEqual(t, count, 100)
}
