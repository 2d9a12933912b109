package routecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(4)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestSetThenGetHits(t *testing.T) {
	c := New(4)
	c.Set("account-1", 3)
	idx, ok := c.Get("account-1")
	assert.True(t, ok)
	assert.Equal(t, 3, idx)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(4)
	c.Set("account-1", 3)
	c.Invalidate("account-1")
	_, ok := c.Get("account-1")
	assert.False(t, ok)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	c.Set("a", 0)
	c.Set("b", 1)
	c.Set("c", 2) // evicts "a"

	_, ok := c.Get("a")
	assert.False(t, ok)

	idx, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}
