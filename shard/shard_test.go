package shard

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/quicrouter/executor"
	"github.com/TheRockettek/quicrouter/frame"
	"github.com/TheRockettek/quicrouter/session"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake-addr" }

type fakeTransport struct{}

func (fakeTransport) Send([]byte) error        { return nil }
func (fakeTransport) RemoteAddr() net.Addr      { return fakeAddr{} }
func (fakeTransport) Framed() bool              { return true }
func (fakeTransport) Close(string) error        { return nil }

func newTestSock() *session.Sock {
	return session.New(fakeTransport{}, func(frame.Frame) {}, func() {})
}

func TestIndexForIsDeterministic(t *testing.T) {
	pool := executor.New(4)
	defer pool.Shutdown()
	tbl := New(pool, 16)

	i1 := tbl.IndexFor("account-123")
	i2 := tbl.IndexFor("account-123")
	assert.Equal(t, i1, i2)
	assert.True(t, i1 >= 0 && i1 < tbl.Count())
}

func TestAttachSameShardRegistersOwnerLocally(t *testing.T) {
	pool := executor.New(2)
	defer pool.Shutdown()
	tbl := New(pool, 16)

	id := "same-shard-id"
	idx := tbl.IndexFor(id)

	done := make(chan struct{})
	pool.Runner(idx).Post(func() {
		tbl.Attach(idx, id, newTestSock())
		close(done)
	})
	<-done

	time.Sleep(10 * time.Millisecond)

	owner, ok := tbl.Owner(id)
	require.True(t, ok)
	assert.Equal(t, idx, owner)

	cached, ok := tbl.CacheLookup(idx, id)
	require.True(t, ok)
	assert.Equal(t, idx, cached)

	sock, ok := tbl.Local(idx, id)
	require.True(t, ok)
	assert.NotNil(t, sock)
}

func TestDetachClearsOwnerAndCache(t *testing.T) {
	pool := executor.New(2)
	defer pool.Shutdown()
	tbl := New(pool, 16)

	id := "detach-id"
	idx := tbl.IndexFor(id)

	done := make(chan struct{})
	pool.Runner(idx).Post(func() {
		tbl.Attach(idx, id, newTestSock())
		tbl.Detach(idx, id)
		close(done)
	})
	<-done
	time.Sleep(10 * time.Millisecond)

	_, ok := tbl.Owner(id)
	assert.False(t, ok)
	_, ok = tbl.CacheLookup(idx, id)
	assert.False(t, ok)
}

func TestAttachReplacesExistingRegistrationOnSameShard(t *testing.T) {
	pool := executor.New(1)
	defer pool.Shutdown()
	tbl := New(pool, 16)

	id := "replace-id"
	idx := tbl.IndexFor(id)

	done := make(chan struct{})
	pool.Runner(idx).Post(func() {
		first := newTestSock()
		tbl.Attach(idx, id, first)
		second := newTestSock()
		tbl.Attach(idx, id, second)

		sock, ok := tbl.Local(idx, id)
		assert.True(t, ok)
		assert.Same(t, second, sock)
		close(done)
	})
	<-done
}

func TestCacheIsConfinedToOwningShardNotShared(t *testing.T) {
	pool := executor.New(4)
	defer pool.Shutdown()
	tbl := New(pool, 16)

	id := "cache-confinement-id"
	homeIdx := tbl.IndexFor(id)
	otherIdx := (homeIdx + 1) % tbl.Count()

	done := make(chan struct{})
	pool.Runner(homeIdx).Post(func() {
		tbl.Attach(homeIdx, id, newTestSock())
		close(done)
	})
	<-done
	time.Sleep(10 * time.Millisecond)

	// homeIdx warmed its own cache on Attach...
	cached, ok := tbl.CacheLookup(homeIdx, id)
	require.True(t, ok)
	assert.Equal(t, homeIdx, cached)

	// ...but a different shard's cache was never written to, proving the
	// cache is per-shard (spec.md §3/§5) rather than one table-wide LRU.
	_, ok = tbl.CacheLookup(otherIdx, id)
	assert.False(t, ok)
}
