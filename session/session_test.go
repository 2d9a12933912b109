package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/quicrouter/frame"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake-addr" }

type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (t *fakeTransport) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, b)
	return nil
}
func (t *fakeTransport) RemoteAddr() net.Addr { return fakeAddr{} }
func (t *fakeTransport) Framed() bool         { return true }
func (t *fakeTransport) Close(string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func TestFeedSingleFrameDispatches(t *testing.T) {
	tr := &fakeTransport{}
	var got frame.Frame
	done := make(chan struct{})
	s := New(tr, func(f frame.Frame) { got = f; close(done) }, func() {})

	f := frame.Frame{frame.FieldRequestType: float64(1)}
	body, err := f.Encode()
	require.NoError(t, err)

	require.NoError(t, s.Feed(frame.EncodeLengthPrefixed(body)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame never dispatched")
	}
	rt, _ := got.RequestType()
	assert.Equal(t, 1, rt)
}

func TestFeedByteAtATimeDispatchesOnce(t *testing.T) {
	tr := &fakeTransport{}
	count := 0
	var mu sync.Mutex
	s := New(tr, func(frame.Frame) {
		mu.Lock()
		count++
		mu.Unlock()
	}, func() {})

	f := frame.Frame{frame.FieldRequestType: float64(2)}
	body, err := f.Encode()
	require.NoError(t, err)
	wire := frame.EncodeLengthPrefixed(body)

	for _, b := range wire {
		require.NoError(t, s.Feed([]byte{b}))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestRegisterCancelsDeadlineTimer(t *testing.T) {
	tr := &fakeTransport{}
	timedOut := make(chan struct{})
	s := New(tr, func(frame.Frame) {}, func() { close(timedOut) })
	s.deadlineTimer.Stop()
	s.deadlineTimer = time.AfterFunc(20*time.Millisecond, func() {
		s.mu.Lock()
		registered := s.isRegistered
		s.mu.Unlock()
		if !registered {
			close(timedOut)
		}
	})

	s.Register("account-1", KindClient, "")

	select {
	case <-timedOut:
		t.Fatal("timeout fired despite registration")
	case <-time.After(60 * time.Millisecond):
	}

	assert.True(t, s.IsRegistered())
	assert.Equal(t, "account-1", s.AccountID())
}

func TestWriteFramesNonFramedTransport(t *testing.T) {
	tr := &fakeTransport{}
	tr2 := struct{ *fakeTransport }{tr}
	_ = tr2

	unframed := &unframedTransport{fakeTransport: tr}
	s := New(unframed, func(frame.Frame) {}, func() {})

	require.NoError(t, s.WriteFrame(frame.Frame{frame.FieldRequestType: float64(9)}))

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.sent, 1)

	decoded, err := frame.Decode(tr.sent[0])
	require.NoError(t, err)
	rt, _ := decoded.RequestType()
	assert.Equal(t, 9, rt)
}

type unframedTransport struct {
	*fakeTransport
}

func (u *unframedTransport) Framed() bool { return false }
