package logic

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/quicrouter/auth"
	"github.com/TheRockettek/quicrouter/executor"
	"github.com/TheRockettek/quicrouter/frame"
	"github.com/TheRockettek/quicrouter/idlepool"
	"github.com/TheRockettek/quicrouter/router"
	"github.com/TheRockettek/quicrouter/session"
	"github.com/TheRockettek/quicrouter/shard"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "10.0.0.1:9999" }

type recordingTransport struct {
	got chan []byte
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{got: make(chan []byte, 8)}
}

func (t *recordingTransport) Send(b []byte) error {
	t.got <- b
	return nil
}
func (t *recordingTransport) RemoteAddr() net.Addr { return fakeAddr{} }
func (t *recordingTransport) Framed() bool         { return false }
func (t *recordingTransport) Close(string) error   { return nil }

func newDispatcher(t *testing.T) (*Dispatcher, *shard.Table, int) {
	pool := executor.New(2)
	t.Cleanup(pool.Shutdown)
	tbl := shard.New(pool, 16)
	rtr := router.New(tbl, zerolog.Nop())
	idle := idlepool.New()
	verifier := auth.NewVerifier("test-secret")

	idx := 0
	d := New(idx, pool, nil, tbl, rtr, idle, verifier, zerolog.Nop())
	RegisterAll(d)
	return d, tbl, idx
}

func TestHandleRegisterSucceedsAndAttaches(t *testing.T) {
	d, tbl, idx := newDispatcher(t)
	issuer := auth.NewIssuer("test-secret", time.Minute)
	token, err := issuer.Sign("account-1")
	require.NoError(t, err)

	tr := newRecordingTransport()
	sock := session.New(tr, func(frame.Frame) {}, func() {})

	f := frame.Frame{
		frame.FieldRequestType:   float64(frame.RequestRegister),
		frame.FieldAuthorization: token,
	}

	done := make(chan struct{})
	// Dispatch must run on the owning shard's goroutine per the package
	// contract; since this Dispatcher was built for shard index 0,
	// post through its own runner to match real usage.
	d.pool.Runner(idx).Post(func() {
		d.Handle(sock, f)
		close(done)
	})
	<-done

	select {
	case body := <-tr.got:
		reply, err := frame.Decode(body)
		require.NoError(t, err)
		state, _ := reply.GetInt(frame.FieldState)
		assert.Equal(t, 200, state)
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}

	_, ok := tbl.Local(idx, "account-1")
	assert.True(t, ok)
}

func TestHandleRegisterRejectsBadToken(t *testing.T) {
	d, _, _ := newDispatcher(t)

	tr := newRecordingTransport()
	sock := session.New(tr, func(frame.Frame) {}, func() {})

	f := frame.Frame{
		frame.FieldRequestType:   float64(frame.RequestRegister),
		frame.FieldAuthorization: "not-a-jwt",
	}
	d.Handle(sock, f)

	select {
	case body := <-tr.got:
		reply, err := frame.Decode(body)
		require.NoError(t, err)
		state, _ := reply.GetInt(frame.FieldState)
		assert.Equal(t, 500, state)
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}
}

func TestHandleGameStopThenUserRequestByGameTypeForwards(t *testing.T) {
	d, tbl, idx := newDispatcher(t)

	workerTr := newRecordingTransport()
	workerSock := session.New(workerTr, func(frame.Frame) {}, func() {})
	workerSock.Register("worker-1", session.KindCloudProcess, "arena")
	tbl.Attach(idx, "worker-1", workerSock)

	stopFrame := frame.Frame{
		frame.FieldRequestType: float64(frame.RequestGameStop),
		frame.FieldAccountID:   "worker-1",
		"gameType":             "arena",
	}
	d.Handle(workerSock, stopFrame)

	callerTr := newRecordingTransport()
	callerSock := session.New(callerTr, func(frame.Frame) {}, func() {})

	reqFrame := frame.Frame{
		frame.FieldRequestType: float64(frame.RequestUserRequestByGameType),
		"gameType":             "arena",
	}
	d.Handle(callerSock, reqFrame)

	select {
	case body := <-workerTr.got:
		reply, err := frame.Decode(body)
		require.NoError(t, err)
		rt, _ := reply.RequestType()
		assert.Equal(t, frame.RequestForward, rt)
	case <-time.After(time.Second):
		t.Fatal("worker never received forwarded frame")
	}
}

func TestHandleUnknownTargetRepliesViaRouter(t *testing.T) {
	d, _, _ := newDispatcher(t)

	tr := newRecordingTransport()
	sock := session.New(tr, func(frame.Frame) {}, func() {})

	f := frame.Frame{
		frame.FieldRequestType: float64(frame.RequestForward),
		frame.FieldTargetID:    "nobody",
	}
	d.Handle(sock, f)

	select {
	case body := <-tr.got:
		reply, err := frame.Decode(body)
		require.NoError(t, err)
		state, _ := reply.GetInt(frame.FieldState)
		assert.Equal(t, 404, state)
	case <-time.After(2 * time.Second):
		t.Fatal("no 404 reply received")
	}
}
