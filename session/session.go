// Package session implements Sock (spec.md §4.1): one instance per remote
// peer, owning its transport handle, receive-reassembly buffer,
// registration-timeout timer, and write queue. Grounded on the teacher's
// gateway/shard.go (one struct owning one connection's full lifecycle,
// wsMutex-guarded writes, ctx/cancel for teardown) and the original
// source's MsquicSocket.cpp/MsquicSocketClient.cpp for the framing-mode
// and registration-timer shape.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/TheRockettek/quicrouter/frame"
)

// Kind distinguishes the three session roles of spec.md §3.
type Kind int

const (
	KindClient Kind = iota
	KindCloudServer
	KindCloudProcess
)

// RegistrationDeadline is the 10-second timer armed on session creation
// (spec.md §4.1/§5/§8 invariant 4).
const RegistrationDeadline = 10 * time.Second

// Transport is the minimal capability session.Sock needs from whichever
// QUIC or WebTransport stream backs it. The transport package provides
// concrete implementations for both variants.
type Transport interface {
	// Send transfers ownership of buf to the transport until the
	// send-completion event; Send itself may block until that event.
	Send(buf []byte) error
	// RemoteAddr is used only for auditing (spec.md §3) and for the
	// allocator's server-IP lookup.
	RemoteAddr() net.Addr
	// Framed reports whether this transport needs the length-prefixed
	// QUIC framing (true) or delivers one message per Send/receive
	// event already (false, WebTransport datagrams).
	Framed() bool
	// Close tears down the underlying connection.
	Close(reason string) error
}

// Sock is one session, pinned to exactly one shard for its entire life
// (spec.md §4.1: "Owned by the shard that accepted it; never shared
// across shards").
type Sock struct {
	transport Transport

	mu            sync.Mutex
	reassembler   frame.Reassembler
	accountID     string
	isRegistered  bool
	kind          Kind
	gameType      string

	deadlineTimer *time.Timer
	deadlineOnce  sync.Once

	onFrame   func(f frame.Frame)
	onTimeout func()

	writeMu sync.Mutex
}

// New creates a Sock and arms its registration deadline. onFrame is
// invoked (on the caller's goroutine, synchronously) for every complete
// frame the receive loop reassembles; onTimeout is invoked if the
// registration deadline fires before Register is called.
func New(t Transport, onFrame func(frame.Frame), onTimeout func()) *Sock {
	s := &Sock{
		transport: t,
		onFrame:   onFrame,
		onTimeout: onTimeout,
	}
	s.deadlineTimer = time.AfterFunc(RegistrationDeadline, func() {
		s.mu.Lock()
		registered := s.isRegistered
		s.mu.Unlock()
		if !registered && s.onTimeout != nil {
			s.onTimeout()
		}
	})
	return s
}

// AccountID returns the logical id this session registered under, or ""
// if it has not registered yet.
func (s *Sock) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// IsRegistered reports whether Register has been called. One-shot: once
// true it never reverts to false except via session teardown (§4.1).
func (s *Sock) IsRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRegistered
}

// Kind returns the session's role.
func (s *Sock) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// GameType returns the game type this session was allocated for (only
// meaningful when Kind() == KindCloudProcess).
func (s *Sock) GameType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameType
}

// Register marks the session registered under accountID and cancels the
// registration-deadline timer. Only the timer cancellation is one-shot: a
// later call overwrites accountID, kind and gameType, and the session stays
// registered.
func (s *Sock) Register(accountID string, kind Kind, gameType string) {
	s.deadlineOnce.Do(func() {
		s.deadlineTimer.Stop()
	})

	s.mu.Lock()
	s.accountID = accountID
	s.isRegistered = true
	s.kind = kind
	s.gameType = gameType
	s.mu.Unlock()
}

// RemoteAddr exposes the transport's remote address, used by the
// allocator to match a server's registered ip_address (spec.md §4.5).
func (s *Sock) RemoteAddr() net.Addr {
	return s.transport.RemoteAddr()
}

// Write enqueues buf as one outbound message, framing it if the
// underlying transport requires it (spec.md §4.1's write path:
// "message boundaries are preserved").
func (s *Sock) Write(buf []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.transport.Framed() {
		buf = frame.EncodeLengthPrefixed(buf)
	}
	if err := s.transport.Send(buf); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// WriteFrame encodes and writes f.
func (s *Sock) WriteFrame(f frame.Frame) error {
	body, err := f.Encode()
	if err != nil {
		return err
	}
	return s.Write(body)
}

// Feed appends newly received bytes and dispatches every complete frame
// found, per the receive loop in spec.md §4.1. For non-framed transports
// (WebTransport), each call to Feed is itself exactly one message.
func (s *Sock) Feed(b []byte) error {
	if !s.transport.Framed() {
		f, err := frame.Decode(b)
		if err != nil {
			return fmt.Errorf("session: decode datagram: %w", err)
		}
		s.dispatch(f)
		return nil
	}

	s.reassembler.Feed(b)
	return s.reassembler.Drain(func(body []byte) error {
		f, err := frame.Decode(body)
		if err != nil {
			return fmt.Errorf("session: decode frame: %w", err)
		}
		s.dispatch(f)
		return nil
	})
}

func (s *Sock) dispatch(f frame.Frame) {
	if s.onFrame != nil {
		s.onFrame(frame.Normalize(f))
	}
}

// Close tears down the transport with reason.
func (s *Sock) Close(reason string) error {
	s.deadlineOnce.Do(func() {
		s.deadlineTimer.Stop()
	})
	return s.transport.Close(reason)
}
