// Package transport adapts the two wire transports spec.md §6 names
// (QUIC and WebTransport) to session.Transport. Grounded on the
// teacher's gateway/shard.go (one struct per connection owning its
// websocket) generalized to quic-go's connection/stream API, since the
// teacher's own stack has no QUIC dependency; quic-go/quic-go and
// quic-go/webtransport-go are both grounded on orbas1-Synnergy's go.mod
// (SPEC_FULL.md DOMAIN STACK).
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// QUICListener accepts new QUIC connections and accepts each one's single
// peer-opened framing stream (spec.md §4.1: "every message is length-prefixed").
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC opens a QUIC listener on addr using the given TLS and ALPN
// configuration.
func ListenQUIC(addr, certFile, keyFile, alpn string) (*QUICListener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load tls cert: %w", err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("transport: listen quic: %w", err)
	}
	return &QUICListener{ln: ln}, nil
}

// Accept blocks for the next QUIC connection and then for the first
// stream the peer opens on it, returning a ready-to-use Transport.
func (l *QUICListener) Accept(ctx context.Context) (*QUICTransport, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept quic connection: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no framing stream opened")
		return nil, fmt.Errorf("transport: accept quic stream: %w", err)
	}
	return &QUICTransport{conn: conn, stream: stream}, nil
}

// Close stops accepting new connections.
func (l *QUICListener) Close() error {
	return l.ln.Close()
}

// QUICTransport carries one session over one QUIC connection's single
// bidirectional framing stream.
type QUICTransport struct {
	conn   *quic.Conn
	stream *quic.Stream

	writeMu sync.Mutex
}

const recvBufSize = 32 * 1024

// Send writes buf in full to the framing stream.
func (t *QUICTransport) Send(buf []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	n, err := t.stream.Write(buf)
	if err != nil {
		return fmt.Errorf("transport: quic write: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("transport: quic short write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// Recv blocks for the next chunk of bytes off the framing stream. The
// caller (the server's read loop) feeds the returned bytes to the
// owning session.Sock.Feed. ctx cancellation (server shutdown) cancels
// the in-flight Read via CancelRead, since quic.Stream.Read itself takes
// no context.
func (t *QUICTransport) Recv(ctx context.Context) ([]byte, error) {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			t.stream.CancelRead(0)
		case <-watchDone:
		}
	}()

	buf := make([]byte, recvBufSize)
	n, err := t.stream.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, fmt.Errorf("transport: quic read: %w", err)
	}
	return nil, nil
}

// RemoteAddr returns the connection's remote network address.
func (t *QUICTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Framed reports true: QUIC streams need the length-prefix codec.
func (t *QUICTransport) Framed() bool { return true }

// Close tears down the QUIC connection with reason as the closing
// application message.
func (t *QUICTransport) Close(reason string) error {
	return t.conn.CloseWithError(0, reason)
}
