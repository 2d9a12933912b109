package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// WebTransportListener accepts incoming HTTP/3 WebTransport upgrade
// requests and hands back one Transport per accepted session. Unlike
// QUICListener's Accept, sessions arrive through an HTTP handler, so
// Accept here drains a channel fed by that handler.
type WebTransportListener struct {
	server *webtransport.Server
	h3     *http3.Server

	accepted chan *WebTransportTransport
}

// ListenWebTransport builds an HTTP/3 server for addr serving a single
// WebTransport upgrade endpoint ("/connect", matching the original
// source's MsquicWebTransportSocket path naming). Serve starts it.
func ListenWebTransport(addr, certFile, keyFile string) (*WebTransportListener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load tls cert: %w", err)
	}

	h3 := &http3.Server{
		Addr:      addr,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}

	l := &WebTransportListener{
		h3:       h3,
		accepted: make(chan *WebTransportTransport, 64),
	}
	l.server = &webtransport.Server{
		H3: *h3,
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", l.handleConnect)
	l.server.H3.Handler = mux

	return l, nil
}

// Serve blocks, running the HTTP/3 listener until it errors or is
// closed.
func (l *WebTransportListener) Serve() error {
	if err := l.server.ListenAndServe(); err != nil {
		return fmt.Errorf("transport: webtransport serve: %w", err)
	}
	return nil
}

func (l *WebTransportListener) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, err := l.server.Upgrade(w, r)
	if err != nil {
		http.Error(w, "webtransport upgrade failed", http.StatusInternalServerError)
		return
	}
	l.accepted <- &WebTransportTransport{sess: sess}
}

// Accept blocks for the next upgraded WebTransport session.
func (l *WebTransportListener) Accept(ctx context.Context) (*WebTransportTransport, error) {
	select {
	case t := <-l.accepted:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the HTTP/3 listener.
func (l *WebTransportListener) Close() error {
	return l.server.Close()
}

// WebTransportTransport carries one session over one WebTransport
// session's datagrams: spec.md §4.1 "on the WebTransport variant the
// framing is omitted (one datagram = one body)".
type WebTransportTransport struct {
	sess *webtransport.Session
}

// Send writes buf as a single datagram.
func (t *WebTransportTransport) Send(buf []byte) error {
	if err := t.sess.SendDatagram(buf); err != nil {
		return fmt.Errorf("transport: webtransport send datagram: %w", err)
	}
	return nil
}

// Recv blocks for the next datagram.
func (t *WebTransportTransport) Recv(ctx context.Context) ([]byte, error) {
	b, err := t.sess.ReceiveDatagram(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: webtransport receive datagram: %w", err)
	}
	return b, nil
}

// RemoteAddr returns the session's remote network address.
func (t *WebTransportTransport) RemoteAddr() net.Addr {
	return t.sess.RemoteAddr()
}

// Framed reports false: WebTransport datagrams already preserve message
// boundaries.
func (t *WebTransportTransport) Framed() bool { return false }

// Close tears down the WebTransport session with reason.
func (t *WebTransportTransport) Close(reason string) error {
	return t.sess.CloseWithError(0, reason)
}
