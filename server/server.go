// Package server owns the listener pair, the shard table, and graceful
// shutdown (spec.md §5 "Shutdown", §6 "Exit codes"). Grounded on the
// teacher's gateway/manager.go (owns every ShardGroup, fans out
// lifecycle events, SIGINT/SIGTERM handling in main.go) generalized
// from "one websocket per shard group" to "accept-time round-robin
// across N shard goroutines".
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheRockettek/quicrouter/auth"
	"github.com/TheRockettek/quicrouter/config"
	"github.com/TheRockettek/quicrouter/dbpool"
	"github.com/TheRockettek/quicrouter/executor"
	"github.com/TheRockettek/quicrouter/frame"
	"github.com/TheRockettek/quicrouter/idlepool"
	"github.com/TheRockettek/quicrouter/logic"
	"github.com/TheRockettek/quicrouter/router"
	"github.com/TheRockettek/quicrouter/session"
	"github.com/TheRockettek/quicrouter/shard"
	"github.com/TheRockettek/quicrouter/store"
	"github.com/TheRockettek/quicrouter/transport"
)

// staleAfterSeconds bounds how long a process may go without a
// heartbeat before the housekeeping sweep marks it unhealthy
// (SPEC_FULL.md supplemented feature: health-check column semantics).
const staleAfterSeconds = 120

// housekeepingInterval drives both the stale-process sweep and the
// supplemented SERVER_HEARTBEAT sweep.
const housekeepingInterval = 60 * time.Second

// Server owns the QUIC and WebTransport listeners, the shard table, and
// one logic.Dispatcher per shard.
type Server struct {
	cfg *config.Config
	log zerolog.Logger

	pool  *executor.Pool
	table *shard.Table
	db    *dbpool.Pool

	dispatchers []*logic.Dispatcher

	quicLn *transport.QUICListener
	wtLn   *transport.WebTransportListener

	next uint64
	mu   sync.Mutex
	wg   sync.WaitGroup
}

// New assembles a Server from already-opened dependencies. Callers
// build config, logger, executor pool, and DB pool first (cmd/router's
// job) and hand them in here.
func New(cfg *config.Config, log zerolog.Logger, pool *executor.Pool, db *dbpool.Pool) *Server {
	table := shard.New(pool, cfg.RouterRouteCacheSize)
	idle := idlepool.New()
	verifier := auth.NewVerifier(cfg.RouterRegisterSecret)
	rtr := router.New(table, log)

	dispatchers := make([]*logic.Dispatcher, pool.Size())
	for i := range dispatchers {
		d := logic.New(i, pool, db, table, rtr, idle, verifier, log)
		logic.RegisterAll(d)
		dispatchers[i] = d
	}

	return &Server{
		cfg:         cfg,
		log:         log,
		pool:        pool,
		table:       table,
		db:          db,
		dispatchers: dispatchers,
	}
}

// Listen opens both transports. Callers must call Listen before Run.
func (s *Server) Listen() error {
	quicLn, err := transport.ListenQUIC(
		fmt.Sprintf(":%d", s.cfg.QUICPort),
		s.cfg.QUICCertificateFile, s.cfg.QUICPrivateKeyFile, s.cfg.RouterALPN)
	if err != nil {
		return fmt.Errorf("server: listen quic: %w", err)
	}
	s.quicLn = quicLn

	wtLn, err := transport.ListenWebTransport(
		fmt.Sprintf(":%d", s.cfg.WebTransportPort),
		s.cfg.WebTransportCertificateFile, s.cfg.WebTransportPrivateKeyFile)
	if err != nil {
		_ = quicLn.Close()
		return fmt.Errorf("server: listen webtransport: %w", err)
	}
	s.wtLn = wtLn

	return nil
}

// Run accepts connections on both transports and runs housekeeping
// until ctx is cancelled (spec.md §5 "Shutdown").
func (s *Server) Run(ctx context.Context) {
	s.wg.Add(3)
	go s.acceptQUIC(ctx)
	go s.acceptWebTransport(ctx)
	go s.housekeeping(ctx)

	<-ctx.Done()
	s.shutdown()
}

func (s *Server) acceptQUIC(ctx context.Context) {
	defer s.wg.Done()
	for {
		t, err := s.quicLn.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("server: quic accept failed")
			continue
		}
		s.admit(ctx, t)
	}
}

func (s *Server) acceptWebTransport(ctx context.Context) {
	defer s.wg.Done()
	go func() {
		if err := s.wtLn.Serve(); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("server: webtransport listener stopped")
		}
	}()
	for {
		t, err := s.wtLn.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("server: webtransport accept failed")
			continue
		}
		s.admit(ctx, t)
	}
}

// transportHandle is whatever Accept returned: both *transport.QUICTransport
// and *transport.WebTransportTransport satisfy session.Transport plus a
// Recv method the read loop needs.
type transportHandle interface {
	session.Transport
	Recv(ctx context.Context) ([]byte, error)
}

// admit round-robins a freshly accepted connection onto a shard (spec.md
// §2 "load-balances new sessions onto shards") and starts its read loop.
func (s *Server) admit(ctx context.Context, t transportHandle) {
	idx, runner := s.pool.Next()
	d := s.dispatchers[idx]

	var sock *session.Sock
	sock = session.New(t, func(f frame.Frame) {
		runner.Post(func() { d.Handle(sock, f) })
	}, func() {
		_ = sock.Close("registration failed or timeout")
	})

	s.wg.Add(1)
	go s.readLoop(ctx, t, sock, idx)
}

func (s *Server) readLoop(ctx context.Context, t transportHandle, sock *session.Sock, shardIndex int) {
	defer s.wg.Done()
	for {
		b, err := t.Recv(ctx)
		if err != nil {
			s.teardown(sock, shardIndex)
			return
		}
		if len(b) == 0 {
			continue
		}
		if err := sock.Feed(b); err != nil {
			s.log.Warn().Err(err).Msg("server: framing error, closing session")
			_ = sock.Close("framing error")
			s.teardown(sock, shardIndex)
			return
		}
	}
}

// teardown runs spec.md §4.1's cloud-process logout synthesis and
// detaches the session from its shard.
func (s *Server) teardown(sock *session.Sock, shardIndex int) {
	accountID := sock.AccountID()
	if accountID == "" {
		return
	}

	if sock.Kind() == session.KindCloudProcess {
		s.pool.Runner(shardIndex).Post(func() {
			s.dispatchers[shardIndex].Handle(sock, frame.Frame{
				frame.FieldRequestType: float64(frame.RequestProcessLogout),
				frame.FieldAccountID:   accountID,
			})
			s.table.Detach(shardIndex, accountID)
		})
		return
	}

	s.pool.Runner(shardIndex).Post(func() {
		s.table.Detach(shardIndex, accountID)
	})
}

// housekeeping periodically sweeps stale processes and touches every
// attached cloud server's heartbeat column (SPEC_FULL.md supplemented
// feature: health-check column semantics, SERVER_HEARTBEAT).
func (s *Server) housekeeping(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.SweepStaleProcesses(ctx, s.db.Shared(), staleAfterSeconds)
			if err != nil {
				s.log.Warn().Err(err).Msg("server: stale process sweep failed")
			} else if n > 0 {
				s.log.Info().Int64("count", n).Msg("server: marked stale processes unhealthy")
			}
			s.touchServerHeartbeats(ctx)
		}
	}
}

// touchServerHeartbeats updates game_servers.last_heartbeat for every
// locally-attached cloud-server session, since the server only hears from
// a cloud server's transport, never an explicit heartbeat request type.
func (s *Server) touchServerHeartbeats(ctx context.Context) {
	var serverIDs []string
	s.table.EachLocal(func(accountID string, sock *session.Sock) {
		if sock.Kind() == session.KindCloudServer {
			serverIDs = append(serverIDs, accountID)
		}
	})
	for _, serverID := range serverIDs {
		if err := store.TouchServerHeartbeat(ctx, s.db.Shared(), serverID); err != nil {
			s.log.Warn().Err(err).Str("serverId", serverID).Msg("server: heartbeat touch failed")
		}
	}
}

// shutdown implements spec.md §5's shutdown sequence: stop listeners,
// close live sessions with a graceful error, stop runners, close the DB
// pool. Closing every attached session's transport unblocks any readLoop
// currently parked in a blocking Recv, which is what lets s.wg.Wait()
// below actually return instead of hanging on a still-connected client.
func (s *Server) shutdown() {
	if s.quicLn != nil {
		_ = s.quicLn.Close()
	}
	if s.wtLn != nil {
		_ = s.wtLn.Close()
	}
	s.closeLiveSessions()
	s.wg.Wait()
	s.pool.Shutdown()
	s.db.Close()
}

// closeLiveSessions closes every session currently attached to any
// shard's local map (spec.md §5 "close live sessions with a graceful
// error"). A session still mid-registration and not yet attached is not
// reached here; its own registration-deadline timer (spec.md §4.1) bounds
// how long it can keep a readLoop alive past shutdown.
func (s *Server) closeLiveSessions() {
	var socks []*session.Sock
	s.table.EachLocal(func(_ string, sock *session.Sock) {
		socks = append(socks, sock)
	})
	for _, sock := range socks {
		_ = sock.Close("server shutting down")
	}
}
