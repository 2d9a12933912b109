// Package dbpool implements the two relational connection pools of
// spec.md §4.6: a round-robin shared pool of non-transactional
// connections, and a FIFO take/return queue of transactional connections
// backed by a heartbeat-driven reconnector. Grounded on the original
// source's MsquicMysqlManagerPools.cpp/.h.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// HeartbeatInterval is how often each pooled connection runs SELECT 1
// (spec.md §4.6/§5: "every 300 seconds").
const HeartbeatInterval = 300 * time.Second

// Pool owns both the shared round-robin connections and the transactional
// take/return queue.
type Pool struct {
	dsn string
	log zerolog.Logger

	shared    []*sql.DB
	sharedIdx uint64

	txConns chan *sql.DB

	closeOnce sync.Once
	closed    chan struct{}
}

// Open dials size shared connections and size/2 transactional connections,
// each with its own heartbeat goroutine. A size below 2 is raised to 2.
func Open(ctx context.Context, dsn string, size int, log zerolog.Logger) (*Pool, error) {
	if size < 2 {
		size = 2
	}

	p := &Pool{
		dsn:     dsn,
		log:     log,
		closed:  make(chan struct{}),
		txConns: make(chan *sql.DB, size/2),
	}

	for i := 0; i < size; i++ {
		conn, err := p.dial(ctx)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.shared = append(p.shared, conn)
		go p.heartbeat(conn)
	}

	txSize := size / 2
	if txSize < 1 {
		txSize = 1
	}
	for i := 0; i < txSize; i++ {
		conn, err := p.dial(ctx)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.txConns <- conn
		go p.heartbeat(conn)
	}

	return p, nil
}

func (p *Pool) dial(ctx context.Context) (*sql.DB, error) {
	conn, err := sql.Open("mysql", p.dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dbpool: ping: %w", err)
	}
	return conn, nil
}

// Shared returns the next connection from the round-robin shared pool.
// Callers do not release it; it is intended for overlapping
// non-transactional use (spec.md §4.6).
func (p *Pool) Shared() *sql.DB {
	i := atomic.AddUint64(&p.sharedIdx, 1)
	return p.shared[i%uint64(len(p.shared))]
}

// TakeTx dequeues one transactional connection. ok is false if the queue
// is momentarily empty; per spec.md §4.4, the caller must re-enqueue its
// frame to the same shard's logic system rather than block.
func (p *Pool) TakeTx() (conn *sql.DB, ok bool) {
	select {
	case conn := <-p.txConns:
		return conn, true
	default:
		return nil, false
	}
}

// PutTx returns a transactional connection to the queue. Called in all
// cases (success, handler error, or commit failure) per spec.md §4.4.
func (p *Pool) PutTx(conn *sql.DB) {
	select {
	case p.txConns <- conn:
	default:
		// The queue is sized at cap == initial txSize, so this should
		// never happen; dropping the connection rather than blocking
		// forever is still preferable to a stuck handler.
		p.log.Warn().Msg("dbpool: tx queue full on return, discarding extra connection")
	}
}

// heartbeat runs SELECT 1 on conn every HeartbeatInterval. On failure it
// logs and schedules a reconnect attempt with the same DSN; it never
// removes conn from the pool, so callers must tolerate a disconnected
// connection by propagating the driver's error up the handler's error
// path (spec.md §4.6).
func (p *Pool) heartbeat(conn *sql.DB) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := conn.ExecContext(ctx, "SELECT 1")
			cancel()
			if err != nil {
				p.log.Warn().Err(err).Msg("dbpool: heartbeat failed, connection flagged disconnected")
				p.reconnect(conn)
			}
		}
	}
}

// reconnect attempts to re-establish conn's underlying connection with the
// original DSN. database/sql connections are not single physical sockets,
// so "reconnect" here means dropping the pool's idle connections so the
// next use dials fresh, matching the spec's "asynchronous reconnect with
// the original parameters" without needing a second *sql.DB.
func (p *Pool) reconnect(conn *sql.DB) {
	conn.SetMaxIdleConns(0)
	conn.SetMaxIdleConns(2)
}

// Close stops all heartbeats and closes every pooled connection.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		for _, conn := range p.shared {
			conn.Close()
		}
		close(p.txConns)
		for conn := range p.txConns {
			conn.Close()
		}
	})
}
