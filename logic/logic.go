// Package logic implements the per-shard handler registry of spec.md
// §4.4: frame normalization, handler lookup by requestType, and the
// transactional-lease dispatch branch (shared connection vs. leased
// transaction with cooperative retry on an empty tx queue). Grounded on
// the teacher's gateway/manager.go event-dispatch table (a map from
// event name to handler func, invoked from the owning shard's
// goroutine) generalized to integer requestType keys and a DB-lease
// branch neither teacher package has.
package logic

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TheRockettek/quicrouter/auth"
	"github.com/TheRockettek/quicrouter/dbpool"
	"github.com/TheRockettek/quicrouter/executor"
	"github.com/TheRockettek/quicrouter/frame"
	"github.com/TheRockettek/quicrouter/idlepool"
	"github.com/TheRockettek/quicrouter/router"
	"github.com/TheRockettek/quicrouter/session"
	"github.com/TheRockettek/quicrouter/shard"
	"github.com/TheRockettek/quicrouter/store"
	"github.com/TheRockettek/quicrouter/txguard"
)

// Handler runs one frame's business logic. c.Conn is either the shared
// pool connection or the active transaction's *sql.Tx, both satisfying
// store.Querier; handlers must not care which.
type Handler func(ctx context.Context, c *Context)

// Context is everything a handler needs, assembled fresh per dispatch.
type Context struct {
	Frame      frame.Frame
	Sock       *session.Sock
	ShardIndex int
	Conn       store.Querier

	Table    *shard.Table
	Router   *router.Router
	Idle     *idlepool.Pool
	Verifier *auth.Verifier
	Log      zerolog.Logger

	// Dispatch lets a handler (notably USER_REQUEST_BY_GAME_TYPE, spec.md
	// §4.4 request type 13) rewrite and re-submit the frame through this
	// same shard's logic system.
	Dispatch func(requestType int, f frame.Frame)

	commit func() error
}

// Commit commits the handler's leased transaction. It is a no-op
// returning nil for handlers dispatched without a transaction (spec.md
// §4.4: "handler must call commit() to commit"); Close on the guard
// rolls back on scope exit otherwise.
func (c *Context) Commit() error {
	if c.commit == nil {
		return nil
	}
	return c.commit()
}

type entry struct {
	needsTx bool
	handler Handler
}

// Dispatcher is one shard's handler registry and dispatch loop. One
// Dispatcher instance is created per shard index; all of its methods
// must run on that shard's own executor.Runner goroutine, matching
// spec.md §4.2's single-writer-per-shard rule.
type Dispatcher struct {
	shardIndex int
	pool       *executor.Pool
	db         *dbpool.Pool
	table      *shard.Table
	router     *router.Router
	idle       *idlepool.Pool
	verifier   *auth.Verifier
	log        zerolog.Logger

	handlers map[int]entry
}

// New builds a Dispatcher for shardIndex with an empty registry;
// callers register handlers with Register before serving traffic.
func New(shardIndex int, pool *executor.Pool, db *dbpool.Pool, table *shard.Table,
	r *router.Router, idle *idlepool.Pool, verifier *auth.Verifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		shardIndex: shardIndex,
		pool:       pool,
		db:         db,
		table:      table,
		router:     r,
		idle:       idle,
		verifier:   verifier,
		log:        log,
		handlers:   make(map[int]entry),
	}
}

// Register binds requestType to handler, running under a leased
// transaction when needsTx is true.
func (d *Dispatcher) Register(requestType int, needsTx bool, handler Handler) {
	d.handlers[requestType] = entry{needsTx: needsTx, handler: handler}
}

// Handle normalizes f (spec.md §3) and dispatches it to the registered
// handler for its requestType. Must be called on this Dispatcher's own
// shard goroutine.
func (d *Dispatcher) Handle(sock *session.Sock, f frame.Frame) {
	f = frame.Normalize(f)

	rt, ok := f.RequestType()
	if !ok {
		d.log.Error().Msg("logic: frame missing requestType, dropping")
		return
	}

	e, ok := d.handlers[rt]
	if !ok {
		d.log.Error().Int("request_type", rt).Msg("logic: no handler registered, dropping")
		return
	}

	if !e.needsTx {
		d.runShared(sock, f, e.handler)
		return
	}
	d.runTx(sock, f, e.handler)
}

func (d *Dispatcher) runShared(sock *session.Sock, f frame.Frame, h Handler) {
	ctx := context.Background()
	var conn store.Querier
	if d.db != nil {
		conn = d.db.Shared()
	}
	c := d.newContext(sock, f, conn)
	d.safeRun(ctx, h, c, f)
}

// runTx takes a transactional connection from the pool. Per spec.md §7,
// an empty tx queue is not an error: the frame is re-enqueued on this
// same shard's dispatcher, a cooperative retry with no backoff (the post
// through the executor pool supplies the single-tick yield).
func (d *Dispatcher) runTx(sock *session.Sock, f frame.Frame, h Handler) {
	conn, ok := d.db.TakeTx()
	if !ok {
		d.pool.Runner(d.shardIndex).Post(func() {
			d.runTx(sock, f, h)
		})
		return
	}
	defer d.db.PutTx(conn)

	ctx := context.Background()
	guard, err := txguard.Begin(ctx, conn)
	if err != nil {
		d.log.Error().Err(err).Msg("logic: begin transaction failed")
		d.reply500(sock, f, err)
		return
	}
	defer guard.Close()

	c := d.newContext(sock, f, guard.Tx())
	c.commit = guard.Commit
	d.safeRun(ctx, h, c, f)
}

func (d *Dispatcher) newContext(sock *session.Sock, f frame.Frame, conn store.Querier) *Context {
	c := &Context{
		Frame:      f,
		Sock:       sock,
		ShardIndex: d.shardIndex,
		Conn:       conn,
		Table:      d.table,
		Router:     d.router,
		Idle:       d.idle,
		Verifier:   d.verifier,
		Log:        d.log,
	}
	c.Dispatch = func(requestType int, rewritten frame.Frame) {
		rewritten[frame.FieldRequestType] = float64(requestType)
		d.Handle(sock, rewritten)
	}
	return c
}

// safeRun recovers a handler panic so one bad handler can never take
// down the shard's own goroutine (spec.md §7: "never throw past the
// scheduler").
func (d *Dispatcher) safeRun(ctx context.Context, h Handler, c *Context, f frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Int("shard", d.shardIndex).
				Msg("logic: handler panicked, recovered")
		}
	}()
	h(ctx, c)
}

func (d *Dispatcher) reply500(sock *session.Sock, f frame.Frame, cause error) {
	rt, _ := f.RequestType()
	if err := sock.WriteFrame(frame.StateReply(rt, 500, fmt.Sprintf("internal error: %v", cause))); err != nil {
		d.log.Warn().Err(err).Msg("logic: 500 reply failed")
	}
}
