// Package txguard implements the scoped transaction handle described in
// spec.md §4.2 ("Transaction guard") and grounded on the original source's
// AsyncTransactionGuard.h: BEGIN on acquire, explicit COMMIT, automatic
// ROLLBACK on drop if the handler never committed.
package txguard

import (
	"context"
	"database/sql"
	"fmt"
)

// Guard wraps one *sql.Tx. Callers must defer Close(); Close is a no-op
// once Commit has succeeded.
type Guard struct {
	tx        *sql.Tx
	committed bool
}

// Begin starts a new transaction on conn.
func Begin(ctx context.Context, conn *sql.DB) (*Guard, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("txguard: begin: %w", err)
	}
	return &Guard{tx: tx}, nil
}

// Tx exposes the underlying transaction for handler queries.
func (g *Guard) Tx() *sql.Tx {
	return g.tx
}

// Commit commits the transaction. A handler must call this explicitly;
// nothing else does it on its behalf.
func (g *Guard) Commit() error {
	if err := g.tx.Commit(); err != nil {
		return fmt.Errorf("txguard: commit: %w", err)
	}
	g.committed = true
	return nil
}

// Close rolls back the transaction unless it was already committed. It is
// always safe to call, and is meant to be deferred immediately after Begin
// succeeds so any early return (including a panic recovered upstream)
// rolls back automatically, per spec.md §7 ("the guard rolls back on drop").
func (g *Guard) Close() {
	if g.committed {
		return
	}
	// sql.Tx.Rollback after a failed Commit returns sql.ErrTxDone, which
	// is expected and not logged here; callers needing visibility into
	// that failure should check Commit's own error.
	_ = g.tx.Rollback()
}
