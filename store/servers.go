package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-row lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateIPAddress is returned by InsertServer when a non-deleted row
// with the same ip_address already exists (spec.md §4.4, SERVER_REGISTER).
var ErrDuplicateIPAddress = errors.New("store: ip_address already registered")

// Querier is satisfied by both *sql.DB and *sql.Tx, so store functions can
// run against the shared pool or inside a txguard.Guard's transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// InsertServer inserts a new game_servers row. It returns
// ErrDuplicateIPAddress if a live row with the same ip_address exists.
func InsertServer(ctx context.Context, q Querier, s Server) error {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM game_servers WHERE ip_address = ? AND del_flag = 0`,
		s.IPAddress,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("store: check duplicate ip: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateIPAddress
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO game_servers
			(server_id, ip_address, name, status, max_processes, current_processes,
			 region, tags, specifications, last_heartbeat, created_at, updated_at, del_flag)
		VALUES (?, ?, ?, 'offline', ?, 0, ?, ?, ?, NOW(), NOW(), NOW(), 0)`,
		s.ServerID, s.IPAddress, s.Name, s.MaxProcesses, s.Region, s.Tags, s.Specifications,
	)
	if err != nil {
		return fmt.Errorf("store: insert server: %w", err)
	}
	return nil
}

// ServerByIPAddress looks up a non-deleted server by its remote IP, used by
// SERVER_LOGIN (spec.md §4.4, request type 6).
func ServerByIPAddress(ctx context.Context, q Querier, ipAddress string) (Server, error) {
	return scanServerRow(q.QueryRowContext(ctx, `
		SELECT server_id, ip_address, name, status, max_processes, current_processes,
		       region, tags, specifications, last_heartbeat, created_at, updated_at, del_flag
		FROM game_servers WHERE ip_address = ? AND del_flag = 0`, ipAddress))
}

// ServerByIDAndIPAddress looks up a non-deleted server matching both
// server_id and the caller's remote IP, used by the allocator (§4.5 step 1).
func ServerByIDAndIPAddress(ctx context.Context, q Querier, serverID, ipAddress string) (Server, error) {
	return scanServerRow(q.QueryRowContext(ctx, `
		SELECT server_id, ip_address, name, status, max_processes, current_processes,
		       region, tags, specifications, last_heartbeat, created_at, updated_at, del_flag
		FROM game_servers WHERE server_id = ? AND ip_address = ? AND del_flag = 0`, serverID, ipAddress))
}

func scanServerRow(row *sql.Row) (Server, error) {
	var s Server
	err := row.Scan(&s.ServerID, &s.IPAddress, &s.Name, &s.Status, &s.MaxProcesses,
		&s.CurrentProcesses, &s.Region, &s.Tags, &s.Specifications, &s.LastHeartbeat,
		&s.CreatedAt, &s.UpdatedAt, &s.DelFlag)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, ErrNotFound
	}
	if err != nil {
		return Server{}, fmt.Errorf("store: scan server: %w", err)
	}
	return s, nil
}

// MarkServerOnline transitions a server to online, used by SERVER_LOGIN.
// affected is false if the server was already online (the handler treats
// that as a required-precondition failure per spec.md §4.4).
func MarkServerOnline(ctx context.Context, q Querier, serverID string) (affected bool, err error) {
	res, err := q.ExecContext(ctx, `
		UPDATE game_servers SET status = 'online', updated_at = NOW()
		WHERE server_id = ? AND status != 'online' AND del_flag = 0`, serverID)
	if err != nil {
		return false, fmt.Errorf("store: mark server online: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

// IncrementCurrentProcesses applies the optimistic-CAS form of the
// allocator's capacity update (spec.md §4.5 step 5, Open Question decided
// in SPEC_FULL.md): it only succeeds if the server is still under
// max_processes at the time of the UPDATE.
func IncrementCurrentProcesses(ctx context.Context, q Querier, serverID string) (ok bool, err error) {
	res, err := q.ExecContext(ctx, `
		UPDATE game_servers
		SET current_processes = current_processes + 1, updated_at = NOW()
		WHERE server_id = ? AND current_processes < max_processes AND del_flag = 0`, serverID)
	if err != nil {
		return false, fmt.Errorf("store: increment current_processes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n == 1, nil
}

// TouchServerHeartbeat updates last_heartbeat for a server, used by the
// supplemented SERVER_HEARTBEAT housekeeping path (SPEC_FULL.md).
func TouchServerHeartbeat(ctx context.Context, q Querier, serverID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE game_servers SET last_heartbeat = NOW() WHERE server_id = ? AND del_flag = 0`, serverID)
	if err != nil {
		return fmt.Errorf("store: touch server heartbeat: %w", err)
	}
	return nil
}

// DeregisterServer soft-deletes a server row. Not reachable from any
// spec.md §4.4 request type; reserved for an operator-triggered admin path
// (SPEC_FULL.md's supplemented-features note 2).
func DeregisterServer(ctx context.Context, q Querier, serverID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE game_servers SET del_flag = 1, updated_at = NOW() WHERE server_id = ?`, serverID)
	if err != nil {
		return fmt.Errorf("store: deregister server: %w", err)
	}
	return nil
}
