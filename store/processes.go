package store

import (
	"context"
	"fmt"
)

// InsertProcess inserts a freshly provisioned process row (spec.md §4.5
// step 5), idle and logged-in from the moment it is created.
func InsertProcess(ctx context.Context, q Querier, p Process) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO game_processes
			(process_id, server_id, process_name, game_type, game_version,
			 is_idle, is_login, health_status, started_at, last_heartbeat,
			 last_health_check, created_at, updated_at, del_flag)
		VALUES (?, ?, ?, ?, ?, 1, 1, 'healthy', NOW(), NOW(), NOW(), NOW(), NOW(), 0)`,
		p.ProcessID, p.ServerID, p.ProcessName, p.GameType, p.GameVersion)
	if err != nil {
		return fmt.Errorf("store: insert process: %w", err)
	}
	return nil
}

// IdleProcessesForGameType returns idle, healthy, non-logged-in, non-deleted
// rows for serverID matching gameType (spec.md §4.5 steps 2-3).
func IdleProcessesForGameType(ctx context.Context, q Querier, serverID, gameType string) ([]Process, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT process_id, server_id, process_name, game_type, game_version,
		       is_idle, is_login, health_status, started_at, last_heartbeat,
		       last_health_check, created_at, updated_at, del_flag
		FROM game_processes
		WHERE server_id = ? AND game_type = ? AND is_idle = 1 AND is_login = 0
		  AND health_status = 'healthy' AND del_flag = 0`, serverID, gameType)
	if err != nil {
		return nil, fmt.Errorf("store: query idle processes: %w", err)
	}
	defer rows.Close()

	var out []Process
	for rows.Next() {
		var p Process
		if err := rows.Scan(&p.ProcessID, &p.ServerID, &p.ProcessName, &p.GameType, &p.GameVersion,
			&p.IsIdle, &p.IsLogin, &p.HealthStatus, &p.StartedAt, &p.LastHeartbeat,
			&p.LastHealthCheck, &p.CreatedAt, &p.UpdatedAt, &p.DelFlag); err != nil {
			return nil, fmt.Errorf("store: scan process: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountLiveProcesses returns count(p : p.server_id = serverID AND
// p.del_flag = 0), the invariant spec.md §3 ties to current_processes.
func CountLiveProcesses(ctx context.Context, q Querier, serverID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM game_processes WHERE server_id = ? AND del_flag = 0`, serverID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count live processes: %w", err)
	}
	return n, nil
}

// ReuseIdleProcess marks an existing idle row as taken (spec.md §4.5 step
// 4, the "reuse path").
func ReuseIdleProcess(ctx context.Context, q Querier, processID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE game_processes
		SET is_login = 1, is_idle = 1, last_heartbeat = NOW(), updated_at = NOW()
		WHERE process_id = ?`, processID)
	if err != nil {
		return fmt.Errorf("store: reuse idle process: %w", err)
	}
	return nil
}

// LogoutProcess marks a process as logged out and idle (spec.md §4.4,
// request type 9 PROCESS_LOGOUT), driven either by an explicit logout
// frame or the synthesized-on-teardown hook (§4.1).
func LogoutProcess(ctx context.Context, q Querier, processID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE game_processes
		SET is_login = 0, is_idle = 1, last_heartbeat = NOW(), updated_at = NOW()
		WHERE process_id = ?`, processID)
	if err != nil {
		return fmt.Errorf("store: logout process: %w", err)
	}
	return nil
}

// SweepStaleProcesses marks processes unhealthy when their last_heartbeat
// is older than staleAfterSeconds, excluding them from future allocator
// idle-row scans (SPEC_FULL.md supplemented-features note 3).
func SweepStaleProcesses(ctx context.Context, q Querier, staleAfterSeconds int) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE game_processes
		SET health_status = 'unhealthy', last_health_check = NOW(), updated_at = NOW()
		WHERE del_flag = 0 AND health_status != 'unhealthy'
		  AND last_heartbeat < (NOW() - INTERVAL ? SECOND)`, staleAfterSeconds)
	if err != nil {
		return 0, fmt.Errorf("store: sweep stale processes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected: %w", err)
	}
	return n, nil
}
