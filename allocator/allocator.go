// Package allocator implements the idle-process allocation algorithm of
// spec.md §4.5: reuse an idle process if one matches, else provision a
// fresh one under the server's capacity invariant, else reject. Grounded
// on original_source/MsquicStorage/GameServers.cpp and
// GameProcesses.cpp for the lookup/insert/capacity-check sequence, with
// the teacher contributing only the uuid-generation idiom
// (gateway/manager.go's session-id minting via google/uuid).
package allocator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/TheRockettek/quicrouter/store"
)

// Outcome classifies how Allocate resolved, so the caller can choose the
// right reply state without re-deriving it.
type Outcome int

const (
	// Reused means an existing idle row was claimed.
	Reused Outcome = iota
	// Provisioned means a brand-new process row was inserted.
	Provisioned
	// NotFound means no server matches (server_id, remote IP).
	NotFound
	// AtCapacity means the server has no idle row and is already at
	// max_processes.
	AtCapacity
)

// Result is what Allocate hands back for the caller to turn into a
// reply frame.
type Result struct {
	Outcome     Outcome
	ProcessID   string
	ProcessName string
	GameType    string
}

// Allocate runs spec.md §4.5 steps 1-6 against q, which must be the
// *sql.Tx held by the caller's transaction guard. It performs every DB
// write needed to commit the outcome, but does not commit: the caller
// commits (or leaves the guard to roll back) and only then performs the
// in-memory idle-pool insert and session attach, per the §4.5
// concurrency note ("the in-memory idle pool is updated only after
// commit").
func Allocate(ctx context.Context, q store.Querier, serverID, remoteIP, processName, gameType, gameVersion string) (Result, error) {
	server, err := store.ServerByIDAndIPAddress(ctx, q, serverID, remoteIP)
	if err != nil {
		if err == store.ErrNotFound {
			return Result{Outcome: NotFound}, nil
		}
		return Result{}, fmt.Errorf("allocator: lookup server: %w", err)
	}

	idle, err := store.IdleProcessesForGameType(ctx, q, server.ServerID, gameType)
	if err != nil {
		return Result{}, fmt.Errorf("allocator: list idle processes: %w", err)
	}

	if len(idle) > 0 {
		chosen := idle[0]
		if err := store.ReuseIdleProcess(ctx, q, chosen.ProcessID); err != nil {
			return Result{}, fmt.Errorf("allocator: reuse idle process: %w", err)
		}
		return Result{
			Outcome:     Reused,
			ProcessID:   chosen.ProcessID,
			ProcessName: chosen.ProcessName,
			GameType:    gameType,
		}, nil
	}

	count, err := store.CountLiveProcesses(ctx, q, server.ServerID)
	if err != nil {
		return Result{}, fmt.Errorf("allocator: count live processes: %w", err)
	}
	if count >= server.MaxProcesses {
		return Result{Outcome: AtCapacity}, nil
	}

	processID := uuid.NewString()
	if err := store.InsertProcess(ctx, q, store.Process{
		ProcessID:   processID,
		ServerID:    server.ServerID,
		ProcessName: processName,
		GameType:    gameType,
		GameVersion: gameVersion,
	}); err != nil {
		return Result{}, fmt.Errorf("allocator: insert process: %w", err)
	}

	ok, err := store.IncrementCurrentProcesses(ctx, q, server.ServerID)
	if err != nil {
		return Result{}, fmt.Errorf("allocator: increment current_processes: %w", err)
	}
	if !ok {
		// Lost the capacity race between the count check and this CAS
		// update; the transaction guard rolls back on Close since we
		// never call Commit for this outcome.
		return Result{Outcome: AtCapacity}, nil
	}

	return Result{
		Outcome:     Provisioned,
		ProcessID:   processID,
		ProcessName: processName,
		GameType:    gameType,
	}, nil
}
