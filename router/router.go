// Package router implements the cross-shard resolve-and-forward
// algorithm of spec.md §4.3: local fast path, advisory cache lookup,
// then an authoritative two-hop resolve against the target's home
// shard, ending in exactly one forwarded frame or one 404 reply.
// Grounded on the teacher's gateway/manager.go dispatch path
// (ShardGroup lookup then a single Send) generalized from "the one
// shard that owns everything" to "resolve across N shards".
package router

import (
	"github.com/rs/zerolog"

	"github.com/TheRockettek/quicrouter/frame"
	"github.com/TheRockettek/quicrouter/session"
	"github.com/TheRockettek/quicrouter/shard"
)

// Router resolves a target accountID to a session and delivers a frame
// to it, replying 404 on the caller's own session when no route exists.
type Router struct {
	table *shard.Table
	log   zerolog.Logger
}

// New builds a Router over table.
func New(table *shard.Table, log zerolog.Logger) *Router {
	return &Router{table: table, log: log}
}

// Route delivers f to targetID, dispatched from callerIndex (the shard
// currently running, which must be the goroutine invoking Route) on
// behalf of callerSock. Exactly one of (forward to target, 404 to
// callerSock) happens per call, never both (spec.md §8: "at most one
// reply is ever sent for a given inbound frame").
func (r *Router) Route(callerIndex int, callerSock *session.Sock, targetID string, f frame.Frame) {
	// Fast path: the target is attached to this very shard.
	if sock, ok := r.table.Local(callerIndex, targetID); ok {
		r.deliver(sock, f, targetID)
		return
	}

	// Advisory cache: skip the authoritative hop if we have a recent
	// answer, but still verify against the target shard's local map
	// since the cache can be stale (spec.md §4.3: "advisory, never
	// authoritative"). A stale hit falls through to the two-hop resolve
	// rather than replying 404 directly.
	if idx, ok := r.table.CacheLookup(callerIndex, targetID); ok {
		r.table.Runner(idx).Post(func() {
			if sock, ok := r.table.Local(idx, targetID); ok {
				r.deliver(sock, f, targetID)
				return
			}
			r.twoHopResolve(callerIndex, callerSock, targetID, f)
		})
		return
	}

	r.twoHopResolve(callerIndex, callerSock, targetID, f)
}

// twoHopResolve implements spec.md §4.3 step 3: ask targetID's home
// shard who owns it right now, then deliver on that shard or reply 404.
// callerIndex identifies from_shard, whose own route cache gets warmed
// with the resolved owner once the authoritative lookup succeeds.
func (r *Router) twoHopResolve(callerIndex int, callerSock *session.Sock, targetID string, f frame.Frame) {
	homeIdx := r.table.IndexFor(targetID)
	r.table.Runner(homeIdx).Post(func() {
		idx, ok := r.table.Owner(targetID)
		if !ok {
			r.send404(callerSock, targetID, f)
			return
		}
		r.table.Runner(idx).Post(func() {
			sock, ok := r.table.Local(idx, targetID)
			if !ok {
				r.send404(callerSock, targetID, f)
				return
			}
			r.table.CacheSet(callerIndex, targetID, idx)
			r.deliver(sock, f, targetID)
		})
	})
}

func (r *Router) deliver(sock *session.Sock, f frame.Frame, targetID string) {
	out := f.WithForwardState()
	if err := sock.WriteFrame(out); err != nil {
		r.log.Warn().Err(err).Str("target_id", targetID).Msg("router: forward failed")
	}
}

func (r *Router) send404(callerSock *session.Sock, targetID string, f frame.Frame) {
	rt, _ := f.RequestType()
	if err := callerSock.WriteFrame(frame.NotFound(rt)); err != nil {
		r.log.Warn().Err(err).Str("target_id", targetID).Msg("router: 404 reply failed")
	}
}

// Resolve performs the lookup chain without delivering anything, for
// callers that only need to know whether a route currently exists (for
// example to decide whether to even attempt a forward). It consults
// only state reachable without posting: the local map and the advisory
// cache. Callers needing the authoritative two-hop resolve should use
// Route.
func (r *Router) Resolve(callerIndex int, targetID string) (*session.Sock, bool) {
	if sock, ok := r.table.Local(callerIndex, targetID); ok {
		return sock, true
	}
	if idx, ok := r.table.CacheLookup(callerIndex, targetID); ok {
		if sock, ok := r.table.Local(idx, targetID); ok {
			return sock, true
		}
	}
	return nil, false
}
