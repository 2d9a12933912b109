package logic

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/TheRockettek/quicrouter/allocator"
	"github.com/TheRockettek/quicrouter/frame"
	"github.com/TheRockettek/quicrouter/session"
	"github.com/TheRockettek/quicrouter/store"
)

// RegisterAll wires every spec.md §4.4 handler into d.
func RegisterAll(d *Dispatcher) {
	d.Register(frame.RequestRegister, false, handleRegister)
	d.Register(frame.RequestForward, false, forwarder("REQUEST"))
	d.Register(frame.RequestRestart, false, forwarder("RESTART"))
	d.Register(frame.RequestStopRemote, false, forwarder("STOPREMOTE"))
	d.Register(frame.RequestClose, false, handleClose)
	d.Register(frame.RequestServerRegister, false, handleServerRegister)
	d.Register(frame.RequestServerLogin, false, handleServerLogin)
	d.Register(frame.RequestProcessLogin, true, handleProcessLogin)
	d.Register(frame.RequestProcessLogout, false, handleProcessLogout)
	d.Register(frame.RequestGameStart, false, handleGameStart)
	d.Register(frame.RequestGameStop, false, handleGameStop)
	d.Register(frame.RequestUserRequestByGameType, false, handleUserRequestByGameType)
}

// handleRegister verifies the signed token and attaches the session
// under the claimed accountId (spec.md §4.4 request type 0).
func handleRegister(_ context.Context, c *Context) {
	rt, _ := c.Frame.RequestType()

	token, ok := c.Frame.Authorization()
	if !ok || token == "" {
		writeState(c, rt, 500, "missing authorization token")
		return
	}

	accountID, err := c.Verifier.AccountID(token)
	if err != nil {
		writeState(c, rt, 500, "invalid token: "+err.Error())
		return
	}

	c.Sock.Register(accountID, session.KindClient, "")
	c.Table.Attach(c.ShardIndex, accountID, c.Sock)
	writeState(c, rt, 200, "registered")
}

// forwarder returns a handler that routes the frame to targetId,
// preserving the request type (spec.md §4.4 types 1-3, §4.3).
func forwarder(_ string) Handler {
	return func(_ context.Context, c *Context) {
		rt, _ := c.Frame.RequestType()
		targetID, ok := c.Frame.TargetID()
		if !ok || targetID == "" {
			writeState(c, rt, 500, "missing targetId")
			return
		}
		c.Router.Route(c.ShardIndex, c.Sock, targetID, c.Frame)
	}
}

// handleClose detaches the caller's session (spec.md §4.4 request type
// 4); the transport teardown path releases the session itself.
func handleClose(_ context.Context, c *Context) {
	accountID := c.Sock.AccountID()
	if accountID == "" {
		return
	}
	c.Table.Detach(c.ShardIndex, accountID)
}

// handleServerRegister inserts a new game_servers row and attaches the
// session as a cloud server (spec.md §4.4 request type 5).
func handleServerRegister(ctx context.Context, c *Context) {
	rt, _ := c.Frame.RequestType()

	maxProcesses, ok := c.Frame.GetInt("maxProcess")
	name, nameOK := c.Frame.GetString("name")
	hostname, hostOK := c.Frame.GetString("hostname")
	location, locOK := c.Frame.GetString("location")
	region, regionOK := c.Frame.GetString("region")
	if !ok || !nameOK || !hostOK || !locOK || !regionOK {
		writeState(c, rt, 500, "missing required field")
		return
	}
	tags, _ := c.Frame.GetString("tags")
	specs, _ := c.Frame.GetString("specifications")

	ipAddress := remoteIP(c.Sock)
	serverID := uuid.NewString()

	err := store.InsertServer(ctx, c.Conn, store.Server{
		ServerID:       serverID,
		IPAddress:      ipAddress,
		Name:           name,
		MaxProcesses:   maxProcesses,
		Region:         region,
		Tags:           tags,
		Specifications: joinHostLocation(hostname, location, specs),
	})
	if errors.Is(err, store.ErrDuplicateIPAddress) {
		writeState(c, rt, 500, "ip_address already registered")
		return
	}
	if err != nil {
		c.Log.Error().Err(err).Msg("logic: server register failed")
		writeState(c, rt, 500, err.Error())
		return
	}

	c.Sock.Register(serverID, session.KindCloudServer, "")
	c.Table.Attach(c.ShardIndex, serverID, c.Sock)

	reply := frame.StateReply(rt, 200, "registered")
	reply.Set("serverId", serverID)
	if err := c.Sock.WriteFrame(reply); err != nil {
		c.Log.Warn().Err(err).Msg("logic: server register reply failed")
	}
}

func joinHostLocation(hostname, location, specs string) string {
	if specs == "" {
		return hostname + " " + location
	}
	return specs
}

// handleServerLogin looks up the server by remote IP and flips it
// online (spec.md §4.4 request type 6).
func handleServerLogin(ctx context.Context, c *Context) {
	rt, _ := c.Frame.RequestType()
	ipAddress := remoteIP(c.Sock)

	srv, err := store.ServerByIPAddress(ctx, c.Conn, ipAddress)
	if errors.Is(err, store.ErrNotFound) {
		writeState(c, rt, 404, "server not registered")
		return
	}
	if err != nil {
		c.Log.Error().Err(err).Msg("logic: server login lookup failed")
		writeState(c, rt, 500, err.Error())
		return
	}
	if srv.Status == store.ServerStatusOnline {
		writeState(c, rt, 500, "server already online")
		return
	}

	ok, err := store.MarkServerOnline(ctx, c.Conn, srv.ServerID)
	if err != nil {
		c.Log.Error().Err(err).Msg("logic: mark server online failed")
		writeState(c, rt, 500, err.Error())
		return
	}
	if !ok {
		writeState(c, rt, 500, "server already online")
		return
	}

	c.Sock.Register(srv.ServerID, session.KindCloudServer, "")
	c.Table.Attach(c.ShardIndex, srv.ServerID, c.Sock)
	writeState(c, rt, 200, "online")
}

// handleProcessLogin runs the idle-process allocator under the
// Dispatcher's leased transaction (spec.md §4.4 request type 7, §4.5).
func handleProcessLogin(ctx context.Context, c *Context) {
	rt, _ := c.Frame.RequestType()

	serverID, _ := c.Frame.GetString("serverId")
	processName, _ := c.Frame.GetString("processName")
	gameType, _ := c.Frame.GetString("gameType")
	gameVersion, _ := c.Frame.GetString("gameVersion")
	if serverID == "" || processName == "" || gameType == "" {
		writeState(c, rt, 500, "missing required field")
		return
	}

	res, err := allocator.Allocate(ctx, c.Conn, serverID, remoteIP(c.Sock), processName, gameType, gameVersion)
	if err != nil {
		c.Log.Error().Err(err).Msg("logic: allocate failed")
		writeState(c, rt, 500, err.Error())
		return
	}

	switch res.Outcome {
	case allocator.NotFound:
		writeState(c, rt, 404, "server not registered")
		return
	case allocator.AtCapacity:
		writeState(c, rt, 507, "server at capacity")
		return
	}

	if err := c.Commit(); err != nil {
		c.Log.Error().Err(err).Msg("logic: allocate commit failed")
		writeState(c, rt, 500, err.Error())
		return
	}

	c.Sock.Register(res.ProcessID, session.KindCloudProcess, gameType)
	c.Table.Attach(c.ShardIndex, res.ProcessID, c.Sock)
	c.Idle.Add(gameType, res.ProcessID)

	reply := frame.StateReply(rt, 200, "allocated")
	reply.Set("processId", res.ProcessID)
	reply.Set("processName", res.ProcessName)
	reply.Set("gameType", res.GameType)
	if err := c.Sock.WriteFrame(reply); err != nil {
		c.Log.Warn().Err(err).Msg("logic: process login reply failed")
	}
}

// handleProcessLogout marks a process logged out and idle (spec.md
// §4.4 request type 9), driven either by an explicit frame or the
// synthesized-on-teardown hook (§4.1).
func handleProcessLogout(ctx context.Context, c *Context) {
	rt, _ := c.Frame.RequestType()

	accountID, ok := c.Frame.AccountID()
	if !ok || accountID == "" {
		accountID = c.Sock.AccountID()
	}
	if accountID == "" {
		writeState(c, rt, 500, "missing accountId")
		return
	}

	if err := store.LogoutProcess(ctx, c.Conn, accountID); err != nil {
		c.Log.Error().Err(err).Msg("logic: process logout failed")
		writeState(c, rt, 500, err.Error())
		return
	}

	if gt := c.Sock.GameType(); gt != "" {
		c.Idle.Remove(gt, accountID)
	}
}

// handleGameStart removes accountId from its idle pool (spec.md §4.4
// request type 11): the worker is now occupied.
func handleGameStart(_ context.Context, c *Context) {
	accountID, ok := c.Frame.AccountID()
	if !ok || accountID == "" {
		accountID = c.Sock.AccountID()
	}
	gameType := c.Sock.GameType()
	if accountID == "" || gameType == "" {
		return
	}
	c.Idle.Remove(gameType, accountID)
}

// handleGameStop inserts accountId back into its idle pool (spec.md
// §4.4 request type 12).
func handleGameStop(_ context.Context, c *Context) {
	accountID, ok := c.Frame.AccountID()
	if !ok || accountID == "" {
		accountID = c.Sock.AccountID()
	}
	gameType, ok := c.Frame.GetString("gameType")
	if !ok || gameType == "" {
		gameType = c.Sock.GameType()
	}
	if accountID == "" || gameType == "" {
		return
	}
	c.Idle.Add(gameType, accountID)
}

// handleUserRequestByGameType pops one idle process for gameType and
// re-dispatches as a forward (spec.md §4.4 request type 13).
func handleUserRequestByGameType(_ context.Context, c *Context) {
	rt, _ := c.Frame.RequestType()

	gameType, ok := c.Frame.GetString("gameType")
	if !ok || gameType == "" {
		writeState(c, rt, 500, "missing gameType")
		return
	}

	processID, ok := c.Idle.Pop(gameType)
	if !ok {
		writeState(c, rt, 500, "no idle process available")
		return
	}

	rewritten := c.Frame.Clone()
	rewritten[frame.FieldTargetID] = processID
	c.Dispatch(frame.RequestForward, rewritten)
}

func writeState(c *Context, requestType, state int, message string) {
	if err := c.Sock.WriteFrame(frame.StateReply(requestType, state, message)); err != nil {
		c.Log.Warn().Err(err).Msg("logic: reply failed")
	}
}

func remoteIP(sock *session.Sock) string {
	addr := sock.RemoteAddr()
	if addr == nil {
		return ""
	}
	return hostOnly(addr.String())
}

func hostOnly(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
