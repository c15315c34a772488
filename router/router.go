package router

import (
	"context"
	"sync"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/mesherror"
	"github.com/hupe1980/toolmesh/protocol"
	"github.com/hupe1980/toolmesh/transport"
)

// Status describes the lifecycle state of a connection.
type Status string

const (
	// StatusConnected means the transport started and the catalog was cached.
	StatusConnected Status = "connected"
	// StatusDisconnected means the connection was explicitly disconnected.
	StatusDisconnected Status = "disconnected"
	// StatusError means registration failed; the connection is kept with an
	// empty catalog so callers can inspect and retry.
	StatusError Status = "error"
)

// Connection is one live transport plus its discovered tool catalog.
// Owned exclusively by the Router.
type Connection struct {
	ID        string
	Transport transport.Transport
	Tools     []protocol.Tool
	Status    Status
	LastErr   error
}

// snapshot returns a copy safe to hand out.
func (c *Connection) snapshot() Connection {
	cp := *c
	cp.Tools = append([]protocol.Tool(nil), c.Tools...)
	return cp
}

// Options configures a Router.
type Options struct {
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Router aggregates tools from multiple live connections. Safe for
// concurrent use; deployments sharing one router across conversations rely
// on the internal mutex.
type Router struct {
	logger logging.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
	order []string
}

// New constructs an empty Router.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Router{
		logger: opts.Logger,
		conns:  make(map[string]*Connection),
	}
}

// Register starts the transport, discovers its tool catalog via tools/list
// and stores the connection. On any failure the connection is still stored
// with status error and an empty catalog rather than dropped, so callers can
// inspect and Retry. A duplicate id is rejected.
func (r *Router) Register(ctx context.Context, id string, t transport.Transport) error {
	r.mu.Lock()
	if _, exists := r.conns[id]; exists {
		r.mu.Unlock()
		return mesherror.Newf(mesherror.KindConnection, "connection %q already registered", id)
	}

	conn := &Connection{ID: id, Transport: t, Status: StatusError}
	r.conns[id] = conn
	r.order = append(r.order, id)
	r.mu.Unlock()

	return r.connect(ctx, conn)
}

// Retry re-runs the start/discover sequence for an errored or disconnected
// connection.
func (r *Router) Retry(ctx context.Context, id string) error {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return mesherror.Newf(mesherror.KindConnection, "connection %q not registered", id)
	}

	return r.connect(ctx, conn)
}

// connect performs the start + tools/list sequence, recording the outcome on
// the connection.
func (r *Router) connect(ctx context.Context, conn *Connection) error {
	fail := func(err error) error {
		r.mu.Lock()
		conn.Status = StatusError
		conn.LastErr = err
		conn.Tools = nil
		r.mu.Unlock()

		r.logger.Warn("router.connection.failed", "connection_id", conn.ID, "error", err.Error())
		return err
	}

	if err := conn.Transport.Start(ctx); err != nil {
		return fail(mesherror.Wrap(err, mesherror.KindConnection, "start transport"))
	}

	req, err := protocol.NewRequest(protocol.MethodListTools, nil)
	if err != nil {
		return fail(err)
	}

	resp, err := conn.Transport.Send(ctx, req)
	if err != nil {
		return fail(mesherror.Wrap(err, mesherror.KindTransport, "discover tool catalog"))
	}
	if resp.IsError() {
		return fail(mesherror.Newf(mesherror.KindTransport,
			"discover tool catalog: %s", resp.Error.Message))
	}

	var listed protocol.ListToolsResult
	if err := resp.DecodeResult(&listed); err != nil {
		return fail(mesherror.Wrap(err, mesherror.KindTransport, "decode tool catalog"))
	}

	r.mu.Lock()
	conn.Status = StatusConnected
	conn.LastErr = nil
	conn.Tools = listed.Tools
	r.mu.Unlock()

	r.logger.Info("router.connection.ready", "connection_id", conn.ID, "tools", len(listed.Tools))
	return nil
}

// InjectTools replaces the cached catalog of a connection. Used for stub
// transports whose catalogs are supplied by the caller rather than
// discovered (a stub's tools/list is defined to be empty), and to refresh
// a local connection after late tool registration.
func (r *Router) InjectTools(id string, tools []protocol.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return mesherror.Newf(mesherror.KindConnection, "connection %q not registered", id)
	}

	conn.Tools = append([]protocol.Tool(nil), tools...)
	return nil
}

// AllTools flattens the catalogs of all connected connections in
// registration order. Colliding names are not deduplicated.
func (r *Router) AllTools() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []protocol.Tool
	for _, id := range r.order {
		conn := r.conns[id]
		if conn.Status != StatusConnected {
			continue
		}
		out = append(out, conn.Tools...)
	}
	return out
}

// Tools is an alias for AllTools satisfying the engine's tool source
// contract.
func (r *Router) Tools() []protocol.Tool { return r.AllTools() }

// CallTool resolves name to the first connected connection whose catalog
// contains it (registration order) and dispatches the call. The first-match
// policy makes cross-connection collisions deterministic but unrouted to
// later registrations; see the package doc.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) (*protocol.ToolResult, error) {
	r.mu.RLock()
	var target *Connection
	for _, id := range r.order {
		conn := r.conns[id]
		if conn.Status != StatusConnected {
			continue
		}
		for _, tool := range conn.Tools {
			if tool.Name == name {
				target = conn
				break
			}
		}
		if target != nil {
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return nil, mesherror.Newf(mesherror.KindToolNotFound, "tool %q not found on any connected source", name)
	}

	req, err := protocol.NewRequest(protocol.MethodCallTool, protocol.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	resp, err := target.Transport.Send(ctx, req)
	if err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindTransport, "dispatch tool call")
	}
	if resp.IsError() {
		return nil, mesherror.Newf(mesherror.KindTransport,
			"tool call rejected: %s", resp.Error.Message)
	}

	var result protocol.ToolResult
	if err := resp.DecodeResult(&result); err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindTransport, "decode tool result")
	}

	return &result, nil
}

// Disconnect closes the transport and removes the connection.
func (r *Router) Disconnect(id string) error {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return mesherror.Newf(mesherror.KindConnection, "connection %q not registered", id)
	}

	delete(r.conns, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	conn.Status = StatusDisconnected
	r.mu.Unlock()

	return conn.Transport.Close()
}

// Connection returns a snapshot of one connection's state.
func (r *Router) Connection(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return conn.snapshot(), true
}

// Connections returns snapshots of all connections in registration order.
func (r *Router) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conns[id].snapshot())
	}
	return out
}
