package transport

import (
	"context"
	"sync"

	"github.com/hupe1980/toolmesh/mesherror"
	"github.com/hupe1980/toolmesh/protocol"
	"github.com/hupe1980/toolmesh/server"
)

// Direct is the in-process transport: Send is a synchronous hand-off to the
// local protocol server's dispatch entry point. It cannot fail for
// connectivity reasons; dispatch errors travel inside the response envelope.
type Direct struct {
	server *server.Server

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewDirect creates a direct transport bound to a local server.
func NewDirect(srv *server.Server) *Direct {
	return &Direct{server: srv}
}

// Start implements Transport.
func (d *Direct) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return mesherror.New(mesherror.KindConnection, "direct transport is closed")
	}
	d.started = true
	return nil
}

// Send implements Transport.
func (d *Direct) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	d.mu.Lock()
	ok := d.started && !d.closed
	d.mu.Unlock()

	if !ok {
		return nil, mesherror.New(mesherror.KindTransport, "direct transport not started")
	}

	return d.server.HandleMessage(ctx, req), nil
}

// Close implements Transport.
func (d *Direct) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	return nil
}

// IsConnected implements Transport.
func (d *Direct) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.started && !d.closed
}
