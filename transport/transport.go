package transport

import (
	"context"

	"github.com/hupe1980/toolmesh/protocol"
)

// Transport is the four-operation contract over one physical channel.
type Transport interface {
	// Start establishes connectivity. Calling Start on an already started
	// transport is a no-op. Fails with a connection-kind error when the
	// backend is unreachable.
	Start(ctx context.Context) error

	// Send delivers a request and returns the matching response envelope.
	// Must not be called before Start succeeds or after Close; doing so
	// fails with a transport-kind error.
	Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

	// Close releases resources. Safe to call multiple times.
	Close() error

	// IsConnected is a non-blocking status probe.
	IsConnected() bool
}
