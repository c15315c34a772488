package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/mesherror"
	"github.com/hupe1980/toolmesh/protocol"
)

// StubFunc is the local function a Stub transport wraps. It receives the
// tool name and decoded arguments of a tools/call request.
type StubFunc func(ctx context.Context, name string, args map[string]any) (*protocol.ToolResult, error)

// Stub simulates a backend for installed packages that expose a single
// callable surface. Only tools/call is handled; tools/list returns an empty
// catalog because simulated catalogs are injected directly by the caller at
// registration time rather than discovered.
type Stub struct {
	fn StubFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewStub creates a stub transport around fn.
func NewStub(fn StubFunc) *Stub {
	return &Stub{fn: fn}
}

// Start implements Transport.
func (s *Stub) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mesherror.New(mesherror.KindConnection, "stub transport is closed")
	}
	s.started = true
	return nil
}

// Send implements Transport.
func (s *Stub) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	s.mu.Lock()
	ok := s.started && !s.closed
	s.mu.Unlock()

	if !ok {
		return nil, mesherror.New(mesherror.KindTransport, "stub transport not started")
	}

	method, parsed := protocol.ParseMethod(req.Method)
	if !parsed {
		return protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method)), nil
	}

	switch method {
	case protocol.MethodListTools:
		return s.respond(req.ID, protocol.ListToolsResult{Tools: []protocol.Tool{}})

	case protocol.MethodCallTool:
		var params protocol.CallToolParams
		if len(req.Params) == 0 {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "missing params"), nil
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, err.Error()), nil
		}

		result, err := s.fn(ctx, params.Name, params.Arguments)
		if err != nil {
			// Simulated handlers obey the same failure boundary as real ones.
			result = protocol.ErrorResult(fmt.Sprintf("tool %q failed: %v", params.Name, err))
		}
		return s.respond(req.ID, result)

	default:
		return protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method %q not supported by stub transport", req.Method)), nil
	}
}

func (s *Stub) respond(id string, result any) (*protocol.Response, error) {
	resp, err := protocol.NewResultResponse(id, result)
	if err != nil {
		return protocol.NewErrorResponse(id, protocol.CodeInternalError, err.Error()), nil
	}
	return resp, nil
}

// Close implements Transport.
func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// IsConnected implements Transport.
func (s *Stub) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started && !s.closed
}
