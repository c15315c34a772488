// Package toolmesh provides a high-level façade over the protocol server,
// the connection router and the orchestration engine. Most applications
// interact with this package by:
//  1. Creating a ToolMesh via New() with a provider
//  2. Registering local tools (RegisterTool) or remote connections (Connect)
//  3. Driving conversations with Ask()
//
// The façade wires a local protocol server into the router over the
// in-process transport, keeps the advertised catalog fresh as tools are
// registered, and optionally exposes the memory store to the model through
// builtin save/search tools. All defaults are safe for local development
// and testing.
package toolmesh

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/toolmesh/credential"
	"github.com/hupe1980/toolmesh/engine"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/memory"
	"github.com/hupe1980/toolmesh/protocol"
	"github.com/hupe1980/toolmesh/provider"
	"github.com/hupe1980/toolmesh/router"
	"github.com/hupe1980/toolmesh/server"
	"github.com/hupe1980/toolmesh/transport"
)

// localConnectionID names the router connection backed by the in-process
// server.
const localConnectionID = "local"

// Options configures the ToolMesh instance.
type Options struct {
	// ServerName / ServerVersion identify the local protocol server.
	ServerName    string
	ServerVersion string

	// EngineConfig bounds orchestration (turns, retries, throttle).
	EngineConfig engine.Config

	// Instructions is the base system prompt for every conversation.
	Instructions string

	// Memory, when set, is injected into the engine and exposed to the
	// model through builtin save_fact / search_memory tools.
	Memory *memory.Store

	// Credentials, when set, gates runs on a resolvable provider key.
	Credentials *credential.Resolver

	// SubAgent enables the builtin dispatch tool.
	SubAgent engine.SubAgentFunc

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// ToolMesh aggregates the local server, the connection router and the
// engine behind one surface.
type ToolMesh struct {
	server *server.Server
	router *router.Router
	engine *engine.Engine
	memory *memory.Store
	logger logging.Logger
}

// New creates a ToolMesh wired around the provider. The local server is
// registered with the router over the in-process transport before any
// remote connection.
func New(ctx context.Context, p provider.Provider, optFns ...func(o *Options)) (*ToolMesh, error) {
	opts := Options{
		ServerName:    "toolmesh",
		ServerVersion: "0.1.0",
		EngineConfig:  engine.DefaultConfig(),
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	srv := server.New(opts.ServerName, opts.ServerVersion, func(o *server.Options) {
		o.Logger = opts.Logger
	})

	rt := router.New(func(o *router.Options) {
		o.Logger = opts.Logger
	})

	m := &ToolMesh{
		server: srv,
		router: rt,
		memory: opts.Memory,
		logger: opts.Logger,
	}

	if opts.Memory != nil {
		registerMemoryTools(srv, opts.Memory)
	}

	if err := rt.Register(ctx, localConnectionID, transport.NewDirect(srv)); err != nil {
		return nil, err
	}

	m.engine = engine.New(p, rt, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Instructions = opts.Instructions
		o.Memory = opts.Memory
		o.Credentials = opts.Credentials
		o.SubAgent = opts.SubAgent
		o.Logger = opts.Logger
	})

	return m, nil
}

// Server returns the local protocol server.
func (m *ToolMesh) Server() *server.Server { return m.server }

// Router returns the connection router.
func (m *ToolMesh) Router() *router.Router { return m.router }

// Engine returns the orchestration engine.
func (m *ToolMesh) Engine() *engine.Engine { return m.engine }

// RegisterTool adds a tool to the local server and refreshes the catalog
// the router advertises for the local connection.
func (m *ToolMesh) RegisterTool(def protocol.Tool, handler server.ToolHandler) error {
	m.server.RegisterTool(def, handler)
	return m.router.InjectTools(localConnectionID, m.server.ListTools())
}

// RegisterToolFromStruct registers a tool whose input schema is derived
// from the argument struct's json tags, then refreshes the local catalog.
func (m *ToolMesh) RegisterToolFromStruct(name, description string, argsPrototype any, handler server.ToolHandler) error {
	m.server.RegisterToolFromStruct(name, description, argsPrototype, handler)
	return m.router.InjectTools(localConnectionID, m.server.ListTools())
}

// Connect registers a remote connection with the router.
func (m *ToolMesh) Connect(ctx context.Context, id string, t transport.Transport) error {
	return m.router.Register(ctx, id, t)
}

// NewConversation starts an empty conversation.
func (m *ToolMesh) NewConversation() *engine.Conversation {
	return engine.NewConversation()
}

// Ask drives one conversation turn to completion.
func (m *ToolMesh) Ask(ctx context.Context, conv *engine.Conversation, input string) (*engine.TurnResult, error) {
	return m.engine.Run(ctx, conv, input)
}

// Close disconnects every router connection.
func (m *ToolMesh) Close() error {
	var firstErr error
	for _, conn := range m.router.Connections() {
		if err := m.router.Disconnect(conn.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerMemoryTools exposes the memory store to the model.
func registerMemoryTools(srv *server.Server, store *memory.Store) {
	srv.RegisterTool(protocol.Tool{
		Name:        "save_fact",
		Description: "Persist a fact about the user or task for later recall.",
		InputSchema: protocol.ObjectSchema(map[string]any{
			"content": map[string]any{"type": "string", "description": "The fact to remember."},
			"pin":     map[string]any{"type": "boolean", "description": "Protect the fact from eviction."},
		}, []string{"content"}),
	}, func(ctx context.Context, args map[string]any) (*protocol.ToolResult, error) {
		content, _ := args["content"].(string)
		if content == "" {
			return protocol.ErrorResult("content must be a non-empty string"), nil
		}

		node, err := store.Add(ctx, content, memory.NodeTypeUserFact, nil)
		if err != nil {
			return nil, err
		}

		if pin, _ := args["pin"].(bool); pin {
			if _, err := store.TogglePin(node.ID); err != nil {
				return nil, err
			}
		}

		return protocol.TextResult(fmt.Sprintf("remembered as %s", node.ID)), nil
	})

	srv.RegisterTool(protocol.Tool{
		Name:        "search_memory",
		Description: "Search remembered facts by meaning.",
		InputSchema: protocol.ObjectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "What to look for."},
			"limit": map[string]any{"type": "number", "description": "Maximum results, default 5."},
		}, []string{"query"}),
	}, func(ctx context.Context, args map[string]any) (*protocol.ToolResult, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return protocol.ErrorResult("query must be a non-empty string"), nil
		}

		limit := 5
		if n, ok := args["limit"].(float64); ok && n > 0 {
			limit = int(n)
		}

		nodes, err := store.Search(ctx, query, limit, 0.3)
		if err != nil {
			return nil, err
		}
		if len(nodes) == 0 {
			return protocol.TextResult("no matching memories"), nil
		}

		lines := make([]string, len(nodes))
		for i, node := range nodes {
			lines[i] = fmt.Sprintf("- %s (relevance %.2f)", node.Content, node.Relevance)
		}
		return protocol.TextResult(strings.Join(lines, "\n")), nil
	})
}
