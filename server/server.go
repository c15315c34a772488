package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hupe1980/toolmesh/internal/util"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/protocol"
)

// ToolHandler executes a tool call with already-decoded arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (*protocol.ToolResult, error)

// ResourceReader produces the contents of a registered resource.
type ResourceReader func(ctx context.Context) ([]protocol.ResourceContents, error)

// PromptRenderer renders a prompt template into a message sequence.
type PromptRenderer func(ctx context.Context, args map[string]string) ([]protocol.PromptMessage, error)

type registeredTool struct {
	def     protocol.Tool
	handler ToolHandler
	schema  *jsonschema.Schema // nil when the declared schema failed to compile
}

type registeredResource struct {
	def    protocol.Resource
	reader ResourceReader
}

type registeredPrompt struct {
	def      protocol.Prompt
	renderer PromptRenderer
}

// Options configures a Server instance.
type Options struct {
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Server owns the canonical catalogs and dispatches incoming envelopes.
// Registration is an idempotent upsert by key; registration order is
// preserved so listings are deterministic. Safe for concurrent use.
type Server struct {
	name    string
	version string
	logger  logging.Logger

	mu            sync.RWMutex
	tools         map[string]*registeredTool
	toolOrder     []string
	resources     map[string]*registeredResource
	resourceOrder []string
	prompts       map[string]*registeredPrompt
	promptOrder   []string
}

// New constructs an empty Server.
func New(name, version string, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		name:      name,
		version:   version,
		logger:    opts.Logger,
		tools:     make(map[string]*registeredTool),
		resources: make(map[string]*registeredResource),
		prompts:   make(map[string]*registeredPrompt),
	}
}

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// Version returns the server version.
func (s *Server) Version() string { return s.version }

// RegisterTool upserts a tool by name. The input schema is compiled at
// registration time; a schema that fails to compile disables validation for
// that tool rather than making it unreachable.
func (s *Server) RegisterTool(def protocol.Tool, handler ToolHandler) {
	compiled, err := compileInputSchema(def)
	if err != nil {
		s.logger.Warn("server.tool.schema_compile_failed", "tool", def.Name, "error", err.Error())
		compiled = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[def.Name]; !exists {
		s.toolOrder = append(s.toolOrder, def.Name)
	}
	s.tools[def.Name] = &registeredTool{def: def, handler: handler, schema: compiled}
}

// RegisterToolFromStruct derives the input schema by reflection over the
// argument prototype struct and registers the tool.
func (s *Server) RegisterToolFromStruct(name, description string, argsPrototype any, handler ToolHandler) {
	s.RegisterTool(protocol.Tool{
		Name:        name,
		Description: description,
		InputSchema: util.CreateSchema(argsPrototype),
	}, handler)
}

// RegisterResource upserts a resource by URI.
func (s *Server) RegisterResource(def protocol.Resource, reader ResourceReader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resources[def.URI]; !exists {
		s.resourceOrder = append(s.resourceOrder, def.URI)
	}
	s.resources[def.URI] = &registeredResource{def: def, reader: reader}
}

// RegisterPrompt upserts a prompt by name.
func (s *Server) RegisterPrompt(def protocol.Prompt, renderer PromptRenderer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.prompts[def.Name]; !exists {
		s.promptOrder = append(s.promptOrder, def.Name)
	}
	s.prompts[def.Name] = &registeredPrompt{def: def, renderer: renderer}
}

// ListTools returns a snapshot of the tool catalog in registration order.
func (s *Server) ListTools() []protocol.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		out = append(out, s.tools[name].def)
	}
	return out
}

// ListResources returns a snapshot of the resource catalog in registration order.
func (s *Server) ListResources() []protocol.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.Resource, 0, len(s.resourceOrder))
	for _, uri := range s.resourceOrder {
		out = append(out, s.resources[uri].def)
	}
	return out
}

// ListPrompts returns a snapshot of the prompt catalog in registration order.
func (s *Server) ListPrompts() []protocol.Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.Prompt, 0, len(s.promptOrder))
	for _, name := range s.promptOrder {
		out = append(out, s.prompts[name].def)
	}
	return out
}

// CallTool looks a tool up by name and invokes its handler inside the
// failure boundary. Every failure mode (unknown tool, argument validation,
// handler error, handler panic) is returned as error content, never as a
// raised error.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) *protocol.ToolResult {
	s.mu.RLock()
	reg, ok := s.tools[name]
	s.mu.RUnlock()

	if !ok {
		return protocol.ErrorResult(fmt.Sprintf("tool %q not found", name))
	}

	if reg.schema != nil {
		if err := validateArguments(reg.schema, args); err != nil {
			s.logger.Warn("server.tool.validation_failed", "tool", name, "error", err.Error())
			return protocol.ErrorResult(fmt.Sprintf("invalid arguments for tool %q: %v", name, err))
		}
	}

	result, err := s.invokeGuarded(ctx, name, reg.handler, args)
	if err != nil {
		s.logger.Error("server.tool.call_failed", "tool", name, "error", err.Error())
		return protocol.ErrorResult(fmt.Sprintf("tool %q failed: %v", name, err))
	}

	if result == nil {
		result = protocol.TextResult("")
	}
	return result
}

// invokeGuarded runs the handler converting panics to errors.
func (s *Server) invokeGuarded(ctx context.Context, name string, handler ToolHandler, args map[string]any) (result *protocol.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("server.tool.panic", "tool", name, "recover", fmt.Sprintf("%v", r))
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, args)
}

// ReadResource reads a registered resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	s.mu.RLock()
	reg, ok := s.resources[uri]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("resource %q not found", uri)
	}

	return reg.reader(ctx)
}

// GetPrompt renders a registered prompt by name.
func (s *Server) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	s.mu.RLock()
	reg, ok := s.prompts[name]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("prompt %q not found", name)
	}

	messages, err := reg.renderer(ctx, args)
	if err != nil {
		return nil, err
	}

	return &protocol.GetPromptResult{Description: reg.def.Description, Messages: messages}, nil
}

// HandleMessage is the single dispatch entry point transports call. An
// unknown method produces a MethodNotFound error envelope; malformed params
// produce InvalidParams. It never panics and never returns nil.
func (s *Server) HandleMessage(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req == nil {
		return protocol.NewErrorResponse("", protocol.CodeInvalidRequest, "empty request")
	}

	method, ok := protocol.ParseMethod(req.Method)
	if !ok {
		return protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method))
	}

	switch method {
	case protocol.MethodListTools:
		return s.respond(req.ID, protocol.ListToolsResult{Tools: s.ListTools()})

	case protocol.MethodCallTool:
		var params protocol.CallToolParams
		if err := decodeParams(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, err.Error())
		}
		return s.respond(req.ID, s.CallTool(ctx, params.Name, params.Arguments))

	case protocol.MethodListResources:
		return s.respond(req.ID, protocol.ListResourcesResult{Resources: s.ListResources()})

	case protocol.MethodReadResource:
		var params protocol.ReadResourceParams
		if err := decodeParams(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, err.Error())
		}
		contents, err := s.ReadResource(ctx, params.URI)
		if err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeNotFound, err.Error())
		}
		return s.respond(req.ID, protocol.ReadResourceResult{Contents: contents})

	case protocol.MethodListPrompts:
		return s.respond(req.ID, protocol.ListPromptsResult{Prompts: s.ListPrompts()})

	case protocol.MethodGetPrompt:
		var params protocol.GetPromptParams
		if err := decodeParams(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, err.Error())
		}
		result, err := s.GetPrompt(ctx, params.Name, params.Arguments)
		if err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeNotFound, err.Error())
		}
		return s.respond(req.ID, result)

	default:
		return protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method))
	}
}

func (s *Server) respond(id string, result any) *protocol.Response {
	resp, err := protocol.NewResultResponse(id, result)
	if err != nil {
		return protocol.NewErrorResponse(id, protocol.CodeInternalError, err.Error())
	}
	return resp
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed params: %w", err)
	}
	return nil
}
