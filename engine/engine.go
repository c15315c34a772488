package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/toolmesh/credential"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/memory"
	"github.com/hupe1980/toolmesh/protocol"
	"github.com/hupe1980/toolmesh/provider"
)

// ToolSource supplies the tool catalog and executes calls against it. The
// connection router satisfies it; so does any local registry.
type ToolSource interface {
	Tools() []protocol.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (*protocol.ToolResult, error)
}

// Config bounds a run.
type Config struct {
	// MaxTurns is the provider round-trip limit per Run.
	MaxTurns int
	// MaxRetries is the retry limit for rate-limited provider calls.
	MaxRetries int
	// BaseDelay seeds the backoff; it doubles per attempt.
	BaseDelay time.Duration
	// MaxJitter bounds the random delay added to each backoff step.
	MaxJitter time.Duration
	// Throttle separates dependent sequential provider calls in one turn.
	Throttle time.Duration
	// FanOutTimeout bounds one whole dispatch_agents batch.
	FanOutTimeout time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxTurns:      6,
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		MaxJitter:     250 * time.Millisecond,
		Throttle:      200 * time.Millisecond,
		FanOutTimeout: 60 * time.Second,
	}
}

// Options configures an Engine.
type Options struct {
	Config Config
	// Instructions is the base system prompt prepended to every request.
	Instructions string
	// Memory, when set, is consulted before each run to inject pinned and
	// relevant nodes into the instruction context.
	Memory *memory.Store
	// Credentials, when set, is checked once per run; a missing key for
	// the provider fails the run before any call is made.
	Credentials *credential.Resolver
	// SubAgent enables the builtin dispatch_agents tool.
	SubAgent SubAgentFunc
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Engine orchestrates conversations over a provider and a tool source.
// All collaborators are explicit; the engine holds no process globals.
type Engine struct {
	provider provider.Provider
	tools    ToolSource
	cfg      Config

	instructions string
	memory       *memory.Store
	creds        *credential.Resolver
	subAgent     SubAgentFunc
	logger       logging.Logger
}

// New constructs an Engine over a provider and tool source.
func New(p provider.Provider, tools ToolSource, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		provider:     p,
		tools:        tools,
		cfg:          opts.Config,
		instructions: opts.Instructions,
		memory:       opts.Memory,
		creds:        opts.Credentials,
		subAgent:     opts.SubAgent,
		logger:       opts.Logger,
	}
}

// Conversation holds provider-shaped history for strictly sequential
// turns. Stop abandons the conversation at the next turn boundary;
// in-flight joined tool calls are not individually cancellable.
type Conversation struct {
	id string

	mu       sync.Mutex
	messages []provider.Message
	stopped  atomic.Bool
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{id: uuid.NewString()}
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Stop abandons the conversation between turns.
func (c *Conversation) Stop() { c.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (c *Conversation) Stopped() bool { return c.stopped.Load() }

// Messages returns a copy of the history.
func (c *Conversation) Messages() []provider.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]provider.Message(nil), c.messages...)
}

func (c *Conversation) append(msgs ...provider.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msgs...)
}

// TurnResult is the outcome of one Run.
type TurnResult struct {
	// Text is the final (or last produced) assistant text.
	Text string
	// Turns counts provider round-trips consumed.
	Turns int
	// ToolCalls counts tool executions across all turns.
	ToolCalls int
	// FinishReason is the provider's reason on the last response, or
	// "max_turns" / "stopped" / "error" when the engine terminated the
	// loop itself.
	FinishReason string
}

// fault records a run failure as a textual assistant message on the
// conversation and returns the result alongside the error. Callers that
// ignore the error still see the fault in history and on the result.
func (e *Engine) fault(conv *Conversation, result *TurnResult, err error) (*TurnResult, error) {
	text := fmt.Sprintf("The request could not be completed: %v", err)

	e.logger.Error("engine.run.fault", "conversation", conv.ID(), "error", err.Error())
	conv.append(provider.Message{Role: provider.RoleAssistant, Text: text})

	result.Text = text
	result.FinishReason = "error"
	return result, err
}

// Run drives one conversation turn to completion: user input goes into
// history, then provider responses and tool-call batches alternate until
// the provider finishes with text, the conversation is stopped, or
// MaxTurns is reached. Tool calls within one response execute
// concurrently and their results are submitted back only when every call
// finished; a failing call becomes an error-flagged result, never an
// aborted turn. A provider failure that survives the retry policy does
// not raise past the run either: it comes back as a TurnResult with
// FinishReason "error" and a fault text appended to the conversation,
// with the history up to that point intact. The error is returned
// alongside for callers that inspect causes.
func (e *Engine) Run(ctx context.Context, conv *Conversation, input string) (*TurnResult, error) {
	if conv == nil {
		conv = NewConversation()
	}

	result := &TurnResult{}

	if e.creds != nil {
		providerName := e.provider.Info().Provider
		if _, ok := e.creds.Resolve(providerName); !ok {
			return e.fault(conv, result, credential.ErrMissing(providerName))
		}
	}

	conv.append(provider.Message{Role: provider.RoleUser, Text: input})

	req := provider.Request{
		Instructions: e.buildInstructions(ctx, input),
		Tools:        e.toolDefinitions(),
	}

	lastText := ""

	for turn := 1; turn <= e.cfg.MaxTurns; turn++ {
		if conv.Stopped() {
			result.Text = lastText
			result.FinishReason = "stopped"
			return result, nil
		}

		if turn > 1 {
			if err := e.throttle(ctx); err != nil {
				return e.fault(conv, result, err)
			}
		}

		req.Messages = conv.Messages()

		resp, err := e.generateWithRetry(ctx, req)
		if err != nil {
			return e.fault(conv, result, err)
		}
		result.Turns = turn

		conv.append(provider.Message{
			Role:      provider.RoleAssistant,
			Text:      resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		if resp.Text != "" {
			lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			result.FinishReason = resp.FinishReason
			return result, nil
		}

		if turn == e.cfg.MaxTurns {
			// Answer the pending calls with error results so the history
			// stays well-formed for a later run on this conversation.
			conv.append(provider.Message{Role: provider.RoleTool, ToolResults: abandonedResults(resp.ToolCalls)})
			break
		}

		batch := e.executeToolCalls(ctx, resp.ToolCalls)
		result.ToolCalls += len(batch)
		conv.append(provider.Message{Role: provider.RoleTool, ToolResults: batch})
	}

	e.logger.Warn("engine.max_turns_reached", "conversation", conv.ID(), "max_turns", e.cfg.MaxTurns)
	result.Text = lastText
	result.FinishReason = "max_turns"
	return result, nil
}

// abandonedResults answers tool calls the engine will not execute, one
// error result per call in call order.
func abandonedResults(calls []provider.ToolCall) []provider.ToolCallResult {
	results := make([]provider.ToolCallResult, len(calls))
	for i, tc := range calls {
		results[i] = provider.ToolCallResult{
			ID:      tc.ID,
			Name:    tc.Name,
			Text:    "not executed: turn limit reached",
			IsError: true,
		}
	}
	return results
}

// executeToolCalls runs every call of one provider response concurrently
// and joins on all of them before returning. Results keep the call order.
func (e *Engine) executeToolCalls(ctx context.Context, calls []provider.ToolCall) []provider.ToolCallResult {
	results := make([]provider.ToolCallResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc provider.ToolCall) {
			defer wg.Done()

			start := time.Now()
			results[idx] = e.executeOne(ctx, tc)
			e.logger.Debug("engine.tool_call.executed",
				"tool", tc.Name,
				"duration_ms", time.Since(start).Milliseconds(),
				"is_error", results[idx].IsError,
			)
		}(i, call)
	}
	wg.Wait()

	return results
}

// executeOne runs a single tool call inside the failure boundary: a raised
// error, a panic or an unparsable argument payload all come back as an
// error-flagged result.
func (e *Engine) executeOne(ctx context.Context, tc provider.ToolCall) (out provider.ToolCallResult) {
	out = provider.ToolCallResult{ID: tc.ID, Name: tc.Name}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine.tool_call.panic", "tool", tc.Name, "recover", fmt.Sprintf("%v", r))
			out.Text = fmt.Sprintf("tool %q panicked: %v", tc.Name, r)
			out.IsError = true
		}
	}()

	if tc.Name == FanOutToolName && e.subAgent != nil {
		res := e.runFanOut(ctx, tc.Arguments)
		out.Text = res.Text()
		out.IsError = res.IsError
		return out
	}

	args, err := decodeArguments(tc.Arguments)
	if err != nil {
		out.Text = fmt.Sprintf("invalid arguments for %q: %v", tc.Name, err)
		out.IsError = true
		return out
	}

	res, err := e.tools.CallTool(ctx, tc.Name, args)
	if err != nil {
		out.Text = err.Error()
		out.IsError = true
		return out
	}

	out.Text = res.Text()
	out.IsError = res.IsError
	return out
}

// toolDefinitions converts the advertised catalog into provider tool
// definitions, appending the builtin dispatch tool when configured.
func (e *Engine) toolDefinitions() []provider.ToolDefinition {
	catalog := e.tools.Tools()

	defs := make([]provider.ToolDefinition, 0, len(catalog)+1)
	for _, t := range catalog {
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	if e.subAgent != nil {
		defs = append(defs, fanOutDefinition())
	}

	return defs
}

// buildInstructions combines the base instructions with pinned and
// input-relevant memory. Both lookups are best-effort: an embedding
// failure just means no relevant block.
func (e *Engine) buildInstructions(ctx context.Context, input string) string {
	if e.memory == nil {
		return e.instructions
	}

	seen := make(map[string]bool)
	var lines []string

	for _, node := range e.memory.Pinned() {
		seen[node.ID] = true
		lines = append(lines, "- "+node.Content)
	}

	relevant, _ := e.memory.Search(ctx, input, 5, 0.3)
	for _, node := range relevant {
		if seen[node.ID] {
			continue
		}
		lines = append(lines, "- "+node.Content)
	}

	if len(lines) == 0 {
		return e.instructions
	}

	var b strings.Builder
	if e.instructions != "" {
		b.WriteString(e.instructions)
		b.WriteString("\n\n")
	}
	b.WriteString("Known context from memory:\n")
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
