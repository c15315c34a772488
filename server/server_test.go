package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/protocol"
)

func newTestServer() *Server {
	s := New("test-server", "0.1.0")

	s.RegisterTool(protocol.Tool{
		Name:        "echo",
		Description: "Echo the provided text",
		InputSchema: protocol.ObjectSchema(map[string]any{
			"text": map[string]any{"type": "string"},
		}, []string{"text"}),
	}, func(_ context.Context, args map[string]any) (*protocol.ToolResult, error) {
		return protocol.TextResult(args["text"].(string)), nil
	})

	return s
}

func TestRegisterToolUpsert(t *testing.T) {
	s := newTestServer()

	s.RegisterTool(protocol.Tool{Name: "echo", Description: "replaced"},
		func(_ context.Context, _ map[string]any) (*protocol.ToolResult, error) {
			return protocol.TextResult("v2"), nil
		})

	tools := s.ListTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "replaced", tools[0].Description)

	result := s.CallTool(context.Background(), "echo", nil)
	assert.Equal(t, "v2", result.Text())
}

func TestListToolsRegistrationOrder(t *testing.T) {
	s := New("t", "0")
	for _, name := range []string{"gamma", "alpha", "beta"} {
		s.RegisterTool(protocol.Tool{Name: name},
			func(_ context.Context, _ map[string]any) (*protocol.ToolResult, error) {
				return protocol.TextResult("ok"), nil
			})
	}

	var names []string
	for _, tl := range s.ListTools() {
		names = append(names, tl.Name)
	}
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, names)
}

func TestCallToolSuccess(t *testing.T) {
	s := newTestServer()

	result := s.CallTool(context.Background(), "echo", map[string]any{"text": "hello"})
	assert.False(t, result.IsError)
	assert.Equal(t, "hello", result.Text())
}

func TestCallToolNotFound(t *testing.T) {
	s := newTestServer()

	result := s.CallTool(context.Background(), "missing", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "not found")
}

func TestCallToolValidation(t *testing.T) {
	s := newTestServer()

	// missing required field
	result := s.CallTool(context.Background(), "echo", map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "invalid arguments")

	// wrong type
	result = s.CallTool(context.Background(), "echo", map[string]any{"text": 42})
	assert.True(t, result.IsError)
}

func TestCallToolHandlerErrorBecomesErrorContent(t *testing.T) {
	s := New("t", "0")
	s.RegisterTool(protocol.Tool{Name: "failing"},
		func(_ context.Context, _ map[string]any) (*protocol.ToolResult, error) {
			return nil, assert.AnError
		})

	result := s.CallTool(context.Background(), "failing", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "failed")
}

func TestCallToolPanicRecovered(t *testing.T) {
	s := New("t", "0")
	s.RegisterTool(protocol.Tool{Name: "panicky"},
		func(_ context.Context, _ map[string]any) (*protocol.ToolResult, error) {
			panic("boom")
		})

	result := s.CallTool(context.Background(), "panicky", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "boom")
}

func TestHandlerMutatesServerScopedState(t *testing.T) {
	s := New("infra", "0")

	inventory := map[string]int{"web": 1}
	s.RegisterToolFromStruct("scale_service", "Scale a simulated service",
		struct {
			Service  string `json:"service"`
			Replicas int    `json:"replicas"`
		}{},
		func(_ context.Context, args map[string]any) (*protocol.ToolResult, error) {
			inventory[args["service"].(string)] = int(args["replicas"].(float64))
			return protocol.TextResult("scaled"), nil
		})

	result := s.CallTool(context.Background(), "scale_service",
		map[string]any{"service": "web", "replicas": 3})
	assert.False(t, result.IsError)
	assert.Equal(t, 3, inventory["web"])
}

func TestResources(t *testing.T) {
	s := New("t", "0")
	s.RegisterResource(protocol.Resource{URI: "docs://readme", Name: "readme", MimeType: "text/markdown"},
		func(_ context.Context) ([]protocol.ResourceContents, error) {
			return []protocol.ResourceContents{{URI: "docs://readme", Text: "# hi"}}, nil
		})

	assert.Len(t, s.ListResources(), 1)

	contents, err := s.ReadResource(context.Background(), "docs://readme")
	require.NoError(t, err)
	assert.Equal(t, "# hi", contents[0].Text)

	_, err = s.ReadResource(context.Background(), "docs://missing")
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	s := New("t", "0")
	s.RegisterPrompt(protocol.Prompt{
		Name:        "greet",
		Description: "Greeting prompt",
		Arguments:   []protocol.PromptArgument{{Name: "name", Required: true}},
	}, func(_ context.Context, args map[string]string) ([]protocol.PromptMessage, error) {
		return []protocol.PromptMessage{{Role: "user", Text: "Hello " + args["name"]}}, nil
	})

	result, err := s.GetPrompt(context.Background(), "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Greeting prompt", result.Description)
	assert.Equal(t, "Hello Ada", result.Messages[0].Text)

	_, err = s.GetPrompt(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestHandleMessageDispatch(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	req, err := protocol.NewRequest(protocol.MethodListTools, nil)
	require.NoError(t, err)

	resp := s.HandleMessage(ctx, req)
	require.False(t, resp.IsError())
	assert.Equal(t, req.ID, resp.ID)

	var listed protocol.ListToolsResult
	require.NoError(t, resp.DecodeResult(&listed))
	require.Len(t, listed.Tools, 1)
	assert.Equal(t, "echo", listed.Tools[0].Name)
}

func TestHandleMessageCallTool(t *testing.T) {
	s := newTestServer()

	req, err := protocol.NewRequest(protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "roundtrip"},
	})
	require.NoError(t, err)

	resp := s.HandleMessage(context.Background(), req)
	require.False(t, resp.IsError())

	var result protocol.ToolResult
	require.NoError(t, resp.DecodeResult(&result))
	assert.Equal(t, "roundtrip", result.Text())
}

func TestHandleMessageUnknownMethod(t *testing.T) {
	s := newTestServer()

	resp := s.HandleMessage(context.Background(), &protocol.Request{
		JSONRPC: protocol.Version,
		ID:      "7",
		Method:  "tools/destroy",
	})

	require.True(t, resp.IsError())
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "7", resp.ID)
}

func TestHandleMessageInvalidParams(t *testing.T) {
	s := newTestServer()

	resp := s.HandleMessage(context.Background(), &protocol.Request{
		JSONRPC: protocol.Version,
		ID:      "8",
		Method:  string(protocol.MethodCallTool),
		Params:  json.RawMessage(`{"name":`),
	})

	require.True(t, resp.IsError())
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestHandleMessageNilRequest(t *testing.T) {
	s := newTestServer()

	resp := s.HandleMessage(context.Background(), nil)
	require.True(t, resp.IsError())
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)
}
