package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	for _, m := range []Method{
		MethodListTools, MethodCallTool, MethodListResources,
		MethodReadResource, MethodListPrompts, MethodGetPrompt,
	} {
		got, ok := ParseMethod(string(m))
		assert.True(t, ok)
		assert.Equal(t, m, got)
	}

	_, ok := ParseMethod("tools/unknown")
	assert.False(t, ok)

	_, ok = ParseMethod("")
	assert.False(t, ok)
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(MethodCallTool, CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, Version, req.JSONRPC)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "tools/call", req.Method)

	var params CallToolParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "echo", params.Name)
	assert.Equal(t, "hi", params.Arguments["text"])
}

func TestNewRequestNilParams(t *testing.T) {
	req, err := NewRequest(MethodListTools, nil)
	require.NoError(t, err)
	assert.Nil(t, req.Params)
}

func TestResponseExclusivity(t *testing.T) {
	ok, err := NewResultResponse("id-1", ListToolsResult{Tools: []Tool{}})
	require.NoError(t, err)
	assert.False(t, ok.IsError())
	assert.NotNil(t, ok.Result)
	assert.Nil(t, ok.Error)

	bad := NewErrorResponse("id-2", CodeMethodNotFound, "method not found")
	assert.True(t, bad.IsError())
	assert.Nil(t, bad.Result)
	assert.Equal(t, CodeMethodNotFound, bad.Error.Code)
}

func TestToolResultRoundTrip(t *testing.T) {
	in := &ToolResult{
		Content: []ContentBlock{
			TextContent{Text: "hello"},
			ImageContent{Data: "aGk=", MimeType: "image/png"},
			ResourceContent{URI: "docs://readme", MimeType: "text/markdown", Text: "# hi"},
		},
		IsError: true,
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out ToolResult
	require.NoError(t, json.Unmarshal(raw, &out))

	require.Len(t, out.Content, 3)
	assert.Equal(t, TextContent{Text: "hello"}, out.Content[0])
	assert.Equal(t, ImageContent{Data: "aGk=", MimeType: "image/png"}, out.Content[1])
	assert.Equal(t, ResourceContent{URI: "docs://readme", MimeType: "text/markdown", Text: "# hi"}, out.Content[2])
	assert.True(t, out.IsError)
}

func TestToolResultText(t *testing.T) {
	r := &ToolResult{Content: []ContentBlock{
		TextContent{Text: "a"},
		ImageContent{Data: "x", MimeType: "image/png"},
		TextContent{Text: "b"},
	}}
	assert.Equal(t, "ab", r.Text())

	assert.Equal(t, "boom", ErrorResult("boom").Text())
	assert.True(t, ErrorResult("boom").IsError)
	assert.False(t, TextResult("fine").IsError)
}

func TestObjectSchema(t *testing.T) {
	s := ObjectSchema(map[string]any{
		"text": map[string]any{"type": "string"},
	}, []string{"text"})

	assert.Equal(t, "object", s["type"])
	assert.Contains(t, s, "required")

	noReq := ObjectSchema(map[string]any{}, nil)
	assert.NotContains(t, noReq, "required")
}
