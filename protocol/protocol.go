package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Version is the envelope version tag carried by every request and response.
const Version = "2.0"

// Method identifies one of the six protocol operations.
type Method string

// The closed method set. Unknown strings fail ParseMethod and produce a
// MethodNotFound error envelope at dispatch, never a raised fault.
const (
	MethodListTools     Method = "tools/list"
	MethodCallTool      Method = "tools/call"
	MethodListResources Method = "resources/list"
	MethodReadResource  Method = "resources/read"
	MethodListPrompts   Method = "prompts/list"
	MethodGetPrompt     Method = "prompts/get"
)

// ParseMethod maps a wire string onto the closed method set.
func ParseMethod(s string) (Method, bool) {
	switch Method(s) {
	case MethodListTools, MethodCallTool, MethodListResources,
		MethodReadResource, MethodListPrompts, MethodGetPrompt:
		return Method(s), true
	default:
		return "", false
	}
}

// ErrorCode is a JSON-RPC style numeric error code.
type ErrorCode int

// Standard error codes.
const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603
	CodeNotFound       ErrorCode = -32001
)

// Request is the call envelope delivered to a transport.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request with a fresh correlation id. Params is
// marshaled eagerly; a nil params produces an omitted field.
func NewRequest(method Method, params any) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		ID:      uuid.NewString(),
		Method:  string(method),
	}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}

	return req, nil
}

// Response is the result envelope. Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject describes a protocol level failure inside a Response.
type ErrorObject struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewResultResponse builds a success response correlated to id.
func NewResultResponse(id string, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response correlated to id.
func NewErrorResponse(id string, code ErrorCode, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

// IsError reports whether the response carries an error object.
func (r *Response) IsError() bool { return r.Error != nil }

// DecodeResult unmarshals the result payload into v.
func (r *Response) DecodeResult(v any) error {
	return json.Unmarshal(r.Result, v)
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ReadResourceParams are the params for resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// GetPromptParams are the params for prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// ListToolsResult is the result payload of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// ListResourcesResult is the result payload of resources/list.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ReadResourceResult is the result payload of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ResourceContents is one readable chunk of a resource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"` // base64 when binary
}

// ListPromptsResult is the result payload of prompts/list.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// GetPromptResult is the result payload of prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// PromptMessage is one rendered message of a prompt template.
type PromptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
