package provider

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a lightweight in-memory Provider for tests and examples. It
// replays a script of responses in order when one is set; otherwise it
// answers with a canned completion keyed by the last user text.
type Mock struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	script    []*Response
	errs      []error
	calls     int
	requests  []Request
}

var _ Provider = (*Mock)(nil)

// NewMock constructs a Mock with tool support enabled.
func NewMock(name string) *Mock {
	return &Mock{
		info: Info{
			Name:          name,
			Provider:      "mock",
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input.
func (m *Mock) AddResponse(input, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[input] = response
}

// Enqueue appends a scripted response replayed in FIFO order before any
// canned completions are consulted. A nil entry means "fall through to the
// canned map for this call".
func (m *Mock) Enqueue(resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.script = append(m.script, resp)
}

// EnqueueError appends a scripted failure. Errors are consumed before
// scripted responses.
func (m *Mock) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errs = append(m.errs, err)
}

// Calls reports how many times Generate ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// LastRequest returns the most recent request Generate received, or nil.
func (m *Mock) LastRequest() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.requests) == 0 {
		return nil
	}
	req := m.requests[len(m.requests)-1]
	return &req
}

// Generate implements Provider.
func (m *Mock) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.requests = append(m.requests, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}

	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		if resp != nil {
			return resp, nil
		}
	}

	input := lastUserText(req)
	text, ok := m.responses[input]
	if !ok {
		text = fmt.Sprintf("Mock response to: %s", input)
	}

	return &Response{Text: text, FinishReason: "stop"}, nil
}

// Info implements Provider.
func (m *Mock) Info() Info { return m.info }

func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Text
		}
	}
	return ""
}
