package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/mesherror"
	"github.com/hupe1980/toolmesh/protocol"
)

// SSEOptions configures the SSE transport.
type SSEOptions struct {
	// HTTPClient used for both the push stream and request submission.
	HTTPClient *http.Client
	// HandshakeTimeout bounds the wait for the endpoint control event.
	HandshakeTimeout time.Duration
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// SSE is the remote streaming transport. Start opens a long-lived
// server-push channel and does not return success until the server names the
// sibling request-submission address via an "endpoint" control event.
// Requests are then POSTed to that address with the response envelope in the
// POST body. Loss of the push channel transitions the transport to
// disconnected with Close semantics; the transport never self-reconnects,
// callers reconnect with a fresh transport reusing Endpoint().
type SSE struct {
	streamURL        string
	client           *http.Client
	handshakeTimeout time.Duration
	logger           logging.Logger

	mu        sync.Mutex
	endpoint  string
	connected bool
	closed    bool
	cancel    context.CancelFunc
	body      io.ReadCloser
}

// NewSSE creates an SSE transport for the given push channel URL.
func NewSSE(streamURL string, optFns ...func(o *SSEOptions)) *SSE {
	opts := SSEOptions{
		HTTPClient:       http.DefaultClient,
		HandshakeTimeout: 10 * time.Second,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &SSE{
		streamURL:        streamURL,
		client:           opts.HTTPClient,
		handshakeTimeout: opts.HandshakeTimeout,
		logger:           opts.Logger,
	}
}

// Start implements Transport. It blocks until the server pushes the endpoint
// control event or the handshake deadline passes.
func (s *SSE) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return mesherror.New(mesherror.KindConnection, "sse transport is closed")
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// The stream outlives the Start call, so it runs on its own context; the
	// caller context only governs the handshake below.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.streamURL, nil)
	if err != nil {
		cancel()
		return mesherror.Wrap(err, mesherror.KindConnection, "build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return mesherror.Wrap(err, mesherror.KindConnection, "open push channel")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return mesherror.Newf(mesherror.KindConnection, "push channel rejected: status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)

	endpoint, err := s.awaitEndpoint(ctx, reader)
	if err != nil {
		resp.Body.Close()
		cancel()
		return err
	}

	s.mu.Lock()
	s.endpoint = endpoint
	s.connected = true
	s.cancel = cancel
	s.body = resp.Body
	s.mu.Unlock()

	s.logger.Debug("transport.sse.ready", "stream_url", s.streamURL, "endpoint", endpoint)

	go s.consumeStream(reader)

	return nil
}

// awaitEndpoint reads SSE events until the endpoint control event arrives.
func (s *SSE) awaitEndpoint(ctx context.Context, reader *bufio.Reader) (string, error) {
	type handshake struct {
		endpoint string
		err      error
	}

	ch := make(chan handshake, 1)

	go func() {
		for {
			event, data, err := readEvent(reader)
			if err != nil {
				ch <- handshake{err: mesherror.Wrap(err, mesherror.KindConnection, "push channel closed before ready")}
				return
			}
			if event == "endpoint" {
				resolved, err := s.resolveEndpoint(data)
				if err != nil {
					ch <- handshake{err: err}
					return
				}
				ch <- handshake{endpoint: resolved}
				return
			}
			// Other control events before readiness are ignored.
		}
	}()

	timer := time.NewTimer(s.handshakeTimeout)
	defer timer.Stop()

	select {
	case h := <-ch:
		return h.endpoint, h.err
	case <-ctx.Done():
		return "", mesherror.Wrap(ctx.Err(), mesherror.KindConnection, "endpoint handshake cancelled")
	case <-timer.C:
		return "", mesherror.New(mesherror.KindConnection, "timed out waiting for endpoint control event")
	}
}

// resolveEndpoint resolves an absolute or push-URL-relative submission address.
func (s *SSE) resolveEndpoint(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", mesherror.Wrap(err, mesherror.KindConnection, "malformed endpoint address")
	}

	base, err := url.Parse(s.streamURL)
	if err != nil {
		return "", mesherror.Wrap(err, mesherror.KindConnection, "malformed stream url")
	}

	return base.ResolveReference(ref).String(), nil
}

// consumeStream drains the push channel after readiness. Stream loss runs
// Close semantics; the last negotiated endpoint stays readable.
func (s *SSE) consumeStream(reader *bufio.Reader) {
	for {
		event, _, err := readEvent(reader)
		if err != nil {
			s.mu.Lock()
			wasClosed := s.closed
			s.mu.Unlock()

			if !wasClosed {
				s.logger.Warn("transport.sse.stream_lost", "stream_url", s.streamURL, "error", err.Error())
			}
			_ = s.Close()
			return
		}

		s.logger.Debug("transport.sse.event", "event", event)
	}
}

// readEvent reads one SSE event (event name + concatenated data lines).
func readEvent(reader *bufio.Reader) (string, string, error) {
	var event string
	var data []string

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", err
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				return event, strings.Join(data, "\n"), nil
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		}
	}
}

// Send implements Transport. It fails fast with a descriptive error when no
// submission address has been negotiated.
func (s *SSE) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	s.mu.Lock()
	connected := s.connected && !s.closed
	endpoint := s.endpoint
	s.mu.Unlock()

	if !connected {
		return nil, mesherror.New(mesherror.KindTransport, "sse transport not connected")
	}
	if endpoint == "" {
		return nil, mesherror.New(mesherror.KindTransport, "no message endpoint negotiated on push channel")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindTransport, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindTransport, "build submission request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindTransport, "submit request")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, mesherror.Newf(mesherror.KindTransport, "submission rejected: status %d", httpResp.StatusCode)
	}

	var resp protocol.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindTransport, "decode response envelope")
	}

	if resp.ID != req.ID {
		return nil, mesherror.Newf(mesherror.KindTransport,
			"correlation mismatch: sent %q, received %q", req.ID, resp.ID)
	}

	return &resp, nil
}

// Close implements Transport. Safe to call multiple times.
func (s *SSE) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.connected = false

	if s.cancel != nil {
		s.cancel()
	}
	if s.body != nil {
		_ = s.body.Close()
	}

	return nil
}

// IsConnected implements Transport.
func (s *SSE) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected && !s.closed
}

// Endpoint returns the last negotiated submission address, or empty when the
// handshake has not completed. Remains readable after Close so a caller-level
// reconnect can reuse the last-known address.
func (s *SSE) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.endpoint
}

var _ fmt.Stringer = (*SSE)(nil)

// String describes the transport for logs.
func (s *SSE) String() string { return fmt.Sprintf("sse(%s)", s.streamURL) }
