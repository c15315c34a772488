// Package mesherror defines the structured error taxonomy shared by the
// transport, router, engine and memory layers. Failures carry a typed Kind
// attached at the point the failure is first observed, so callers classify
// with KindOf instead of matching on message text.
package mesherror

import (
	"github.com/cockroachdb/errors"
)

// Kind categorizes a ToolMesh failure for propagation and retry decisions.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindConnection marks a transport that was unreachable at start.
	KindConnection
	// KindTransport marks a send failure after a connection was established.
	KindTransport
	// KindToolNotFound marks a call to a tool no connected source exposes.
	KindToolNotFound
	// KindMethodNotFound marks an unknown protocol method.
	KindMethodNotFound
	// KindHandlerFault marks a registered tool handler that failed internally.
	// Handler faults are converted to error content at the server boundary
	// and never cross the transport as raised errors.
	KindHandlerFault
	// KindRateLimited marks a retryable rate-limit / quota failure.
	KindRateLimited
	// KindCredentialMissing marks a missing provider credential. Fatal and
	// surfaced immediately, never retried.
	KindCredentialMissing
	// KindEmbedding marks an embedding provider failure. Memory operations
	// degrade to empty results rather than propagating it.
	KindEmbedding
	// KindStorage marks a persistence failure (database or snapshot I/O).
	KindStorage
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTransport:
		return "transport"
	case KindToolNotFound:
		return "tool_not_found"
	case KindMethodNotFound:
		return "method_not_found"
	case KindHandlerFault:
		return "handler_fault"
	case KindRateLimited:
		return "rate_limited"
	case KindCredentialMissing:
		return "credential_missing"
	case KindEmbedding:
		return "embedding"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Sentinel markers, one per kind. New errors are marked against these so the
// kind survives wrapping with errors.Wrap / fmt.Errorf("%w").
var (
	markConnection        = errors.New("connection error")
	markTransport         = errors.New("transport error")
	markToolNotFound      = errors.New("tool not found")
	markMethodNotFound    = errors.New("method not found")
	markHandlerFault      = errors.New("handler fault")
	markRateLimited       = errors.New("rate limited")
	markCredentialMissing = errors.New("credential missing")
	markEmbedding         = errors.New("embedding failure")
	markStorage           = errors.New("storage failure")
)

func markerFor(k Kind) error {
	switch k {
	case KindConnection:
		return markConnection
	case KindTransport:
		return markTransport
	case KindToolNotFound:
		return markToolNotFound
	case KindMethodNotFound:
		return markMethodNotFound
	case KindHandlerFault:
		return markHandlerFault
	case KindRateLimited:
		return markRateLimited
	case KindCredentialMissing:
		return markCredentialMissing
	case KindEmbedding:
		return markEmbedding
	case KindStorage:
		return markStorage
	default:
		return nil
	}
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) error {
	return mark(errors.New(msg), kind)
}

// Newf creates a new formatted error of the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return mark(errors.Newf(format, args...), kind)
}

// Wrap annotates cause with a message and attaches the kind. Returns nil for
// a nil cause. If the cause already carries a kind, the new kind wins for
// classification at the outermost mark.
func Wrap(cause error, kind Kind, msg string) error {
	if cause == nil {
		return nil
	}
	return mark(errors.Wrap(cause, msg), kind)
}

func mark(err error, kind Kind) error {
	if m := markerFor(kind); m != nil {
		return errors.Mark(err, m)
	}
	return err
}

// KindOf classifies an error. Marks applied later in the chain shadow earlier
// ones only when the kinds differ and both are present; classification checks
// in taxonomy order, which is stable for the single-kind errors this module
// produces.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, markRateLimited):
		return KindRateLimited
	case errors.Is(err, markCredentialMissing):
		return KindCredentialMissing
	case errors.Is(err, markToolNotFound):
		return KindToolNotFound
	case errors.Is(err, markMethodNotFound):
		return KindMethodNotFound
	case errors.Is(err, markHandlerFault):
		return KindHandlerFault
	case errors.Is(err, markConnection):
		return KindConnection
	case errors.Is(err, markTransport):
		return KindTransport
	case errors.Is(err, markEmbedding):
		return KindEmbedding
	case errors.Is(err, markStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether the error should be retried by the engine's
// backoff policy. Only rate-limit failures qualify.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRateLimited
}
