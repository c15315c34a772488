package mesherror

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"connection", New(KindConnection, "unreachable"), KindConnection},
		{"transport", New(KindTransport, "send failed"), KindTransport},
		{"tool not found", Newf(KindToolNotFound, "tool %s not found", "x"), KindToolNotFound},
		{"rate limited", New(KindRateLimited, "429"), KindRateLimited},
		{"credential", New(KindCredentialMissing, "no key"), KindCredentialMissing},
		{"embedding", New(KindEmbedding, "embed failed"), KindEmbedding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(KindRateLimited, "quota exceeded")

	wrapped := errors.Wrap(base, "provider call failed")
	assert.Equal(t, KindRateLimited, KindOf(wrapped))

	// Standard library wrapping must preserve classification too.
	stdWrapped := fmt.Errorf("turn 3: %w", base)
	assert.Equal(t, KindRateLimited, KindOf(stdWrapped))
}

func TestWrapNilCause(t *testing.T) {
	assert.NoError(t, Wrap(nil, KindTransport, "ignored"))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindRateLimited, "slow down")))
	assert.False(t, IsRetryable(New(KindTransport, "broken pipe")))
	assert.False(t, IsRetryable(New(KindCredentialMissing, "no key")))
	assert.False(t, IsRetryable(nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "rate_limited", KindRateLimited.String())
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "handler_fault", KindHandlerFault.String())
}
