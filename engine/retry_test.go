package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/mesherror"
	"github.com/hupe1980/toolmesh/provider"
)

func TestRetryRateLimited(t *testing.T) {
	mock := provider.NewMock("m")
	mock.EnqueueError(mesherror.New(mesherror.KindRateLimited, "429 too many requests"))
	mock.EnqueueError(mesherror.New(mesherror.KindRateLimited, "429 too many requests"))
	mock.AddResponse("hello", "finally")

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = fastConfig()
	})

	result, err := eng.Run(context.Background(), NewConversation(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "finally", result.Text)
	assert.Equal(t, 3, mock.Calls(), "two rate-limited attempts plus the success")
}

func TestRetryNonRetryablePropagatesImmediately(t *testing.T) {
	mock := provider.NewMock("m")
	mock.EnqueueError(mesherror.New(mesherror.KindTransport, "connection reset"))

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = fastConfig()
	})

	_, err := eng.Run(context.Background(), NewConversation(), "hello")
	require.Error(t, err)
	assert.Equal(t, mesherror.KindTransport, mesherror.KindOf(err))
	assert.Equal(t, 1, mock.Calls())
}

func TestRetryExhaustion(t *testing.T) {
	mock := provider.NewMock("m")
	for i := 0; i < 5; i++ {
		mock.EnqueueError(mesherror.New(mesherror.KindRateLimited, "429 too many requests"))
	}

	cfg := fastConfig()
	cfg.MaxRetries = 3

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = cfg
	})

	_, err := eng.Run(context.Background(), NewConversation(), "hello")
	require.Error(t, err)
	assert.Equal(t, mesherror.KindRateLimited, mesherror.KindOf(err), "exhaustion surfaces the last error")
	assert.Equal(t, 4, mock.Calls(), "initial attempt plus MaxRetries")
}

func TestRetryExhaustionFaultOnResult(t *testing.T) {
	mock := provider.NewMock("m")
	for i := 0; i < 5; i++ {
		mock.EnqueueError(mesherror.New(mesherror.KindRateLimited, "429 too many requests"))
	}

	cfg := fastConfig()
	cfg.MaxRetries = 1

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = cfg
	})

	conv := NewConversation()
	result, err := eng.Run(context.Background(), conv, "hello")
	require.Error(t, err)
	require.NotNil(t, result, "the failure is reported on the result, not only as an error")
	assert.Equal(t, "error", result.FinishReason)
	assert.Contains(t, result.Text, "could not be completed")
	assert.Contains(t, result.Text, "429 too many requests")

	// History keeps the user input and gains the fault as assistant text.
	messages := conv.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, provider.RoleUser, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Text)
	assert.Equal(t, provider.RoleAssistant, messages[1].Role)
	assert.Equal(t, result.Text, messages[1].Text)
}

func TestRetryRespectsCancellation(t *testing.T) {
	mock := provider.NewMock("m")
	mock.EnqueueError(mesherror.New(mesherror.KindRateLimited, "429 too many requests"))

	cfg := fastConfig()
	cfg.BaseDelay = 5 * time.Second

	eng := New(mock, &fakeToolSource{}, func(o *Options) {
		o.Config = cfg
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := eng.Run(ctx, NewConversation(), "hello")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancellation cuts the backoff wait short")
}
