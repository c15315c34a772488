package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/hupe1980/toolmesh/mesherror"
	"github.com/hupe1980/toolmesh/provider"
)

// generateWithRetry wraps every provider call in the backoff policy.
// Rate-limited failures retry up to MaxRetries with a doubling base delay
// plus bounded random jitter; any other kind propagates immediately, and
// exhaustion propagates the last error.
func (e *Engine) generateWithRetry(ctx context.Context, req provider.Request) (*provider.Response, error) {
	var lastErr error
	delay := e.cfg.BaseDelay

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delay + jitter(e.cfg.MaxJitter)
			e.logger.Warn("engine.provider.retry",
				"attempt", attempt,
				"max_retries", e.cfg.MaxRetries,
				"wait_ms", wait.Milliseconds(),
			)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			delay *= 2
		}

		resp, err := e.provider.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !mesherror.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// throttle inserts the fixed delay separating dependent sequential
// provider calls within one turn.
func (e *Engine) throttle(ctx context.Context) error {
	if e.cfg.Throttle <= 0 {
		return nil
	}
	return sleepCtx(ctx, e.cfg.Throttle)
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
