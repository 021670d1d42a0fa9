package classifier

import (
	"context"
	"time"
)

// Retry wait bounds. A rate-limited response without a usable hint waits the
// default; no hint, however large, may exceed the cap.
const (
	DefaultRetryWait = 10 * time.Second
	MaxRetryWait     = 60 * time.Second
)

// RetryPolicy re-attempts a classifier call after rate-limited failures.
// Attempts are strictly sequential; the wait between attempts honors context
// cancellation. Every other failure class propagates immediately.
type RetryPolicy struct {
	// MaxRetries is the number of extra attempts after the first call.
	MaxRetries int

	// sleep is swapped in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, sleep: sleepCtx}
}

// Do invokes call, retrying on rate-limited errors until MaxRetries extra
// attempts are spent. The returned error, if any, is always a classified
// *Error except when the context itself was cancelled.
func (p RetryPolicy) Do(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr *Error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		label, err := call(ctx)
		if err == nil {
			return label, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = Wrap(err)
		if !lastErr.Retryable() || attempt >= p.MaxRetries {
			return "", lastErr
		}

		wait := lastErr.RetryAfter
		if wait <= 0 {
			wait = DefaultRetryWait
		}
		if wait > MaxRetryWait {
			wait = MaxRetryWait
		}
		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}
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
