package classifier

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fakeSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := NewRetryPolicy(3)
	label, err := p.Do(context.Background(), func(context.Context) (string, error) {
		return "HELLO", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != "HELLO" {
		t.Fatalf("expected HELLO, got %q", label)
	}
}

func TestDoRetriesRateLimited(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{MaxRetries: 3, sleep: fakeSleep(&waits)}

	attempts := 0
	label, err := p.Do(context.Background(), func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("429 too many requests")
		}
		return "YES", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != "YES" {
		t.Fatalf("expected YES, got %q", label)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(waits) != 2 || waits[0] != DefaultRetryWait || waits[1] != DefaultRetryWait {
		t.Fatalf("expected two default waits, got %v", waits)
	}
}

func TestDoHonorsRetryHint(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{MaxRetries: 1, sleep: fakeSleep(&waits)}

	attempts := 0
	_, err := p.Do(context.Background(), func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("429 rate limit, retry after 2s")
		}
		return "OK", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waits) != 1 || waits[0] != 2*time.Second {
		t.Fatalf("expected a single 2s wait, got %v", waits)
	}
}

func TestDoCapsOversizedHint(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{MaxRetries: 1, sleep: fakeSleep(&waits)}

	attempts := 0
	_, _ = p.Do(context.Background(), func(context.Context) (string, error) {
		attempts++
		return "", errors.New("429 rate limit, retry after 10m")
	})
	if len(waits) != 1 || waits[0] != MaxRetryWait {
		t.Fatalf("expected wait capped at %s, got %v", MaxRetryWait, waits)
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{MaxRetries: 5, sleep: fakeSleep(&waits)}

	attempts := 0
	_, err := p.Do(context.Background(), func(context.Context) (string, error) {
		attempts++
		return "", errors.New("401 unauthorized")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var classified *Error
	if !errors.As(err, &classified) || classified.Class != ClassUnauthorized {
		t.Fatalf("expected classified unauthorized error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
	if len(waits) != 0 {
		t.Fatalf("expected no waits, got %v", waits)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{MaxRetries: 2, sleep: fakeSleep(&waits)}

	attempts := 0
	_, err := p.Do(context.Background(), func(context.Context) (string, error) {
		attempts++
		return "", errors.New("429 too many requests")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoReturnsContextErrorOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := NewRetryPolicy(5)
	_, err := p.Do(ctx, func(context.Context) (string, error) {
		cancel()
		return "", errors.New("429 too many requests")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected raw context error, got %v", err)
	}
}

func TestDoCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := RetryPolicy{MaxRetries: 1, sleep: func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}}
	_, err := p.Do(ctx, func(context.Context) (string, error) {
		return "", errors.New("429 too many requests")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation during wait, got %v", err)
	}
}
