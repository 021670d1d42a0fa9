package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Class buckets classifier transport failures for retry and display decisions.
type Class int

const (
	ClassUnknown Class = iota
	ClassNetworkUnreachable
	ClassTimeout
	ClassUnauthorized
	ClassForbidden
	ClassRateLimited
	ClassServerError
)

func (c Class) String() string {
	switch c {
	case ClassNetworkUnreachable:
		return "network unreachable"
	case ClassTimeout:
		return "timeout"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassForbidden:
		return "forbidden"
	case ClassRateLimited:
		return "rate limited"
	case ClassServerError:
		return "server error"
	default:
		return "unknown"
	}
}

// Error is a classified classifier failure. RetryAfter is a wait hint for
// rate-limited responses; zero means no hint was available.
type Error struct {
	Class      Class
	Detail     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("classifier %s: %s", e.Class, e.Detail)
	}
	return fmt.Sprintf("classifier %s", e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry policy should attempt the call again.
func (e *Error) Retryable() bool { return e.Class == ClassRateLimited }

// Wrap classifies err into an *Error. Typed causes win over message
// sniffing; already-classified errors pass through unchanged.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: ClassTimeout, Detail: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Class: ClassTimeout, Detail: err.Error(), Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Class: ClassNetworkUnreachable, Detail: err.Error(), Err: err}
	}
	e := &Error{Class: ClassifyMessage(err.Error()), Detail: err.Error(), Err: err}
	if e.Class == ClassRateLimited {
		if hint, ok := retryHintFromMessage(err.Error()); ok {
			e.RetryAfter = hint
		}
	}
	return e
}

// ClassifyMessage maps a human-readable transport error to a Class by
// substring inspection. The transport may bury the true cause under several
// layers of wrapping, so this stays deliberately crude; it is the swappable
// fallback behind the typed checks in Wrap.
func ClassifyMessage(msg string) Class {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "429", "rate limit", "quota", "too many requests", "resource exhausted"):
		return ClassRateLimited
	case containsAny(lower, "401", "unauthorized", "invalid api key", "authentication"):
		return ClassUnauthorized
	case containsAny(lower, "403", "forbidden", "permission denied"):
		return ClassForbidden
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return ClassTimeout
	case containsAny(lower, "no such host", "connection refused", "network is unreachable", "dns"):
		return ClassNetworkUnreachable
	case containsAny(lower, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "overloaded"):
		return ClassServerError
	default:
		return ClassUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// retryHintFromMessage extracts a suggested wait from phrasings like
// "retry after 2000ms", "retry in 2s" or "retry-after: 30". The value is a
// hint only; the retry policy bounds it by its hard cap.
func retryHintFromMessage(msg string) (time.Duration, bool) {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"retry-after:", "retry after", "retry in", "try again in"} {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(lower[idx+len(marker):])
		if d, ok := leadingDuration(rest); ok {
			return d, true
		}
	}
	return 0, false
}

// leadingDuration parses a number with an optional ms/s/m unit from the start
// of s. A bare number is taken as seconds, matching the Retry-After header.
func leadingDuration(s string) (time.Duration, bool) {
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	if end == 0 {
		return 0, false
	}
	var value float64
	if _, err := fmt.Sscanf(s[:end], "%f", &value); err != nil {
		return 0, false
	}
	unit := strings.TrimSpace(s[end:])
	switch {
	case strings.HasPrefix(unit, "ms"):
		return time.Duration(value * float64(time.Millisecond)), true
	case strings.HasPrefix(unit, "m"):
		return time.Duration(value * float64(time.Minute)), true
	case strings.HasPrefix(unit, "s"), unit == "":
		return time.Duration(value * float64(time.Second)), true
	default:
		return time.Duration(value * float64(time.Second)), true
	}
}
