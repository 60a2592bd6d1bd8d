package queue

import (
	"errors"
	"net/http"
)

// Policy classifies execution failures for the sync processor.
type Policy interface {
	// MaxAttempts is the retry budget before a transient failure is abandoned.
	MaxAttempts() int

	// Retryable reports whether err may succeed on a later attempt. A
	// non-retryable failure is abandoned immediately instead of consuming
	// the budget.
	Retryable(err error) bool
}

// StatusCoder is implemented by execution errors carrying an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// DefaultPolicy abandons semantic 4xx rejections immediately and retries
// everything else up to MaxAttempts. Errors with no status code attached are
// treated as transient: a network failure looks the same as a dropped cable.
type DefaultPolicy struct {
	Attempts int
}

func (p DefaultPolicy) MaxAttempts() int {
	if p.Attempts <= 0 {
		return 3
	}
	return p.Attempts
}

func (p DefaultPolicy) Retryable(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return true
	}
	code := sc.StatusCode()
	if code >= 400 && code < 500 {
		// Timeouts and throttling clear up on their own; other 4xx never will.
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}
	return true
}
