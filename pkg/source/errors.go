package source

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedSymbol is returned when a symbol has no provider-native
// mapping for the adapter's source.
var ErrUnsupportedSymbol = errors.New("symbol not supported by source")

// ErrCircuitOpen is returned while a source's circuit breaker cooldown
// is in effect.
var ErrCircuitOpen = errors.New("circuit breaker open")

// UpstreamError describes a failed provider call. Transient errors
// (network failures, 5xx, 429) are retried by the HTTP client; permanent
// errors (other 4xx, malformed bodies) are not.
type UpstreamError struct {
	Source     string
	StatusCode int
	Transient  bool
	Err        error

	// retryAfter is a server-requested delay parsed from a 429 response.
	retryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s returned status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient
	}
	return false
}
