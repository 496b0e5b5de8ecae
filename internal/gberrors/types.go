package gberrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the credential pool.
var (
	// ErrPoolExhausted is returned when no enabled credential exists, even
	// after exhaustion recovery has been applied.
	ErrPoolExhausted = errors.New("credential pool exhausted")

	// ErrCredentialNotFound is returned when an operation references a
	// credential value that has no record in the store.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrStreamInterrupted marks a streaming call that failed after partial
	// output was already delivered. It is never retried transparently:
	// replaying would duplicate content the caller has already seen.
	ErrStreamInterrupted = errors.New("stream interrupted after partial output")
)

// UpstreamError is a non-success HTTP response from a single-shot upstream
// call. It is surfaced immediately, without retry at the client layer.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// StreamFailedError is returned when every connection attempt for a streaming
// call failed before any line was delivered. It carries the last observed
// status and message.
type StreamFailedError struct {
	Status   int
	Message  string
	Attempts int
}

func (e *StreamFailedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("stream connect failed after %d attempts (status %d): %s", e.Attempts, e.Status, e.Message)
	}
	return fmt.Sprintf("stream connect failed after %d attempts: %s", e.Attempts, e.Message)
}

// IsRetryableForCaller reports whether the orchestrator may safely retry the
// whole logical request with a different credential. Partial-stream failures
// are excluded because output has already reached the caller.
func IsRetryableForCaller(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrStreamInterrupted)
}
