package constants

import "time"

// Streaming connection retry policy.
const (
	DefaultStreamMaxAttempts    = 3
	DefaultStreamRetryBaseDelay = 1 * time.Second
	DefaultStreamRetryMaxDelay  = 30 * time.Second
)

// Credential failure policy.
const (
	// DefaultMaxFailures quarantines a credential after this many reported
	// failures without an intervening reset.
	DefaultMaxFailures = 3
)

// MaxErrorBodyBytes caps how much of an upstream error body is read and
// attached to errors/logs.
const MaxErrorBodyBytes = 64 * 1024
