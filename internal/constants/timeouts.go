package constants

import "time"

const (
	// DefaultRequestTimeout bounds the read phase of an upstream call. It
	// applies to single-shot requests and to each streamed read.
	DefaultRequestTimeout = 300 * time.Second
	// DefaultConnectTimeout bounds dialing the upstream host.
	DefaultConnectTimeout = 10 * time.Second

	// ServerShutdownTimeout bounds graceful HTTP server shutdown.
	ServerShutdownTimeout = 30 * time.Second

	// StorageOpTimeout is the per-operation ceiling applied by store backends
	// when the caller's context carries no earlier deadline.
	StorageOpTimeout = 5 * time.Second
)
