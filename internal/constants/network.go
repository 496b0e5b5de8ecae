package constants

import "time"

// HTTP transport pool settings for the upstream client.
const (
	MaxIdleConns        = 256
	MaxIdleConnsPerHost = 64
	IdleConnTimeout     = 90 * time.Second

	TLSHandshakeTimeout   = 10 * time.Second
	ExpectContinueTimeout = 2 * time.Second
	KeepAliveInterval     = 30 * time.Second
)
