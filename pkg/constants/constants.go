// Package constants defines magic numbers and default values used throughout proxycore.
package constants

import "time"

// Connection and pipeline timeouts (spec.md §4.1, §4.7)
const (
	DefaultRequestHeaderTimeout = 30 * time.Second
	DefaultKeepAliveTimeout     = 115 * time.Second
	DefaultIdleTimeout          = 90 * time.Second
	DefaultIdentTimeout         = 10 * time.Second
	DefaultHelperStartupWindow  = 30 * time.Second
	HelperOverloadGrace         = 180 * time.Second
	GracefulShutdownDrain       = 10 * time.Second
	CleanupInterval             = 30 * time.Second
)

// Buffer and body size limits (spec.md §3 "Client connection", §4.3)
const (
	DefaultClientBufferSize   = 4 * 1024              // starting per-connection input buffer
	DefaultClientBufferMax    = 64 * 1024             // client_request_buffer_max_size default
	DefaultMaxRequestHeaders  = 64 * 1024             // maxRequestHeaderSize default
	DefaultMaxRequestBodySize = 1024 * 1024 * 1024    // maxRequestBodySize default (1GiB)
	DefaultBodyMemLimit       = 4 * 1024 * 1024        // in-memory threshold before pkg/buffer spills to disk
	MaxContentLength          = 1024 * 1024 * 1024 * 1024 // absolute Content-Length sanity ceiling (1TB)
)

// Pipelining (spec.md §4.7 "Pipelining and prefetch")
const (
	DefaultPipelineMaxPrefetch = 0 // 0 => only one in-flight request context per connection
)

// Helper pool defaults (spec.md §3 "Helper pool", §4.2)
const (
	DefaultHelperMinChildren = 1
	DefaultHelperMaxChildren = 32
	DefaultHelperStartup     = 1
	DefaultHelperQueueSize   = 64
	HelperRetryCap           = 2
	HelperEOM                = '\n'
)

// Auth cache defaults (spec.md §4.5)
const (
	DefaultAuthenticateTTL = 1 * time.Hour
	DefaultAuthCacheGCTick = 1 * time.Minute
)

// DNS/FQDN and ident cache bounds (spec.md §4.6)
const (
	DefaultDNSMinTTL = 1 * time.Minute
	DefaultDNSMaxTTL = 6 * time.Hour
)
