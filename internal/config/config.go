// Package config implements the immutable configuration snapshot and
// reload mechanism of spec.md §5: "Configuration is treated as
// immutable per reactor turn; a reload installs a new snapshot and
// invalidates cached ACL match results."
//
// Grounded on nabbar-golib's fsnotify-driven reload pattern (a watcher
// goroutine debounces filesystem events and swaps an atomic pointer to
// a freshly parsed config object) rather than the teacher's own
// go-rawhttp, which has no configuration-file concept at all.
package config

import (
	"sync/atomic"

	"github.com/squidgo/proxycore/internal/acl"
	"github.com/squidgo/proxycore/pkg/constants"
	"github.com/squidgo/proxycore/pkg/tlsconfig"
)

// Checkpoint names one of the callout points in the coordinator's
// callout sequence (spec.md §4.7), used as the key into
// Snapshot.RuleLists.
type Checkpoint string

const (
	CheckpointHTTPAccess         Checkpoint = "http_access"
	CheckpointAdaptedHTTPAccess  Checkpoint = "adapted_http_access"
	CheckpointMissAccess         Checkpoint = "miss_access"
	CheckpointReplyAccess        Checkpoint = "reply_access"
	CheckpointReplyHeaderAccess  Checkpoint = "reply_header_access"
	CheckpointIdentACL           Checkpoint = "ident_lookup_access"
	CheckpointSSLClientCertError Checkpoint = "ssl_client_cert_error"
)

// DenyInfoEntry maps a denying ACL name to a redirect target (spec.md
// §4.7 "the first deny_info entry naming any of the denying ACLs
// supplies the response URL or template").
type DenyInfoEntry struct {
	ACLName string
	Target  string
}

// AuthSchemeSpec configures one registered authentication scheme
// (spec.md §4.5 "Schemes are registered at start-up").
type AuthSchemeSpec struct {
	Name        string // "Basic", "Digest", "NTLM", "Negotiate"
	Realm       string
	HelperPool  string // name of the helperpool.Config this scheme submits to
}

// LogDestination configures one access-log sink (spec.md §5 "The
// access-log writer owns a bounded in-memory buffer per destination
// (file, daemon, TCP, UDP, syslog)").
type LogDestination struct {
	Kind            string // "file" | "daemon" | "tcp" | "udp" | "syslog"
	Target          string
	DieOnError      bool // overflow policy: true = die, false = drop-with-warning
	BufferSizeBytes int
}

// Snapshot is one immutable configuration generation (spec.md §5).
type Snapshot struct {
	Generation uint64

	ListenAddr string

	RequestHeaderTimeout  int64 // nanoseconds, avoids importing time for atomic-friendly plain data
	KeepAliveTimeout      int64
	IdleTimeout           int64
	ClientBufferMax       int
	MaxRequestHeaderBytes int
	MaxRequestBodyBytes   int64

	PipelineMaxPrefetch int
	HalfClosedClientTolerance bool

	RuleLists map[Checkpoint]*acl.RuleList
	DenyInfo  []DenyInfoEntry
	// RedirectAllowed gates whether a deny_info entry naming a URL
	// (rather than a local error template) may be used — see Open
	// Question (a) in DESIGN.md.
	RedirectAllowed bool

	AuthSchemes []AuthSchemeSpec
	MaxUserIP   int
	StrictMaxUserIP bool

	DNSMinTTL int64
	DNSMaxTTL int64

	LogDestinations []LogDestination

	TLSBumpCA     *tlsconfig.SigningIdentity
	TLSBumpMimic  tlsconfig.MimicFields
}

// Default returns a minimally viable Snapshot using spec.md's documented
// defaults (pkg/constants), suitable as a starting point before any
// admin configuration is parsed.
func Default() *Snapshot {
	return &Snapshot{
		Generation:                1,
		ListenAddr:                ":3128",
		RequestHeaderTimeout:      int64(constants.DefaultRequestHeaderTimeout),
		KeepAliveTimeout:          int64(constants.DefaultKeepAliveTimeout),
		IdleTimeout:               int64(constants.DefaultIdleTimeout),
		ClientBufferMax:           constants.DefaultClientBufferMax,
		MaxRequestHeaderBytes:     constants.DefaultMaxRequestHeaders,
		MaxRequestBodyBytes:       constants.DefaultMaxRequestBodySize,
		PipelineMaxPrefetch:       constants.DefaultPipelineMaxPrefetch,
		HalfClosedClientTolerance: true,
		RuleLists: map[Checkpoint]*acl.RuleList{
			// An empty rule list is Denied outright (acl.RuleList.Evaluate),
			// so ident lookups stay off until an admin adds rules.
			CheckpointIdentACL: {Name: "ident_lookup_access"},
			// http_access fail-closes the same way: with no admin-supplied
			// rules, every request is denied (spec.md §8 Scenario 1).
			// Checkpoints the coordinator itself treats as "allow if
			// unconfigured" (miss_access and friends) are deliberately left
			// unseeded here.
			CheckpointHTTPAccess: {Name: "http_access"},
		},
		DNSMinTTL:                 int64(constants.DefaultDNSMinTTL),
		DNSMaxTTL:                 int64(constants.DefaultDNSMaxTTL),
		TLSBumpMimic:              tlsconfig.DefaultMimicFields,
	}
}

// Store holds the currently active Snapshot behind an atomic.Pointer so
// reactor-goroutine reads never block on a reload in progress (spec.md
// §5 "Configuration is treated as immutable per reactor turn").
type Store struct {
	current atomic.Pointer[Snapshot]
	onSwap  []func(old, new *Snapshot)
}

// NewStore seeds a Store with an initial Snapshot.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Load returns the active Snapshot. Safe for concurrent use.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// OnSwap registers a callback invoked synchronously after every
// successful Swap, given the old and new snapshots — used by
// internal/acl and internal/auth to invalidate cached match results
// and flush proxy_match_cache on reload (spec.md §5, §4.5).
func (s *Store) OnSwap(fn func(old, new *Snapshot)) {
	s.onSwap = append(s.onSwap, fn)
}

// Swap installs next as the active Snapshot, bumping its Generation
// past the previous one, and fires every registered OnSwap callback.
func (s *Store) Swap(next *Snapshot) {
	old := s.current.Load()
	if old != nil {
		next.Generation = old.Generation + 1
	}
	s.current.Store(next)
	for _, fn := range s.onSwap {
		fn(old, next)
	}
}
