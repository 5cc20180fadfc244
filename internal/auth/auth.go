// Package auth implements the authentication manager of spec.md §4.5:
// scheme registration, the driver algorithm, connection-oriented
// bindings for NTLM/Negotiate, and the process-wide user cache.
//
// Grounded on original_source/src/auth_basic.cc's decode/authenticate
// split (a scheme validates credentials through a helper, never
// in-process) and AuthUser.h/AuthUserRequest.h's reference-counted user
// object. internal/acl's AuthUserRequest/MatchCache interfaces are
// satisfied structurally by *UserRequest/*User below, so auth imports
// acl (one-directional: acl never imports auth) purely to spell out
// those interfaces' types in method signatures.
package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/squidgo/proxycore/internal/acl"
	"github.com/squidgo/proxycore/pkg/constants"
	perrors "github.com/squidgo/proxycore/pkg/errors"
)

// HeaderKind selects which header carries credentials (spec.md §4.5
// step 1).
type HeaderKind int

const (
	KindProxyAuth HeaderKind = iota // Proxy-Authorization / Proxy-Authenticate
	KindWWWAuth                     // Authorization / WWW-Authenticate
)

func (k HeaderKind) RequestHeader() string {
	if k == KindWWWAuth {
		return "Authorization"
	}
	return "Proxy-Authorization"
}

func (k HeaderKind) ChallengeHeader() string {
	if k == KindWWWAuth {
		return "WWW-Authenticate"
	}
	return "Proxy-Authenticate"
}

// Direction is a scheme's authenticate() outcome (spec.md §4.5 step 4).
type Direction int

const (
	DirDone      Direction = 0
	DirChallenge Direction = 1
	DirHelper    Direction = -1
	DirError     Direction = -2
)

// Scheme is one registered authentication mechanism (spec.md §4.5).
type Scheme interface {
	Name() string // e.g. "Basic", "Digest", "NTLM", "Negotiate"
	// Decode parses the credentials portion of a header value (after
	// the scheme prefix) into a fresh *UserRequest.
	Decode(credentials string) (*UserRequest, error)
	// Authenticate validates ur's credentials, calling cb exactly once
	// (synchronously for stateless schemes, asynchronously via a
	// helper pool for Basic/Digest) with the resulting Direction.
	Authenticate(ur *UserRequest, cb func(Direction))
	// FixHeader renders the challenge value for kind (e.g.
	// `Basic realm="proxycore"`).
	FixHeader(kind HeaderKind) string
	// ConnectionOriented reports whether a successful handshake binds
	// the user to the connection (NTLM, Negotiate).
	ConnectionOriented() bool
}

// ReplyDecorator is implemented by schemes that add reply headers or
// trailers beyond the basic challenge (Digest's rspauth trailer).
type ReplyDecorator interface {
	AddHeader(ur *UserRequest) (name, value string, ok bool)
	AddTrailer(ur *UserRequest) (name, value string, ok bool)
}

// User is the process-wide authenticated identity (spec.md §3
// "Authenticated user"), satisfying acl.MatchCache's Get/Set directly
// so it can be handed to internal/acl as the per-user proxy_match_cache.
type User struct {
	mu          sync.Mutex
	Name        string
	Scheme      string
	Credentials string // scheme-specific credential state
	ipSeen      map[string]time.Time
	refCount    int32
	expiresAt   time.Time
	matchCache  map[string]bool
}

func newUser(name, scheme string) *User {
	return &User{
		Name: name, Scheme: scheme,
		ipSeen:     make(map[string]time.Time),
		matchCache: make(map[string]bool),
		refCount:   1, // the cache's own reference
	}
}

// Get implements acl.MatchCache.
func (u *User) Get(fingerprint string) (bool, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.matchCache[fingerprint]
	return v, ok
}

// Set implements acl.MatchCache.
func (u *User) Set(fingerprint string, result bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.matchCache[fingerprint] = result
}

// FlushMatchCache drops every memoized ACL result (spec.md §4.4
// "flushed on user reconfiguration"; §4.5 "reconfigure ... resets each
// user's ACL-match memo").
func (u *User) FlushMatchCache() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.matchCache = make(map[string]bool)
}

// Retain/Release adjust the user's single reference count, which starts
// at 1 for the cache's own membership and gains one per Retain; cache
// and request references are not tracked in separate counters. Release
// returns the count after decrementing.
func (u *User) Retain() {
	u.mu.Lock()
	u.refCount++
	u.mu.Unlock()
}

func (u *User) Release() int32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.refCount--
	return u.refCount
}

// RecordIP memoizes an IP the user has been seen from and reports
// whether max (if > 0) has been exceeded by a brand-new IP (spec.md
// §4.5 step 5, §3 "max-user-ip"). The caller decides strict-vs-lenient;
// lenient callers should then call FlushIPSeen.
func (u *User) RecordIP(ip string, max int) (exceeded bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.ipSeen[ip]; ok {
		u.ipSeen[ip] = time.Now()
		return false
	}
	if max > 0 && len(u.ipSeen) >= max {
		return true
	}
	u.ipSeen[ip] = time.Now()
	return false
}

// FlushIPSeen clears the IP-seen list (lenient max-user-ip recovery).
func (u *User) FlushIPSeen() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ipSeen = make(map[string]time.Time)
}

func (u *User) touch(ttl time.Duration) {
	u.mu.Lock()
	u.expiresAt = time.Now().Add(ttl)
	u.mu.Unlock()
}

func (u *User) idleExpired() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return time.Now().After(u.expiresAt) && u.refCount <= 1
}

// UserRequest is per-HTTP-request authentication state (spec.md §3
// "Auth-user-request"), implementing acl.AuthUserRequest.
type UserRequest struct {
	User           *User
	LastCreds      string // credentials seen on the bound connection
	Direction      Direction
	DenyMessage    string
	lastReplyCreds string
}

// UserName implements acl.AuthUserRequest.
func (r *UserRequest) UserName() string {
	if r.User == nil {
		return ""
	}
	return r.User.Name
}

// MatchCache implements acl.AuthUserRequest.
func (r *UserRequest) MatchCache() acl.MatchCache {
	if r.User == nil {
		return nil
	}
	return r.User
}

// UserCache is the process-wide username → *User map (spec.md §3
// "Owned by a process-wide username → user map"; §4.5 "User cache").
type UserCache struct {
	mu    sync.Mutex
	users map[string]*User
	ttl   time.Duration
}

// NewUserCache builds a cache with the given idle TTL (default
// constants.DefaultAuthenticateTTL).
func NewUserCache(ttl time.Duration) *UserCache {
	if ttl == 0 {
		ttl = constants.DefaultAuthenticateTTL
	}
	return &UserCache{users: make(map[string]*User), ttl: ttl}
}

// GetOrCreate returns the cached user for (scheme, name), creating and
// retaining one if absent.
func (c *UserCache) GetOrCreate(scheme, name string) *User {
	key := scheme + ":" + name
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[key]
	if !ok {
		u = newUser(name, scheme)
		c.users[key] = u
	}
	u.touch(c.ttl)
	return u
}

// GC removes idle-expired users whose reference count has fallen to
// the cache's own reference (spec.md §4.5 "User cache").
func (c *UserCache) GC() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, u := range c.users {
		if u.idleExpired() {
			delete(c.users, key)
			removed++
		}
	}
	return removed
}

// FlushAllMatchCaches resets every user's ACL-match memo without
// evicting the cache (spec.md §4.5 "A reconfigure does not flush the
// cache but resets each user's ACL-match memo").
func (c *UserCache) FlushAllMatchCaches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.users {
		u.FlushMatchCache()
	}
}

// Registry holds the startup-registered schemes (spec.md §4.5
// "Schemes are registered at start-up").
type Registry struct {
	schemes []Scheme
}

func NewRegistry(schemes ...Scheme) *Registry {
	return &Registry{schemes: schemes}
}

// bySchemePrefix finds the scheme whose name is a case-insensitive
// prefix match of header's first token (spec.md §4.5 step 3 "select
// scheme by case-insensitive prefix").
func (r *Registry) bySchemePrefix(header string) (Scheme, string, bool) {
	sp := strings.IndexByte(header, ' ')
	token := header
	rest := ""
	if sp >= 0 {
		token = header[:sp]
		rest = strings.TrimSpace(header[sp+1:])
	}
	for _, s := range r.schemes {
		if strings.EqualFold(s.Name(), token) {
			return s, rest, true
		}
	}
	return nil, "", false
}

// Challenges renders every registered scheme's challenge for kind, in
// registration order (spec.md §4.7 "challenges aggregated from every
// active scheme").
func (r *Registry) Challenges(kind HeaderKind) []string {
	out := make([]string, 0, len(r.schemes))
	for _, s := range r.schemes {
		out = append(out, s.FixHeader(kind))
	}
	return out
}

var errNoSchemeMatched = perrors.NewAuthError("Decode", "no registered scheme matched the credentials header", nil)
