package acl

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MethodTerm matches against a small set of HTTP method names
// (spec.md §3 "method (small set)").
type MethodTerm struct {
	name    string
	methods map[string]bool
}

func NewMethodTerm(name string, methods []string) *MethodTerm {
	m := make(map[string]bool, len(methods))
	for _, x := range methods {
		m[strings.ToUpper(x)] = true
	}
	return &MethodTerm{name: name, methods: m}
}

func (t *MethodTerm) Name() string { return t.name }
func (t *MethodTerm) Valid() bool  { return len(t.methods) > 0 }
func (t *MethodTerm) Match(c *Checklist) MatchResult {
	if c.Request == nil {
		return NoMatch
	}
	if t.methods[strings.ToUpper(c.Request.Method)] {
		return Match
	}
	return NoMatch
}

// PortTerm matches the request's destination port against a small set
// (spec.md §3 "port / my-port (small set)").
type PortTerm struct {
	name  string
	ports map[int]bool
	local bool // my-port variant checks Checklist.LocalPort
}

func NewPortTerm(name string, local bool, ports []int) *PortTerm {
	m := make(map[int]bool, len(ports))
	for _, p := range ports {
		m[p] = true
	}
	return &PortTerm{name: name, ports: m, local: local}
}

func (t *PortTerm) Name() string { return t.name }
func (t *PortTerm) Valid() bool  { return len(t.ports) > 0 }
func (t *PortTerm) Match(c *Checklist) MatchResult {
	port := c.DstPort
	if t.local {
		port = c.LocalPort
	}
	if t.ports[port] {
		return Match
	}
	return NoMatch
}

// ProtocolTerm matches the request's URI scheme (spec.md §3 "protocol
// scheme (small set)").
type ProtocolTerm struct {
	name    string
	schemes map[string]bool
}

func NewProtocolTerm(name string, schemes []string) *ProtocolTerm {
	m := make(map[string]bool, len(schemes))
	for _, s := range schemes {
		m[strings.ToLower(s)] = true
	}
	return &ProtocolTerm{name: name, schemes: m}
}

func (t *ProtocolTerm) Name() string { return t.name }
func (t *ProtocolTerm) Valid() bool  { return len(t.schemes) > 0 }
func (t *ProtocolTerm) Match(c *Checklist) MatchResult {
	if c.Request == nil {
		return NoMatch
	}
	if t.schemes[strings.ToLower(c.Request.Scheme)] {
		return Match
	}
	return NoMatch
}

// HTTPHeaderTerm matches a named request header's value against a
// regex list (spec.md §3 "http-header (header name + regex list)").
type HTTPHeaderTerm struct {
	name     string
	header   string
	patterns []*regexp.Regexp
}

func NewHTTPHeaderTerm(name, header string, patterns []string) (*HTTPHeaderTerm, error) {
	t := &HTTPHeaderTerm{name: name, header: header}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		t.patterns = append(t.patterns, re)
	}
	return t, nil
}

func (t *HTTPHeaderTerm) Name() string { return t.name }
func (t *HTTPHeaderTerm) Valid() bool  { return t.header != "" && len(t.patterns) > 0 }
func (t *HTTPHeaderTerm) Match(c *Checklist) MatchResult {
	if c.Request == nil {
		return NoMatch
	}
	for _, v := range c.Request.HeaderLines[t.header] {
		for _, re := range t.patterns {
			if re.MatchString(v) {
				return Match
			}
		}
	}
	return NoMatch
}

// TimeOfDayTerm matches a day-of-week mask and [start,stop] minute
// range (spec.md §3 "time-of-day (day-of-week mask + [start,stop]
// minute range)").
type TimeOfDayTerm struct {
	name     string
	dayMask  uint8 // bit 0 = Sunday, matching time.Weekday
	startMin int
	stopMin  int
	now      func() time.Time
}

func NewTimeOfDayTerm(name string, dayMask uint8, startMin, stopMin int) *TimeOfDayTerm {
	return &TimeOfDayTerm{name: name, dayMask: dayMask, startMin: startMin, stopMin: stopMin, now: time.Now}
}

func (t *TimeOfDayTerm) Name() string { return t.name }
func (t *TimeOfDayTerm) Valid() bool  { return t.dayMask != 0 }
func (t *TimeOfDayTerm) Match(c *Checklist) MatchResult {
	now := t.now()
	if t.dayMask&(1<<uint(now.Weekday())) == 0 {
		return NoMatch
	}
	minute := now.Hour()*60 + now.Minute()
	if minute >= t.startMin && minute <= t.stopMin {
		return Match
	}
	return NoMatch
}

// MaxConnectionsTerm enforces a per-client-IP open-connection ceiling
// (spec.md §3 "max-connections (integer)"), grounded on
// ContentSquare/chproxy's golang.org/x/time/rate based admission
// limiting, repurposed here from request-rate limiting to a connection
// census comparison (Checklist.Conn.ConnectionCount already carries the
// count; the limiter below additionally smooths burst admission when a
// term is configured with MaxConnectionsTerm.Smoothed).
type MaxConnectionsTerm struct {
	name    string
	max     int
	limiter *rate.Limiter // non-nil only when Smoothed is requested
}

func NewMaxConnectionsTerm(name string, max int) *MaxConnectionsTerm {
	return &MaxConnectionsTerm{name: name, max: max}
}

// WithSmoothing attaches a token-bucket limiter so admission under the
// ceiling is additionally rate-smoothed (rps, burst).
func (t *MaxConnectionsTerm) WithSmoothing(rps float64, burst int) *MaxConnectionsTerm {
	t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return t
}

func (t *MaxConnectionsTerm) Name() string { return t.name }
func (t *MaxConnectionsTerm) Valid() bool  { return t.max > 0 }
func (t *MaxConnectionsTerm) Match(c *Checklist) MatchResult {
	if c.Conn == nil {
		return NoMatch
	}
	if c.Conn.ConnectionCount > t.max {
		return Match
	}
	if t.limiter != nil && !t.limiter.Allow() {
		return Match
	}
	return NoMatch
}

// MaxUserIPTerm enforces a per-authenticated-user distinct-IP ceiling
// (spec.md §3 "max-user-ip (integer + strict flag)"). In both modes
// Match denies only *new* IPs once the ceiling is reached; the strict
// flag is reported by Strict and the term itself never tears down the
// connection.
type MaxUserIPTerm struct {
	name   string
	max    int
	strict bool

	mu   sync.Mutex
	seen map[string]map[string]time.Time // username -> ip -> lastSeen
}

func NewMaxUserIPTerm(name string, max int, strict bool) *MaxUserIPTerm {
	return &MaxUserIPTerm{name: name, max: max, strict: strict, seen: make(map[string]map[string]time.Time)}
}

func (t *MaxUserIPTerm) Name() string { return t.name }
func (t *MaxUserIPTerm) Valid() bool  { return t.max > 0 }
func (t *MaxUserIPTerm) Match(c *Checklist) MatchResult {
	if c.AuthUser == nil || c.Conn == nil {
		return NoMatch
	}
	user := c.AuthUser.UserName()
	if user == "" {
		return NoMatch
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	ips, ok := t.seen[user]
	if !ok {
		ips = make(map[string]time.Time)
		t.seen[user] = ips
	}
	_, known := ips[c.Conn.ClientIP]
	if !known && len(ips) >= t.max {
		// Both strict and lenient deny a brand-new IP once the ceiling
		// is reached; strict additionally expects the caller to tear
		// down the connection rather than just deny the request, which
		// is a coordinator-level decision this term does not make.
		return Match
	}
	ips[c.Conn.ClientIP] = time.Now()
	return NoMatch
}

// Strict reports whether denial should also force connection teardown.
func (t *MaxUserIPTerm) Strict() bool { return t.strict }

// ASNTerm matches the origin AS number of the source or destination
// address, populated lazily from an external lookup function (spec.md
// §3 "ASN (integer list, populated lazily from an external lookup)").
// No ASN database ships with proxycore; Lookup is supplied by the
// caller (e.g. a GeoIP/ASN collaborator wired in internal/config).
type ASNTerm struct {
	name   string
	asns   map[int]bool
	lookup func(ip string) (int, bool)
	source bool
}

func NewASNTerm(name string, source bool, asns []int, lookup func(ip string) (int, bool)) *ASNTerm {
	m := make(map[int]bool, len(asns))
	for _, a := range asns {
		m[a] = true
	}
	return &ASNTerm{name: name, asns: m, lookup: lookup, source: source}
}

func (t *ASNTerm) Name() string { return t.name }
func (t *ASNTerm) Valid() bool  { return len(t.asns) > 0 && t.lookup != nil }
func (t *ASNTerm) Match(c *Checklist) MatchResult {
	addr := c.DstAddr
	if t.source {
		addr = c.SrcAddr
	}
	if addr == nil || t.lookup == nil {
		return NoMatch
	}
	asn, ok := t.lookup(addr.String())
	if !ok {
		return NoMatch
	}
	if t.asns[asn] {
		return Match
	}
	return NoMatch
}
