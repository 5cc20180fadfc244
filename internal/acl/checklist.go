package acl

import "net"

// AuthUserRequest is the acl package's view of internal/auth's
// per-request authentication state (spec.md §3 "Auth-user-request"),
// kept as a small local interface to avoid an auth↔acl import cycle.
type AuthUserRequest interface {
	// UserName returns "" until a scheme has successfully decoded
	// credentials.
	UserName() string
	// MatchCache returns the owning user's proxy_match_cache, or nil
	// if no user is bound yet.
	MatchCache() MatchCache
}

// MatchCache is the per-user fingerprint → verdict memo (spec.md §4.4
// "Caching per user").
type MatchCache interface {
	Get(fingerprint string) (bool, bool)
	Set(fingerprint string, result bool)
}

// Checklist is the mutable evaluation frame for one rule-list check
// (spec.md §3 "Checklist").
type Checklist struct {
	SrcAddr  net.IP
	DstAddr  net.IP
	LocalAddr net.IP
	LocalPort int
	DstPort   int

	Request *RequestView
	Conn    *ConnView

	// ReplyStatus is populated only for reply_access/reply_header_access
	// checkpoints (spec.md §4.7 item 5); zero means "no reply yet".
	ReplyStatus int

	// SSLError names the ssl_client.cert_error code under evaluation,
	// set only by the intercepted-HTTPS mismatch check (spec.md §4.4).
	SSLError string

	// ClientMAC, CertAttributes, PeerName back the ARP/MAC,
	// certificate-attribute, and peer-name ACL kinds (spec.md §3).
	ClientMAC      string
	CertAttributes map[string]string
	PeerName       string

	AuthUser AuthUserRequest
	Ident    string

	AsyncState AsyncState

	DestinationDomainChecked bool
	SourceDomainChecked      bool
	destinationDomain        string
	sourceDomain             string

	lastResult MatchResult

	// MatchedRuleName is the Name of the rule whose verdict the last
	// Evaluate/Resume call produced — the ACL a deny_info lookup keys
	// off of (spec.md §4.7 "the first deny_info entry naming any of the
	// denying ACLs").
	MatchedRuleName string

	// resumeRule/resumeTerm are the indices of the rule/term the
	// evaluator was suspended on; set by the evaluator, read by Resume.
	resumeRule int
	resumeTerm int

	continuation func(Verdict)
}

// RequestView is the minimal slice of internal/httpmsg.Request that ACL
// terms need, kept local to avoid acl importing httpmsg for more than
// this shape.
type RequestView struct {
	Method      string
	Host        string
	Port        int
	Scheme      string
	Path        string
	HeaderLines map[string][]string
	Intercepted bool
	SSLBumped   bool
	SNI         string
}

// ConnView is the minimal connection shape ACL terms consult (client IP,
// per-client-IP connection count).
type ConnView struct {
	ClientIP        string
	ConnectionCount int // connections currently open from ClientIP
}

// NewChecklist builds a Checklist with a continuation to invoke exactly
// once when the evaluator reaches a final verdict (spec.md §3
// "destroyed after the continuation is invoked exactly once").
func NewChecklist(cont func(Verdict)) *Checklist {
	return &Checklist{continuation: cont}
}

// SetDestinationDomain records the result of a destination-IP reverse
// lookup so destination-domain terms can resume without re-issuing it.
func (c *Checklist) SetDestinationDomain(name string) {
	c.destinationDomain = name
	c.DestinationDomainChecked = true
}

// DestinationDomain returns the cached reverse-lookup result, if any.
func (c *Checklist) DestinationDomain() (string, bool) {
	return c.destinationDomain, c.DestinationDomainChecked
}

// SetSourceDomain is the source-address analogue of SetDestinationDomain.
func (c *Checklist) SetSourceDomain(name string) {
	c.sourceDomain = name
	c.SourceDomainChecked = true
}

// SourceDomain returns the cached reverse-lookup result, if any.
func (c *Checklist) SourceDomain() (string, bool) {
	return c.sourceDomain, c.SourceDomainChecked
}

// ResumeAsync clears the suspended lookup state; the caller (the async
// lookup's completion callback) must then re-invoke the owning
// RuleList.Resume so the evaluator re-runs at the same term.
func (c *Checklist) ResumeAsync() {
	c.AsyncState = nil
}
