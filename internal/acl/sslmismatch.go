package acl

import "strings"

// SSLClientCertErrorTerm backs the "ssl_client.cert_error" check
// spec.md §4.4 describes for the intercepted-HTTPS mismatch rule:
// "before handing a bumped TLS request to the fetcher, the coordinator
// compares the intended SNI/hostname ... against the server
// certificate's subject; on mismatch [this] check is consulted. If the
// check does not allow the mismatch, the request is failed with 503."
//
// The term itself only answers "is this specific mismatch tolerated",
// matching against a set of named error codes (e.g. "sslCertMismatch",
// "sslUnknownCA"); the 503-vs-continue decision is made by
// internal/coordinator, which is the only caller that ever sets
// Checklist.SSLError.
type SSLClientCertErrorTerm struct {
	name   string
	errors map[string]bool
}

func NewSSLClientCertErrorTerm(name string, errors []string) *SSLClientCertErrorTerm {
	m := make(map[string]bool, len(errors))
	for _, e := range errors {
		m[strings.ToLower(e)] = true
	}
	return &SSLClientCertErrorTerm{name: name, errors: m}
}

func (t *SSLClientCertErrorTerm) Name() string { return t.name }
func (t *SSLClientCertErrorTerm) Valid() bool  { return len(t.errors) > 0 }

func (t *SSLClientCertErrorTerm) Match(c *Checklist) MatchResult {
	if c.SSLError == "" {
		return NoMatch
	}
	if t.errors[strings.ToLower(c.SSLError)] {
		return Match
	}
	return NoMatch
}

// CheckInterceptedMismatch runs the ssl_client.cert_error rule list
// against sni/certSubject for one bumped connection, synchronously
// (the term never suspends), returning true if the mismatch is
// tolerated.
func CheckInterceptedMismatch(list *RuleList, sni, certSubject string) bool {
	if sni == certSubject {
		return true
	}
	allowed := false
	c := NewChecklist(func(v Verdict) { allowed = v == Allowed })
	c.SSLError = "sslCertMismatch"
	list.Evaluate(c)
	return allowed
}
