package acl

import (
	"regexp"
)

// UserTerm matches the checklist's authenticated username (proxy_auth)
// or ident string (ident) against a set of names or regexes (spec.md
// §3 "user (set of user names; regex variant); ident / ext-user (same
// shape as user)"). It implements UserKeyedTerm so its result is
// memoized in the user's proxy_match_cache (spec.md §4.4 "Caching per
// user").
type UserTerm struct {
	name     string
	kind     userTermKind
	literals map[string]bool
	patterns []*regexp.Regexp
}

type userTermKind int

const (
	kindProxyAuth userTermKind = iota
	kindIdent
	kindExtUser
)

func newUserTerm(name string, kind userTermKind, names, regexes []string) (*UserTerm, error) {
	t := &UserTerm{name: name, kind: kind, literals: make(map[string]bool, len(names))}
	for _, n := range names {
		t.literals[n] = true
	}
	for _, p := range regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		t.patterns = append(t.patterns, re)
	}
	return t, nil
}

// NewProxyAuthTerm matches the authenticated user name.
func NewProxyAuthTerm(name string, names, regexes []string) (*UserTerm, error) {
	return newUserTerm(name, kindProxyAuth, names, regexes)
}

// NewIdentTerm matches the ident-resolved username.
func NewIdentTerm(name string, names, regexes []string) (*UserTerm, error) {
	return newUserTerm(name, kindIdent, names, regexes)
}

// NewExtUserTerm matches the username on Checklist.AuthUser, the same
// subject proxy_auth uses; the checklist carries no separate
// external-ACL username.
func NewExtUserTerm(name string, names, regexes []string) (*UserTerm, error) {
	return newUserTerm(name, kindExtUser, names, regexes)
}

func (t *UserTerm) Name() string { return t.name }
func (t *UserTerm) Valid() bool  { return len(t.literals) > 0 || len(t.patterns) > 0 }

// RequiresAuth reports whether this term can only match against an
// authenticated username, i.e. kindProxyAuth. Ident terms read the
// RFC 1413 result, which never goes through the authentication driver;
// ext-user terms read Checklist.AuthUser but do not gate the driver
// either.
func (t *UserTerm) RequiresAuth() bool { return t.kind == kindProxyAuth }

func (t *UserTerm) Fingerprint() string {
	return t.name
}

func (t *UserTerm) subject(c *Checklist) (string, bool) {
	switch t.kind {
	case kindIdent:
		return c.Ident, c.Ident != ""
	case kindProxyAuth, kindExtUser:
		if c.AuthUser == nil {
			return "", false
		}
		return c.AuthUser.UserName(), c.AuthUser.UserName() != ""
	default:
		return "", false
	}
}

func (t *UserTerm) Match(c *Checklist) MatchResult {
	subject, ok := t.subject(c)
	if !ok {
		return NoMatch
	}
	// "REQUIRED" is the literal keyword spec.md §8 Scenario 3 names
	// (`proxy_auth REQUIRED`): matches any authenticated subject, not
	// the literal username "REQUIRED".
	if t.kind == kindProxyAuth && t.literals["REQUIRED"] {
		return Match
	}
	if t.literals[subject] {
		return Match
	}
	for _, re := range t.patterns {
		if re.MatchString(subject) {
			return Match
		}
	}
	return NoMatch
}

// HTTPStatusTerm matches a reply status code against ordered integer
// intervals (spec.md §3 "http-status range (ordered tree of integer
// intervals)"). Reply access checks (reply_access, §4.7 item 5) are
// the only SPEC_FULL.md caller; request-time checklists simply never
// populate Checklist.ReplyStatus and so never match.
type HTTPStatusTerm struct {
	name   string
	ranges [][2]int
}

func NewHTTPStatusTerm(name string, ranges [][2]int) *HTTPStatusTerm {
	return &HTTPStatusTerm{name: name, ranges: ranges}
}

func (t *HTTPStatusTerm) Name() string { return t.name }
func (t *HTTPStatusTerm) Valid() bool  { return len(t.ranges) > 0 }
func (t *HTTPStatusTerm) Match(c *Checklist) MatchResult {
	if c.ReplyStatus == 0 {
		return NoMatch
	}
	for _, r := range t.ranges {
		if c.ReplyStatus >= r[0] && c.ReplyStatus <= r[1] {
			return Match
		}
	}
	return NoMatch
}

