package acl

import "strings"

// ValueSetKind distinguishes the handful of ACL kinds spec.md §3 shapes
// identically as "a string set compared against one checklist field":
// ARP/MAC, certificate attribute, and peer-name/my-port-name.
type ValueSetKind int

const (
	KindARP ValueSetKind = iota
	KindCertAttribute
	KindPeerName
)

// ValueSetTerm matches a checklist-supplied string (client MAC, a named
// certificate attribute's value, or the selected cache_peer name)
// against a configured set (spec.md §3: "ARP/MAC (set of 6-byte
// addresses; platform-specific resolver)", "certificate attribute
// (attribute selector + string set)", "peer-name / my-port-name
// (string set)").
//
// The platform-specific ARP resolution original_source/src/ACLARP.cc
// performs (reading /proc/net/arp or an ioctl) has no portable Go
// equivalent and is out of SPEC_FULL.md's scope; ValueSetTerm expects
// the client MAC to already be known (e.g. supplied by a Non-goal
// external collaborator) and only does the set comparison.
type ValueSetTerm struct {
	name     string
	kind     ValueSetKind
	selector string // for KindCertAttribute: the attribute name (e.g. "CN")
	values   map[string]bool
}

func NewValueSetTerm(name string, kind ValueSetKind, selector string, values []string) *ValueSetTerm {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[strings.ToUpper(v)] = true
	}
	return &ValueSetTerm{name: name, kind: kind, selector: selector, values: m}
}

func (t *ValueSetTerm) Name() string { return t.name }
func (t *ValueSetTerm) Valid() bool  { return len(t.values) > 0 }

func (t *ValueSetTerm) Match(c *Checklist) MatchResult {
	var subject string
	switch t.kind {
	case KindARP:
		subject = c.ClientMAC
	case KindCertAttribute:
		subject = c.CertAttributes[t.selector]
	case KindPeerName:
		subject = c.PeerName
	}
	if subject == "" {
		return NoMatch
	}
	if t.values[strings.ToUpper(subject)] {
		return Match
	}
	return NoMatch
}
