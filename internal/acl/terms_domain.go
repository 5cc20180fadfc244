package acl

import (
	"context"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/cases"

	"github.com/squidgo/proxycore/internal/resolver"
)

var domainCaser = cases.Fold()

// foldDomain applies IDNA ToASCII then Unicode case-folding, so
// "ExAmple.COM" and "example.com" compare equal the way Squid's
// case-insensitive domain trees do (spec.md §3 "source-domain /
// destination-domain ... case-insensitive").
func foldDomain(s string) string {
	if ascii, err := idna.ToASCII(s); err == nil {
		s = ascii
	}
	return domainCaser.String(s)
}

// domainAsyncState is the async_state singleton spec.md §4.4 requires a
// term to install: it issues the reverse lookup and, on completion,
// resumes the rule list at the same term.
type domainAsyncState struct {
	source   bool
	resolver *resolver.Facade
	list     *RuleList
}

func (s *domainAsyncState) Kickoff(c *Checklist) {
	addr := c.DstAddr
	if s.source {
		addr = c.SrcAddr
	}
	if addr == nil {
		if s.source {
			c.SetSourceDomain("")
		} else {
			c.SetDestinationDomain("")
		}
		c.ResumeAsync()
		s.list.Resume(c)
		return
	}

	go func() {
		names, err := s.resolver.ReverseLookup(context.Background(), addr.String())
		name := ""
		if err == nil && len(names) > 0 {
			name = names[0]
		}
		if s.source {
			c.SetSourceDomain(name)
		} else {
			c.SetDestinationDomain(name)
		}
		c.ResumeAsync()
		s.list.Resume(c)
	}()
}

// DomainTerm matches a (reverse-resolved) hostname suffix against a set
// of patterns, e.g. ".example.com" matches "www.example.com".
type DomainTerm struct {
	name     string
	source   bool
	suffixes []string
	resolver *resolver.Facade
	list     *RuleList
}

// NewDomainTerm folds every pattern through foldDomain at parse time so
// Match never has to re-fold the configured side.
func NewDomainTerm(name string, source bool, patterns []string, res *resolver.Facade, list *RuleList) *DomainTerm {
	folded := make([]string, len(patterns))
	for i, p := range patterns {
		folded[i] = foldDomain(p)
	}
	return &DomainTerm{name: name, source: source, suffixes: folded, resolver: res, list: list}
}

func (t *DomainTerm) Name() string { return t.name }
func (t *DomainTerm) Valid() bool  { return len(t.suffixes) > 0 }

func (t *DomainTerm) Match(c *Checklist) MatchResult {
	var (
		hostname string
		checked  bool
	)
	if t.source {
		hostname, checked = c.SourceDomain()
	} else {
		hostname, checked = c.DestinationDomain()
	}

	if !checked {
		c.AsyncState = &domainAsyncState{source: t.source, resolver: t.resolver, list: t.list}
		return Async
	}

	if hostname == "" {
		return NoMatch
	}
	folded := foldDomain(hostname)
	for _, suffix := range t.suffixes {
		if domainMatches(folded, suffix) {
			return Match
		}
	}
	return NoMatch
}

// domainMatches implements suffix containment: a pattern beginning with
// "." matches any subdomain, otherwise an exact match is required.
func domainMatches(host, pattern string) bool {
	pattern = strings.TrimPrefix(pattern, ".")
	if host == pattern {
		return true
	}
	return strings.HasSuffix(host, "."+pattern)
}
