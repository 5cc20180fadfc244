package acl

// Verdict is the outcome of a rule-list evaluation.
type Verdict int

const (
	Denied Verdict = iota
	Allowed
)

// TermRef is one term within a Rule's AND-list, optionally negated.
type TermRef struct {
	Term   Term
	Negate bool
}

// Rule is an ordered AND-list of terms plus a verdict (spec.md §3
// "ACL rule").
type Rule struct {
	Name    string
	Terms   []TermRef
	Verdict Verdict
}

// RuleList is an ordered list of rules evaluated in order; the first
// matching rule's verdict wins (spec.md §3, §4.4 "Ordering across
// rules").
type RuleList struct {
	Name    string
	Rules   []Rule
	Invalid bool
}

// Evaluate runs c against l, invoking c's continuation exactly once
// with the final Verdict, synchronously if no term suspends. If a term
// returns Async, Evaluate returns immediately after the term's
// AsyncState.Kickoff(c); the lookup's completion callback must call
// l.Resume(c) to continue.
func (l *RuleList) Evaluate(c *Checklist) {
	if l.Invalid || len(l.Rules) == 0 {
		c.continuation(Denied)
		return
	}
	l.run(c, 0, 0)
}

// authRequiringTerm is implemented by terms that can only match against
// an authenticated username (proxy_auth), used by RequiresAuth to
// decide whether a checkpoint needs the authentication driver run
// ahead of it (spec.md §4.5 "invoked by the coordinator when a request
// or reply is about to consult a user-dependent ACL").
type authRequiringTerm interface {
	Term
	RequiresAuth() bool
}

// RequiresAuth reports whether any term in l is user-dependent, so the
// coordinator knows whether to run the authentication driver before
// evaluating l at all. A rule list with no such term never touches
// Checklist.AuthUser, so authenticating ahead of it would be pure
// overhead (and, per spec.md §8 Scenario 1/2, wrongly short-circuits a
// fail-closed or allow-all checkpoint into challenging for credentials
// no rule ever asks for).
func (l *RuleList) RequiresAuth() bool {
	for _, rule := range l.Rules {
		for _, ref := range rule.Terms {
			if t, ok := ref.Term.(authRequiringTerm); ok && t.RequiresAuth() {
				return true
			}
		}
	}
	return false
}

// Resume re-enters the evaluator at the rule/term a prior Evaluate call
// suspended on (spec.md §4.4 "resumes the evaluator at the same term").
func (l *RuleList) Resume(c *Checklist) {
	if l.Invalid || len(l.Rules) == 0 {
		c.continuation(Denied)
		return
	}
	l.run(c, c.resumeRule, c.resumeTerm)
}

func (l *RuleList) run(c *Checklist, ruleIdx, termIdx int) {
	for ; ruleIdx < len(l.Rules); ruleIdx++ {
		rule := l.Rules[ruleIdx]
		matched, suspended := evalRule(c, rule, termIdx)
		if suspended {
			c.resumeRule = ruleIdx
			c.resumeTerm = termIdx
			if c.AsyncState != nil {
				c.AsyncState.Kickoff(c)
			}
			return
		}
		termIdx = 0
		if matched {
			c.MatchedRuleName = rule.Name
			c.continuation(rule.Verdict)
			return
		}
	}

	// No rule matched: invert the last rule's verdict (spec.md §4.4
	// "Ordering across rules"). len(l.Rules) > 0 is guaranteed by the
	// Invalid/empty guard in Evaluate and Resume.
	lastRule := l.Rules[len(l.Rules)-1]
	c.MatchedRuleName = lastRule.Name
	if lastRule.Verdict == Allowed {
		c.continuation(Denied)
	} else {
		c.continuation(Allowed)
	}
}

// evalRule runs rule's terms left-to-right starting at startTerm,
// honoring short-circuit AND (spec.md §4.4): first 0 fails the rule,
// -1 suspends, all-1 matches.
func evalRule(c *Checklist, rule Rule, startTerm int) (matched, suspended bool) {
	for i := startTerm; i < len(rule.Terms); i++ {
		ref := rule.Terms[i]

		if uk, ok := ref.Term.(UserKeyedTerm); ok && c.AuthUser != nil {
			if cache := c.AuthUser.MatchCache(); cache != nil {
				if cached, ok := cache.Get(uk.Fingerprint()); ok {
					if applyNegate(cached, ref.Negate) {
						continue
					}
					return false, false
				}
			}
		}

		result := ref.Term.Match(c)
		switch result {
		case Async:
			return false, true
		case NoMatch, Match:
			positive := result == Match
			if uk, ok := ref.Term.(UserKeyedTerm); ok && c.AuthUser != nil {
				if cache := c.AuthUser.MatchCache(); cache != nil {
					cache.Set(uk.Fingerprint(), positive)
				}
			}
			if applyNegate(positive, ref.Negate) {
				continue
			}
			return false, false
		}
	}
	return true, false
}

func applyNegate(matched bool, negate bool) bool {
	if negate {
		return !matched
	}
	return matched
}
