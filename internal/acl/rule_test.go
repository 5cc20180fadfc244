package acl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedTerm struct {
	name   string
	result MatchResult
}

func (t *fixedTerm) Name() string               { return t.name }
func (t *fixedTerm) Valid() bool                 { return true }
func (t *fixedTerm) Match(c *Checklist) MatchResult { return t.result }

func TestEmptyRuleListDeniesFailClosed(t *testing.T) {
	var got Verdict
	l := &RuleList{}
	l.Evaluate(NewChecklist(func(v Verdict) { got = v }))
	require.Equal(t, Denied, got)
}

func TestInvalidRuleListDeniesFailClosed(t *testing.T) {
	var got Verdict
	l := &RuleList{Invalid: true, Rules: []Rule{{Terms: []TermRef{{Term: &fixedTerm{"a", Match}}}, Verdict: Allowed}}}
	l.Evaluate(NewChecklist(func(v Verdict) { got = v }))
	require.Equal(t, Denied, got)
}

func TestFirstMatchingRuleWins(t *testing.T) {
	l := &RuleList{Rules: []Rule{
		{Name: "r1", Terms: []TermRef{{Term: &fixedTerm{"a", NoMatch}}}, Verdict: Denied},
		{Name: "r2", Terms: []TermRef{{Term: &fixedTerm{"b", Match}}}, Verdict: Allowed},
		{Name: "r3", Terms: []TermRef{{Term: &fixedTerm{"c", Match}}}, Verdict: Denied},
	}}
	var got Verdict
	l.Evaluate(NewChecklist(func(v Verdict) { got = v }))
	require.Equal(t, Allowed, got)
}

func TestShortCircuitAND(t *testing.T) {
	calls := 0
	counting := &countingTerm{result: NoMatch, calls: &calls}
	l := &RuleList{Rules: []Rule{
		{Terms: []TermRef{{Term: &fixedTerm{"a", NoMatch}}, {Term: counting}}, Verdict: Denied},
	}}
	var got Verdict
	l.Evaluate(NewChecklist(func(v Verdict) { got = v }))
	// the only rule fails -> inversion of its Denied verdict
	require.Equal(t, Allowed, got)
	require.Equal(t, 0, calls, "second term must not run after the first fails")
}

type countingTerm struct {
	result MatchResult
	calls  *int
}

func (t *countingTerm) Name() string { return "counting" }
func (t *countingTerm) Valid() bool  { return true }
func (t *countingTerm) Match(c *Checklist) MatchResult {
	*t.calls++
	return t.result
}

func TestNoRuleMatchesInvertsLastVerdict(t *testing.T) {
	l := &RuleList{Rules: []Rule{
		{Terms: []TermRef{{Term: &fixedTerm{"a", NoMatch}}}, Verdict: Allowed},
	}}
	var got Verdict
	l.Evaluate(NewChecklist(func(v Verdict) { got = v }))
	require.Equal(t, Denied, got)
}

type asyncTerm struct {
	name     string
	resolved bool
	result   MatchResult
}

func (t *asyncTerm) Name() string { return t.name }
func (t *asyncTerm) Valid() bool  { return true }
func (t *asyncTerm) Match(c *Checklist) MatchResult {
	if !t.resolved {
		c.AsyncState = fakeAsyncState{}
		return Async
	}
	return t.result
}

type fakeAsyncState struct{}

func (fakeAsyncState) Kickoff(c *Checklist) {}

func TestAsyncSuspendThenResumeAtSameTerm(t *testing.T) {
	term := &asyncTerm{name: "dns", result: Match}
	l := &RuleList{Rules: []Rule{
		{Terms: []TermRef{{Term: term}}, Verdict: Allowed},
	}}

	var got Verdict
	var resolved bool
	c := NewChecklist(func(v Verdict) { got = v; resolved = true })

	l.Evaluate(c)
	require.False(t, resolved, "must suspend, not finish")
	require.NotNil(t, c.AsyncState)

	term.resolved = true
	c.ResumeAsync()
	l.Resume(c)

	require.True(t, resolved)
	require.Equal(t, Allowed, got)
}

func TestNegatedTermInvertsResult(t *testing.T) {
	l := &RuleList{Rules: []Rule{
		{Terms: []TermRef{{Term: &fixedTerm{"a", Match}, Negate: true}}, Verdict: Allowed},
	}}
	var got Verdict
	l.Evaluate(NewChecklist(func(v Verdict) { got = v }))
	// negated match fails the rule -> falls through to inversion of last verdict (Allowed -> Denied)
	require.Equal(t, Denied, got)
}

type userKeyedFixedTerm struct {
	fixedTerm
	fp    string
	calls *int
}

func (t *userKeyedFixedTerm) Fingerprint() string { return t.fp }
func (t *userKeyedFixedTerm) Match(c *Checklist) MatchResult {
	*t.calls++
	return t.result
}

type fakeMatchCache struct {
	m map[string]bool
}

func (c *fakeMatchCache) Get(fp string) (bool, bool) { v, ok := c.m[fp]; return v, ok }
func (c *fakeMatchCache) Set(fp string, v bool)       { c.m[fp] = v }

type fakeAuthUserRequest struct {
	name  string
	cache MatchCache
}

func (u *fakeAuthUserRequest) UserName() string    { return u.name }
func (u *fakeAuthUserRequest) MatchCache() MatchCache { return u.cache }

func TestUserKeyedTermMemoizesAcrossChecks(t *testing.T) {
	calls := 0
	term := &userKeyedFixedTerm{fixedTerm: fixedTerm{"proxy_auth", Match}, fp: "proxy_auth", calls: &calls}
	l := &RuleList{Rules: []Rule{
		{Terms: []TermRef{{Term: term}}, Verdict: Allowed},
	}}
	cache := &fakeMatchCache{m: map[string]bool{}}
	user := &fakeAuthUserRequest{name: "alice", cache: cache}

	for i := 0; i < 3; i++ {
		c := NewChecklist(func(Verdict) {})
		c.AuthUser = user
		l.Evaluate(c)
	}
	require.Equal(t, 1, calls, "second and third checks must hit the user's proxy_match_cache")
}
