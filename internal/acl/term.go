// Package acl implements the ACL term library and rule evaluator of
// spec.md §3 ("ACL term", "ACL rule", "Checklist") and §4.4. It follows
// the teacher's "accept interfaces, return structs" idiom: rather than
// importing internal/auth directly (which would create an auth↔acl
// import cycle, since auth consults ACLs and ACLs consult the
// authenticated user), acl declares small local interfaces
// (AuthUserRequest, MatchCache) that internal/auth's concrete types
// satisfy structurally.
//
// The original_source/src/ACL.h class hierarchy (ACL -> ACLData ->
// ACLStrategised<T>) is collapsed into a single Term interface plus a
// Go type switch, the same flattening design note §8 calls for
// ("sum-type replacing deep inheritance").
package acl

// MatchResult is the three-valued outcome of Term.Match, mirroring
// spec.md §4.4: "match(checklist) -> -1 | 0 | 1".
type MatchResult int

const (
	NoMatch  MatchResult = 0
	Match    MatchResult = 1
	Async    MatchResult = -1
)

// Term is one named, typed predicate (spec.md §3 "ACL term").
type Term interface {
	// Name is the administrator-facing ACL name, used in deny_info
	// resolution and logging.
	Name() string
	// Match evaluates the term against one checklist. Returning Async
	// means the term has set checklist.AsyncState as a side effect and
	// the evaluator must suspend.
	Match(c *Checklist) MatchResult
	// Valid reports whether the term was parsed with a non-empty,
	// well-formed data set.
	Valid() bool
}

// UserKeyedTerm is implemented by terms whose result should be
// memoized in the user's proxy_match_cache (spec.md §4.4 "Caching per
// user"): proxy_auth, proxy_auth_regex, and similar.
type UserKeyedTerm interface {
	Term
	// Fingerprint is the cache key: typically "Name():parameters".
	Fingerprint() string
}

// AsyncState is the term-specific suspended-lookup token installed on
// a Checklist by a term that returned Async (spec.md §4.4
// "Asynchronous suspension").
type AsyncState interface {
	// Kickoff issues the DNS/ident/auth/helper request. On completion
	// it must call c.ResumeAsync(), which clears AsyncState, and then
	// the owning RuleList.Resume(c), which re-runs the evaluator at the
	// same term.
	Kickoff(c *Checklist)
}
