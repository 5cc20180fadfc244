package coordinator

import (
	"strings"

	"github.com/squidgo/proxycore/internal/config"
)

// RedirectAllowed gates whether deny_info entries naming a URL target
// (one containing ':') may be used to redirect a denied client, versus
// only entries naming a literal error-page template. This is Open
// Question (a)'s resolution: the ':' filter is preserved as literal
// behavior, controlled by this explicit flag rather than inferred from
// context.
type RedirectAllowed bool

// ResolveDenyInfo implements spec.md §4.7's deny_info lookup: "the first
// deny_info entry naming any of the denying ACLs supplies the response
// URL or template." deniedACLs lists the ACL names responsible for the
// Denied verdict, in the order the evaluator encountered them.
//
// When redirectAllowed is false, entries whose Target contains ':' are
// skipped entirely (they are taken to be redirect URLs, not local error
// templates), matching the original implementation's literal behavior
// rather than silently downgrading them to a template render.
func ResolveDenyInfo(entries []config.DenyInfoEntry, deniedACLs []string, redirectAllowed RedirectAllowed) (config.DenyInfoEntry, bool) {
	denied := make(map[string]bool, len(deniedACLs))
	for _, name := range deniedACLs {
		denied[name] = true
	}

	for _, e := range entries {
		if !denied[e.ACLName] {
			continue
		}
		if !redirectAllowed && strings.Contains(e.Target, ":") {
			continue
		}
		return e, true
	}
	return config.DenyInfoEntry{}, false
}
