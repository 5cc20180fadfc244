package auth

import "fmt"

// ConnState is the connection-oriented authentication binding spec.md
// §4.5 describes for NTLM/Negotiate: "a successful handshake records
// the user on the connection; subsequent requests ... reuse the same
// user without another handshake."
type ConnState struct {
	BoundUser  *UserRequest
	BoundCreds string
}

// Outcome is the driver's result for one request (spec.md §4.5 "Driver
// algorithm").
type Outcome int

const (
	OutcomeChallenge           Outcome = iota // CHALLENGE
	OutcomeHelper                             // HELPER: async suspension in progress
	OutcomeCannotAuthenticate                 // CANNOT_AUTHENTICATE
	OutcomeAuthenticated                      // credentials valid, ur.User is set
	OutcomeRejectedIntercepted                // step 1: intercepted connections never authenticate
)

// Driver runs the authentication driver algorithm (spec.md §4.5).
type Driver struct {
	registry *Registry
	cache    *UserCache
	maxUserIP int
	strictMaxUserIP bool
}

func NewDriver(registry *Registry, cache *UserCache, maxUserIP int, strict bool) *Driver {
	return &Driver{registry: registry, cache: cache, maxUserIP: maxUserIP, strictMaxUserIP: strict}
}

// HeaderKindFor implements step 1: Proxy-Authorization for forward
// requests, Authorization for accelerated requests, rejection on
// intercepted (transparent) connections.
func HeaderKindFor(accelerated, intercepted bool) (HeaderKind, bool) {
	if intercepted {
		return 0, false
	}
	if accelerated {
		return KindWWWAuth, true
	}
	return KindProxyAuth, true
}

// Run executes steps 2-5 of the driver algorithm for one request.
//
//   - conn is the connection's persistent auth binding (nil if none yet).
//   - headerValue is the raw credentials header value ("Basic
//     dXNlcjpwYXNz"), or "" if absent.
//   - clientIP is used for IP-seen bookkeeping (step 5).
//   - cb is invoked once for each Direction the scheme's Authenticate
//     callback reports; Scheme.Authenticate reports exactly one, so cb
//     fires exactly once, and an OutcomeHelper result is not followed
//     by a second call.
func (d *Driver) Run(accelerated, intercepted bool, conn *ConnState, headerValue, clientIP string, cb func(*UserRequest, Outcome)) {
	kind, ok := HeaderKindFor(accelerated, intercepted)
	if !ok {
		cb(nil, OutcomeRejectedIntercepted)
		return
	}

	// Step 2: connection-bound user. A repeat of the same credentials
	// string reuses it, and so does a header-less follow-up request on
	// the same connection (spec.md §8 Scenario 3: "second request on the
	// same connection with no header -> reuses cached user, still
	// ALLOWED") — Basic carries no connection state of its own, so the
	// binding spec.md §4.5 describes for NTLM/Negotiate is how a client
	// that authenticated once is allowed to stop resending the header.
	if conn != nil && conn.BoundUser != nil && (headerValue == "" || conn.BoundCreds == headerValue) {
		cb(conn.BoundUser, OutcomeAuthenticated)
		return
	}

	if headerValue == "" {
		cb(nil, OutcomeChallenge)
		return
	}

	// Step 3: decode by case-insensitive scheme prefix.
	scheme, rest, matched := d.registry.bySchemePrefix(headerValue)
	if !matched {
		cb(nil, OutcomeChallenge)
		return
	}
	ur, err := scheme.Decode(rest)
	if err != nil {
		cb(nil, OutcomeChallenge)
		return
	}
	ur.LastCreds = headerValue

	// Step 4: authenticate() and inspect direction.
	scheme.Authenticate(ur, func(dir Direction) {
		d.finish(scheme, conn, ur, dir, headerValue, clientIP, cb)
	})
}

func (d *Driver) finish(scheme Scheme, conn *ConnState, ur *UserRequest, dir Direction, headerValue, clientIP string, cb func(*UserRequest, Outcome)) {
	ur.Direction = dir
	switch dir {
	case DirDone:
		user := d.cache.GetOrCreate(scheme.Name(), ur.UserName())
		ur.User = user
		// Every scheme binds its successful result to the connection,
		// not only the handshake-based ones: spec.md §8 Scenario 3 is a
		// Basic-auth case ("second request on the same connection with
		// no header -> reuses cached user, still ALLOWED"), so step 2's
		// reuse check must have something to find regardless of
		// scheme.ConnectionOriented().
		if conn != nil {
			conn.BoundUser = ur
			conn.BoundCreds = headerValue
		}
		// Step 5: IP-seen bookkeeping and max-user-ip enforcement.
		if exceeded := user.RecordIP(clientIP, d.maxUserIP); exceeded {
			if d.strictMaxUserIP {
				cb(ur, OutcomeCannotAuthenticate)
				return
			}
			user.FlushIPSeen()
			user.RecordIP(clientIP, d.maxUserIP)
		}
		cb(ur, OutcomeAuthenticated)
	case DirChallenge:
		cb(ur, OutcomeChallenge)
	case DirHelper:
		cb(ur, OutcomeHelper)
	case DirError:
		cb(ur, OutcomeCannotAuthenticate)
	default:
		panic(fmt.Sprintf("auth: scheme %q returned unknown direction %d", scheme.Name(), dir))
	}
}
