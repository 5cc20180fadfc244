package coordinator

import (
	"strings"

	"github.com/squidgo/proxycore/internal/acl"
	"github.com/squidgo/proxycore/internal/auth"
	"github.com/squidgo/proxycore/internal/config"
	"github.com/squidgo/proxycore/internal/connio"
)

// HandleRequest drives the full callout sequence for one request
// (spec.md §4.7 items 1-5) and invokes done exactly once with the final
// Result. accelerated/intercepted classify the connection mode for the
// authentication driver (spec.md §4.5 step 1); connState is the
// connection's persistent auth binding, nil if none established yet.
func (co *Coordinator) HandleRequest(conn *connio.Connection, rc *connio.RequestContext, accelerated, intercepted bool, connState *auth.ConnState, headerValue string, done func(Result)) {
	req := rc.Request
	clientIP := req.ClientAddr

	co.ResolveIdent(conn, req, func() {
		// Intercepted connections never authenticate (step 1), and a
		// checkpoint with no user-dependent term never needs a bound
		// user either; skip straight to http_access with ur == nil in
		// both cases rather than soliciting credentials no rule asks
		// for.
		if intercepted || !co.requestRequiresAuth() {
			co.runHTTPAccess(conn, rc, nil, done)
			return
		}

		rc.Timer.StartAuth()
		co.Authenticate(accelerated, intercepted, connState, headerValue, clientIP, func(ur *auth.UserRequest, outcome auth.Outcome) {
			rc.Timer.EndAuth()
			switch outcome {
			case auth.OutcomeRejectedIntercepted:
				// No credentials are solicited on intercepted connections;
				// proceed to http_access with no bound user.
				co.runHTTPAccess(conn, rc, nil, done)
			case auth.OutcomeChallenge, auth.OutcomeCannotAuthenticate:
				done(Result{
					Outcome:      OutcomeChallenge,
					Status:       challengeStatus(accelerated),
					ChallengeHdr: strings.Join(co.ChallengeHeaders(accelerated), ", "),
				})
			case auth.OutcomeHelper:
				// Driver.Run reports one outcome per call (Scheme.Authenticate
				// calls back once), so no later outcome follows this one and
				// done is not invoked on this path.
			case auth.OutcomeAuthenticated:
				rc.AuthUsername = ur.UserName()
				co.runHTTPAccess(conn, rc, ur, done)
			}
		})
	})
}

func challengeStatus(accelerated bool) int {
	if accelerated {
		return 401
	}
	return 407
}

func (co *Coordinator) runHTTPAccess(conn *connio.Connection, rc *connio.RequestContext, ur *auth.UserRequest, done func(Result)) {
	req := rc.Request
	rc.Timer.StartACL()
	co.RunCheckpoint(config.CheckpointHTTPAccess, conn, req, authUserView(ur), func(v acl.Verdict, ruleName string) {
		if v == acl.Denied {
			co.denyWith(ruleName, done)
			return
		}
		co.runAdaptedAccess(conn, rc, ur, done)
	})
}

func (co *Coordinator) runAdaptedAccess(conn *connio.Connection, rc *connio.RequestContext, ur *auth.UserRequest, done func(Result)) {
	req := rc.Request
	if co.hooks.RewriteURL != nil {
		co.hooks.RewriteURL(req)
	}
	if co.hooks.StoreID != nil {
		co.hooks.StoreID(req)
	}

	co.RunCheckpoint(config.CheckpointAdaptedHTTPAccess, conn, req, authUserView(ur), func(v acl.Verdict, ruleName string) {
		if v == acl.Denied {
			co.denyWith(ruleName, done)
			return
		}
		co.runMissAccess(conn, rc, ur, done)
	})
}

func (co *Coordinator) runMissAccess(conn *connio.Connection, rc *connio.RequestContext, ur *auth.UserRequest, done func(Result)) {
	req := rc.Request
	co.RunCheckpoint(config.CheckpointMissAccess, conn, req, authUserView(ur), func(v acl.Verdict, ruleName string) {
		if v == acl.Denied {
			co.denyWith(ruleName, done)
			return
		}
		co.fetchAndRunReplyAccess(conn, rc, ur, done)
	})
}

// fetchAndRunReplyAccess hands the request to the external fetcher
// collaborator (spec.md §4.7 item 4's "out of scope here") and, once a
// reply shape comes back, runs reply_access/reply_header_access (item
// 5) against it before declaring the request served.
func (co *Coordinator) fetchAndRunReplyAccess(conn *connio.Connection, rc *connio.RequestContext, ur *auth.UserRequest, done func(Result)) {
	rc.Timer.EndACL()
	rc.Timer.StartHandoff()
	if co.hooks.Fetch == nil {
		done(Result{Outcome: OutcomeServed})
		return
	}

	reply, err := co.hooks.Fetch(rc)
	if err != nil {
		co.log.Warn("fetch hook failed", "error", err)
		done(Result{Outcome: OutcomeServed, Reply: reply})
		return
	}

	for _, status := range reply.Preliminary {
		co.WritePreliminary(conn, status, nil)
	}

	req := rc.Request
	co.RunReplyCheckpoint(config.CheckpointReplyAccess, conn, req, authUserView(ur), reply.Status, func(v acl.Verdict, ruleName string) {
		if v == acl.Denied {
			co.denyWith(ruleName, done)
			return
		}
		co.RunReplyCheckpoint(config.CheckpointReplyHeaderAccess, conn, req, authUserView(ur), reply.Status, func(v acl.Verdict, ruleName string) {
			if v == acl.Denied {
				co.denyWith(ruleName, done)
				return
			}
			done(Result{Outcome: OutcomeServed, Reply: reply})
		})
	})
}

func (co *Coordinator) denyWith(ruleName string, done func(Result)) {
	entry, ok := co.ResolveDeny(ruleName, RedirectAllowed(co.cfg.RedirectAllowed))
	target := ""
	if ok {
		target = entry.Target
	}
	done(Result{Outcome: OutcomeDenied, DenyTarget: target, DeniedByACL: ruleName})
}

// authUserView adapts a concrete *auth.UserRequest to acl.AuthUserRequest,
// returning a true nil interface (not a typed-nil one) when ur is nil so
// acl's `c.AuthUser != nil` checks behave correctly.
func authUserView(ur *auth.UserRequest) acl.AuthUserRequest {
	if ur == nil {
		return nil
	}
	return ur
}
