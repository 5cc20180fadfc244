// Package coordinator implements the request coordinator of spec.md
// §4.7: for each parsed request it builds a processing object carrying
// the request, the connection back-pointer, an access-log entry
// skeleton, and the callout sequence of checkpoints (http_access,
// adapted_http_access, miss_access, url_rewrite/store_id hooks,
// reply_access/reply_header_access), resolving deny_info on denial and
// driving authentication challenges.
//
// Grounded on the teacher's top-level request/response orchestration
// (pkg/client/client.go's Do method sequences connect → write → read →
// parse as one linear pipeline); the coordinator generalizes that shape
// to a multi-checkpoint, possibly-suspending pipeline by driving each
// checkpoint through an explicit continuation rather than a single
// synchronous call chain.
package coordinator

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/squidgo/proxycore/internal/accesslog"
	"github.com/squidgo/proxycore/internal/acl"
	"github.com/squidgo/proxycore/internal/auth"
	"github.com/squidgo/proxycore/internal/config"
	"github.com/squidgo/proxycore/internal/connio"
	"github.com/squidgo/proxycore/internal/httpmsg"
	"github.com/squidgo/proxycore/internal/ident"
	"github.com/squidgo/proxycore/internal/metrics"
	"github.com/squidgo/proxycore/internal/obslog"
	"github.com/squidgo/proxycore/internal/pinning"
	"github.com/squidgo/proxycore/internal/reactorcore"
)

// Hooks are the external collaborators spec.md §4.7 item 4 calls "out
// of scope here, exposed only as hooks": URL rewrite, StoreID mapping,
// and the upstream fetcher that produces a reply for miss_access-passed
// requests. The core never implements these; it only calls them.
type Hooks struct {
	RewriteURL func(req *httpmsg.Request) (rewritten bool)
	StoreID    func(req *httpmsg.Request) (key string, ok bool)
	Fetch      func(rc *connio.RequestContext) (*Reply, error)
}

// Reply is the minimal shape the coordinator needs back from the
// external fetcher to run reply_access/reply_header_access and to write
// a response to the client.
type Reply struct {
	Status      int
	HeaderLines map[string][]string
	Preliminary []int // 1xx statuses produced before the final reply, in order
}

// Outcome is what the coordinator decided to do with one request.
type Outcome int

const (
	OutcomeServed Outcome = iota
	OutcomeDenied
	OutcomeChallenge
)

// Result is returned to the caller (the reactor job driving one
// connection) once a request's callout sequence reaches a final state.
type Result struct {
	Outcome      Outcome
	DenyTarget   string // resolved deny_info target, if Outcome == OutcomeDenied
	DeniedByACL  string
	ChallengeHdr string // WWW-Authenticate/Proxy-Authenticate value, if OutcomeChallenge
	Status       int    // 407 or 401, if OutcomeChallenge
	Reply        *Reply
}

// Coordinator drives the callout sequence for every request on every
// connection it's handed.
type Coordinator struct {
	cfg     *config.Snapshot
	driver  *auth.Driver
	authReg *auth.Registry
	pins    *pinning.Registry
	log     *obslog.Logger
	met     *metrics.Registry
	hooks   Hooks
	ident   *ident.Resolver
	reactor *reactorcore.Reactor
	access  *accesslog.AccessLog
}

// New builds a Coordinator wired against one configuration snapshot,
// which it keeps for its whole lifetime (spec.md §5). cmd/proxycore
// builds one Coordinator per accepted connection from the Store's
// current Snapshot, so a reload reaches connections accepted after it.
//
// r is the reactor every callout and the ident lookup's completion are
// posted back onto, so a connection's steps never interleave (spec.md
// §4.1).
func New(cfg *config.Snapshot, driver *auth.Driver, authReg *auth.Registry, pins *pinning.Registry, log *obslog.Logger, met *metrics.Registry, hooks Hooks, r *reactorcore.Reactor, access *accesslog.AccessLog) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		driver:  driver,
		authReg: authReg,
		pins:    pins,
		log:     log,
		met:     met,
		hooks:   hooks,
		ident:   ident.New(ident.Config{}, log.Named("ident")),
		reactor: r,
		access:  access,
	}
}

// checklistFromRequest builds an acl.Checklist view of rc for one
// checkpoint evaluation.
func (co *Coordinator) checklistFromRequest(conn *connio.Connection, req *httpmsg.Request, authUser acl.AuthUserRequest, cont func(acl.Verdict)) *acl.Checklist {
	c := acl.NewChecklist(cont)
	c.Request = &acl.RequestView{
		Method:      req.MethodToken,
		Host:        req.Host,
		Port:        req.Port,
		Scheme:      req.Scheme,
		Path:        req.Path,
		HeaderLines: req.Headers.Lines(),
		Intercepted: req.Flags.Intercepted,
		SSLBumped:   req.Flags.SSLBumped,
	}
	c.Conn = &acl.ConnView{ClientIP: req.ClientAddr}
	c.AuthUser = authUser
	c.Ident = req.Ident
	return c
}

// RunCheckpoint evaluates one named checkpoint's rule list (or treats a
// missing list as "no rule configured" — allowed by default, matching
// the original's "no access list configured means allow" convention)
// and reports the verdict plus the matching rule name for deny_info
// resolution.
func (co *Coordinator) RunCheckpoint(point config.Checkpoint, conn *connio.Connection, req *httpmsg.Request, authUser acl.AuthUserRequest, cb func(verdict acl.Verdict, ruleName string)) {
	co.runCheckpoint(point, conn, req, authUser, 0, cb)
}

// RunReplyCheckpoint is RunCheckpoint for the two reply-time checkpoints
// (spec.md §4.7 item 5), which additionally need the upstream reply's
// status code available to http_reply_status ACL terms.
func (co *Coordinator) RunReplyCheckpoint(point config.Checkpoint, conn *connio.Connection, req *httpmsg.Request, authUser acl.AuthUserRequest, replyStatus int, cb func(verdict acl.Verdict, ruleName string)) {
	co.runCheckpoint(point, conn, req, authUser, replyStatus, cb)
}

func (co *Coordinator) runCheckpoint(point config.Checkpoint, conn *connio.Connection, req *httpmsg.Request, authUser acl.AuthUserRequest, replyStatus int, cb func(verdict acl.Verdict, ruleName string)) {
	list := co.cfg.RuleLists[point]
	if list == nil {
		cb(acl.Allowed, "")
		return
	}
	var c *acl.Checklist
	c = co.checklistFromRequest(conn, req, authUser, func(v acl.Verdict) {
		cb(v, c.MatchedRuleName)
	})
	c.ReplyStatus = replyStatus
	list.Evaluate(c)
}

// requestRequiresAuth reports whether any checkpoint this request could
// reach consults a user-dependent ACL term, per spec.md §4.5: the
// driver is "invoked by the coordinator when a request or reply is
// about to consult a user-dependent ACL", not ahead of every request
// regardless of what its rule lists actually check (spec.md §8
// Scenarios 1 and 2 both reach a verdict with no credentials solicited
// at all).
func (co *Coordinator) requestRequiresAuth() bool {
	for _, point := range []config.Checkpoint{
		config.CheckpointHTTPAccess,
		config.CheckpointAdaptedHTTPAccess,
		config.CheckpointMissAccess,
		config.CheckpointReplyAccess,
		config.CheckpointReplyHeaderAccess,
	} {
		if list := co.cfg.RuleLists[point]; list != nil && list.RequiresAuth() {
			return true
		}
	}
	return false
}

// ResolveIdent runs ident_lookup_access and, if it allows the lookup,
// queries identd for req's client (spec.md §4.6). The lookup runs on a
// separate goroutine and its result is posted back onto the
// Coordinator's reactor before cb is invoked, so no two connections'
// jobs interleave (spec.md §4.1). cb is always invoked exactly once.
func (co *Coordinator) ResolveIdent(conn *connio.Connection, req *httpmsg.Request, cb func()) {
	co.RunCheckpoint(config.CheckpointIdentACL, conn, req, nil, func(v acl.Verdict, _ string) {
		if v != acl.Allowed {
			cb()
			return
		}
		co.lookupIdent(req, cb)
	})
}

func (co *Coordinator) lookupIdent(req *httpmsg.Request, cb func()) {
	clientHost, clientPortStr, err := net.SplitHostPort(req.ClientAddr)
	if err != nil {
		cb()
		return
	}
	_, localPortStr, err := net.SplitHostPort(req.LocalAddr)
	if err != nil {
		cb()
		return
	}
	clientPort, err := strconv.Atoi(clientPortStr)
	if err != nil {
		cb()
		return
	}
	localPort, err := strconv.Atoi(localPortStr)
	if err != nil {
		cb()
		return
	}

	go func() {
		userID, err := co.ident.Lookup(context.Background(), clientHost, localPort, clientPort)
		co.reactor.Post(func() {
			if err == nil {
				req.Ident = userID
			}
			cb()
		})
	}()
}

// Authenticate runs the authentication driver for one request ahead of
// http_access, per spec.md §4.5's "the driver decides CHALLENGE, HELPER,
// CANNOT_AUTHENTICATE, or AUTHENTICATED before ACL evaluation proceeds
// for any acl proxy_auth term."
func (co *Coordinator) Authenticate(accelerated, intercepted bool, connState *auth.ConnState, headerValue, clientIP string, cb func(*auth.UserRequest, auth.Outcome)) {
	co.driver.Run(accelerated, intercepted, connState, headerValue, clientIP, cb)
}

// ChallengeHeaders builds the aggregated challenge set for a 407/401
// response (spec.md §4.7 "challenges aggregated from every active
// scheme").
func (co *Coordinator) ChallengeHeaders(accelerated bool) []string {
	kind := auth.KindProxyAuth
	if accelerated {
		kind = auth.KindWWWAuth
	}
	return co.authReg.Challenges(kind)
}

// ResolveDeny looks up the deny_info entry for a denying ACL name under
// the Coordinator's current snapshot.
func (co *Coordinator) ResolveDeny(deniedACL string, redirectAllowed RedirectAllowed) (config.DenyInfoEntry, bool) {
	return ResolveDenyInfo(co.cfg.DenyInfo, []string{deniedACL}, redirectAllowed)
}

// WritePreliminary writes a 1xx reply (spec.md §4.7 "1xx preliminary
// replies") to the client without terminating the transaction. A write
// failure here closes the connection rather than propagating an error
// up to the caller, matching the spec's explicit carve-out.
func (co *Coordinator) WritePreliminary(conn *connio.Connection, status int, headerLines map[string][]string) {
	if err := writeStatusLine(conn, status, headerLines); err != nil {
		co.log.Warn("1xx preliminary reply write failed, closing connection", "status", status, "error", err)
		conn.Teardown()
	}
}

// DrainAndClose implements the endGracefully half of spec.md §4.7's
// shutdown semantics for one connection: wait until the connection's
// pipeline is empty or grace has passed, then tear it down. It does not
// itself stop further requests from being read while it waits.
func (co *Coordinator) DrainAndClose(conn *connio.Connection, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for conn.PipelineDepth() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Teardown()
}
