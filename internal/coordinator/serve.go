package coordinator

import (
	"io"
	"time"

	"github.com/squidgo/proxycore/internal/accesslog"
	"github.com/squidgo/proxycore/internal/auth"
	"github.com/squidgo/proxycore/internal/connio"
	"github.com/squidgo/proxycore/internal/httpmsg"
	"github.com/squidgo/proxycore/internal/reactorcore"
	"github.com/squidgo/proxycore/pkg/timing"
)

// ServeConnection drives one client connection end to end: read a
// request, run it through the callout sequence, write the resulting
// response (or hand a served request to the caller-owned reply-forward
// path), and loop — respecting spec.md §4.7's pipelining bound and
// mayUseConnection pause. Every step is posted back onto the reactor so
// no two connections' jobs interleave within a single step (spec.md
// §4.1).
//
// accelerated/intercepted classify the connection's mode for the
// duration of its lifetime (spec.md §4.3 describes these as connection-
// level, not per-request). parserCfg configures the HTTP/1 parser.
func (co *Coordinator) ServeConnection(r *reactorcore.Reactor, conn *connio.Connection, parserCfg httpmsg.Config, accelerated, intercepted bool) {
	connState := &auth.ConnState{}
	r.Post(func() { co.readNext(r, conn, parserCfg, accelerated, intercepted, connState) })
}

func (co *Coordinator) readNext(r *reactorcore.Reactor, conn *connio.Connection, parserCfg httpmsg.Config, accelerated, intercepted bool, connState *auth.ConnState) {
	if !conn.CanAcceptMore() {
		// Pipeline full: nothing is read. readNext is posted again only
		// by the dispatch continuation after a reply has been written.
		return
	}

	timer := timing.NewTimer()
	timer.StartParse()
	req, err := httpmsg.ParseRequestLineAndHeaders(conn.Reader(), parserCfg, conn.ConnContext(intercepted, accelerated))
	timer.EndParse()
	if err != nil {
		if err == io.EOF {
			co.finishHalfClose(conn)
			return
		}
		co.log.Warn("request parse failed, closing connection", "error", err)
		conn.Teardown()
		return
	}

	rc := conn.PushRequest(req)
	rc.Timer = timer

	if req.Flags.MayUseConnection {
		// CONNECT/upgrade: once ACL/auth clears, Hooks.Fetch takes the
		// connection over via rc.Conn() for the tunnel (spec.md §3
		// "CONNECT bypasses body framing and hands the connection to the
		// tunneler"). Parsing never resumes on this connection; the next
		// bytes read belong to the tunnel, not another HTTP request.
		co.dispatch(conn, rc, accelerated, intercepted, connState, func() {})
		return
	}

	co.dispatch(conn, rc, accelerated, intercepted, connState, func() {
		r.Post(func() { co.readNext(r, conn, parserCfg, accelerated, intercepted, connState) })
	})
}

func (co *Coordinator) dispatch(conn *connio.Connection, rc *connio.RequestContext, accelerated, intercepted bool, connState *auth.ConnState, next func()) {
	headerValue := proxyAuthHeaderValue(rc.Request, accelerated)

	co.HandleRequest(conn, rc, accelerated, intercepted, connState, headerValue, func(res Result) {
		co.writeResult(conn, rc, accelerated, res)
		next()
	})
}

func proxyAuthHeaderValue(req *httpmsg.Request, accelerated bool) string {
	kind, ok := auth.HeaderKindFor(accelerated, req.Flags.Intercepted)
	if !ok {
		return ""
	}
	return req.Headers.Get(kind.RequestHeader())
}

func (co *Coordinator) writeResult(conn *connio.Connection, rc *connio.RequestContext, accelerated bool, res Result) {
	defer rc.CompleteReply()

	status, resultCode := 0, "TCP_MISS"

	switch res.Outcome {
	case OutcomeChallenge:
		kind, _ := auth.HeaderKindFor(accelerated, false)
		headers := map[string][]string{kind.ChallengeHeader(): {res.ChallengeHdr}}
		status, resultCode = res.Status, "TCP_DENIED"
		if err := writeStatusLine(conn, status, headers); err != nil {
			conn.Teardown()
		}
	case OutcomeDenied:
		headers := map[string][]string{}
		status = 403
		resultCode = "TCP_DENIED"
		if res.DenyTarget != "" {
			headers["Location"] = []string{res.DenyTarget}
			status = 302
		}
		if err := writeStatusLine(conn, status, headers); err != nil {
			conn.Teardown()
		}
	case OutcomeServed:
		if res.Reply != nil {
			status = res.Reply.Status
			if err := writeStatusLine(conn, status, res.Reply.HeaderLines); err != nil {
				conn.Teardown()
			}
		}
	}

	co.logAccess(conn, rc, status, resultCode)
}

func (co *Coordinator) logAccess(conn *connio.Connection, rc *connio.RequestContext, status int, resultCode string) {
	if co.access == nil {
		return
	}
	req := rc.Request
	co.access.Write(accesslog.Record{
		When:       time.Now(),
		ClientIP:   req.ClientAddr,
		Method:     req.MethodToken,
		URI:        req.Scheme + "://" + req.Host + req.Path,
		Status:     status,
		Username:   rc.AuthUsername,
		ConnID:     conn.ID(),
		ResultCode: resultCode,
		Metrics:    rc.Timer.Metrics(),
	})
}

func (co *Coordinator) finishHalfClose(conn *connio.Connection) {
	conn.SetHalfClosed()
	if conn.PipelineDepth() == 0 || !conn.ToleratesHalfClose() {
		conn.Teardown()
	}
}
