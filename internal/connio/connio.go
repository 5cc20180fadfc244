// Package connio implements the client connection and request context
// types of spec.md §3 ("Client connection", "Request context") and the
// pipelining discipline of spec.md §4.7.
//
// Connection owns the per-connection state a reactor job touches on
// every turn: the input buffer, the in-flight request queue, the
// optional authenticated-user and pinned-upstream handles, and the
// half-close bookkeeping the teacher library's pooled-connection
// liveness check (pkg/transport.isConnectionAlive in
// WhileEndless/go-rawhttp) inspired internal/pinning's idle watcher to
// generalize from.
package connio

import (
	"bufio"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/squidgo/proxycore/internal/auth"
	"github.com/squidgo/proxycore/internal/config"
	"github.com/squidgo/proxycore/internal/httpmsg"
	"github.com/squidgo/proxycore/internal/pinning"
	"github.com/squidgo/proxycore/internal/reactorcore"
	"github.com/squidgo/proxycore/pkg/constants"
	"github.com/squidgo/proxycore/pkg/timing"
)

// Connection is one accepted client TCP (or TLS) connection (spec.md §3).
type Connection struct {
	mu sync.Mutex

	id      string
	conn    net.Conn
	reader  *bufio.Reader
	cfg     *config.Snapshot
	reactor *reactorcore.Reactor

	AuthUser *reactorcore.Handle[*auth.UserRequest]
	Pin      *reactorcore.Handle[*pinning.Pin]

	pipeline      []*RequestContext
	maxPrefetch   int
	halfClosed    bool
	readIdleTimer *reactorcore.Timer

	Close reactorcore.CloseHandlers
}

// New wraps an already-accepted net.Conn. cfg is the Snapshot active at
// accept time; subsequent reads of connection-scoped limits (pipeline
// depth, half-close tolerance) go through cfg rather than re-reading the
// Store, matching spec.md §5's "configuration is immutable per reactor
// turn."
func New(id string, c net.Conn, cfg *config.Snapshot, reactor *reactorcore.Reactor) *Connection {
	return &Connection{
		id:          id,
		conn:        c,
		reader:      bufio.NewReaderSize(c, constants.DefaultClientBufferSize),
		cfg:         cfg,
		reactor:     reactor,
		maxPrefetch: cfg.PipelineMaxPrefetch,
	}
}

// ID returns the opaque connection identifier used as the pinning
// registry key and in access-log entries.
func (c *Connection) ID() string { return c.id }

// Reader exposes the buffered reader for internal/httpmsg's parser and
// chunked decoder.
func (c *Connection) Reader() *bufio.Reader { return c.reader }

// Writer exposes the raw connection for reply writes. Synchronization
// is the caller's responsibility — only the reactor goroutine ever
// writes to a given connection, by construction (spec.md §4.1).
func (c *Connection) Writer() net.Conn { return c.conn }

// ConnContext builds the httpmsg.ConnContext snapshot the parser needs to
// normalize a request's URI.
func (c *Connection) ConnContext(intercepted, accelerated bool) httpmsg.ConnContext {
	local := ""
	if la := c.conn.LocalAddr(); la != nil {
		local = la.String()
	}
	cc := httpmsg.ConnContext{
		ClientAddr:  c.conn.RemoteAddr().String(),
		LocalAddr:   local,
		Accelerated: accelerated,
	}
	if intercepted {
		cc.Intercepted = true
		cc.InterceptedDestIP = local
	}
	return cc
}

// PipelineDepth reports the number of request contexts currently queued
// (awaiting or mid-reply), used to enforce spec.md §4.7's
// pipeline_max_prefetch bound before reading the next request off the
// wire.
func (c *Connection) PipelineDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pipeline)
}

// CanAcceptMore reports whether another request may be read and parsed
// without exceeding pipeline_max_prefetch + 1 in-flight contexts
// (spec.md §4.7).
func (c *Connection) CanAcceptMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pipeline) <= c.maxPrefetch
}

// PushRequest registers req as the newest in-flight request context and
// returns it, appending to the pipeline deque in read order (spec.md
// §4.7 "replies are written back in the order requests were read").
func (c *Connection) PushRequest(req *httpmsg.Request) *RequestContext {
	rc := &RequestContext{conn: c, ID: uuid.NewString(), Request: req, Timer: timing.NewTimer(), Registered: true}
	c.mu.Lock()
	c.pipeline = append(c.pipeline, rc)
	c.mu.Unlock()
	return rc
}

// Oldest returns the request context at the front of the pipeline (the
// only one whose reply may currently be written), or nil if empty.
func (c *Connection) Oldest() *RequestContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pipeline) == 0 {
		return nil
	}
	return c.pipeline[0]
}

// popFront removes rc from the head of the pipeline. It is a no-op (and
// logs nothing — this is an internal invariant, not a caller mistake
// path) if rc is not at the head, which should not happen given replies
// are always completed in read order.
func (c *Connection) popFront(rc *RequestContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pipeline) == 0 || c.pipeline[0] != rc {
		return
	}
	c.pipeline = c.pipeline[1:]
}

// SetHalfClosed marks the connection's read side as having seen EOF
// while replies are still outstanding (spec.md §3's half-closed-client
// tolerance, gated by config.Snapshot.HalfClosedClientTolerance).
func (c *Connection) SetHalfClosed() {
	c.mu.Lock()
	c.halfClosed = true
	c.mu.Unlock()
}

// HalfClosed reports whether the client has shut down its write side.
func (c *Connection) HalfClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halfClosed
}

// ToleratesHalfClose reports whether the active configuration permits
// continuing to serve outstanding replies after the client half-closes.
func (c *Connection) ToleratesHalfClose() bool {
	return c.cfg.HalfClosedClientTolerance
}

// Teardown closes the underlying connection and fires every registered
// close handler exactly once (spec.md §5).
func (c *Connection) Teardown() error {
	c.Close.Fire(true)
	if c.readIdleTimer != nil {
		c.readIdleTimer.Stop()
	}
	return c.conn.Close()
}

// ForceClose closes the underlying connection with a TCP RST rather
// than a clean FIN, for forced shutdown (spec.md §4.7 "On forced
// shutdown the reactor closes connections with TCP RST"). On a non-TCP
// conn it falls back to Teardown's ordinary close.
func (c *Connection) ForceClose() error {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		tc.SetLinger(0)
	}
	return c.Teardown()
}
