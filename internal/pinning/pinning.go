// Package pinning implements connection pinning: binding one client
// connection to a specific upstream connection after connection-oriented
// authentication (NTLM/Negotiate) or a bumped-TLS handshake completes
// (spec.md §3 "Connection pinning", §4.5, §9 "Connection pinning read
// handler").
//
// The idle-liveness watch below is adapted from the teacher library's
// connection-pool staleness check (pkg/transport/transport.go's
// isConnectionAlive/cleanupIdleConnections in WhileEndless/go-rawhttp):
// the teacher set a short read deadline on an idle pooled connection and
// treated anything other than a timeout as "this connection is dead,
// don't hand it out again." Connection pinning needs the same idea in
// the opposite direction — watch an idle *pinned* upstream connection and
// treat any readable event as "the server went away (or sent something
// unexpected); tear the pin down" — so the watcher here is a direct
// adaptation rather than a new invention.
package pinning

import (
	"net"
	"sync"
	"time"

	"github.com/squidgo/proxycore/pkg/errors"
)

// CloseHandler is invoked exactly once when a Pin is torn down, with the
// reason ("client-idle", "upstream-closed", "replaced", "explicit").
type CloseHandler func(reason string)

// Pin binds a client connection to one upstream net.Conn. It carries the
// cached host/port (for reuse validation against a later request on the
// same client connection) and an "auth-bound" flag distinguishing
// NTLM/Negotiate pins (subject to the credential-change TCP-reset rule in
// spec.md §4.5) from bumped-TLS pins.
type Pin struct {
	mu sync.Mutex

	Upstream  net.Conn
	Host      string
	Port      int
	AuthBound bool

	onClose CloseHandler
	closed  bool
	stop    chan struct{}
}

// New creates a pin over an already-established upstream connection and
// starts its idle read-watcher.
func New(upstream net.Conn, host string, port int, authBound bool, onClose CloseHandler) *Pin {
	p := &Pin{
		Upstream:  upstream,
		Host:      host,
		Port:      port,
		AuthBound: authBound,
		onClose:   onClose,
		stop:      make(chan struct{}),
	}
	go p.watchIdle()
	return p
}

// MatchesTarget reports whether a subsequent request on the same client
// connection may reuse this pin rather than requiring a fresh upstream
// connection.
func (p *Pin) MatchesTarget(host string, port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.Host == host && p.Port == port
}

// MarkBusy should be called by the coordinator around each use of the
// pinned connection so watchIdle does not race a legitimate read; it is
// released via MarkIdle once the reply has been forwarded.
func (p *Pin) MarkBusy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Upstream.SetReadDeadline(time.Time{})
}

// MarkIdle re-arms the idle watch after a request/reply cycle completes.
func (p *Pin) MarkIdle() {
	// watchIdle's own loop re-arms the deadline on its next tick; nothing
	// to do here beyond documenting the call site for callers.
}

// watchIdle polls the pinned upstream with a zero-length read behind a
// short deadline. A timeout means "still idle, nobody home, that's fine."
// Anything else — EOF, a read error, or (conservatively) a successful
// read of unsolicited bytes — means the server went away or spoke out of
// turn, and the pin must be torn down.
func (p *Pin) watchIdle() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	probe := make([]byte, 1)
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return
			}
			p.Upstream.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			_, err := p.Upstream.Read(probe)
			p.Upstream.SetReadDeadline(time.Time{})
			p.mu.Unlock()

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue // still idle and alive
			}
			// EOF, a hard error, or unsolicited data: treat as closure
			// either way, matching the design note's "tear it down" rule.
			p.Close("upstream-closed")
			return
		}
	}
}

// Close tears down the pin, closing the upstream connection and invoking
// the registered CloseHandler exactly once.
func (p *Pin) Close(reason string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	err := p.Upstream.Close()
	if p.onClose != nil {
		p.onClose(reason)
	}
	if err != nil {
		return errors.NewConnectionError(p.Host, p.Port, err)
	}
	return nil
}

// Registry tracks at most one Pin per client connection, keyed by an
// opaque connection ID supplied by internal/connio.
type Registry struct {
	mu   sync.Mutex
	pins map[string]*Pin
}

// NewRegistry returns an empty pin registry.
func NewRegistry() *Registry {
	return &Registry{pins: make(map[string]*Pin)}
}

// Bind replaces any existing pin for connID with p, closing the previous
// one first (spec.md §4.5: "the upstream connection is released to
// nobody else" — a new pin always supersedes the old one outright).
func (r *Registry) Bind(connID string, p *Pin) {
	r.mu.Lock()
	old := r.pins[connID]
	r.pins[connID] = p
	r.mu.Unlock()

	if old != nil {
		old.Close("replaced")
	}
}

// Lookup returns the pin for connID, if any.
func (r *Registry) Lookup(connID string) (*Pin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[connID]
	return p, ok
}

// Unbind removes and closes the pin for connID, if present.
func (r *Registry) Unbind(connID, reason string) {
	r.mu.Lock()
	p := r.pins[connID]
	delete(r.pins, connID)
	r.mu.Unlock()

	if p != nil {
		p.Close(reason)
	}
}
