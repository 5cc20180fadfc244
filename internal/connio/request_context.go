package connio

import (
	"bufio"

	"github.com/google/uuid"

	"github.com/squidgo/proxycore/internal/httpmsg"
	"github.com/squidgo/proxycore/pkg/buffer"
	"github.com/squidgo/proxycore/pkg/errors"
	"github.com/squidgo/proxycore/pkg/timing"
)

// RequestContext is one parsed request and its in-flight reply state,
// living at a fixed slot in its Connection's pipeline deque (spec.md §3
// "Request context").
//
// CompleteReply implements the Open Question decision on
// clientWriteComplete's move-on-complete discipline: it is the last
// valid use of a RequestContext. Callers — the coordinator's reply-
// writer job — must not retain or reuse rc after calling CompleteReply;
// the done flag turns any such reuse into an explicit error rather than
// silent corruption of the pipeline deque.
type RequestContext struct {
	conn *Connection

	// ID is this request's correlation ID, generated fresh per request
	// (not inherited from the connection) so a pipelined request can be
	// traced through logs independently of its siblings.
	ID string

	Request *httpmsg.Request
	Body    *buffer.Buffer // decoded request body, nil if BodyNone

	ChunkedDecoder *httpmsg.ChunkedDecoder // non-nil while Request.Framing == BodyChunked and decoding isn't finished

	// Timer accumulates this request's admission-pipeline phase timings
	// for the access-log entry (spec.md §4.7), started the moment the
	// context is pushed onto the connection's pipeline.
	Timer *timing.Timer

	// AuthUsername is the authenticated username bound to this request,
	// if any, for the access-log entry's user field.
	AuthUsername string

	Registered bool // true once pushed onto the connection's pipeline
	done       bool
}

// Conn returns the owning Connection, for collaborators (the tunneler,
// the TLS-bumper) that need raw access to the wire once a
// mayUseConnection request (CONNECT, upgrade) has cleared ACL/auth.
func (rc *RequestContext) Conn() *Connection { return rc.conn }

// BodyWriter returns a fresh bufio.Writer-free view suitable as a
// httpmsg.BodySink, backed by rc.Body (lazily created on first use).
func (rc *RequestContext) BodyWriter() *buffer.Buffer {
	if rc.Body == nil {
		rc.Body = buffer.New(0)
	}
	return rc.Body
}

// BodyReader drains rc.Body for hand-off to the external fetcher
// collaborator (spec.md §1). Returns an error if CompleteReply has
// already consumed this context.
func (rc *RequestContext) BodyReader() (*bufio.Reader, error) {
	if rc.done {
		return nil, errors.NewParseError("invalid-request", "request context already completed")
	}
	if rc.Body == nil {
		return bufio.NewReader(nil), nil
	}
	r, err := rc.Body.Reader()
	if err != nil {
		return nil, err
	}
	return bufio.NewReader(r), nil
}

// CompleteReply finalizes rc: it must be the context at the head of the
// connection's pipeline (replies are written in read order, spec.md
// §4.7). It releases the body buffer, pops rc from the pipeline, and
// marks rc done so any later call is rejected rather than silently
// reusing a retired slot.
func (rc *RequestContext) CompleteReply() error {
	if rc.done {
		return errors.NewParseError("invalid-request", "CompleteReply called twice on the same request context")
	}
	if rc.Body != nil {
		if err := rc.Body.Close(); err != nil {
			rc.done = true
			rc.conn.popFront(rc)
			return err
		}
	}
	rc.done = true
	rc.conn.popFront(rc)
	return nil
}

// Done reports whether CompleteReply has already consumed this context.
func (rc *RequestContext) Done() bool { return rc.done }
