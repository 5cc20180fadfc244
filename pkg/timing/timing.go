// Package timing provides phase-level timing measurement for one request's
// trip through the admission pipeline (spec.md §4.7 "Request coordinator").
// It is populated into the access-log entry alongside the usual method/URI
// fields so each checkpoint's cost is visible without a separate profiler.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures how long each admission-pipeline phase took for one
// request context.
type Metrics struct {
	// ParseTime is the time spent in the HTTP/1 parser (request-line,
	// headers, and — if applicable — decoding the chunked body).
	ParseTime time.Duration `json:"parse_time"`

	// ACLTime is the time spent evaluating http_access (including any
	// time blocked on an async DNS/ident/helper suspension).
	ACLTime time.Duration `json:"acl_time"`

	// AuthTime is the time spent in the authentication driver, a subset
	// of ACLTime when auth is reached via a proxy_auth term.
	AuthTime time.Duration `json:"auth_time"`

	// HandoffTime is the time from ACL/auth completion to the request
	// being handed to the (external) fetcher.
	HandoffTime time.Duration `json:"handoff_time"`

	// TotalTime is the total time from parse-complete to hand-off or
	// error-page write.
	TotalTime time.Duration `json:"total_time"`
}

// Timer accumulates phase boundaries for one request context. It is not
// safe for concurrent use; a request context lives on one reactor turn.
type Timer struct {
	start time.Time

	parseStart, parseEnd time.Time
	aclStart, aclEnd     time.Time
	authStart, authEnd   time.Time
	handoffStart         time.Time
}

// NewTimer starts a timing session anchored at the current instant.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartParse marks the beginning of request parsing.
func (t *Timer) StartParse() { t.parseStart = time.Now() }

// EndParse marks the end of request parsing.
func (t *Timer) EndParse() { t.parseEnd = time.Now() }

// StartACL marks the beginning of an ACL rule-list check. Calling it again
// after an async suspension resumes accumulation rather than resetting it.
func (t *Timer) StartACL() {
	if t.aclStart.IsZero() {
		t.aclStart = time.Now()
	}
}

// EndACL marks the end of an ACL rule-list check (verdict reached).
func (t *Timer) EndACL() { t.aclEnd = time.Now() }

// StartAuth marks the beginning of an authentication driver call.
func (t *Timer) StartAuth() {
	if t.authStart.IsZero() {
		t.authStart = time.Now()
	}
}

// EndAuth marks the end of an authentication driver call.
func (t *Timer) EndAuth() { t.authEnd = time.Now() }

// StartHandoff marks the moment the coordinator begins handing the request
// to the fetcher.
func (t *Timer) StartHandoff() { t.handoffStart = time.Now() }

// Metrics returns the accumulated phase timings. Safe to call more than
// once; later calls reflect phases completed since the timer started.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.parseStart.IsZero() && !t.parseEnd.IsZero() {
		m.ParseTime = t.parseEnd.Sub(t.parseStart)
	}
	if !t.aclStart.IsZero() && !t.aclEnd.IsZero() {
		m.ACLTime = t.aclEnd.Sub(t.aclStart)
	}
	if !t.authStart.IsZero() && !t.authEnd.IsZero() {
		m.AuthTime = t.authEnd.Sub(t.authStart)
	}
	if !t.handoffStart.IsZero() {
		m.HandoffTime = time.Since(t.handoffStart)
	}
	return m
}

// String provides a human-readable representation, used by debug logging.
func (m Metrics) String() string {
	return fmt.Sprintf("parse=%v acl=%v auth=%v handoff=%v total=%v",
		m.ParseTime, m.ACLTime, m.AuthTime, m.HandoffTime, m.TotalTime)
}
