// Package helperpool implements the external helper process pool of
// spec.md §4.2: "the only place in the core where request processing is
// parallelized across OS processes." It is grounded on
// original_source/src/helper.cc's child-lifecycle/dispatch/wire-format
// design (helper_servers, the per-request placeholder queue, and the
// "concurrency channel" id-prefix protocol), reimplemented with Go
// goroutines and channels standing in for Squid's single-threaded event
// loop callbacks.
package helperpool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/squidgo/proxycore/internal/metrics"
	"github.com/squidgo/proxycore/internal/obslog"
	"github.com/squidgo/proxycore/pkg/constants"
	perrors "github.com/squidgo/proxycore/pkg/errors"
)

// OverloadPolicy selects what happens once the queue has been over
// capacity for longer than constants.HelperOverloadGrace.
type OverloadPolicy int

const (
	OverloadDie OverloadPolicy = iota
	OverloadErr
)

// osExit is indirected so the "die" overload policy is testable without
// killing the test binary.
var osExit = os.Exit

// ReplyStatus classifies a helper reply by its first token
// (spec.md §4.2 "Replies are classified by the first token").
type ReplyStatus int

const (
	StatusUnknown ReplyStatus = iota
	StatusOK
	StatusErr
	StatusBH
	StatusTimedOut
	StatusError // pool-level: overloaded/shutdown, never reached the child
)

func (s ReplyStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErr:
		return "ERR"
	case StatusBH:
		return "BH"
	case StatusTimedOut:
		return "TimedOut"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Reply is the parsed result handed to a submit callback.
type Reply struct {
	Status ReplyStatus
	Rest   string // everything after the status token, trimmed
	Raw    string
}

// Config describes one helper pool's command line and policy knobs.
type Config struct {
	Name          string
	Command       []string
	Concurrency   int // 0 = stateful (one reservation per child, no id prefix)
	Startup       int
	Min           int
	Max           int
	QueueSize     int
	Timeout       time.Duration // 0 disables timeout enforcement
	RetryTimedOut bool
	Overload      OverloadPolicy
}

func (c Config) withDefaults() Config {
	if c.Startup == 0 {
		c.Startup = constants.DefaultHelperStartup
	}
	if c.Min == 0 {
		c.Min = constants.DefaultHelperMinChildren
	}
	if c.Max == 0 {
		c.Max = constants.DefaultHelperMaxChildren
	}
	if c.QueueSize == 0 {
		c.QueueSize = constants.DefaultHelperQueueSize
	}
	return c
}

// request is one in-flight or queued submission.
type request struct {
	id          int
	line        string
	callback    func(Reply)
	submittedAt time.Time
	retries     int
}

// child is one spawned helper process.
type child struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	startedAt time.Time
	repliedAt *time.Time
	pending   map[int]*request // keyed by id; key 0 used for stateful children
	shutdown  bool
	dead      bool
}

func (c *child) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Pool manages one named helper command's child processes, dispatch
// queue, and reply routing.
type Pool struct {
	cfg Config
	log *obslog.Logger
	met *metrics.Registry

	mu            sync.Mutex
	children      []*child
	queue         []*request
	nextID        int
	overloadSince *time.Time
	spawn         func() (*child, error)
	die           func(reason string) // policy "die"; defaults to os.Exit(1)
}

// New constructs a Pool. Children are started lazily by Start.
func New(cfg Config, log *obslog.Logger, met *metrics.Registry) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{cfg: cfg, log: log.Named("helperpool").With("pool", cfg.Name), met: met}
	p.spawn = p.spawnProcess
	p.die = func(reason string) {
		p.log.Error("helper pool overloaded past grace period, dying", "reason", reason)
		osExit(1)
	}
	return p
}

// Start opens children up to Startup (spec.md §4.2 "Startup").
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.cfg.Startup && len(p.children) < p.cfg.Max; i++ {
		c, err := p.spawn()
		if err != nil {
			return perrors.NewHelperError("Start", "failed to spawn helper child", err)
		}
		p.children = append(p.children, c)
		go p.readLoop(c)
		go p.watchCrashLoop(c)
	}
	return nil
}

func (p *Pool) spawnProcess() (*child, error) {
	if len(p.cfg.Command) == 0 {
		return nil, fmt.Errorf("helperpool %s: empty command", p.cfg.Name)
	}
	cmd := exec.Command(p.cfg.Command[0], p.cfg.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &child{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewReader(stdout),
		startedAt: time.Now(),
		pending:   make(map[int]*request),
	}, nil
}

// watchCrashLoop enforces "if a child exits within 30s of start with no
// replies it triggers a fatal crashing-too-rapidly error; otherwise the
// pool replaces it" (spec.md §4.2).
func (p *Pool) watchCrashLoop(c *child) {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.dead = true
	crashed := time.Since(c.startedAt) < constants.DefaultHelperStartupWindow && c.repliedAt == nil
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, r := range pending {
		r.callback(Reply{Status: StatusError, Rest: "child exited"})
	}

	if crashed {
		p.log.Error("helper child crashed within startup window", "err", err)
		osExit(1)
		return
	}
	p.log.Warn("helper child exited, replacing", "err", err)
	p.replaceChild(c)
}

func (p *Pool) replaceChild(dead *child) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.children {
		if c == dead {
			nc, err := p.spawn()
			if err != nil {
				p.log.Error("failed to replace helper child", "err", err)
				p.children = append(p.children[:i], p.children[i+1:]...)
				return
			}
			p.children[i] = nc
			go p.readLoop(nc)
			go p.watchCrashLoop(nc)
			return
		}
	}
}

// readLoop accumulates a child's stdout, splitting on the eom character
// (spec.md §4.2 "each occurrence of the eom character terminates one
// reply").
func (p *Pool) readLoop(c *child) {
	for {
		line, err := c.stdout.ReadString(constants.HelperEOM)
		if err != nil {
			return
		}
		p.dispatchReply(c, line)
	}
}

func (p *Pool) dispatchReply(c *child, line string) {
	line = strings.TrimRight(line, "\r\n")

	var id int
	body := line
	stateful := p.cfg.Concurrency == 0
	if !stateful {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			p.log.Warn("unparseable helper reply, discarding", "line", line)
			return
		}
		var err error
		id, err = strconv.Atoi(line[:sp])
		if err != nil {
			p.log.Warn("unparseable helper reply id, discarding", "line", line)
			return
		}
		body = line[sp+1:]
	}

	c.mu.Lock()
	now := time.Now()
	c.repliedAt = &now
	key := id
	if stateful {
		key = 0
	}
	req, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	closeNow := ok && c.shutdown && len(c.pending) == 0
	c.mu.Unlock()

	if closeNow {
		c.stdin.Close()
	}

	if !ok {
		p.log.Warn("helper reply id not matched, discarding", "id", id)
		return
	}

	req.callback(parseReply(body))
	p.met.HelperReplies.WithLabelValues(p.cfg.Name, parseReply(body).Status.String()).Inc()
	p.pumpQueue()
}

// parseReply classifies a reply body by its leading token.
func parseReply(body string) Reply {
	body = strings.TrimSpace(body)
	sp := strings.IndexByte(body, ' ')
	token := body
	rest := ""
	if sp >= 0 {
		token = body[:sp]
		rest = strings.TrimSpace(body[sp+1:])
	}
	switch strings.ToUpper(token) {
	case "OK":
		return Reply{Status: StatusOK, Rest: rest, Raw: body}
	case "ERR":
		return Reply{Status: StatusErr, Rest: rest, Raw: body}
	case "BH":
		return Reply{Status: StatusBH, Rest: rest, Raw: body}
	default:
		return Reply{Status: StatusUnknown, Rest: rest, Raw: body}
	}
}

// Submit enqueues input for processing, invoking cb exactly once with
// the eventual Reply (spec.md §4.2 "Dispatch").
func (p *Pool) Submit(ctx context.Context, input string, cb func(Reply)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.met.HelperRequests.WithLabelValues(p.cfg.Name).Inc()

	if p.isOverloadedLocked() {
		switch p.cfg.Overload {
		case OverloadErr:
			p.mu.Unlock()
			cb(Reply{Status: StatusError, Rest: "overloaded"})
			p.mu.Lock()
			return
		case OverloadDie:
			p.die(p.cfg.Name)
		}
	}

	r := &request{line: input, callback: cb, submittedAt: time.Now()}
	if p.cfg.Concurrency > 0 {
		p.nextID++
		r.id = p.nextID
	}

	if c := p.leastLoadedLocked(); c != nil {
		p.dispatchToLocked(c, r)
		return
	}

	if p.needNewLocked() {
		nc, err := p.spawn()
		if err == nil {
			p.children = append(p.children, nc)
			go p.readLoop(nc)
			go p.watchCrashLoop(nc)
			p.dispatchToLocked(nc, r)
			return
		}
	}

	p.queue = append(p.queue, r)
	p.met.HelperQueueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
}

func (p *Pool) leastLoadedLocked() *child {
	var best *child
	bestLoad := -1
	for _, c := range p.children {
		c.mu.Lock()
		shutdown, dead := c.shutdown, c.dead
		load := len(c.pending)
		c.mu.Unlock()
		if shutdown || dead {
			continue
		}
		limit := p.cfg.Concurrency
		if limit == 0 {
			limit = 1
		}
		if load >= limit {
			continue
		}
		if best == nil || load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

func (p *Pool) needNewLocked() bool {
	return len(p.children) < p.cfg.Max
}

func (p *Pool) dispatchToLocked(c *child, r *request) {
	key := r.id
	if p.cfg.Concurrency == 0 {
		key = 0
	}
	c.mu.Lock()
	c.pending[key] = r
	c.mu.Unlock()

	line := r.line
	if p.cfg.Concurrency > 0 {
		line = strconv.Itoa(r.id) + " " + line
	}
	if !strings.HasSuffix(line, string(constants.HelperEOM)) {
		line += string(constants.HelperEOM)
	}
	c.mu.Lock()
	_, err := io.WriteString(c.stdin, line)
	c.mu.Unlock()
	if err != nil {
		p.log.Error("helper write failed", "err", err)
	}
}

// pumpQueue dispatches queued requests onto newly-free children, called
// after every reply and periodically by CheckTimeouts.
func (p *Pool) pumpQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 {
		c := p.leastLoadedLocked()
		if c == nil {
			break
		}
		r := p.queue[0]
		p.queue = p.queue[1:]
		p.dispatchToLocked(c, r)
	}
	p.met.HelperQueueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
}

// CheckTimeouts removes requests older than cfg.Timeout from the head
// of the queue, retrying or failing them per spec.md §4.2 "Timeout and
// retry". Callers invoke this periodically (e.g. from a reactor tick).
func (p *Pool) CheckTimeouts() {
	if p.cfg.Timeout <= 0 || p.cfg.Concurrency == 0 {
		return
	}
	p.mu.Lock()
	now := time.Now()
	var survivors []*request
	var expired []*request
	for _, r := range p.queue {
		if now.Sub(r.submittedAt) > p.cfg.Timeout {
			expired = append(expired, r)
		} else {
			survivors = append(survivors, r)
		}
	}
	p.queue = survivors
	p.mu.Unlock()

	for _, r := range expired {
		p.met.HelperTimeouts.WithLabelValues(p.cfg.Name).Inc()
		if p.cfg.RetryTimedOut && r.retries < constants.HelperRetryCap {
			r.retries++
			p.mu.Lock()
			p.queue = append(p.queue, r)
			p.mu.Unlock()
			continue
		}
		r.callback(Reply{Status: StatusTimedOut})
	}
	p.pumpQueue()
}

func (p *Pool) isOverloadedLocked() bool {
	over := len(p.queue) >= p.cfg.QueueSize
	now := time.Now()
	if over {
		if p.overloadSince == nil {
			p.overloadSince = &now
			p.log.Warn("helper pool entering overload", "pool", p.cfg.Name)
			return false
		}
		return now.Sub(*p.overloadSince) > constants.HelperOverloadGrace
	}
	if p.overloadSince != nil {
		p.overloadSince = nil
		p.log.Info("helper pool overload cleared", "pool", p.cfg.Name)
	}
	return false
}

// Shutdown marks every child shutting-down; each child closes once its
// pending count reaches zero, with any still-queued requests replied
// Unknown (spec.md §4.2 "Shutdown").
func (p *Pool) Shutdown() {
	p.mu.Lock()
	queued := p.queue
	p.queue = nil
	children := append([]*child(nil), p.children...)
	p.mu.Unlock()

	for _, r := range queued {
		r.callback(Reply{Status: StatusUnknown})
	}

	for _, c := range children {
		c.mu.Lock()
		c.shutdown = true
		pending := len(c.pending)
		c.mu.Unlock()
		if pending == 0 {
			c.stdin.Close()
		}
	}
}
