// Package reactorcore implements the single-threaded cooperative event
// reactor of spec.md §4.1 and §5: "no function may block the thread;
// any library call that could block must be wrapped as an async job."
//
// Squid's reactor is a literal single-threaded epoll loop dispatching
// C callbacks. The idiomatic Go rendition keeps the *serialization*
// guarantee ("All handlers are enqueued and run on the reactor
// thread") without keeping the literal single-thread-polls-fds shape:
// one goroutine drains a job channel and runs every Job to completion
// before picking up the next, so two jobs for the same connection can
// never run concurrently, matching spec.md §5 "the evaluator
// serializes resumption on one checklist" and "no shared-memory
// concurrency within a process." Handlers running on other goroutines
// (a helper pool's readLoop, an async DNS lookup) hand back into the
// reactor via Reactor.Post rather than mutating reactor-owned state
// directly — the Go equivalent of Squid's cbdata-guarded callback
// re-entry.
package reactorcore

import (
	"sync"
	"time"

	"github.com/squidgo/proxycore/internal/obslog"
)

// Job is one unit of reactor work: a read-ready, write-ready, timeout,
// or close callback (spec.md §4.1 "dispatches registered read, write,
// timeout, and close callbacks").
type Job func()

// Reactor serializes Job execution on a single goroutine.
type Reactor struct {
	jobs   chan Job
	log    *obslog.Logger
	done   chan struct{}
	wg     sync.WaitGroup
	timers *timerWheel
}

// New starts a Reactor with the given job queue depth.
func New(queueDepth int, log *obslog.Logger) *Reactor {
	r := &Reactor{
		jobs:   make(chan Job, queueDepth),
		log:    log.Named("reactor"),
		done:   make(chan struct{}),
		timers: newTimerWheel(),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Reactor) loop() {
	defer r.wg.Done()
	for {
		select {
		case j, ok := <-r.jobs:
			if !ok {
				return
			}
			r.run(j)
		case <-r.done:
			r.drainTimers()
			return
		}
	}
}

func (r *Reactor) run(j Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("reactor job panicked", "recovered", rec)
		}
	}()
	j()
}

// Post enqueues j to run on the reactor goroutine. Safe to call from
// any goroutine (this is the sanctioned re-entry point for helper pool
// callbacks, DNS/ident completions, and timer fires).
func (r *Reactor) Post(j Job) {
	select {
	case r.jobs <- j:
	case <-r.done:
	}
}

// Schedule runs j on the reactor goroutine after d elapses (spec.md
// §4.1 "Timeouts are reset to a keepalive value after each reply
// completes..."). It returns a Timer that can be Stopped or Reset.
func (r *Reactor) Schedule(d time.Duration, j Job) *Timer {
	return r.timers.schedule(r, d, j)
}

// Stop halts the reactor goroutine after draining pending timers. It
// does not wait for in-flight jobs beyond the current one.
func (r *Reactor) Stop() {
	close(r.done)
	r.wg.Wait()
}

func (r *Reactor) drainTimers() {
	r.timers.stopAll()
}
