package reactorcore

import (
	"sync"
	"time"
)

// Timer wraps a time.Timer whose fire is posted back onto the owning
// Reactor, implementing the read-idle / keepalive / request-header
// timeout resets spec.md §4.1 describes.
type Timer struct {
	mu    sync.Mutex
	inner *time.Timer
	r     *Reactor
	job   Job
}

type timerWheel struct {
	mu     sync.Mutex
	timers map[*Timer]struct{}
}

func newTimerWheel() *timerWheel {
	return &timerWheel{timers: make(map[*Timer]struct{})}
}

func (w *timerWheel) schedule(r *Reactor, d time.Duration, j Job) *Timer {
	t := &Timer{r: r, job: j}
	w.mu.Lock()
	w.timers[t] = struct{}{}
	w.mu.Unlock()

	t.inner = time.AfterFunc(d, func() {
		r.Post(j)
	})
	return t
}

func (w *timerWheel) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for t := range w.timers {
		t.Stop()
	}
}

// Stop cancels the timer; it is safe to call more than once.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inner != nil {
		t.inner.Stop()
	}
}

// Reset reschedules the timer to fire after d, the mechanism behind
// "Timeouts are reset to a keepalive value after each reply completes
// and to the request-header value when awaiting the next request"
// (spec.md §4.1).
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inner != nil {
		t.inner.Stop()
	}
	t.inner = time.AfterFunc(d, func() {
		t.r.Post(t.job)
	})
}
