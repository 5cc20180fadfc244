package reactorcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/squidgo/proxycore/internal/obslog"
)

func TestPostRunsJobOnReactorGoroutine(t *testing.T) {
	r := New(8, obslog.Nop())
	defer r.Stop()

	done := make(chan struct{})
	r.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestJobsRunSerially(t *testing.T) {
	r := New(8, obslog.Nop())
	defer r.Stop()

	var order []int
	results := make(chan []int, 1)
	for i := 0; i < 5; i++ {
		i := i
		r.Post(func() { order = append(order, i) })
	}
	r.Post(func() { results <- order })

	select {
	case got := <-results:
		require.Equal(t, []int{0, 1, 2, 3, 4}, got)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestPanickingJobDoesNotStopReactor(t *testing.T) {
	r := New(8, obslog.Nop())
	defer r.Stop()

	r.Post(func() { panic("boom") })

	done := make(chan struct{})
	r.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reactor stopped processing after a panic")
	}
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	r := New(8, obslog.Nop())
	defer r.Stop()

	fired := make(chan struct{})
	r.Schedule(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerStopPreventsFire(t *testing.T) {
	r := New(8, obslog.Nop())
	defer r.Stop()

	fired := make(chan struct{})
	timer := r.Schedule(20*time.Millisecond, func() { close(fired) })
	timer.Stop()

	select {
	case <-fired:
		t.Fatal("stopped timer must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleInvalidate(t *testing.T) {
	h := NewHandle(42)
	v, ok := h.Get()
	require.True(t, ok)
	require.Equal(t, 42, v)

	h.Invalidate()
	_, ok = h.Get()
	require.False(t, ok)
}

func TestCloseHandlersFireOnceEach(t *testing.T) {
	var c CloseHandlers
	calls := 0
	c.Register(func(closing bool) { calls++; require.True(t, closing) })
	c.Register(func(closing bool) { calls++ })

	c.Fire(true)
	c.Fire(true) // second Fire must be a no-op

	require.Equal(t, 2, calls)
}

func TestCloseHandlersRegisterAfterFireInvokesImmediately(t *testing.T) {
	var c CloseHandlers
	c.Fire(true)

	called := false
	c.Register(func(closing bool) { called = true })
	require.True(t, called)
}
