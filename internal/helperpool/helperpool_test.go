package helperpool

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/squidgo/proxycore/internal/metrics"
	"github.com/squidgo/proxycore/internal/obslog"
	"github.com/squidgo/proxycore/pkg/constants"
)

func prometheusTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func TestParseReplyOK(t *testing.T) {
	r := parseReply("OK user=alice")
	require.Equal(t, StatusOK, r.Status)
	require.Equal(t, "user=alice", r.Rest)
}

func TestParseReplyErr(t *testing.T) {
	r := parseReply("ERR message=bad")
	require.Equal(t, StatusErr, r.Status)
}

func TestParseReplyBH(t *testing.T) {
	r := parseReply("BH helper unavailable")
	require.Equal(t, StatusBH, r.Status)
}

func TestParseReplyUnknownToken(t *testing.T) {
	r := parseReply("garbage")
	require.Equal(t, StatusUnknown, r.Status)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, constants.DefaultHelperStartup, cfg.Startup)
	require.Equal(t, constants.DefaultHelperMinChildren, cfg.Min)
	require.Equal(t, constants.DefaultHelperMaxChildren, cfg.Max)
	require.Equal(t, constants.DefaultHelperQueueSize, cfg.QueueSize)
}

func TestReplyStatusString(t *testing.T) {
	require.Equal(t, "OK", StatusOK.String())
	require.Equal(t, "TimedOut", StatusTimedOut.String())
	require.Equal(t, "Unknown", StatusUnknown.String())
}

// fakeChild wires a child to an in-memory pipe so the wire protocol and
// dispatch logic can be exercised without spawning a real process.
func newFakeChild() (*child, *bufio.Reader, io.WriteCloser) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	c := &child{
		stdin:   inW,
		stdout:  bufio.NewReader(outR),
		pending: make(map[int]*request),
	}
	return c, bufio.NewReader(inR), outW
}

func TestSubmitAndReplyConcurrent(t *testing.T) {
	cfg := Config{Name: "test", Concurrency: 4, Max: 1}.withDefaults()
	p := New(cfg, obslog.Nop(), metrics.New(prometheusTestRegistry()))

	c, serverSide, serverOut := newFakeChild()
	p.children = []*child{c}
	go p.readLoop(c)

	results := make(chan Reply, 1)
	go p.Submit(context.Background(), "check alice", func(r Reply) { results <- r })

	line, err := serverSide.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "1 check alice\n", line)

	_, err = serverOut.Write([]byte("1 OK\n"))
	require.NoError(t, err)

	select {
	case r := <-results:
		require.Equal(t, StatusOK, r.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestShutdownRepliesQueuedUnknownAndClosesIdleChildren(t *testing.T) {
	cfg := Config{Name: "test", Concurrency: 1, Max: 1}.withDefaults()
	p := New(cfg, obslog.Nop(), metrics.New(prometheusTestRegistry()))

	c, serverSide, _ := newFakeChild()
	p.children = []*child{c}

	results := make(chan Reply, 1)
	p.mu.Lock()
	p.queue = append(p.queue, &request{callback: func(r Reply) { results <- r }})
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown deadlocked")
	}

	select {
	case r := <-results:
		require.Equal(t, StatusUnknown, r.Status)
	default:
		t.Fatal("expected queued request to be replied Unknown")
	}

	c.mu.Lock()
	require.True(t, c.shutdown)
	c.mu.Unlock()

	// The child had no pending requests, so Shutdown closed its stdin;
	// the server side observes EOF.
	_, err := serverSide.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)
}

func TestShutdownLeavesChildWithPendingRequestsOpen(t *testing.T) {
	cfg := Config{Name: "test", Concurrency: 1, Max: 1}.withDefaults()
	p := New(cfg, obslog.Nop(), metrics.New(prometheusTestRegistry()))

	c, _, _ := newFakeChild()
	c.pending[1] = &request{}
	p.children = []*child{c}

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown deadlocked")
	}

	c.mu.Lock()
	require.True(t, c.shutdown)
	_, stillPending := c.pending[1]
	c.mu.Unlock()
	require.True(t, stillPending)
}

func TestOverloadErrPolicy(t *testing.T) {
	cfg := Config{Name: "test", Concurrency: 1, Max: 1, QueueSize: 1, Overload: OverloadErr}.withDefaults()
	p := New(cfg, obslog.Nop(), metrics.New(prometheusTestRegistry()))

	// Pre-fill the queue past QueueSize and backdate overloadSince past
	// the grace period, so the next Submit observes a stuck-overloaded
	// pool (spec.md §4.2 "If queue size exceeds queue_size for more than
	// 180 s").
	past := time.Now().Add(-constants.HelperOverloadGrace - time.Second)
	p.mu.Lock()
	p.queue = append(p.queue, &request{})
	p.overloadSince = &past
	p.mu.Unlock()

	results := make(chan Reply, 1)
	p.Submit(context.Background(), "x", func(r Reply) { results <- r })

	select {
	case r := <-results:
		require.Equal(t, StatusError, r.Status)
	case <-time.After(time.Second):
		t.Fatal("expected immediate overload error")
	}
}
