package connio

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/squidgo/proxycore/internal/config"
	"github.com/squidgo/proxycore/internal/httpmsg"
	"github.com/squidgo/proxycore/internal/obslog"
	"github.com/squidgo/proxycore/internal/reactorcore"
)

func pipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestPushRequestAndOldest(t *testing.T) {
	a, _ := pipeConn(t)
	cfg := config.Default()
	cfg.PipelineMaxPrefetch = 2
	c := New("conn-1", a, cfg, nil)

	r1 := &httpmsg.Request{}
	r2 := &httpmsg.Request{}
	rc1 := c.PushRequest(r1)
	rc2 := c.PushRequest(r2)

	require.Same(t, rc1, c.Oldest())
	require.Equal(t, 2, c.PipelineDepth())

	require.NoError(t, rc1.CompleteReply())
	require.Same(t, rc2, c.Oldest())
	require.Equal(t, 1, c.PipelineDepth())
}

func TestCanAcceptMoreRespectsPrefetchBound(t *testing.T) {
	a, _ := pipeConn(t)
	cfg := config.Default()
	cfg.PipelineMaxPrefetch = 1 // at most 2 in flight
	c := New("conn-1", a, cfg, nil)

	require.True(t, c.CanAcceptMore())
	c.PushRequest(&httpmsg.Request{})
	require.True(t, c.CanAcceptMore())
	c.PushRequest(&httpmsg.Request{})
	require.False(t, c.CanAcceptMore())
}

func TestCompleteReplyTwiceErrors(t *testing.T) {
	a, _ := pipeConn(t)
	c := New("conn-1", a, config.Default(), nil)
	rc := c.PushRequest(&httpmsg.Request{})

	require.NoError(t, rc.CompleteReply())
	err := rc.CompleteReply()
	require.Error(t, err)
	require.True(t, rc.Done())
}

func TestCompleteReplyOutOfOrderDoesNotCorruptPipeline(t *testing.T) {
	a, _ := pipeConn(t)
	c := New("conn-1", a, config.Default(), nil)
	rc1 := c.PushRequest(&httpmsg.Request{})
	rc2 := c.PushRequest(&httpmsg.Request{})

	// Completing the non-head context is a caller bug in practice (replies
	// must be written in read order), but popFront must not corrupt the
	// deque — it silently no-ops rather than removing the wrong slot.
	require.NoError(t, rc2.CompleteReply())
	require.Equal(t, 2, c.PipelineDepth())
	require.Same(t, rc1, c.Oldest())
}

func TestHalfCloseTracking(t *testing.T) {
	a, _ := pipeConn(t)
	c := New("conn-1", a, config.Default(), nil)

	require.False(t, c.HalfClosed())
	c.SetHalfClosed()
	require.True(t, c.HalfClosed())
	require.True(t, c.ToleratesHalfClose())
}

func TestTeardownFiresCloseHandlersOnce(t *testing.T) {
	a, _ := pipeConn(t)
	c := New("conn-1", a, config.Default(), nil)

	calls := 0
	c.Close.Register(func(closing bool) { calls++ })
	require.NoError(t, c.Teardown())
	require.Equal(t, 1, calls)
}

func TestConnContextIntercepted(t *testing.T) {
	a, _ := pipeConn(t)
	c := New("conn-1", a, config.Default(), nil)

	cc := c.ConnContext(true, false)
	require.True(t, cc.Intercepted)
	require.NotEmpty(t, cc.InterceptedDestIP)
}

func TestRequestContextConnReturnsOwner(t *testing.T) {
	a, _ := pipeConn(t)
	c := New("conn-1", a, config.Default(), nil)
	rc := c.PushRequest(&httpmsg.Request{})

	require.Same(t, c, rc.Conn())
}

func TestForceCloseOnNonTCPFallsBackToTeardown(t *testing.T) {
	a, _ := pipeConn(t)
	c := New("conn-1", a, config.Default(), nil)

	calls := 0
	c.Close.Register(func(closing bool) { calls++ })
	require.NoError(t, c.ForceClose())
	require.Equal(t, 1, calls)
}

func TestReactorWiring(t *testing.T) {
	r := reactorcore.New(4, obslog.Nop())
	defer r.Stop()
	a, _ := pipeConn(t)
	c := New("conn-1", a, config.Default(), r)
	require.Equal(t, "conn-1", c.ID())
}
