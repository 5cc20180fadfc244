package accesslog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/squidgo/proxycore/internal/config"
	"github.com/squidgo/proxycore/internal/obslog"
	"github.com/squidgo/proxycore/pkg/timing"
)

func TestRecordLineFormatsFields(t *testing.T) {
	rec := Record{
		When:       time.Unix(1700000000, 250000000),
		ClientIP:   "10.0.0.5:54321",
		Method:     "GET",
		URI:        "http://example.com/",
		Status:     200,
		ConnID:     "c1",
		ResultCode: "TCP_MISS",
		Metrics:    timing.Metrics{TotalTime: 42 * time.Millisecond},
	}
	line := rec.line()

	require.Contains(t, line, "1700000000.250")
	require.Contains(t, line, "10.0.0.5:54321")
	require.Contains(t, line, "TCP_MISS/200")
	require.Contains(t, line, "GET")
	require.Contains(t, line, "http://example.com/")
	require.Contains(t, line, " -\n")
}

func TestRecordLineUsesUsernameWhenSet(t *testing.T) {
	rec := Record{Username: "stjohns", ResultCode: "TCP_MISS"}
	require.Contains(t, rec.line(), "stjohns")
}

func TestNewSkipsUnbuildableDestination(t *testing.T) {
	al := New([]config.LogDestination{{Kind: "bogus"}}, obslog.Nop())
	require.Empty(t, al.destinations)
}

func TestFileWriterRotatesAndWritesLine(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "access.log")

	al := New([]config.LogDestination{{Kind: "file", Target: target}}, obslog.Nop())
	al.Write(Record{ClientIP: "127.0.0.1:1", Method: "GET", URI: "http://a/", ResultCode: "TCP_MISS", Status: 200})
	al.Close()

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Contains(t, string(data), "TCP_MISS/200")
}

// fakeWriter lets tests control write failures per destination without
// opening a real socket or file.
type fakeWriter struct {
	err    error
	writes int
}

func (w *fakeWriter) Write(rec Record) error {
	w.writes++
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestWriteDieOnErrorStopsAtFirstFailure(t *testing.T) {
	dying := &fakeWriter{err: errWriteFailed}
	after := &fakeWriter{}

	died := false
	al := &AccessLog{
		log:     obslog.Nop(),
		onFatal: func() { died = true },
		destinations: []destWriter{
			{dest: config.LogDestination{Kind: "fake", DieOnError: true}, w: dying},
			{dest: config.LogDestination{Kind: "fake2"}, w: after},
		},
	}

	al.Write(Record{ResultCode: "TCP_MISS"})

	require.True(t, died)
	require.Equal(t, 1, dying.writes)
	require.Equal(t, 0, after.writes)
}

func TestWriteDropsAndContinuesWithoutDieOnError(t *testing.T) {
	failing := &fakeWriter{err: errWriteFailed}
	next := &fakeWriter{}

	died := false
	al := &AccessLog{
		log:     obslog.Nop(),
		onFatal: func() { died = true },
		destinations: []destWriter{
			{dest: config.LogDestination{Kind: "fake", DieOnError: false}, w: failing},
			{dest: config.LogDestination{Kind: "fake2"}, w: next},
		},
	}

	al.Write(Record{ResultCode: "TCP_MISS"})

	require.False(t, died)
	require.Equal(t, 1, failing.writes)
	require.Equal(t, 1, next.writes)
}

var errWriteFailed = errWriteFailedErr("write failed")

type errWriteFailedErr string

func (e errWriteFailedErr) Error() string { return string(e) }
