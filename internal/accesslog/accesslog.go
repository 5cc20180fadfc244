// Package accesslog implements the per-request access-log writer of
// spec.md §5: "The access-log writer owns a bounded in-memory buffer
// per destination (file, daemon, TCP, UDP, syslog); overflow policy is
// configurable (die on error vs. drop-with-warning). A TCP log
// destination holds a reconnecting socket and a ring of up to two
// ≥32 KiB buffers; one is being written while new records accumulate
// in the other."
//
// File destinations use gopkg.in/natefinch/lumberjack.v2 for bounded,
// rotating output rather than a hand-rolled ring buffer, matching the
// size-capped-file pattern several pack repos reach for (e.g.
// guygrigsby-trickster's go.mod).
package accesslog

import (
	"bufio"
	"fmt"
	"log/syslog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/squidgo/proxycore/internal/config"
	"github.com/squidgo/proxycore/internal/obslog"
	"github.com/squidgo/proxycore/pkg/timing"
)

// Record is one completed request's access-log entry.
type Record struct {
	When       time.Time
	ClientIP   string
	Method     string
	URI        string
	Status     int
	Username   string
	ConnID     string
	ResultCode string // e.g. "TCP_MISS", "TCP_DENIED" — caller-supplied
	Metrics    timing.Metrics
}

// line renders rec in a Squid-style access-log line: time elapsed
// client result/status method URL user (no bytes, hierarchy or mime
// fields).
func (r Record) line() string {
	user := r.Username
	if user == "" {
		user = "-"
	}
	return fmt.Sprintf("%d.%03d %6d %s %s/%03d %s %s %s\n",
		r.When.Unix(), r.When.Nanosecond()/1e6,
		r.Metrics.TotalTime.Milliseconds(),
		r.ClientIP, r.ResultCode, r.Status, r.Method, r.URI, user)
}

// Writer is one destination's bounded sink.
type Writer interface {
	Write(rec Record) error
	Close() error
}

// fileWriter rotates through lumberjack once BufferSizeBytes (converted
// to megabytes) of output has accumulated.
type fileWriter struct {
	lj *lumberjack.Logger
}

func newFileWriter(dest config.LogDestination) *fileWriter {
	maxMB := 10
	if dest.BufferSizeBytes > 0 {
		maxMB = dest.BufferSizeBytes / (1 << 20)
		if maxMB < 1 {
			maxMB = 1
		}
	}
	return &fileWriter{lj: &lumberjack.Logger{Filename: dest.Target, MaxSize: maxMB, MaxBackups: 5}}
}

func (w *fileWriter) Write(rec Record) error {
	_, err := w.lj.Write([]byte(rec.line()))
	return err
}

func (w *fileWriter) Close() error { return w.lj.Close() }

// streamWriter is the reconnecting-socket writer for TCP/daemon
// destinations: one bufio.Writer of at least 32 KiB over the socket,
// flushed synchronously on every Write. It keeps a single buffer, not
// a pair that alternates between draining and filling. UDP destinations
// use the same type with network "udp" (no reconnect needed: each
// Write is already a discrete datagram, so "reconnect" degenerates to
// redialing on the rare error).
type streamWriter struct {
	mu      sync.Mutex
	network string
	addr    string
	conn    net.Conn
	buf     *bufio.Writer
	bufSize int
	log     *obslog.Logger
}

func newStreamWriter(network, addr string, bufSize int, log *obslog.Logger) *streamWriter {
	if bufSize < 32*1024 {
		bufSize = 32 * 1024
	}
	return &streamWriter{network: network, addr: addr, bufSize: bufSize, log: log}
}

func (w *streamWriter) ensureConn() error {
	if w.conn != nil {
		return nil
	}
	c, err := net.DialTimeout(w.network, w.addr, 5*time.Second)
	if err != nil {
		return err
	}
	w.conn = c
	w.buf = bufio.NewWriterSize(c, w.bufSize)
	return nil
}

func (w *streamWriter) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureConn(); err != nil {
		return err
	}
	if _, err := w.buf.WriteString(rec.line()); err != nil {
		w.reconnectAfterError()
		return err
	}
	if err := w.buf.Flush(); err != nil {
		w.reconnectAfterError()
		return err
	}
	return nil
}

// reconnectAfterError drops the dead connection so the next Write
// redials, matching the "reconnecting socket" behavior.
func (w *streamWriter) reconnectAfterError() {
	if w.conn != nil {
		w.conn.Close()
	}
	w.conn = nil
	w.buf = nil
}

func (w *streamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// syslogWriter sends one syslog NOTICE record per access-log entry.
type syslogWriter struct {
	w *syslog.Writer
}

func newSyslogWriter(dest config.LogDestination) (*syslogWriter, error) {
	network, addr := "", dest.Target
	if addr != "" {
		network = "udp"
	}
	w, err := syslog.Dial(network, addr, syslog.LOG_NOTICE|syslog.LOG_LOCAL0, "proxycore")
	if err != nil {
		return nil, err
	}
	return &syslogWriter{w: w}, nil
}

func (w *syslogWriter) Write(rec Record) error {
	return w.w.Notice(strings.TrimSuffix(rec.line(), "\n"))
}

func (w *syslogWriter) Close() error { return w.w.Close() }

type destWriter struct {
	dest config.LogDestination
	w    Writer
}

// AccessLog fans one Record out to every configured destination,
// applying each destination's overflow policy independently (spec.md
// §5 "overflow policy is configurable (die on error vs.
// drop-with-warning)").
type AccessLog struct {
	destinations []destWriter
	log          *obslog.Logger
	onFatal      func()
}

// New builds writers for every configured destination. A destination
// whose writer fails to construct (e.g. an unreachable syslog daemon)
// is logged and skipped rather than failing the whole set, since the
// remaining destinations should still receive records.
func New(dests []config.LogDestination, log *obslog.Logger) *AccessLog {
	a := &AccessLog{log: log, onFatal: func() { os.Exit(1) }}
	for _, d := range dests {
		w, err := buildWriter(d, log)
		if err != nil {
			log.Error("access log destination unavailable", "kind", d.Kind, "target", d.Target, "error", err)
			continue
		}
		a.destinations = append(a.destinations, destWriter{dest: d, w: w})
	}
	return a
}

func buildWriter(d config.LogDestination, log *obslog.Logger) (Writer, error) {
	switch d.Kind {
	case "file":
		return newFileWriter(d), nil
	case "tcp":
		return newStreamWriter("tcp", d.Target, d.BufferSizeBytes, log), nil
	case "udp":
		return newStreamWriter("udp", d.Target, d.BufferSizeBytes, log), nil
	case "daemon":
		return newStreamWriter("unix", d.Target, d.BufferSizeBytes, log), nil
	case "syslog":
		return newSyslogWriter(d)
	default:
		return nil, fmt.Errorf("unknown access log destination kind %q", d.Kind)
	}
}

// Write fans rec out to every destination. A destination configured
// with DieOnError terminates the process on write failure; otherwise
// the failure is logged and the remaining destinations still receive
// rec.
func (a *AccessLog) Write(rec Record) {
	for _, d := range a.destinations {
		if err := d.w.Write(rec); err != nil {
			if d.dest.DieOnError {
				a.log.Error("access log write failed, dying per die-on-error policy", "kind", d.dest.Kind, "error", err)
				a.onFatal()
				return
			}
			a.log.Warn("access log write failed, dropping record", "kind", d.dest.Kind, "error", err)
		}
	}
}

// Close closes every destination writer.
func (a *AccessLog) Close() {
	for _, d := range a.destinations {
		d.w.Close()
	}
}
