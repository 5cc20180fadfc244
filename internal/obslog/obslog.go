// Package obslog wires structured logging for proxycore. It is a thin
// adapter over github.com/hashicorp/go-hclog, grounded on how
// nabbar-golib/logger/hashicorp bridges hclog into its own logger: a
// single small wrapper type, field-based logging, no package-level
// global logger — every component carries its own *Logger the way
// client.Client carries its own state in the teacher library.
package obslog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// Logger is the logging handle threaded through every proxycore
// component (reactor, connection, ACL evaluator, helper pool, ...).
type Logger struct {
	base hclog.Logger
}

// New returns a root Logger with the given name at the given level
// ("trace", "debug", "info", "warn", "error"; defaults to "info").
func New(name, level string) *Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return &Logger{base: hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      lvl,
		Output:     os.Stderr,
		JSONFormat: false,
	})}
}

// With returns a child logger with the given key/value fields attached
// to every subsequent log line (e.g. conn_id, req_id, helper name).
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{base: l.base.With(args...)}
}

// Named returns a child logger with an additional name component
// (e.g. "acl", "helperpool", "auth").
func (l *Logger) Named(name string) *Logger {
	return &Logger{base: l.base.Named(name)}
}

func (l *Logger) Trace(msg string, args ...interface{}) { l.base.Trace(msg, args...) }
func (l *Logger) Debug(msg string, args ...interface{}) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.base.Error(msg, args...) }

// HCLog exposes the underlying hclog.Logger for libraries that accept one
// directly (e.g. a future dependency needing hclog.Logger as an interface
// parameter).
func (l *Logger) HCLog() hclog.Logger { return l.base }

// Nop returns a Logger that discards everything, for tests.
func Nop() *Logger { return &Logger{base: hclog.NewNullLogger()} }
