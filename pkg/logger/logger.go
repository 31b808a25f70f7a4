// Package logger implements component A of SPEC_FULL.md: structured,
// leveled, session-scoped logging with perf sampling and rotation.
//
// Grounded on the teacher's pkg/output (ANSI styling), pkg/progress
// (throttled redraw), and pkg/elog (per-stage message capture), with
// github.com/sirupsen/logrus underneath as the structured sink — the
// teacher links logrus already (go.mod pin) but never wires it up; porg
// uses it for what it is good at (leveled fields, a JSON formatter for the
// optional structured mirror) while keeping the teacher's own terminal
// styling for the human-facing stream.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Logger is a single session's event sink. One Logger owns one session log
// file; concurrent Emit calls from goroutines within the same process are
// safe (single appender, mutex-guarded), and the file is opened O_APPEND so
// that cooperating processes sharing the same session file interleave at
// message granularity (spec.md §5 "Concurrency").
type Logger struct {
	mu       sync.Mutex
	sessionID string
	file     *os.File
	logrus   *logrus.Logger
	jsonMir  *logrus.Logger
	quiet    bool
	isTTY    bool
	counts   [STAGE + 1]int64
}

// Options configures a new session Logger.
type Options struct {
	LogDir   string
	Quiet    bool
	JSONMirror bool
	Color    bool
}

// New opens (creating LogDir if needed) a fresh session log file named
// "<RFC3339-ish timestamp>-<uuid prefix>.log" and returns a ready Logger.
func New(opts Options) (*Logger, error) {
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	id := uuid.NewString()
	ts := time.Now().UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("%s-%s.log", ts, id[:8])
	f, err := os.OpenFile(filepath.Join(opts.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open session log: %w", err)
	}

	l := &Logger{
		sessionID: id,
		file:      f,
		quiet:     opts.Quiet,
		isTTY:     opts.Color && term.IsTerminal(int(os.Stdout.Fd())),
	}

	l.logrus = logrus.New()
	l.logrus.SetOutput(f)
	l.logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	l.logrus.SetLevel(logrus.TraceLevel)

	if opts.JSONMirror {
		jf, err := os.OpenFile(filepath.Join(opts.LogDir, name+".json"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			l.jsonMir = logrus.New()
			l.jsonMir.SetOutput(jf)
			l.jsonMir.SetFormatter(&logrus.JSONFormatter{})
			l.jsonMir.SetLevel(logrus.TraceLevel)
		}
	}
	return l, nil
}

// SessionID returns the UUID assigned to this run.
func (l *Logger) SessionID() string { return l.sessionID }

// Close flushes and closes the session log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Logger) entry(lvl Level) *logrus.Entry {
	fields := logrus.Fields{"session": l.sessionID}
	switch lvl {
	case DEBUG:
		return l.logrus.WithFields(fields)
	case INFO:
		return l.logrus.WithFields(fields)
	case WARN:
		return l.logrus.WithFields(fields)
	case ERROR:
		return l.logrus.WithFields(fields)
	default:
		return l.logrus.WithFields(fields)
	}
}

// Emit appends one UTC-timestamped line to the session log, mirrors to
// stdout unless quiet is set (ERROR and STAGE always mirror, since those
// are exactly the events an operator watching a quiet run still needs),
// and increments the per-level counter.
func (l *Logger) Emit(lvl Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.counts[lvl]++
	l.mu.Unlock()

	e := l.entry(lvl)
	switch lvl {
	case DEBUG:
		e.Debug(msg)
	case INFO:
		e.Info(msg)
	case WARN:
		e.Warn(msg)
	case ERROR:
		e.Error(msg)
	case STAGE:
		e.WithField("stage", true).Info(msg)
	}
	if l.jsonMir != nil {
		je := l.jsonMir.WithFields(logrus.Fields{"session": l.sessionID, "level": lvl.String()})
		je.Info(msg)
	}

	if !l.quiet || lvl == ERROR || lvl == STAGE {
		l.writeStdout(lvl, msg)
	}
}

func (l *Logger) writeStdout(lvl Level, msg string) {
	line := fmt.Sprintf("[%s] %s\n", lvl, msg)
	if l.isTTY {
		line = fmt.Sprintf("[%s] %s\n", colorize(lvl.color(), lvl.String()), msg)
	}
	fmt.Fprint(os.Stdout, line)
}

// Counts returns a snapshot of per-level event counts for this session.
func (l *Logger) Counts() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.counts))
	for lvl := DEBUG; lvl <= STAGE; lvl++ {
		out[lvl.String()] = l.counts[lvl]
	}
	return out
}

// Writer exposes the raw session file for components (e.g. hook stdout/
// stderr capture) that want to stream bytes directly rather than go through
// Emit's line-oriented formatting.
func (l *Logger) Writer() io.Writer { return l.file }
