// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Level names written to the "level" field.  Events are emitted with
// zerolog's Log() and the name attached by hand, so verbosity is
// decided here and never by zerolog's global level.
const (
	levelError   = "error"
	levelWarn    = "warn"
	levelInfo    = "info"
	levelVerbose = "verbose"
	levelDebug   = "debug"
)

// levelTags are the short tags printed by the console format.
var levelTags = map[string]string{
	levelError:   "[ERR]",
	levelWarn:    "[WRN]",
	levelInfo:    "[INF]",
	levelVerbose: "[VRB]",
	levelDebug:   "[DBG]",
}

// Logger writes levelled messages through zerolog, either as a
// human-readable console line or as JSON.
type Logger struct {
	level      LogLevel
	output     io.Writer
	timestamps bool
	json       bool
	fields     map[string]string

	mu sync.RWMutex
	zl zerolog.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	l.timestamps = on
	l.mu.Unlock()
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
	l.rebuild()
}

// SetJSON switches between console lines and one JSON object per line.
func (l *Logger) SetJSON(on bool) {
	l.mu.Lock()
	l.json = on
	l.mu.Unlock()
	l.rebuild()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that attaches key=value to every line.
func (l *Logger) With(key, value string) *Logger {
	l.mu.RLock()
	child := &Logger{
		level:      l.level,
		output:     l.output,
		timestamps: l.timestamps,
		json:       l.json,
		fields:     make(map[string]string, len(l.fields)+1),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	l.mu.RUnlock()
	child.fields[key] = value
	child.rebuild()
	return child
}

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(levelInfo, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(levelWarn, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write(levelVerbose, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write(levelDebug, format, args...)
	}
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(levelError, format, args...)
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()
	zl.Log().Str(zerolog.LevelFieldName, level).Msg(fmt.Sprintf(format, args...))
}

// rebuild recreates the zerolog logger after an output setting changes.
func (l *Logger) rebuild() {
	l.mu.Lock()
	defer l.mu.Unlock()

	var w io.Writer = l.output
	if !l.json {
		cw := zerolog.ConsoleWriter{
			Out:        l.output,
			NoColor:    true,
			TimeFormat: "15:04:05.000",
			FormatLevel: func(i interface{}) string {
				if s, ok := i.(string); ok {
					if tag, ok := levelTags[s]; ok {
						return tag
					}
				}
				return "[???]"
			},
		}
		if !l.timestamps {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		w = cw
	}

	ctx := zerolog.New(w).With()
	if l.timestamps || l.json {
		ctx = ctx.Timestamp()
	}
	for k, v := range l.fields {
		ctx = ctx.Str(k, v)
	}
	l.zl = ctx.Logger()
}

// ParseLogLevel converts a level name or number, as accepted by the
// UDPTERM_LOG environment variable, into a verbosity.
func ParseLogLevel(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "quiet", "error", "off":
		return int(LogQuiet), nil
	case "", "info", "warn", "normal":
		return int(LogNormal), nil
	case "verbose":
		return int(LogVerbose), nil
	case "debug", "trace":
		return int(LogDebug), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	if n > int(LogDebug) {
		n = int(LogDebug)
	}
	return n, nil
}
