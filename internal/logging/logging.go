// Package logging provides a leveled logger shared by all components.
// Output defaults to stderr in text format; JSON format is available for
// log aggregation when the tool runs under a scheduler.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. Accepts any casing of
// debug, info, warn/warning, and error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

var (
	mu     sync.Mutex
	level  = LevelInfo
	format = "text"
	out    io.Writer = os.Stderr
)

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// IsDebug reports whether debug logging is enabled.
func IsDebug() bool {
	return GetLevel() <= LevelDebug
}

// SetFormat selects the output format: "text" or "json".
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	format = f
}

// SetOutput redirects log output. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		out = os.Stderr
		return
	}
	out = w
}

// Debug logs a message at debug level.
func Debug(msg string, args ...interface{}) { emit(LevelDebug, msg, args...) }

// Info logs a message at info level.
func Info(msg string, args ...interface{}) { emit(LevelInfo, msg, args...) }

// Warn logs a message at warn level.
func Warn(msg string, args ...interface{}) { emit(LevelWarn, msg, args...) }

// Error logs a message at error level.
func Error(msg string, args ...interface{}) { emit(LevelError, msg, args...) }

func emit(l Level, msg string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	text := msg
	if len(args) > 0 {
		text = fmt.Sprintf(msg, args...)
	}

	if format == "json" {
		entry := map[string]string{
			"ts":    time.Now().Format(time.RFC3339),
			"level": strings.ToLower(l.String()),
			"msg":   text,
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return
		}
		fmt.Fprintln(out, string(b))
		return
	}

	fmt.Fprintf(out, "%s [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), l, text)
}
