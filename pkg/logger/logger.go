// Package logger provides a small leveled key/value logger used across the
// statelet components. It is intentionally dependency-free so it can be used
// from both the client library and the backend daemon.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the human-readable name of the level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name (case-insensitive). "WARNING" is accepted
// as an alias for WARN. Unknown names return INFO and an error.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %q", s)
	}
}

// Config controls logger construction
type Config struct {
	Level  LogLevel
	Output io.Writer
	Format string // "text" (default) or "json"
	Mode   string
}

// Logger is a leveled logger with persistent key/value fields.
// Loggers are cheap to derive; WithField/WithFields/WithMode return copies.
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	output io.Writer
	format string
	mode   string
	fields map[string]interface{}
}

// New creates a logger with default settings (INFO to stderr)
func New() *Logger {
	return NewWithConfig(Config{Level: INFO})
}

// NewWithConfig creates a logger from an explicit configuration
func NewWithConfig(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		level:  cfg.Level,
		output: out,
		format: cfg.Format,
		mode:   cfg.Mode,
		fields: make(map[string]interface{}),
	}
}

// SetLevel changes the minimum level that will be logged
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current minimum level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetMode sets the mode tag included in every line
func (l *Logger) SetMode(mode string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
}

// GetMode returns the current mode tag
func (l *Logger) GetMode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// IsDebugEnabled reports whether DEBUG messages would be written
func (l *Logger) IsDebugEnabled() bool { return l.GetLevel() <= DEBUG }

// IsInfoEnabled reports whether INFO messages would be written
func (l *Logger) IsInfoEnabled() bool { return l.GetLevel() <= INFO }

// WithField returns a copy of the logger with one extra persistent field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(key, value)
}

// WithFields returns a copy of the logger with extra persistent fields,
// given as alternating key/value pairs. A trailing key without a value is
// dropped.
func (l *Logger) WithFields(keysAndValues ...interface{}) *Logger {
	child := l.clone()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		child.fields[key] = keysAndValues[i+1]
	}
	return child
}

// WithMode returns a copy of the logger with a different mode tag
func (l *Logger) WithMode(mode string) *Logger {
	child := l.clone()
	child.mode = mode
	return child
}

func (l *Logger) clone() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		level:  l.level,
		output: l.output,
		format: l.format,
		mode:   l.mode,
		fields: fields,
	}
}

// Debug logs at DEBUG level
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(DEBUG, msg, keysAndValues...)
}

// Info logs at INFO level
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(INFO, msg, keysAndValues...)
}

// Warn logs at WARN level
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(WARN, msg, keysAndValues...)
}

// Error logs at ERROR level
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(ERROR, msg, keysAndValues...)
}

// Fatal logs at ERROR level and exits the process
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.log(ERROR, msg, keysAndValues...)
	os.Exit(1)
}

func (l *Logger) log(level LogLevel, msg string, keysAndValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format(time.RFC3339))
	sb.WriteString(" [")
	sb.WriteString(level.String())
	sb.WriteString("]")
	if l.mode != "" {
		sb.WriteString(" [")
		sb.WriteString(l.mode)
		sb.WriteString("]")
	}
	sb.WriteString(" ")
	sb.WriteString(msg)

	// Persistent fields first (sorted for stable output), then call-site pairs
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(" ")
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(formatValue(l.fields[k]))
		}
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		sb.WriteString(" ")
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(formatValue(keysAndValues[i+1]))
	}
	sb.WriteString("\n")

	_, _ = io.WriteString(l.output, sb.String())
}

// formatValue renders a field value for text output. Values containing
// spaces are quoted so lines stay splittable.
func formatValue(v interface{}) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case error:
		s = val.Error()
	case string:
		s = val
	default:
		s = fmt.Sprintf("%v", val)
	}
	if strings.Contains(s, " ") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Global logger, used by code that has no injected logger

var (
	globalMu sync.Mutex
	global   = New()
)

// SetGlobalMode sets the mode tag on the global logger
func SetGlobalMode(mode string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.SetMode(mode)
}

// SetLevel sets the minimum level on the global logger
func SetLevel(level LogLevel) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.SetLevel(level)
}

// Debug logs at DEBUG level on the global logger
func Debug(msg string, keysAndValues ...interface{}) { global.Debug(msg, keysAndValues...) }

// Info logs at INFO level on the global logger
func Info(msg string, keysAndValues ...interface{}) { global.Info(msg, keysAndValues...) }

// Warn logs at WARN level on the global logger
func Warn(msg string, keysAndValues ...interface{}) { global.Warn(msg, keysAndValues...) }

// Error logs at ERROR level on the global logger
func Error(msg string, keysAndValues ...interface{}) { global.Error(msg, keysAndValues...) }

// WithField derives a logger from the global one with one extra field
func WithField(key string, value interface{}) *Logger { return global.WithField(key, value) }

// WithFields derives a logger from the global one with extra fields
func WithFields(keysAndValues ...interface{}) *Logger { return global.WithFields(keysAndValues...) }

// WithMode derives a logger from the global one with a different mode
func WithMode(mode string) *Logger { return global.WithMode(mode) }
