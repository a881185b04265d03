package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity levels
type Level = zerolog.Level

// ParseLevel converts a string to a Level, falling back to info
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO", "":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a structured logger backed by zerolog. Context fields are kept
// on the Logger and written per event, so deriving a logger replaces a key
// instead of repeating it.
type Logger struct {
	base      zerolog.Logger
	component string
	traceID   string
	fields    map[string]interface{}
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"` // Include file and line number
	JSONFormat  bool   `json:"json_format"`  // Output as JSON, console otherwise
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	return NewWithWriter(cfg, openOutput(cfg.Output))
}

// NewWithWriter creates a logger writing to w. Used by tests.
func NewWithWriter(cfg *Config, w io.Writer) *Logger {
	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.IncludeFile {
		ctx = ctx.CallerWithSkipFrameCount(3)
	}
	return &Logger{
		base:      ctx.Logger(),
		component: cfg.Component,
		fields:    make(map[string]interface{}),
	}
}

func openOutput(output string) io.Writer {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: cannot open %s, using stdout: %v\n", output, err)
		return os.Stdout
	}
	return file
}

// Default returns the default logger instance
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(&Config{Level: "INFO", Output: "stdout", Component: "app", JSONFormat: true})
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// WithHook returns a new logger that runs h on every event
func (l *Logger) WithHook(h zerolog.Hook) *Logger {
	newLogger := l.clone()
	newLogger.base = l.base.Hook(h)
	return newLogger
}

// WithComponent returns a new logger with the specified component
func (l *Logger) WithComponent(component string) *Logger {
	newLogger := l.clone()
	newLogger.component = component
	return newLogger
}

// WithTraceID returns a new logger with the specified trace ID
func (l *Logger) WithTraceID(traceID string) *Logger {
	newLogger := l.clone()
	newLogger.traceID = traceID
	return newLogger
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newLogger := l.clone()
	newLogger.fields[key] = value
	return newLogger
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newLogger := l.clone()
	for k, v := range fields {
		newLogger.fields[k] = v
	}
	return newLogger
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		base:      l.base,
		component: l.component,
		traceID:   l.traceID,
		fields:    fields,
	}
}

// Debug logs a debug message with optional key/value pairs
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.event(l.base.Debug(), keyvals).Msg(msg)
}

// Info logs an info message with optional key/value pairs
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.event(l.base.Info(), keyvals).Msg(msg)
}

// Warn logs a warning message with optional key/value pairs
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.event(l.base.Warn(), keyvals).Msg(msg)
}

// Error logs an error message with optional key/value pairs
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.event(l.base.Error(), keyvals).Msg(msg)
}

// Fatal logs a fatal message and exits the process
func (l *Logger) Fatal(msg string, keyvals ...interface{}) {
	l.event(l.base.Fatal(), keyvals).Msg(msg)
}

// event writes the logger's context then keyvals. A key given at the call
// site wins over the same context key.
func (l *Logger) event(e *zerolog.Event, keyvals []interface{}) *zerolog.Event {
	if e == nil {
		return nil
	}
	override := make(map[string]bool, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		override[fmt.Sprint(keyvals[i])] = true
	}

	if l.component != "" && !override["component"] {
		e = e.Str("component", l.component)
	}
	if l.traceID != "" && !override["trace_id"] {
		e = e.Str("trace_id", l.traceID)
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		if !override[k] && k != "component" && k != "trace_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		e = appendValue(e, k, l.fields[k])
	}
	return withKeyvals(e, keyvals)
}

func withKeyvals(e *zerolog.Event, keyvals []interface{}) *zerolog.Event {
	if e == nil {
		return nil
	}
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			e = e.Interface(key, "(MISSING)")
			break
		}
		e = appendValue(e, key, keyvals[i+1])
	}
	return e
}

func appendValue(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case error:
		return e.AnErr(key, v)
	case time.Duration:
		return e.Str(key, v.String())
	default:
		return e.Interface(key, v)
	}
}

// Package-level convenience functions

func Debug(msg string, keyvals ...interface{}) { Default().Debug(msg, keyvals...) }
func Info(msg string, keyvals ...interface{})  { Default().Info(msg, keyvals...) }
func Warn(msg string, keyvals ...interface{})  { Default().Warn(msg, keyvals...) }
func Error(msg string, keyvals ...interface{}) { Default().Error(msg, keyvals...) }
