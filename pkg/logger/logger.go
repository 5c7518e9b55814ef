// Package logger writes leveled, structured log lines as JSON or
// key=value text. The ledger, the CLI and the worker all log through it;
// the scheduler and event bus use log/slog bridged from the same settings.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level orders messages by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError

	// levelOff is above every real level.
	levelOff
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l >= levelOff {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel accepts the level names case-insensitively, plus "warning".
// Anything else means LevelInfo.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if s == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// Field is one key/value pair attached to a line.
type Field struct {
	Key   string
	Value any
}

// Common field constructors for convenience.
func String(key, value string) Field    { return Field{Key: key, Value: value} }
func Int(key string, value int) Field   { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field   { return Field{Key: key, Value: value} }

// Err creates an error field. A nil error logs as null.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration logs d in its String form, e.g. "1.5s".
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d.String()}
}

// LogEntry is one JSON line.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Format selects the output encoding.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatText writes "time LEVEL message key=value ..." lines.
	FormatText Format = "text"
)

// ParseFormat parses a string into a Format. Unknown values mean JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// encoder writes one entry; it runs under the shared output lock.
type encoder func(w io.Writer, e LogEntry)

func encodeJSON(w io.Writer, e LogEntry) {
	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(w, "%s [%s] %s (unencodable fields: %v)\n", e.Timestamp, e.Level, e.Message, err)
		return
	}
	_, _ = w.Write(append(data, '\n'))
}

// encodeText sorts fields by key so lines diff cleanly.
func encodeText(w io.Writer, e LogEntry) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", e.Timestamp, e.Level, e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	if e.Caller != "" {
		b.WriteString(" caller=" + e.Caller)
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(w, b.String())
}

// Logger writes leveled, structured lines. Loggers derived with With or
// WithLevel share their parent's output and lock.
type Logger struct {
	mu     *sync.Mutex
	output io.Writer
	encode encoder
	level  Level
	fields []Field

	addCaller  bool
	callerSkip int
}

// Options configures the logger.
type Options struct {
	Output     io.Writer
	Level      Level
	Format     Format
	AddCaller  bool
	CallerSkip int
}

// New creates a Logger. A nil Output means os.Stderr; an empty Format
// means JSON.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	enc := encodeJSON
	if opts.Format == FormatText {
		enc = encodeText
	}
	return &Logger{
		mu:         &sync.Mutex{},
		output:     opts.Output,
		encode:     enc,
		level:      opts.Level,
		addCaller:  opts.AddCaller,
		callerSkip: opts.CallerSkip,
	}
}

// Default is an info-level JSON logger on stderr.
func Default() *Logger {
	return New(Options{Level: LevelInfo})
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: levelOff})
}

// With returns a new Logger with the given fields added.
func (l *Logger) With(fields ...Field) *Logger {
	c := *l
	c.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return &c
}

// WithLevel returns a new Logger with the specified minimum log level.
func (l *Logger) WithLevel(level Level) *Logger {
	c := *l
	c.level = level
	return &c
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}

	e := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
	}
	if l.addCaller {
		if _, file, line, ok := runtime.Caller(2 + l.callerSkip); ok {
			e.Caller = fmt.Sprintf("%s:%d", file[strings.LastIndex(file, "/")+1:], line)
		}
	}
	if n := len(l.fields) + len(fields); n > 0 {
		e.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			e.Fields[f.Key] = f.Value
		}
		// call-site fields win over inherited ones
		for _, f := range fields {
			e.Fields[f.Key] = f.Value
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.encode(l.output, e)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Field) { l.log(LevelInfo, msg, fields) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Field) { l.log(LevelWarn, msg, fields) }

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns a default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// RunIDKey is the field key that ties together the lines of one CLI run
// or one scheduled job execution.
const RunIDKey = "run_id"

// WithRunID returns a logger with the run ID field added.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.With(String(RunIDKey, runID))
}

// Ledger-related logging helpers.
func ClassID(id string) Field       { return String("class_id", id) }
func StudentID(id string) Field     { return String("student_id", id) }
func StudentNumber(n int) Field     { return Int("student_number", n) }
func Category(name string) Field    { return String("category", name) }
func Points(delta int) Field        { return Int("points", delta) }
func Operator(name string) Field    { return String("operator", name) }
func RewardID(id string) Field      { return String("reward_id", id) }
func Count(n int) Field             { return Int("count", n) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
