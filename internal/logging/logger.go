// Package logging provides leveled, component-scoped logging for the
// assistant backend. It supports colored console output, structured
// fields, and optional file logging for persistent troubleshooting.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LOG LEVELS
// ═══════════════════════════════════════════════════════════════════════════════

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal // exits the process
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

var levelColors = [...]string{
	"\033[36m", // cyan
	"\033[32m", // green
	"\033[33m", // yellow
	"\033[31m", // red
	"\033[35m", // magenta
}

const (
	colorReset = "\033[0m"
	colorDim   = "\033[90m"
	colorTag   = "\033[94m"
)

// String returns the string representation of a log level.
func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Color returns the ANSI color code for each level.
func (l Level) Color() string {
	if l < LevelDebug || l > LevelFatal {
		return colorReset
	}
	return levelColors[l]
}

// ParseLevel parses a string into a Level. Unknown strings map to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

// Logger writes leveled log lines to the console and optionally to a file.
// Derived loggers created with WithComponent/WithField share the underlying
// outputs with their parent.
type Logger struct {
	mu        sync.Mutex
	level     Level
	console   io.Writer
	file      *os.File
	colored   bool
	caller    bool
	stamped   bool
	component string
	fields    map[string]interface{}
}

// Config configures the logger behavior.
type Config struct {
	Level      Level  // Minimum level to log
	FilePath   string // Optional file path for persistent logs
	Colored    bool   // Enable colored output
	ShowCaller bool   // Show file:line of caller
	ShowTime   bool   // Show timestamp
	Component  string // Component name prefix
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Colored: true, ShowTime: true}
}

// VerboseConfig returns a configuration for verbose troubleshooting.
func VerboseConfig() *Config {
	return &Config{Level: LevelDebug, Colored: true, ShowCaller: true, ShowTime: true}
}

// New creates a new Logger instance.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{
		level:     cfg.Level,
		console:   os.Stderr,
		colored:   cfg.Colored,
		caller:    cfg.ShowCaller,
		stamped:   cfg.ShowTime,
		component: cfg.Component,
		fields:    make(map[string]interface{}),
	}

	if cfg.FilePath != "" {
		if err := l.SetFileOutput(cfg.FilePath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		}
	}

	return l
}

// ═══════════════════════════════════════════════════════════════════════════════
// GLOBAL LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

var (
	globalMu     sync.RWMutex
	globalLogger = New(DefaultConfig())
)

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Global returns the global logger instance.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	globalMu.Lock()
	globalLogger.level = level
	globalMu.Unlock()
}

// EnableVerbose enables verbose logging globally.
func EnableVerbose() {
	globalMu.Lock()
	globalLogger.level = LevelDebug
	globalLogger.caller = true
	globalMu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// SetFileOutput sets up file logging, creating parent directories as needed.
func (l *Logger) SetFileOutput(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.mu.Lock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.mu.Unlock()
	return nil
}

// Close closes any open file handles.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// clone returns a copy sharing outputs with the parent.
func (l *Logger) clone() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := &Logger{
		level:     l.level,
		console:   l.console,
		file:      l.file,
		colored:   l.colored,
		caller:    l.caller,
		stamped:   l.stamped,
		component: l.component,
		fields:    make(map[string]interface{}, len(l.fields)+1),
	}
	for k, v := range l.fields {
		c.fields[k] = v
	}
	return c
}

// WithComponent returns a new logger with a component prefix.
func (l *Logger) WithComponent(name string) *Logger {
	c := l.clone()
	c.component = name
	return c
}

// WithField returns a new logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	c := l.clone()
	c.fields[key] = value
	return c
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	c := l.clone()
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

// WithRequest returns a new logger carrying a request identifier. Every
// orchestration run tags its log lines this way so a single conversation
// turn can be traced through the driver, the loop, and the gateway.
func (l *Logger) WithRequest(requestID string) *Logger {
	return l.WithField("request_id", requestID)
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOG METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// paint wraps s in an ANSI color when coloring is on.
func (l *Logger) paint(color, s string) string {
	if !l.colored {
		return s
	}
	return color + s + colorReset
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	var sb strings.Builder

	if l.stamped {
		sb.WriteString(l.paint(colorDim, time.Now().Format("2006-01-02 15:04:05.000")))
		sb.WriteByte(' ')
	}

	sb.WriteString(l.paint(level.Color(), fmt.Sprintf("%-5s", level.String())))
	sb.WriteByte(' ')

	if l.component != "" {
		sb.WriteString(l.paint(colorTag, "["+l.component+"]"))
		sb.WriteByte(' ')
	}

	if l.caller {
		// Two frames up: past log() and the level method.
		if _, file, line, ok := runtime.Caller(2); ok {
			sb.WriteString(l.paint(colorDim, fmt.Sprintf("(%s:%d)", filepath.Base(file), line)))
			sb.WriteByte(' ')
		}
	}

	fmt.Fprintf(&sb, format, args...)
	l.appendFields(&sb)
	sb.WriteByte('\n')

	line := sb.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.console.Write([]byte(line))
	if l.file != nil {
		// File output is always plain text.
		l.file.WriteString(stripANSI(line))
	}
}

// appendFields renders structured fields in a stable order.
func (l *Logger) appendFields(sb *strings.Builder) {
	if len(l.fields) == 0 {
		return
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, l.fields[k])
	}
	sb.WriteByte(' ')
	sb.WriteString(l.paint(colorDim, "{"+strings.Join(parts, ", ")+"}"))
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, format, args...)
	os.Exit(1)
}

// ═══════════════════════════════════════════════════════════════════════════════
// GLOBAL LOG FUNCTIONS
// ═══════════════════════════════════════════════════════════════════════════════

// Debug logs a debug message using the global logger.
func Debug(format string, args ...interface{}) { Global().Debug(format, args...) }

// Info logs an info message using the global logger.
func Info(format string, args ...interface{}) { Global().Info(format, args...) }

// Warn logs a warning message using the global logger.
func Warn(format string, args ...interface{}) { Global().Warn(format, args...) }

// Error logs an error message using the global logger.
func Error(format string, args ...interface{}) { Global().Error(format, args...) }

// Fatal logs a fatal message using the global logger and exits.
func Fatal(format string, args ...interface{}) { Global().Fatal(format, args...) }

// ═══════════════════════════════════════════════════════════════════════════════
// VERBOSE TRACING
// ═══════════════════════════════════════════════════════════════════════════════

// Trace logs entry into a function and returns a func that logs the exit.
func (l *Logger) Trace(funcName string) func() {
	start := time.Now()
	l.Debug("→ ENTER %s", funcName)
	return func() {
		l.Debug("← EXIT  %s (took %v)", funcName, time.Since(start))
	}
}

// Trace logs entry using the global logger.
func Trace(funcName string) func() {
	return Global().Trace(funcName)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\033' {
			out = append(out, s[i])
			continue
		}
		for i < len(s) && s[i] != 'm' {
			i++
		}
	}
	return string(out)
}
