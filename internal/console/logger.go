package console

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Logger writes formatted, optionally colored console output. The zero
// value is not usable; construct with NewLogger. All methods are safe on a
// nil receiver and safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	verbose  bool
	useColor bool
	jsonLog  bool
	writer   io.Writer
}

// NewLogger creates a logger writing to stdout. verbose gates the *Verbose
// and Debug methods, useColor enables ANSI colors, jsonLog enables full
// request/response body tracing.
func NewLogger(verbose, useColor, jsonLog bool) *Logger {
	return NewLoggerWithWriter(verbose, useColor, jsonLog, os.Stdout)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(verbose, useColor, jsonLog bool, w io.Writer) *Logger {
	return &Logger{
		verbose:  verbose,
		useColor: useColor,
		jsonLog:  jsonLog,
		writer:   w,
	}
}

// SetVerbose toggles verbose output at runtime.
func (l *Logger) SetVerbose(verbose bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
}

// SetWriter redirects all subsequent output to w.
func (l *Logger) SetWriter(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

func (l *Logger) log(color, tag, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.useColor {
		fmt.Fprintf(l.writer, "%s[%s]%s %s\n", color, tag, colorReset, msg)
	} else {
		fmt.Fprintf(l.writer, "[%s] %s\n", tag, msg)
	}
}

func (l *Logger) isVerbose() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(colorCyan, "INFO", format, args...)
}

// InfoVerbose logs an informational message only in verbose mode.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	if !l.isVerbose() {
		return
	}
	l.Info(format, args...)
}

// Success logs a message about a completed operation.
func (l *Logger) Success(format string, args ...interface{}) {
	l.log(colorGreen, "OK", format, args...)
}

// Warning logs a warning message.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(colorYellow, "WARN", format, args...)
}

// WarningVerbose logs a warning only in verbose mode.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	if !l.isVerbose() {
		return
	}
	l.Warning(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(colorRed, "ERROR", format, args...)
}

// Debug logs a debug message only in verbose mode.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.isVerbose() {
		return
	}
	l.log(colorGray, "DEBUG", format, args...)
}

// Request traces an outgoing API call. The payload is printed only when
// JSON logging is enabled.
func (l *Logger) Request(op string, payload interface{}) {
	if l == nil {
		return
	}
	if l.jsonTracing() && payload != nil {
		l.log(colorBlue, "-->", "%s\n%s", op, PrettyJSON(payload))
		return
	}
	l.log(colorBlue, "-->", "%s", op)
}

// Response traces an API response. The payload is printed only when JSON
// logging is enabled.
func (l *Logger) Response(op string, payload interface{}) {
	if l == nil {
		return
	}
	if l.jsonTracing() && payload != nil {
		l.log(colorPurple, "<--", "%s\n%s", op, PrettyJSON(payload))
		return
	}
	l.log(colorPurple, "<--", "%s", op)
}

// Notification logs a pushed event from the daemon. The payload is printed
// only when JSON logging is enabled.
func (l *Logger) Notification(eventType string, payload interface{}) {
	if l == nil {
		return
	}
	if l.jsonTracing() && payload != nil {
		l.log(colorPurple, "EVENT", "%s\n%s", eventType, PrettyJSON(payload))
		return
	}
	l.log(colorPurple, "EVENT", "%s", eventType)
}

func (l *Logger) jsonTracing() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jsonLog
}
