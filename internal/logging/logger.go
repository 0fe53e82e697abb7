package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

// DebugEnabled controls whether or not Logger.Debug* calls produce output.
// It's a package-level switch (rather than a per-logger field) so that a
// single flag on the driver command can toggle verbosity for every
// sublogger created during a run.
var DebugEnabled bool

func init() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ltime)
}

// Logger is the scanner's logging type. It has the property that it still
// functions if nil, but doesn't log anything, so engines can be handed a nil
// logger in tests without special-casing every call site. It wraps the
// standard library's log package so it respects whatever flags are set there.
// It is safe for concurrent use by multiple goroutines, matching the fact
// that every engine logs from worker-pool goroutines.
type Logger struct {
	prefix string
}

// RootLogger is the root logger from which all other loggers derive.
var RootLogger = &Logger{}

// Sublogger creates a new sublogger with the specified name, nesting it under
// this logger's existing prefix (e.g. "registry", then "registry.signing").
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(calldepth, line)
}

// Println logs information with semantics equivalent to fmt.Println.
func (l *Logger) Println(v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintln(v...))
	}
}

// Printf logs information with semantics equivalent to fmt.Printf.
func (l *Logger) Printf(format string, v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Debugln logs information with semantics equivalent to fmt.Println, but only
// if debugging is enabled.
func (l *Logger) Debugln(v ...interface{}) {
	if l != nil && DebugEnabled {
		l.output(3, fmt.Sprintln(v...))
	}
}

// Warn logs error information with a warning prefix in yellow.
func (l *Logger) Warn(err error) {
	if l != nil {
		l.output(3, color.YellowString("Warning: %v", err))
	}
}

// Warnf logs a formatted warning message in yellow.
func (l *Logger) Warnf(format string, v ...interface{}) {
	if l != nil {
		l.output(3, color.YellowString("Warning: "+format, v...))
	}
}

// Error logs error information with an error prefix in red.
func (l *Logger) Error(err error) {
	if l != nil {
		l.output(3, color.RedString("Error: %v", err))
	}
}

// Writer returns an io.Writer that writes lines to the logger using Println.
// It buffers partial lines so that code expecting a plain io.Writer (for
// example a sub-process's combined output) can be
// redirected into the logger without each caller re-implementing buffering.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &lineWriter{callback: l.Println}
}

// lineWriter is an io.Writer that splits its input stream into lines and
// forwards each complete line to callback.
type lineWriter struct {
	callback func(...interface{})
	buffer   []byte
}

func (w *lineWriter) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := indexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}
