// Package logger provides named loggers that share one global handler.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cenkalti/log"
)

var handler log.Handler

func init() {
	SetOutput(os.Stderr)
}

// SetOutput replaces the global handler with one writing to w.
// Loggers created before the call keep writing to the old handler.
func SetOutput(w io.Writer) {
	SetHandler(log.NewWriterHandler(w))
}

// SetHandler changes the global logging handler.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(logFormatter{})
}

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// SetDebug toggles debug messages.
func SetDebug(enabled bool) {
	if enabled {
		SetLevel(log.DEBUG)
	} else {
		SetLevel(log.INFO)
	}
}

// Logger is for logging messages from inside of the program in various logging levels.
type Logger log.Logger

// New returns a new Logger with a name.
// Log messages are prefixed with this name by the default Handler.
func New(name string) Logger {
	logger := log.NewLogger(name)
	logger.SetLevel(log.DEBUG) // forward all messages to handler
	logger.SetHandler(handler)
	return logger
}

type logFormatter struct{}

// Format outputs a message like "2014-02-28 18:15:57 INFO     [picker] piecepicker.go:97 download completed"
func (f logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %s %s",
		rec.Time.Format("2006-01-02 15:04:05"),
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
