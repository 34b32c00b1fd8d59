// Package logging provides a thin structured-logging facade used across the
// player engine. Components obtain a scoped logger with WithFields and attach
// component/function context; the backend is logrus and can be swapped for
// tests with SetOutput/SetLevel.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a map of structured log fields
type Fields map[string]any

// Logger is the interface components log through
type Logger interface {
	Debug(msg string, fields ...Fields)
	Info(msg string, fields ...Fields)
	Warn(msg string, fields ...Fields)
	Error(err error, msg string, fields ...Fields)
	WithFields(fields Fields) Logger
}

var root = newRootLogger()

func newRootLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// SetLevel sets the global log level ("debug", "info", "warn", "error")
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	root.SetLevel(parsed)
	return nil
}

// SetOutput redirects global log output, primarily for tests; nil restores
// stderr
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	root.SetOutput(w)
}

type fieldLogger struct {
	entry *logrus.Entry
}

// WithFields returns a logger scoped with the given fields
func WithFields(fields Fields) Logger {
	return &fieldLogger{entry: root.WithFields(logrus.Fields(fields))}
}

func (l *fieldLogger) WithFields(fields Fields) Logger {
	return &fieldLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *fieldLogger) Debug(msg string, fields ...Fields) {
	l.merged(fields).Debug(msg)
}

func (l *fieldLogger) Info(msg string, fields ...Fields) {
	l.merged(fields).Info(msg)
}

func (l *fieldLogger) Warn(msg string, fields ...Fields) {
	l.merged(fields).Warn(msg)
}

func (l *fieldLogger) Error(err error, msg string, fields ...Fields) {
	entry := l.merged(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (l *fieldLogger) merged(fields []Fields) *logrus.Entry {
	entry := l.entry
	for _, f := range fields {
		entry = entry.WithFields(logrus.Fields(f))
	}
	return entry
}

// Debug logs at debug level using the global logger
func Debug(msg string, fields ...Fields) {
	WithFields(nil).Debug(msg, fields...)
}

// Info logs at info level using the global logger
func Info(msg string, fields ...Fields) {
	WithFields(nil).Info(msg, fields...)
}

// Warn logs at warn level using the global logger
func Warn(msg string, fields ...Fields) {
	WithFields(nil).Warn(msg, fields...)
}

// Error logs an error with message and fields using the global logger
func Error(err error, msg string, fields ...Fields) {
	WithFields(nil).Error(err, msg, fields...)
}
