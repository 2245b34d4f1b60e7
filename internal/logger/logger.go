// Package logger is the process-wide structured logger. Every entry is
// tagged with the component that produced it, mirroring the
// "[Component] message" convention of the console output.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields are structured key/value pairs attached to one entry.
type Fields = map[string]interface{}

// Options configure the logger.
type Options struct {
	Level  string
	Format string // "text" or "json"
	File   string // optional, appended to
}

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Configure applies opts to the shared logger. It returns a closer for
// the log file, if one was opened.
func Configure(opts Options) (io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	base.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q (must be 'text' or 'json')", opts.Format)
	}

	if opts.File == "" {
		base.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	base.SetOutput(f)
	return f, nil
}

// nopCloser is returned by Configure when no log file was opened.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetOutput redirects log output. Tests use it to capture entries.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetLevel changes the minimum level without touching other options.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

func entry(component string, fields Fields) *logrus.Entry {
	e := base.WithField("component", component)
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	return e
}

func DebugC(component, message string) {
	entry(component, nil).Debug(message)
}

func DebugCF(component, message string, fields Fields) {
	entry(component, fields).Debug(message)
}

func InfoC(component, message string) {
	entry(component, nil).Info(message)
}

func InfoCF(component, message string, fields Fields) {
	entry(component, fields).Info(message)
}

func WarnC(component, message string) {
	entry(component, nil).Warn(message)
}

func WarnCF(component, message string, fields Fields) {
	entry(component, fields).Warn(message)
}

func ErrorC(component, message string) {
	entry(component, nil).Error(message)
}

func ErrorCF(component, message string, fields Fields) {
	entry(component, fields).Error(message)
}
