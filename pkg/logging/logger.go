// Package logging provides the shared logger for facegate.
// It wraps logrus so every component logs with the same format and level,
// and so a single authentication attempt can be followed across packages.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the application-wide logger instance.
var Logger *logrus.Logger

// Fields is an alias for logrus.Fields for convenience.
type Fields = logrus.Fields

// file is the log file opened by Init, if any.
var file io.Writer

func init() {
	Logger = logrus.New()
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
}

// ParseLevel maps a configured level name to a logrus level.
// Unknown names fall back to info.
func ParseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init sets the level and, when logFile is set, writes to both stderr and the file.
func Init(level string, logFile string) error {
	Logger.SetLevel(ParseLevel(level))

	if logFile == "" {
		file = nil
		Logger.SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	file = f

	Logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// Quiet stops writing to stderr. Stderr of the PAM helper is shown to the
// user, so only the log file (if any) keeps receiving entries.
func Quiet() {
	if file != nil {
		Logger.SetOutput(file)
		return
	}
	Logger.SetOutput(io.Discard)
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Warnf logs a formatted warning message.
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Errorf logs a formatted error message.
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// WithField returns an entry with a single field attached.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithError returns an entry with an error attached.
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// Component returns a logger entry for a specific component.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

// Attempt returns an entry tagged with the user and a fresh attempt id.
func Attempt(component, user string) *logrus.Entry {
	return Logger.WithFields(Fields{
		"component": component,
		"user":      user,
		"attempt":   uuid.NewString(),
	})
}
