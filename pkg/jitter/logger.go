package jitter

import "github.com/sirupsen/logrus"

// Logger is the injected logging sink. The logging backend is supplied
// by the caller; New falls back to NullLogger when given nil.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NullLogger discards everything. It is the default when New is given
// a nil Logger.
type NullLogger struct{}

func (NullLogger) Debugf(string, ...interface{}) {}
func (NullLogger) Infof(string, ...interface{})  {}
func (NullLogger) Warnf(string, ...interface{})  {}
func (NullLogger) Errorf(string, ...interface{}) {}

// LogrusLogger adapts a *logrus.Logger (or the package-level logger,
// via NewLogrusLogger(nil)) to the Logger interface, tagging every
// entry with the component that produced it.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps log (or logrus.StandardLogger() if log is nil)
// with a "component":"jitter" field, mirroring the standardized-field
// helper used elsewhere in this codebase's dependency graph.
func NewLogrusLogger(log *logrus.Logger) *LogrusLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: log.WithField("component", "jitter")}
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
