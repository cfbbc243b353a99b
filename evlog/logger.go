package evlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

type Fields = logrus.Fields

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithFields(fields Fields) Logger
}

var logger = NewNoneLogger()

func SetLogger(l Logger) {
	if l == nil {
		l = NewNoneLogger()
	}
	logger = l
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Warningf(format string, args ...interface{}) {
	logger.Warningf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

func WithFields(fields Fields) Logger {
	return logger.WithFields(fields)
}

func NewDebugLogger() Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return &stdLogger{logrus.NewEntry(l)}
}

func NewLogger() Logger {
	return &stdLogger{logrus.NewEntry(logrus.New())}
}

// NewLevelLogger writes to out at the named logrus level ("debug", "info", ...).
func NewLevelLogger(out io.Writer, level string) (Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	return &stdLogger{logrus.NewEntry(l)}, nil
}

type stdLogger struct {
	entry *logrus.Entry
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *stdLogger) Warningf(format string, args ...interface{}) {
	l.entry.Warningf(format, args...)
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *stdLogger) WithFields(fields Fields) Logger {
	return &stdLogger{l.entry.WithFields(fields)}
}

func NewNoneLogger() Logger {
	return noneLogger{}
}

type noneLogger struct{}

func (noneLogger) Debugf(format string, args ...interface{}) {}

func (noneLogger) Infof(format string, args ...interface{}) {}

func (noneLogger) Warningf(format string, args ...interface{}) {}

func (noneLogger) Errorf(format string, args ...interface{}) {}

func (l noneLogger) WithFields(fields Fields) Logger { return l }
