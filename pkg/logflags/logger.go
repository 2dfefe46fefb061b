package logflags

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Component is a part of kdstub that can be selected with --log-output.
type Component string

const (
	ComponentStub      Component = "stub"
	ComponentGdbWire   Component = "gdbwire"
	ComponentTransport Component = "transport"
	ComponentMonitor   Component = "monitor"
	ComponentTarget    Component = "target"
)

// Components lists every component in the order 'kdstub help log' shows them.
var Components = []Component{ComponentStub, ComponentGdbWire, ComponentTransport, ComponentMonitor, ComponentTarget}

func (c Component) valid() bool {
	for _, c2 := range Components {
		if c == c2 {
			return true
		}
	}
	return false
}

// Logger is what kdstub packages log through. Every logger returned by
// this package carries a layer field naming its component.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LoggerFactory builds the logger of component c. enabled is whether c was
// selected with --log-output, out is the --log-dest writer or nil.
type LoggerFactory func(c Component, enabled bool, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory replaces the logrus based loggers with the ones built
// by lf. Passing nil restores the default.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

// componentLogger is the default Logger, a logrus entry that only lets
// errors through unless its component is enabled.
type componentLogger struct {
	*logrus.Entry
}

func newComponentLogger(c Component, enabled bool, out io.Writer) *componentLogger {
	l := logrus.New()
	l.Formatter = DefaultFormatter()
	if out != nil {
		l.Out = out
	}
	l.Level = logrus.ErrorLevel
	if enabled {
		l.Level = logrus.DebugLevel
	}
	return &componentLogger{l.WithField("layer", string(c))}
}

func (l *componentLogger) WithField(key string, value interface{}) Logger {
	return &componentLogger{l.Entry.WithField(key, value)}
}

func (l *componentLogger) WithError(err error) Logger {
	return &componentLogger{l.Entry.WithError(err)}
}
