// Package definition holds the default implementations of duplexrpc's
// pluggable collaborators: Logger, Scheduler, Codec, Binder.
package definition

import (
	"fmt"
	"log"
	"os"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

const calldepth = 3

const (
	levelInfo  = "INFO"
	levelWarn  = "WARN"
	levelError = "ERROR"
	levelDebug = "DEBUG"
	levelFatal = "FATAL"
)

func level(prefix, trace, message string) string {
	if trace == "" {
		return fmt.Sprintf("[%s]: %s", prefix, message)
	}
	return fmt.Sprintf("[%s][%s]: %s", prefix, trace, message)
}

// DefaultLogger adapts a standard-library log.Logger to
// duplexrpc's types.Logger: a stdlib *log.Logger plus a debug toggle.
//
// trace, when set, tags every line with the Endpoint it came from. A
// process that dials or accepts several connections shares one stderr;
// without a per-connection tag, an ERROR line gives no way to tell which
// of those connections it belongs to.
type DefaultLogger struct {
	*log.Logger
	debug bool
	trace string
}

// NewDefaultLogger returns the Logger used when an Endpoint is not given
// one explicitly.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		Logger: log.New(os.Stderr, "duplexrpc ", log.LstdFlags),
		debug:  false,
	}
}

// WithTrace implements types.TraceTagger: returns a copy of l tagging
// every subsequent line with id, the Endpoint's own trace id.
func (l *DefaultLogger) WithTrace(id string) types.Logger {
	tagged := *l
	tagged.trace = id
	return &tagged
}

var _ types.TraceTagger = (*DefaultLogger)(nil)

func (l *DefaultLogger) Info(v ...interface{}) {
	l.Output(calldepth, level(levelInfo, l.trace, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.Output(calldepth, level(levelInfo, l.trace, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	l.Output(calldepth, level(levelWarn, l.trace, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.Output(calldepth, level(levelWarn, l.trace, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Error(v ...interface{}) {
	l.Output(calldepth, level(levelError, l.trace, fmt.Sprint(v...)))
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.Output(calldepth, level(levelError, l.trace, fmt.Sprintf(format, v...)))
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.Output(calldepth, level(levelDebug, l.trace, fmt.Sprint(v...)))
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.Output(calldepth, level(levelDebug, l.trace, fmt.Sprintf(format, v...)))
	}
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	l.Output(calldepth, level(levelFatal, l.trace, fmt.Sprint(v...)))
	os.Exit(1)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.Output(calldepth, level(levelFatal, l.trace, fmt.Sprintf(format, v...)))
	os.Exit(1)
}

func (l *DefaultLogger) Panic(v ...interface{}) {
	l.Logger.Panic(v...)
}

func (l *DefaultLogger) Panicf(format string, v ...interface{}) {
	l.Logger.Panicf(format, v...)
}

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}

var _ types.Logger = (*DefaultLogger)(nil)
