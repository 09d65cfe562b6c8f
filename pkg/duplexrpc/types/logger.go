package types

// Logger is the structured logging contract every Endpoint collaborator is
// handed: a conventional leveled-logger interface with separate Debug
// output gated by ToggleDebug.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output, returning the
	// new state.
	ToggleDebug(value bool) bool
}

// TraceTagger is optionally implemented by a Logger that can tag every
// line it emits with a connection-specific id. NewEndpoint checks for it
// so that a process juggling several Endpoints over one shared Logger
// (one stderr, one log aggregator) can still tell which connection an
// ERROR line came from.
type TraceTagger interface {
	WithTrace(id string) Logger
}
