package duplexrpc

import (
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/definition"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// Options configures an Endpoint. The zero value is never used directly;
// always start from DefaultOptions and override only what matters to the
// caller.
type Options struct {
	// Logger receives diagnostic output for this Endpoint. Defaults to a
	// stderr logger with Debug output disabled.
	Logger types.Logger

	// Scheduler runs every piece of user-visible work: public API
	// invocations awaiting a reply, reply completions, and inbound
	// invocation bodies. Defaults to a goroutine-per-continuation
	// scheduler.
	Scheduler types.Scheduler

	// Binder resolves shareable interfaces to proxies and held objects to
	// their dispatch tables. Defaults to a reflection-based registry;
	// callers with generated proxies may supply their own.
	Binder types.Binder

	// Codec serializes Message envelopes across both channels. Defaults
	// to encoding/gob.
	Codec types.Codec

	// MaxHeldObjects bounds how many objects this Endpoint will track on
	// behalf of a single peer. Zero means unbounded.
	MaxHeldObjects int

	// MaxRemoteObjects bounds how many live proxies this Endpoint will
	// track for a single peer. Zero means unbounded.
	MaxRemoteObjects int

	// HandshakeTimeoutSeconds bounds how long Connect, and a Listener's
	// accept path, wait for the peer's half of the handshake before giving
	// up. Zero is replaced by the default of 10 seconds; a negative value
	// means no timeout.
	HandshakeTimeoutSeconds int
}

// DefaultOptions returns the configuration used when NewEndpoint is given
// no overrides: a stderr Logger, a goroutine-per-continuation Scheduler, a
// reflection-based Binder, and the gob Codec, all unbounded.
func DefaultOptions() Options {
	logger := definition.NewDefaultLogger()
	return Options{
		Logger:                  logger,
		Scheduler:               definition.NewGoroutineScheduler(),
		Binder:                  definition.NewDefaultBinder(),
		Codec:                   definition.NewGobCodec(logger),
		MaxHeldObjects:          0,
		MaxRemoteObjects:        0,
		HandshakeTimeoutSeconds: 10,
	}
}

func (o Options) fillDefaults() Options {
	d := DefaultOptions()
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	if o.Scheduler == nil {
		o.Scheduler = d.Scheduler
	}
	if o.Binder == nil {
		o.Binder = d.Binder
	}
	if o.Codec == nil {
		o.Codec = definition.NewGobCodec(o.Logger)
	}
	if o.HandshakeTimeoutSeconds == 0 {
		o.HandshakeTimeoutSeconds = d.HandshakeTimeoutSeconds
	}
	return o
}
