package duplexrpc

import "github.com/jabolina/duplexrpc/pkg/duplexrpc/types"

// Re-exported error kinds (types/errors.go carries the doc comments).
var (
	ErrInUse                = types.ErrInUse
	ErrDisconnected         = types.ErrDisconnected
	ErrOverflow             = types.ErrOverflow
	ErrAccessDenied         = types.ErrAccessDenied
	ErrIncompatibleProtocol = types.ErrIncompatibleProtocol
)

// RemoteError, IOError are aliased so callers never need to import the
// types package directly to use errors.As against them.
type RemoteError = types.RemoteError
type IOError = types.IOError
