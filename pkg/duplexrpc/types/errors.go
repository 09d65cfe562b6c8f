package types

import "errors"

// Sentinel error kinds returned by the engine. Wrapped with fmt.Errorf("...: %w")
// at the call site so context survives errors.Is/errors.As checks.
var (
	// ErrInUse is returned by Connect on an Endpoint that is already
	// connected.
	ErrInUse = errors.New("endpoint already in use")

	// ErrDisconnected is returned by any accessor primitive attempted on
	// a non-Connected Endpoint, and by pending operations completed at
	// teardown when no transport failure occurred.
	ErrDisconnected = errors.New("endpoint disconnected")

	// ErrOverflow is raised locally when MaxHeldObjects or
	// MaxRemoteObjects would be exceeded. The connection is then
	// terminated.
	ErrOverflow = errors.New("object table capacity exceeded")

	// ErrAccessDenied names the access-denied condition. The engine does
	// not return this sentinel itself: when the peer references an
	// ObjectID not present in the held-object table, the owner replies
	// with a RemoteError whose TypeName is "AccessDenied".
	ErrAccessDenied = errors.New("peer does not hold this object")

	// ErrIncompatibleProtocol is raised during the handshake when the
	// peer's wire protocol major version does not match ours.
	ErrIncompatibleProtocol = errors.New("incompatible protocol version")

	// ErrProtocolFault is raised when a peer's Release message credits
	// more occurrences than this endpoint ever sent for that object. The
	// owner's send-count must never go negative, so divergence can only
	// mean a counting bug or a malicious peer; the connection is
	// terminated rather than silently clamped.
	ErrProtocolFault = errors.New("protocol fault: release count exceeds send count")
)

// IOError wraps a transport failure. Pending operations fail with this;
// OnNetworkError/OnDisconnected observers are notified.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Op == "" {
		return "io error: " + e.Err.Error()
	}
	return "io error during " + e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

func NewIOError(op string, err error) *IOError {
	return &IOError{Op: op, Err: err}
}
