// Package types holds the value types and collaborator interfaces shared
// across the duplexrpc engine: identifiers, message kinds, and the
// consumed-but-not-implemented-here contracts (Logger, Scheduler, Binder,
// Codec).
package types

import "fmt"

// NetworkID identifies an Endpoint within a peer session. It is not
// globally meaningful, only unique per connection.
type NetworkID uint16

// ObjectID addresses an entry in the owner's held-object table. The
// bootstrap root is always installed at ObjectID 0.
type ObjectID uint16

// BootstrapRootID is the reserved ObjectID of the handshake root for the
// lifetime of a connection.
const BootstrapRootID ObjectID = 0

// OperationID is a per-connection handle for one in-flight request/reply
// pair. Allocated from a recycling pool so that IDs are never in flight
// twice simultaneously.
type OperationID uint16

// MethodID and PropertyID select a member within a resolved descriptor.
type MethodID uint16
type PropertyID uint16

func (id NetworkID) String() string   { return fmt.Sprintf("net:%d", uint16(id)) }
func (id ObjectID) String() string    { return fmt.Sprintf("obj:%d", uint16(id)) }
func (id OperationID) String() string { return fmt.Sprintf("op:%d", uint16(id)) }
