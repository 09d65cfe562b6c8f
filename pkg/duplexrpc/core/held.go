// Package core implements the Endpoint's internal components: the
// held-object and remote-proxy tables (C3/C4), the pending-operations
// table (C5), the dispatcher (C6), the invocation executor (C7), and the
// reliable/unreliable channels (C1/C2). The public-facing Endpoint,
// handshake, and disconnection logic live one package up, in duplexrpc,
// which composes these.
package core

import (
	"sync"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

type heldEntry struct {
	value     interface{}
	sendCount uint32
}

// HeldObjectTable is the owner-side table: objects
// the peer may reference by ObjectID, with a send-count crediting every
// outbound occurrence and debited by Release messages.
//
// Each table in this package owns its own mutex rather than sharing one
// "master lock" object threaded in from the Endpoint: no critical
// section here ever touches more than one table, so a per-table lock
// gives the same exclusivity a single shared lock would give, without
// serializing unrelated tables behind a single global lock.
type HeldObjectTable struct {
	mu      sync.Mutex
	byID    map[types.ObjectID]*heldEntry
	byValue map[interface{}]types.ObjectID
	nextID  types.ObjectID
	free    []types.ObjectID
	max     int // 0 means unbounded
}

func NewHeldObjectTable(max int) *HeldObjectTable {
	return &HeldObjectTable{
		byID:    make(map[types.ObjectID]*heldEntry),
		byValue: make(map[interface{}]types.ObjectID),
		max:     max,
	}
}

// InstallRoot installs obj at the reserved bootstrap ObjectID. Called
// once, by the handshake, before any other registration.
func (t *HeldObjectTable) InstallRoot(obj interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[types.BootstrapRootID] = &heldEntry{value: obj, sendCount: 1}
	if isHashable(obj) {
		t.byValue[obj] = types.BootstrapRootID
	}
	if t.nextID == types.BootstrapRootID {
		t.nextID = types.BootstrapRootID + 1
	}
}

// RegisterForSend implements the registerLocalForSend hook: returns an
// existing id for obj or allocates one, incrementing the send-count
// either way.
func (t *HeldObjectTable) RegisterForSend(obj interface{}) (types.ObjectID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isHashable(obj) {
		if id, ok := t.byValue[obj]; ok {
			t.byID[id].sendCount++
			return id, nil
		}
	}

	if t.max > 0 && len(t.byID) >= t.max {
		return 0, types.ErrOverflow
	}

	id := t.allocateLocked()
	t.byID[id] = &heldEntry{value: obj, sendCount: 1}
	if isHashable(obj) {
		t.byValue[obj] = id
	}
	return id, nil
}

func (t *HeldObjectTable) allocateLocked() types.ObjectID {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		return id
	}
	if t.nextID == types.BootstrapRootID {
		t.nextID++ // ObjectID 0 belongs to the bootstrap root alone.
	}
	id := t.nextID
	t.nextID++
	return id
}

// Retrieve implements the retrieveLocal hook: looks up obj by ObjectID,
// returning ok=false if unknown (the caller then replies AccessDenied).
func (t *HeldObjectTable) Retrieve(id types.ObjectID) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Release applies a Release(count, target) message: subtracts count from
// the entry's send-count, removing it once the count drops to zero.
// Releasing an id that is already gone is a no-op (DESIGN.md Open
// Question #2). count exceeding the tracked send-count is a protocol
// fault, not clamped: the owner never lowers send-count below zero, so
// the caller must terminate the connection.
func (t *HeldObjectTable) Release(id types.ObjectID, count uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byID[id]
	if !ok {
		return nil
	}
	if count > entry.sendCount {
		return types.ErrProtocolFault
	}
	entry.sendCount -= count
	if entry.sendCount == 0 && id != types.BootstrapRootID {
		delete(t.byID, id)
		if isHashable(entry.value) {
			delete(t.byValue, entry.value)
		}
		t.free = append(t.free, id)
	}
	return nil
}

// Len reports how many objects are currently held, for cap checks and
// tests.
func (t *HeldObjectTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// Clear empties the table, used during teardown.
func (t *HeldObjectTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[types.ObjectID]*heldEntry)
	t.byValue = make(map[interface{}]types.ObjectID)
	t.free = nil
}

// isHashable reports whether v is safe to use as a Go map key. Shareable
// objects are normally pointers or interface values wrapping pointers
// (proxies forward to an owner, so held objects are almost always
// reference types), which are always hashable; this guards against a
// caller handing in a slice/map/func-bearing value, which would otherwise
// panic the first time it is used as a byValue key.
func isHashable(v interface{}) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	m := map[interface{}]struct{}{}
	m[v] = struct{}{}
	return true
}
