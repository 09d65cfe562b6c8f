package core

import (
	"sync"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// pendingResult is what a Return* reply, or teardown, delivers to the
// caller blocked (or awaiting) on one outbound request.
type pendingResult struct {
	Value interface{}
	Err   error
}

// PendingTable is the pending-operations table: one entry per
// outstanding request/reply pair, keyed by a recycled OperationID and
// guarded by its own mutex.
type PendingTable struct {
	mu    sync.Mutex
	slots map[types.OperationID]chan pendingResult
	next  types.OperationID
	free  []types.OperationID
}

func NewPendingTable() *PendingTable {
	return &PendingTable{slots: make(map[types.OperationID]chan pendingResult)}
}

// Allocate reserves a fresh OperationID and returns the channel its reply
// (or a disconnection) will be delivered on.
func (t *PendingTable) Allocate() (types.OperationID, <-chan pendingResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.allocateLocked()
	ch := make(chan pendingResult, 1)
	t.slots[id] = ch
	return id, ch
}

func (t *PendingTable) allocateLocked() types.OperationID {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		return id
	}
	id := t.next
	t.next++
	return id
}

// Complete delivers a reply to the operation id, if still pending.
// Returns false if the id was unknown (already completed, or this is a
// stray/duplicate reply).
func (t *PendingTable) Complete(id types.OperationID, value interface{}, err error) bool {
	t.mu.Lock()
	ch, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
		t.free = append(t.free, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- pendingResult{Value: value, Err: err}
	return true
}

// FailAll completes every still-pending operation with err exactly once,
// used by Disconnect (invariant: on disconnect, every pending
// operation completes exactly once with a disconnection error").
func (t *PendingTable) FailAll(err error) {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[types.OperationID]chan pendingResult)
	t.free = nil
	t.mu.Unlock()

	for _, ch := range slots {
		ch <- pendingResult{Err: err}
	}
}

// Len reports how many operations are currently in flight.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
