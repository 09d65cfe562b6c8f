package core

import (
	"runtime"
	"sync"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

type proxyEntry struct {
	proxy   interface{}
	inbound uint32
	refs    uint32
}

// ReleaseFunc is called exactly once, when every occurrence of a proxy
// has been released, with the total inbound-count to credit back to the
// owner in one batched message.
type ReleaseFunc func(id types.ObjectID, count uint32)

// RemoteProxyTable is the receiver-side table: one live proxy value per
// peer ObjectID, counting inbound occurrences so the last outstanding
// handle's Release() credits the owner for all of them in one batched
// message. Every ResolveOrBuild call — cache hit or not — returns its own
// distinct *Proxy handle over the shared value and counts as one
// occurrence; the entry is only removed, and onGone only fires, once
// every handle issued for that id has been released. Releasing one of
// several outstanding handles is a no-op on the table: §4.6's "at most
// one live proxy per id" holds for the value, not for how many times it
// was handed out.
//
// Go has no first-class weak reference, so "weak handle" is approximated
// with an explicit release path: every Proxy returned by ResolveOrBuild
// wraps the binder-produced value in a small handle whose Release method
// is the primary, idiomatic way to drop a remote reference (typically via
// defer). A runtime.SetFinalizer is also registered on the handle as a
// backstop for callers that forget to call Release. That backstop only
// ever fires once nothing else keeps the handle reachable; a caller that
// lets ResolveOrBuildProxy's return value (the bare proxy value, not the
// handle) escape into its own long-lived state must have the handle
// anchored to that value — see types.ProxyLifetime — or the handle is
// collectible the instant the resolving call returns, crediting the
// owner while the value is still in active use. This is why
// ResolveOrBuildProxy hands the value its own handle via AttachHandle
// when the value supports it, instead of discarding the Proxy wrapper.
type RemoteProxyTable struct {
	mu      sync.Mutex
	entries map[types.ObjectID]*proxyEntry
	max     int
	onGone  ReleaseFunc
}

// Proxy is the handle returned to callers of ResolveOrBuild. Value is the
// concrete proxy produced by the Binder; Release drops this reference.
type Proxy struct {
	Value  interface{}
	table  *RemoteProxyTable
	id     types.ObjectID
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// Release drops this reference to the remote object. Safe to call more
// than once; only the first call has an effect. Typically deferred by
// callers immediately after obtaining a Proxy.
func (p *Proxy) Release() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.table.release(p.id)
	})
}

func NewRemoteProxyTable(max int, onGone ReleaseFunc) *RemoteProxyTable {
	return &RemoteProxyTable{
		entries: make(map[types.ObjectID]*proxyEntry),
		max:     max,
		onGone:  onGone,
	}
}

// ResolveOrBuild implements the resolveOrBuildProxy hook:
// returns the existing live proxy for id, or builds a fresh one via
// build() and installs it, resetting the inbound count.
func (t *RemoteProxyTable) ResolveOrBuild(id types.ObjectID, build func() (interface{}, error)) (*Proxy, error) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		entry.inbound++
		entry.refs++
		t.mu.Unlock()
		return t.wrap(id, entry.proxy), nil
	}

	if t.max > 0 && len(t.entries) >= t.max {
		t.mu.Unlock()
		return nil, types.ErrOverflow
	}
	t.mu.Unlock()

	value, err := build()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[id]; ok {
		// Lost a race with a concurrent rebuild; keep the one already
		// installed so every handle for this id shares one value.
		existing.inbound++
		existing.refs++
		return t.wrap(id, existing.proxy), nil
	}
	t.entries[id] = &proxyEntry{proxy: value, inbound: 1, refs: 1}
	return t.wrap(id, value), nil
}

func (t *RemoteProxyTable) wrap(id types.ObjectID, value interface{}) *Proxy {
	p := &Proxy{Value: value, table: t, id: id}
	runtime.SetFinalizer(p, func(p *Proxy) {
		p.Release()
	})
	return p
}

// release drops one occurrence of id. The entry survives, and onGone
// does not fire, until every occurrence resolved for this id has been
// released — whichever handle happens to release first only decrements
// the count.
func (t *RemoteProxyTable) release(id types.ObjectID) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.entries, id)
	credited := entry.inbound
	t.mu.Unlock()

	if t.onGone != nil {
		t.onGone(id, credited)
	}
}

// Len reports how many remote objects are currently tracked.
func (t *RemoteProxyTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear drops every tracked proxy without emitting Release messages
// (used during teardown: the connection is already gone, there is no one
// to send Release to).
func (t *RemoteProxyTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[types.ObjectID]*proxyEntry)
}
