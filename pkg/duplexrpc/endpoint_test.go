package duplexrpc

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/definition"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// Counter is the one shareable root interface exercised by this file: a
// method call, a fire-and-forget unreliable call, a read/write property,
// and an indexer, all against the same held object.
type Counter interface {
	Add(n int) (int, error)
	Ping()
	// Spawn returns a brand new Counter, sharing a fresh object rather
	// than this one: the "returned shareable" scenario, exercising
	// RegisterLocalForSend/ResolveOrBuildProxy for an object that never
	// appears in a handshake's root slot.
	Spawn() (Counter, error)
}

const counterTypeName = "test.Counter"
const propCount types.PropertyID = 0
const propItem types.PropertyID = 1

// MethodID assignment follows definition.DefaultBinder's reflection walk, which
// visits an interface's methods in name order, not declaration order.
const methodAdd types.MethodID = 0
const methodPing types.MethodID = 1
const methodSpawn types.MethodID = 2

type counterImpl struct {
	mu    sync.Mutex
	value int
	pings int32
	items []string
}

func (c *counterImpl) Add(n int) (int, error) {
	if n == 0 {
		return 0, fmt.Errorf("n must not be zero")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += n
	return c.value, nil
}

func (c *counterImpl) Ping() {
	atomic.AddInt32(&c.pings, 1)
}

func (c *counterImpl) pingCount() int32 {
	return atomic.LoadInt32(&c.pings)
}

func (c *counterImpl) Spawn() (Counter, error) {
	return &counterImpl{}, nil
}

type countAccessor struct{}

func (a countAccessor) GetValue(target interface{}, index []interface{}) (interface{}, error) {
	c := target.(*counterImpl)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

func (a countAccessor) SetValue(target interface{}, value interface{}, index []interface{}) error {
	c := target.(*counterImpl)
	n, ok := value.(int)
	if !ok {
		return fmt.Errorf("expected int, got %T", value)
	}
	c.mu.Lock()
	c.value = n
	c.mu.Unlock()
	return nil
}

type itemAccessor struct{}

func (a itemAccessor) GetValue(target interface{}, index []interface{}) (interface{}, error) {
	c := target.(*counterImpl)
	i, ok := index[0].(int)
	if !ok {
		return nil, fmt.Errorf("expected int index, got %T", index[0])
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.items) {
		return nil, fmt.Errorf("index %d out of range", i)
	}
	return c.items[i], nil
}

func (a itemAccessor) SetValue(target interface{}, value interface{}, index []interface{}) error {
	c := target.(*counterImpl)
	i, ok := index[0].(int)
	if !ok {
		return fmt.Errorf("expected int index, got %T", index[0])
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i >= len(c.items) {
		c.items = append(c.items, "")
	}
	c.items[i] = s
	return nil
}

type counterProxy struct {
	target  types.ObjectID
	invoker types.ProxyInvoker
	handle  types.ProxyHandle
}

func (p *counterProxy) Add(n int) (int, error) {
	result, err := p.invoker.CallMethod(p.target, methodAdd, nil, []interface{}{n})
	if err != nil {
		return 0, err
	}
	v, _ := result.(int)
	return v, nil
}

func (p *counterProxy) Ping() {
	p.invoker.CallMethodUnreliable(p.target, methodPing, nil, nil)
}

func (p *counterProxy) Spawn() (Counter, error) {
	result, err := p.invoker.CallMethod(p.target, methodSpawn, nil, nil)
	if err != nil {
		return nil, err
	}
	c, _ := result.(Counter)
	return c, nil
}

// AttachHandle implements types.ProxyLifetime: ResolveOrBuildProxy calls
// this right after resolving the reference, anchoring the handle's
// lifetime to this proxy instead of a discarded local variable.
func (p *counterProxy) AttachHandle(h types.ProxyHandle) {
	p.handle = h
}

// Release drops this proxy's remote reference, the primary way to let go
// of a Counter obtained from Spawn. Safe to call on a proxy that never
// received a handle (the handshake-installed root proxy has no AttachHandle
// call site of its own).
func (p *counterProxy) Release() {
	if p.handle != nil {
		p.handle.Release()
	}
}

var _ Counter = (*counterProxy)(nil)
var _ types.ProxyLifetime = (*counterProxy)(nil)

func registerCounter(binder *definition.DefaultBinder) {
	iface := reflect.TypeOf((*Counter)(nil)).Elem()
	binder.Register(counterTypeName, iface, func(target types.ObjectID, invoker types.ProxyInvoker) interface{} {
		return &counterProxy{target: target, invoker: invoker}
	})
	binder.RegisterProperty(counterTypeName, propCount, countAccessor{})
	binder.RegisterProperty(counterTypeName, propItem, itemAccessor{})
}

func newTestOptions() Options {
	binder := definition.NewDefaultBinder()
	registerCounter(binder)
	opts := DefaultOptions()
	opts.Binder = binder
	return opts
}

func mustListenAndDial(t *testing.T, root interface{}) (*Listener, *Endpoint, *Endpoint) {
	t.Helper()
	listener, err := Listen("127.0.0.1:0", root, newTestOptions())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	accepted := make(chan *Endpoint, 1)
	go func() {
		e, err := listener.Accept()
		if err != nil {
			return
		}
		accepted <- e
	}()

	client := NewEndpoint(nil, newTestOptions())
	if err := client.Connect(listener.Addr().String()); err != nil {
		listener.Close()
		t.Fatalf("Connect: %v", err)
	}

	var server *Endpoint
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		listener.Close()
		client.Disconnect()
		t.Fatalf("timed out waiting for Accept")
	}

	return listener, client, server
}

func TestEndpoint_MethodCallRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	listener, client, _ := mustListenAndDial(t, root)
	defer listener.Close()
	defer client.Disconnect()

	counter, ok := client.Server().(Counter)
	if !ok {
		t.Fatalf("expected server proxy to implement Counter, got %T", client.Server())
	}

	sum, err := counter.Add(5)
	if err != nil {
		t.Fatalf("Add(5): %v", err)
	}
	if sum != 5 {
		t.Fatalf("expected 5, got %d", sum)
	}

	sum, err = counter.Add(7)
	if err != nil {
		t.Fatalf("Add(7): %v", err)
	}
	if sum != 12 {
		t.Fatalf("expected 12, got %d", sum)
	}
}

func TestEndpoint_MethodCallPropagatesRemoteError(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	listener, client, _ := mustListenAndDial(t, root)
	defer listener.Close()
	defer client.Disconnect()

	counter := client.Server().(Counter)
	_, err := counter.Add(0)
	if err == nil {
		t.Fatalf("expected an error for Add(0)")
	}
}

func TestEndpoint_PropertyRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	listener, client, _ := mustListenAndDial(t, root)
	defer listener.Close()
	defer client.Disconnect()

	if err := client.SetProperty(types.BootstrapRootID, propCount, 41); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	got, err := client.GetProperty(types.BootstrapRootID, propCount)
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if got.(int) != 41 {
		t.Fatalf("expected 41, got %v", got)
	}
}

func TestEndpoint_IndexerRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	listener, client, _ := mustListenAndDial(t, root)
	defer listener.Close()
	defer client.Disconnect()

	err := client.SetIndexer(types.BootstrapRootID, propItem, "hello", []interface{}{0})
	if err != nil {
		t.Fatalf("SetIndexer: %v", err)
	}
	got, err := client.GetIndexer(types.BootstrapRootID, propItem, []interface{}{0})
	if err != nil {
		t.Fatalf("GetIndexer: %v", err)
	}
	if got.(string) != "hello" {
		t.Fatalf("expected %q, got %v", "hello", got)
	}

	if _, err := client.GetIndexer(types.BootstrapRootID, propItem, []interface{}{99}); err == nil {
		t.Fatalf("expected an out-of-range error")
	}
}

func TestEndpoint_UnreliableCallDelivered(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	listener, client, _ := mustListenAndDial(t, root)
	defer listener.Close()
	defer client.Disconnect()

	counter := client.Server().(Counter)

	const n = 200
	for i := 0; i < n; i++ {
		counter.Ping()
	}

	deadline := time.Now().Add(3 * time.Second)
	for root.pingCount() < n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := root.pingCount(); got != n {
		t.Fatalf("expected %d pings delivered, got %d", n, got)
	}
}

func TestEndpoint_DisconnectFailsPendingCalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	listener, client, _ := mustListenAndDial(t, root)
	defer listener.Close()

	// Hold the root's lock so every Add blocks inside the server's
	// invocation body and the calls are still pending at Disconnect.
	root.mu.Lock()
	defer root.mu.Unlock()

	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := client.CallMethod(types.BootstrapRootID, methodAdd, nil, []interface{}{1})
			results <- err
		}()
	}
	// Give the requests a moment to register as pending before tearing
	// the connection down.
	time.Sleep(50 * time.Millisecond)
	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := <-results; err == nil {
			t.Fatalf("expected every in-flight call to fail after disconnect")
		}
	}
}

func TestEndpoint_ProxyReleaseCreditsOwner(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	listener, client, server := mustListenAndDial(t, root)
	defer listener.Close()
	defer client.Disconnect()

	// install() already resolved one occurrence of the root proxy during
	// the handshake (client.Server()); a second, explicit resolve should
	// reuse that same live entry rather than rebuilding, counting a second
	// inbound occurrence. The server registers the root for send once more
	// to match, bringing its held send-count for the root to 2.
	if _, err := server.held.RegisterForSend(root); err != nil {
		t.Fatalf("RegisterForSend: %v", err)
	}
	second, err := client.proxies.ResolveOrBuild(types.BootstrapRootID, func() (interface{}, error) {
		return client.opts.Binder.BuildProxy(counterTypeName, types.BootstrapRootID, client)
	})
	if err != nil {
		t.Fatalf("ResolveOrBuild: %v", err)
	}
	if client.proxies.Len() != 1 {
		t.Fatalf("expected exactly one live proxy entry, got %d", client.proxies.Len())
	}

	second.Release()
	if client.proxies.Len() != 1 {
		t.Fatalf("expected the handshake's own occurrence to keep the entry alive, got %d entries", client.proxies.Len())
	}

	// install() resolved the first occurrence; that handle is anchored by
	// e.serverProxy, not released by anything else, so the entry only
	// goes away once it releases too.
	client.serverProxy.Release()
	if client.proxies.Len() != 0 {
		t.Fatalf("expected the proxy entry to be gone once every occurrence is released, got %d", client.proxies.Len())
	}

	// The bootstrap root is never evicted regardless of send-count (it is
	// reinstalled fresh on every connection), so the server must still be
	// able to retrieve it.
	deadline := time.Now().Add(2 * time.Second)
	var ok bool
	for time.Now().Before(deadline) {
		if _, ok = server.held.Retrieve(types.BootstrapRootID); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !ok {
		t.Fatalf("expected the bootstrap root to still be retrievable on the server")
	}
}

// TestEndpoint_SpawnedObjectReleasedFreesServerSlot exercises a shareable
// object returned from a call rather than one offered as a handshake
// root: Spawn hands back a brand new Counter sharing a fresh object, and
// releasing that proxy must credit the server's held table for it, same
// as releasing the root proxy does.
func TestEndpoint_SpawnedObjectReleasedFreesServerSlot(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	listener, client, server := mustListenAndDial(t, root)
	defer listener.Close()
	defer client.Disconnect()

	counter := client.Server().(Counter)
	spawned, err := counter.Spawn()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	sum, err := spawned.Add(3)
	if err != nil {
		t.Fatalf("Add on spawned counter: %v", err)
	}
	if sum != 3 {
		t.Fatalf("expected 3, got %d", sum)
	}

	proxy, ok := spawned.(*counterProxy)
	if !ok {
		t.Fatalf("expected *counterProxy, got %T", spawned)
	}
	id := proxy.target

	if _, ok := server.held.Retrieve(id); !ok {
		t.Fatalf("expected the server to still hold the spawned object")
	}

	proxy.Release()

	deadline := time.Now().Add(2 * time.Second)
	var held bool
	for time.Now().Before(deadline) {
		if _, held = server.held.Retrieve(id); !held {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if held {
		t.Fatalf("expected the server to release the spawned object once the client's proxy released it")
	}
}

// TestEndpoint_HeldObjectOverflowTerminatesConnection checks that
// exceeding a table's capacity is treated as a protocol fault, not a
// silently rejected call: the connection is torn down rather than left
// open with a peer whose view of live objects has diverged.
func TestEndpoint_HeldObjectOverflowTerminatesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := &counterImpl{}
	serverOpts := newTestOptions()
	serverOpts.MaxHeldObjects = 1 // the root alone fills capacity

	listener, err := Listen("127.0.0.1:0", root, serverOpts)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan *Endpoint, 1)
	go func() {
		e, err := listener.Accept()
		if err != nil {
			return
		}
		accepted <- e
	}()

	client := NewEndpoint(nil, newTestOptions())
	if err := client.Connect(listener.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	var server *Endpoint
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Accept")
	}

	disconnected := make(chan struct{}, 1)
	server.SetOnDisconnected(func() { disconnected <- struct{}{} })

	counter := client.Server().(Counter)
	if _, err := counter.Spawn(); err == nil {
		t.Fatalf("expected Spawn to fail once the held-object table overflows")
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the server to terminate the connection after the overflow")
	}
}
