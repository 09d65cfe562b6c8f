// Package duplexrpc is a bidirectional object-oriented RPC runtime: two
// Endpoints, each holding a root object the other can call into, talk
// over one reliable stream (request/response, property and indexer
// access) plus one unreliable datagram channel (fire-and-forget calls).
//
// Shareable objects cross the wire as opaque references rather than by
// value: an Endpoint tracks every object it has handed to its peer in a
// held-object table, and every object its peer has handed to it as a
// weakly-referenced local proxy. A Binder and a Codec, both pluggable,
// do the type-specific work of building those proxies and moving
// messages across the wire; this package only implements the protocol
// connecting them.
package duplexrpc

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/core"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/wire"
)

// CallResult is delivered by the Async variants of the request/response
// primitives.
type CallResult struct {
	Value interface{}
	Err   error
}

// Endpoint is one side of a duplex RPC connection. The zero value is not
// usable; construct one with NewEndpoint.
type Endpoint struct {
	opts Options
	root interface{}

	mu           sync.Mutex
	connected    bool
	teardownOnce sync.Once

	traceID   uuid.UUID
	networkID types.NetworkID

	reliable           *core.ReliableChannel
	unreliable         *core.UnreliableChannel
	ownsUnreliable     bool
	peerUnreliableAddr net.Addr

	held       *core.HeldObjectTable
	proxies    *core.RemoteProxyTable
	pending    *core.PendingTable
	dispatcher *core.Dispatcher

	serverProxy *core.Proxy

	onNetworkError func(error)
	onDisconnected func()

	unregister func()
}

// NewEndpoint constructs an Endpoint exposing root (may be nil, for a
// client with nothing to share) to its future peer. The Endpoint is not
// connected until Connect is called, or it is produced by a Listener.
func NewEndpoint(root interface{}, opts Options) *Endpoint {
	opts = opts.fillDefaults()
	traceID := uuid.New()
	if tagger, ok := opts.Logger.(types.TraceTagger); ok {
		opts.Logger = tagger.WithTrace(traceID.String())
	}
	e := &Endpoint{
		opts:    opts,
		root:    root,
		traceID: traceID,
		held:    core.NewHeldObjectTable(opts.MaxHeldObjects),
		pending: core.NewPendingTable(),
	}
	e.proxies = core.NewRemoteProxyTable(opts.MaxRemoteObjects, e.onProxyReleased)
	e.dispatcher = &core.Dispatcher{
		Held:       e.held,
		Pending:    e.pending,
		Binder:     opts.Binder,
		Scheduler:  opts.Scheduler,
		Executor:   &core.Executor{Scheduler: opts.Scheduler},
		Logger:     opts.Logger,
		Translator: e,
		Fault:      func(err error) { go e.teardown(err) },
	}
	return e
}

// Connect dials address ("host:port") over TCP, performs the handshake,
// and starts the reliable and unreliable reader goroutines. It returns
// once the handshake has completed or failed.
func (e *Endpoint) Connect(address string) error {
	e.mu.Lock()
	if e.connected {
		e.mu.Unlock()
		return types.ErrInUse
	}
	e.mu.Unlock()

	conn, err := net.Dial("tcp", address)
	if err != nil {
		return types.NewIOError("dial", err)
	}

	localIP := localIPFor(conn)
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localIP, Port: 0})
	if err != nil {
		conn.Close()
		return types.NewIOError("listen unreliable", err)
	}

	rootType, err := rootTypeNameOf(e.opts.Binder, e.root)
	if err != nil {
		conn.Close()
		udpConn.Close()
		return err
	}

	reliable := core.NewReliableChannel(conn, e.opts.Codec)
	local := localHandshakeInfo(0, rootType, uint16(udpConn.LocalAddr().(*net.UDPAddr).Port))
	if e.opts.HandshakeTimeoutSeconds > 0 {
		conn.SetDeadline(time.Now().Add(time.Duration(e.opts.HandshakeTimeoutSeconds) * time.Second))
	}
	peer, err := clientHandshake(conn, e.opts.Codec, local)
	if err != nil {
		conn.Close()
		udpConn.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	conn.SetDeadline(time.Time{})

	e.install(reliable, core.NewUnreliableChannel(udpConn, e.opts.Codec), true, peer.NetworkID, peer)
	return nil
}

// ConnectAsync runs Connect in the background, delivering its result on
// the returned channel exactly once.
func (e *Endpoint) ConnectAsync(address string) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- e.Connect(address) }()
	return ch
}

// install finishes wiring an Endpoint once a handshake has succeeded,
// whether from Connect or from a Listener's accept path, and starts the
// reader goroutines. selfNetworkID is the id this Endpoint must tag its
// own outgoing unreliable datagrams with, if any (assigned by a Listener
// on the accept side, or learned from the peer's handshake info on the
// dial side).
func (e *Endpoint) install(reliable *core.ReliableChannel, unreliable *core.UnreliableChannel, ownsUnreliable bool, selfNetworkID types.NetworkID, peer wire.HandshakeInfo) {
	peerIP := remoteIPOf(reliable.RemoteAddr())

	e.mu.Lock()
	e.reliable = reliable
	e.unreliable = unreliable
	e.ownsUnreliable = ownsUnreliable
	e.peerUnreliableAddr = &net.UDPAddr{IP: peerIP, Port: int(peer.UnreliablePort)}
	e.networkID = selfNetworkID
	e.connected = true
	e.mu.Unlock()

	e.held.InstallRoot(e.root)

	if peer.RootTypeName != "" {
		proxy, err := e.proxies.ResolveOrBuild(types.BootstrapRootID, func() (interface{}, error) {
			return e.opts.Binder.BuildProxy(peer.RootTypeName, types.BootstrapRootID, e)
		})
		if err == nil {
			e.serverProxy = proxy
		} else {
			e.opts.Logger.Warnf("duplexrpc: failed building root proxy for peer type %q: %v", peer.RootTypeName, err)
		}
	}

	go e.reliable.Run(e.handleReliableMessage, e.handleTransportClosed)
	if ownsUnreliable {
		go e.unreliable.RunServerSide(e.handleUnreliableMessage, func(error) {})
	}
}

// Server returns the proxy to the peer's root object, or nil if the peer
// offered none.
func (e *Endpoint) Server() interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.serverProxy == nil {
		return nil
	}
	return e.serverProxy.Value
}

func (e *Endpoint) NetworkID() types.NetworkID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.networkID
}

func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Endpoint) SetOnNetworkError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onNetworkError = fn
}

func (e *Endpoint) SetOnDisconnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDisconnected = fn
}

func (e *Endpoint) LocalAddr() net.Addr {
	if e.reliable == nil {
		return nil
	}
	return e.reliable.LocalAddr()
}

func (e *Endpoint) RemoteAddr() net.Addr {
	if e.reliable == nil {
		return nil
	}
	return e.reliable.RemoteAddr()
}

// Disconnect tears the connection down: every pending operation fails
// with ErrDisconnected, every held and remote-proxy table is cleared, and
// the transport is closed. Safe to call more than once.
func (e *Endpoint) Disconnect() error {
	if !e.Connected() {
		return types.ErrDisconnected
	}
	e.teardown(nil)
	return nil
}

func (e *Endpoint) handleTransportClosed(err error) {
	e.teardown(types.NewIOError("read", err))
}

func (e *Endpoint) teardown(causeErr error) {
	e.teardownOnce.Do(func() {
		e.mu.Lock()
		e.connected = false
		onNetErr := e.onNetworkError
		onDisc := e.onDisconnected
		unregister := e.unregister
		e.mu.Unlock()

		failErr := types.ErrDisconnected
		if causeErr != nil && !core.IsExpectedCloseError(causeErr) {
			failErr = causeErr
		}
		e.pending.FailAll(failErr)
		e.held.Clear()
		e.proxies.Clear()

		if e.reliable != nil {
			_ = e.reliable.Close()
		}
		if e.ownsUnreliable && e.unreliable != nil {
			_ = e.unreliable.Close()
		}
		if unregister != nil {
			unregister()
		}

		e.opts.Scheduler.Drain()

		if causeErr != nil && !core.IsExpectedCloseError(causeErr) && onNetErr != nil {
			onNetErr(causeErr)
		}
		if onDisc != nil {
			onDisc()
		}
	})
}

func (e *Endpoint) handleReliableMessage(msg *types.Message) {
	e.dispatcher.HandleReliable(msg, e.reliable)
}

func (e *Endpoint) handleUnreliableMessage(msg *types.Message) {
	e.dispatcher.HandleUnreliable(msg)
}

func (e *Endpoint) onProxyReleased(id types.ObjectID, count uint32) {
	if !e.Connected() {
		return
	}
	err := e.reliable.Send(&types.Message{Kind: types.KindRelease, Target: id, ReleaseCount: count})
	if err != nil {
		e.opts.Logger.Warnf("duplexrpc: failed sending Release(%v, %d): %v", id, count, err)
	}
}

func localIPFor(conn net.Conn) net.IP {
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return net.IPv4zero
}

func remoteIPOf(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return net.IPv4zero
}
