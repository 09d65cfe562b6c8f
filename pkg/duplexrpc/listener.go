package duplexrpc

import (
	"net"
	"sync"
	"time"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/core"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// Listener accepts connections from many peers, sharing one unreliable
// datagram socket across all of them: every accepted Endpoint is handed
// the same *core.UnreliableChannel, and the Listener demuxes inbound
// client-originated datagrams to the right Endpoint by NetworkID.
type Listener struct {
	opts Options
	root interface{}

	tcpListener net.Listener
	udpConn     *net.UDPConn
	unreliable  *core.UnreliableChannel

	onAccept func(*Endpoint)

	mu      sync.Mutex
	byID    map[types.NetworkID]*Endpoint
	nextID  types.NetworkID
	freeIDs []types.NetworkID
	closed  bool
}

// Listen opens a TCP listener and a UDP socket both bound to address,
// and returns a Listener ready to Accept connections exposing root to
// every peer.
func Listen(address string, root interface{}, opts Options) (*Listener, error) {
	opts = opts.fillDefaults()

	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, types.NewIOError("resolve", err)
	}
	tcpListener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, types.NewIOError("listen tcp", err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: tcpAddr.IP, Port: tcpAddr.Port})
	if err != nil {
		tcpListener.Close()
		return nil, types.NewIOError("listen udp", err)
	}

	l := &Listener{
		opts:        opts,
		root:        root,
		tcpListener: tcpListener,
		udpConn:     udpConn,
		unreliable:  core.NewUnreliableChannel(udpConn, opts.Codec),
		byID:        make(map[types.NetworkID]*Endpoint),
	}
	go l.unreliable.RunClientSide(l.routeInbound, func(error) {})
	return l, nil
}

// SetOnAccept installs a callback invoked after each Endpoint finishes
// its handshake, before Accept/Serve hands it to the caller.
func (l *Listener) SetOnAccept(fn func(*Endpoint)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAccept = fn
}

func (l *Listener) Addr() net.Addr { return l.tcpListener.Addr() }

// Accept blocks for the next incoming connection, completes its
// handshake, and returns the resulting Endpoint.
func (l *Listener) Accept() (*Endpoint, error) {
	conn, err := l.tcpListener.Accept()
	if err != nil {
		return nil, err
	}
	e, err := l.handshakeAccepted(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	l.mu.Lock()
	onAccept := l.onAccept
	l.mu.Unlock()
	if onAccept != nil {
		onAccept(e)
	}
	return e, nil
}

// Serve accepts connections in a loop, running handle for each in its
// own goroutine, until Accept returns an error (typically because Close
// was called).
func (l *Listener) Serve(handle func(*Endpoint)) error {
	for {
		e, err := l.Accept()
		if err != nil {
			return err
		}
		go handle(e)
	}
}

func (l *Listener) handshakeAccepted(conn net.Conn) (*Endpoint, error) {
	id := l.allocateID()

	rootType, err := rootTypeNameOf(l.opts.Binder, l.root)
	if err != nil {
		l.releaseID(id)
		return nil, err
	}

	local := localHandshakeInfo(id, rootType, uint16(l.udpConn.LocalAddr().(*net.UDPAddr).Port))
	if l.opts.HandshakeTimeoutSeconds > 0 {
		conn.SetDeadline(time.Now().Add(time.Duration(l.opts.HandshakeTimeoutSeconds) * time.Second))
	}
	peer, err := serverHandshake(conn, l.opts.Codec, local)
	if err != nil {
		l.releaseID(id)
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	e := NewEndpoint(l.root, l.opts)
	e.unregister = func() { l.releaseID(id) }
	reliable := core.NewReliableChannel(conn, l.opts.Codec)
	e.install(reliable, l.unreliable, false, id, peer)

	l.mu.Lock()
	l.byID[id] = e
	l.mu.Unlock()

	return e, nil
}

func (l *Listener) routeInbound(sender types.NetworkID, msg *types.Message) {
	l.mu.Lock()
	e, ok := l.byID[sender]
	l.mu.Unlock()
	if !ok {
		l.opts.Logger.Warnf("duplexrpc: dropping unreliable datagram for unknown network id %v", sender)
		return
	}
	e.handleUnreliableMessage(msg)
}

func (l *Listener) allocateID() types.NetworkID {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.freeIDs); n > 0 {
		id := l.freeIDs[n-1]
		l.freeIDs = l.freeIDs[:n-1]
		return id
	}
	id := l.nextID
	l.nextID++
	return id
}

func (l *Listener) releaseID(id types.NetworkID) {
	l.mu.Lock()
	delete(l.byID, id)
	l.freeIDs = append(l.freeIDs, id)
	l.mu.Unlock()
}

// Close stops accepting new connections and disconnects every Endpoint
// this Listener has produced.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	endpoints := make([]*Endpoint, 0, len(l.byID))
	for _, e := range l.byID {
		endpoints = append(endpoints, e)
	}
	l.mu.Unlock()

	for _, e := range endpoints {
		e.Disconnect()
	}

	err1 := l.tcpListener.Close()
	err2 := l.udpConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
