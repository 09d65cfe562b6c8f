package core

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	promlog "github.com/prometheus/common/log"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/wire"
)

// ReliableChannel is C1: a framed, bidirectional stream over a reliable
// ordered transport. Sends take a writer lock guarding the framing
// writer; the lock is only held across writing the already-encoded
// (length, payload) frame, never across serialization.
type ReliableChannel struct {
	conn  net.Conn
	codec types.Codec

	writeMu sync.Mutex
}

func NewReliableChannel(conn net.Conn, codec types.Codec) *ReliableChannel {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true) // Nagle disabled: frames are already batched at the application layer.
	}
	return &ReliableChannel{conn: conn, codec: codec}
}

// Send encodes one message into a (length, payload) frame outside the
// writer lock, then writes the whole frame under the lock as one atomic
// pair.
func (c *ReliableChannel) Send(msg *types.Message) error {
	var frame bytes.Buffer
	if err := wire.WriteFrame(&frame, c.codec, msg); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(frame.Bytes())
	return err
}

// Run blocks reading frames from the channel, calling handle for each
// decoded Message, until a read fails; onClose then receives that error
// and the loop ends. This is meant to be the body of the Endpoint's single
// dedicated reliable-channel reader goroutine: the
// reader itself never runs user code, it only ever calls handle, which
// the Endpoint implements to schedule the real work onto the
// types.Scheduler.
func (c *ReliableChannel) Run(handle func(*types.Message), onClose func(error)) {
	for {
		msg, err := wire.ReadFrame(c.conn, c.codec)
		if err != nil {
			onClose(err)
			return
		}
		handle(msg)
	}
}

func (c *ReliableChannel) Close() error {
	return c.conn.Close()
}

func (c *ReliableChannel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *ReliableChannel) LocalAddr() net.Addr  { return c.conn.LocalAddr() }

// IsExpectedCloseError reports whether err is an ordinary transport-close
// condition: end-of-stream or a forcibly-closed connection.
// These call OnDisconnected but not OnNetworkError; anything else
// triggers both.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "forcibly closed") ||
		strings.Contains(msg, "reset by peer")
}

// UnreliableChannel is C2: a datagram transport for fire-and-forget
// methods. Sends need no lock: each send is already a single system call.
type UnreliableChannel struct {
	conn  net.PacketConn
	codec types.Codec
}

func NewUnreliableChannel(conn net.PacketConn, codec types.Codec) *UnreliableChannel {
	return &UnreliableChannel{conn: conn, codec: codec}
}

// SendToClient sends a server-originated datagram (no NetworkID prefix:
// the client has exactly one peer, so nothing to demux on its end).
func (c *UnreliableChannel) SendToClient(addr net.Addr, msg *types.Message) error {
	payload, err := wire.EncodeServerDatagram(c.codec, msg)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteTo(payload, addr)
	return err
}

// SendToListener sends a client-originated datagram, prefixed with sender
// so the listener can route it to the right Endpoint.
func (c *UnreliableChannel) SendToListener(addr net.Addr, sender types.NetworkID, msg *types.Message) error {
	payload, err := wire.EncodeClientDatagram(c.codec, sender, msg)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteTo(payload, addr)
	return err
}

// RunServerSide reads server-originated datagrams (called on the client
// side of a connection, where every inbound datagram came from the one
// peer we dialed).
func (c *UnreliableChannel) RunServerSide(handle func(*types.Message), onClose func(error)) {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			onClose(err)
			return
		}
		msg, err := wire.DecodeServerDatagram(c.codec, buf[:n])
		if err != nil {
			promlog.Errorf("duplexrpc: dropping malformed unreliable datagram: %v", err)
			continue
		}
		handle(msg)
	}
}

// RunClientSide reads client-originated datagrams (called on the server
// / listener side, demuxing by the sender's NetworkID).
func (c *UnreliableChannel) RunClientSide(handle func(types.NetworkID, *types.Message), onClose func(error)) {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			onClose(err)
			return
		}
		sender, msg, err := wire.DecodeClientDatagram(c.codec, buf[:n])
		if err != nil {
			promlog.Errorf("duplexrpc: dropping malformed unreliable datagram: %v", err)
			continue
		}
		handle(sender, msg)
	}
}

func (c *UnreliableChannel) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *UnreliableChannel) Close() error { return c.conn.Close() }

// DualStackAddr normalizes an IPv4 peer address into dual-stack (IPv6)
// form, so a dual-stack listener can match it against its local socket.
func DualStackAddr(ip net.IP, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: ip.To16(), Port: port}
}
