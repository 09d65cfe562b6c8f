package duplexrpc

import (
	"fmt"
	"io"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/wire"
)

// clientHandshake performs the dialing side of the handshake: write our
// info first, then read the peer's, avoiding a mutual-read deadlock with
// serverHandshake's read-then-write order.
func clientHandshake(rw io.ReadWriter, codec types.Codec, local wire.HandshakeInfo) (wire.HandshakeInfo, error) {
	if err := wire.WriteHandshakeInfo(rw, codec, local); err != nil {
		return wire.HandshakeInfo{}, err
	}
	peer, err := wire.ReadHandshakeInfo(rw, codec)
	if err != nil {
		return wire.HandshakeInfo{}, err
	}
	if err := wire.CheckCompatible(local.ProtocolVersion, peer.ProtocolVersion); err != nil {
		return wire.HandshakeInfo{}, err
	}
	return peer, nil
}

// serverHandshake performs the accepting side: read the peer's info
// first, then write ours. local.NetworkID is expected to already be the
// id assigned to this connection by the caller (a Listener, or a fixed
// value for a direct two-party connection).
func serverHandshake(rw io.ReadWriter, codec types.Codec, local wire.HandshakeInfo) (wire.HandshakeInfo, error) {
	peer, err := wire.ReadHandshakeInfo(rw, codec)
	if err != nil {
		return wire.HandshakeInfo{}, err
	}
	if err := wire.CheckCompatible(local.ProtocolVersion, peer.ProtocolVersion); err != nil {
		return wire.HandshakeInfo{}, err
	}
	if err := wire.WriteHandshakeInfo(rw, codec, local); err != nil {
		return wire.HandshakeInfo{}, err
	}
	return peer, nil
}

func localHandshakeInfo(networkID types.NetworkID, rootTypeName string, unreliablePort uint16) wire.HandshakeInfo {
	return wire.HandshakeInfo{
		NetworkID:       networkID,
		RootTypeName:    rootTypeName,
		UnreliablePort:  unreliablePort,
		ProtocolVersion: wire.ProtocolVersion,
	}
}

func rootTypeNameOf(binder types.Binder, root interface{}) (string, error) {
	if root == nil {
		return "", nil
	}
	name, ok := binder.TypeNameOf(root)
	if !ok {
		return "", fmt.Errorf("duplexrpc: root object of type %T is not registered with the binder", root)
	}
	return name, nil
}
