package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blang/semver"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// HandshakeInfo is what each side of a connection announces to the other
// before any request/reply traffic is allowed to flow.
type HandshakeInfo struct {
	NetworkID       types.NetworkID
	RootTypeName    string
	UnreliablePort  uint16
	ProtocolVersion semver.Version
}

// WriteHandshakeInfo writes one side's HandshakeInfo as a fixed sequence:
// NetworkID, root type name, unreliable port, protocol version. Each
// field in this sequence is framed independently so a short or malformed
// write on one field cannot be mistaken for the start of the next.
func WriteHandshakeInfo(w io.Writer, codec types.Codec, info HandshakeInfo) error {
	var idBuf [2]byte
	binary.LittleEndian.PutUint16(idBuf[:], uint16(info.NetworkID))
	if _, err := w.Write(idBuf[:]); err != nil {
		return fmt.Errorf("write handshake network id: %w", err)
	}
	if err := codec.EncodeHandshakeString(w, info.RootTypeName); err != nil {
		return fmt.Errorf("write handshake root type: %w", err)
	}
	var portBuf [2]byte
	binary.LittleEndian.PutUint16(portBuf[:], info.UnreliablePort)
	if _, err := w.Write(portBuf[:]); err != nil {
		return fmt.Errorf("write handshake port: %w", err)
	}
	if err := WriteVersion(w, codec, info.ProtocolVersion); err != nil {
		return fmt.Errorf("write handshake version: %w", err)
	}
	return nil
}

// ReadHandshakeInfo reads the counterpart to WriteHandshakeInfo.
func ReadHandshakeInfo(r io.Reader, codec types.Codec) (HandshakeInfo, error) {
	var info HandshakeInfo
	var idBuf [2]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return info, fmt.Errorf("read handshake network id: %w", err)
	}
	info.NetworkID = types.NetworkID(binary.LittleEndian.Uint16(idBuf[:]))

	rootType, err := codec.DecodeHandshakeString(r)
	if err != nil {
		return info, fmt.Errorf("read handshake root type: %w", err)
	}
	info.RootTypeName = rootType

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return info, fmt.Errorf("read handshake port: %w", err)
	}
	info.UnreliablePort = binary.LittleEndian.Uint16(portBuf[:])

	version, err := ReadVersion(r, codec)
	if err != nil {
		return info, fmt.Errorf("read handshake version: %w", err)
	}
	info.ProtocolVersion = version

	return info, nil
}
