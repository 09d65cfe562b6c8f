// Package wire implements the reliable-channel framing and the unreliable
// datagram envelope.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// MaxFrameLength bounds a single reliable-channel payload. A peer that
// advertises a larger length is lying or corrupt; refusing to allocate on
// its say-so is the only sane response.
const MaxFrameLength = 64 << 20 // 64 MiB

// WriteFrame encodes msg with codec and writes it to w as a
// u32-length-prefixed frame: the standard shape for the reliable channel.
// The encode happens into a scratch buffer first, so an encode failure
// writes nothing to w.
func WriteFrame(w io.Writer, codec types.Codec, msg *types.Message) error {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, msg); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if buf.Len() > MaxFrameLength {
		return fmt.Errorf("encoded frame too large: %d bytes", buf.Len())
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame blocks until one full frame has arrived on r, decodes it with
// codec, and returns the Message. It is intended to be called only from
// the Endpoint's single reliable-channel reader goroutine.
func ReadFrame(r io.Reader, codec types.Codec) (*types.Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n > MaxFrameLength {
		return nil, fmt.Errorf("peer announced oversized frame: %d bytes", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return codec.Decode(bytes.NewReader(payload))
}

// EncodeClientDatagram prefixes msg with the sender's NetworkID as u16 LE,
// the shape a client-originated unreliable datagram takes so a listener
// can demux it to the right Endpoint.
func EncodeClientDatagram(codec types.Codec, sender types.NetworkID, msg *types.Message) ([]byte, error) {
	var buf bytes.Buffer
	var idPrefix [2]byte
	binary.LittleEndian.PutUint16(idPrefix[:], uint16(sender))
	buf.Write(idPrefix[:])
	if err := codec.Encode(&buf, msg); err != nil {
		return nil, fmt.Errorf("encode datagram: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeClientDatagram splits a client-originated datagram back into the
// sender's NetworkID and the Message it carried.
func DecodeClientDatagram(codec types.Codec, data []byte) (types.NetworkID, *types.Message, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("datagram too short to carry a NetworkID prefix")
	}
	sender := types.NetworkID(binary.LittleEndian.Uint16(data[:2]))
	msg, err := codec.Decode(bytes.NewReader(data[2:]))
	if err != nil {
		return 0, nil, err
	}
	return sender, msg, nil
}

// EncodeServerDatagram carries only the payload: the receiving client has
// exactly one peer, so no NetworkID prefix is needed.
func EncodeServerDatagram(codec types.Codec, msg *types.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, msg); err != nil {
		return nil, fmt.Errorf("encode datagram: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeServerDatagram decodes a server-originated datagram payload.
func DecodeServerDatagram(codec types.Codec, data []byte) (*types.Message, error) {
	return codec.Decode(bytes.NewReader(data))
}
