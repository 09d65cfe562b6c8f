package definition

import (
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

func init() {
	gob.Register(types.SharedRef{})
	gob.Register([]interface{}{})
	gob.Register(map[string]interface{}{})
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(uint64(0))
	gob.Register(float64(0))
	gob.Register(string(""))
	gob.Register(bool(false))
	gob.Register([]byte(nil))
}

// RegisterSharedType makes a concrete Go type usable as the dynamic type
// of a Message field (Args, Index, Value, Result). Shareable interfaces
// always cross the wire as types.SharedRef, already registered; this is
// for plain value types an application wants to pass by value and that
// are not one of the common primitives registered by this package.
func RegisterSharedType(v interface{}) {
	gob.Register(v)
}

// GobCodec is the default types.Codec, built on encoding/gob's
// reflection-driven encoding to move a Message struct across the wire
// without the engine needing to know its shape in advance.
type GobCodec struct {
	Logger types.Logger
}

func NewGobCodec(logger types.Logger) *GobCodec {
	return &GobCodec{Logger: logger}
}

func (c *GobCodec) Encode(w io.Writer, msg *types.Message) error {
	if c.carriesEmbeddedRefUnreliably(msg) {
		if c.Logger != nil {
			c.Logger.Warnf("encoding a shared reference inside message kind %s: a dropped datagram can leak a send-count credit", msg.Kind)
		}
	}
	return gob.NewEncoder(w).Encode(msg)
}

func (c *GobCodec) Decode(r io.Reader) (*types.Message, error) {
	var msg types.Message
	if err := gob.NewDecoder(r).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// carriesEmbeddedRefUnreliably is a best-effort heuristic used only to
// decide whether to log a best-effort warning; it is not used to reject
// the message (unreliable messages are permitted to carry shareables per
// the Open Question decision in DESIGN.md).
func (c *GobCodec) carriesEmbeddedRefUnreliably(msg *types.Message) bool {
	if msg.Kind != types.KindCallMethodUnreliable {
		return false
	}
	for _, a := range msg.Args {
		if _, ok := a.(types.SharedRef); ok {
			return true
		}
	}
	return false
}

func (c *GobCodec) EncodeHandshakeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("handshake string too long: %d bytes", len(s))
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func (c *GobCodec) DecodeHandshakeString(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

var _ types.Codec = (*GobCodec)(nil)
