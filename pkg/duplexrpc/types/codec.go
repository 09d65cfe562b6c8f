package types

import "io"

// Codec is the consumed serializer collaborator. It encodes and
// decodes whole Message envelopes; the translation of embedded
// SharedRef/live-value pairs happens one layer above the Codec (see
// SharedRef's doc comment) so the Codec itself only has to move a Message
// struct across the wire.
type Codec interface {
	Encode(w io.Writer, msg *Message) error
	Decode(r io.Reader) (*Message, error)

	// EncodeHandshakeString / DecodeHandshakeString carry the one
	// free-standing string value exchanged at handshake time (the root's
	// type name), outside of any Message envelope.
	EncodeHandshakeString(w io.Writer, s string) error
	DecodeHandshakeString(r io.Reader) (string, error)
}
