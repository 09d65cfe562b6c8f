package wire

import (
	"fmt"
	"io"

	"github.com/blang/semver"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// ProtocolVersion is duplexrpc's wire protocol version. It is exchanged at
// handshake time (generalizing a version-header-on-connect pattern /
// checkRPCHeader gate, see DESIGN.md) and bumped whenever a Kind, field
// layout, or handshake step changes in a way older peers cannot decode.
var ProtocolVersion = semver.MustParse("1.0.0")

// WriteVersion / ReadVersion move a semver.Version across the handshake as
// a length-prefixed string, reusing the Codec's handshake-string framing
// so the version check shares its wire shape with the root type name
// exchange right next to it in the handshake sequence.
func WriteVersion(w io.Writer, codec types.Codec, v semver.Version) error {
	return codec.EncodeHandshakeString(w, v.String())
}

func ReadVersion(r io.Reader, codec types.Codec) (semver.Version, error) {
	s, err := codec.DecodeHandshakeString(r)
	if err != nil {
		return semver.Version{}, err
	}
	v, err := semver.Parse(s)
	if err != nil {
		return semver.Version{}, fmt.Errorf("parse peer protocol version %q: %w", s, err)
	}
	return v, nil
}

// CheckCompatible reports whether two Endpoints may talk: they can, as
// long as their major version matches.
func CheckCompatible(local, peer semver.Version) error {
	if local.Major != peer.Major {
		return fmt.Errorf("%w: local %s, peer %s", types.ErrIncompatibleProtocol, local, peer)
	}
	return nil
}
