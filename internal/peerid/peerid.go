// Package peerid defines the durable peer identifier used throughout the
// session, room, and relay layers: the BLAKE2b hash of a peer's ed25519
// public key.
package peerid

import (
	"crypto/ed25519"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a PeerId.
const Size = 32

// ID is the sole durable peer identifier (spec.md §3). It is derived from an
// ed25519 public key and is comparable, making it usable as a map key and in
// the numeric tie-break used for simultaneous-dial resolution (§4.G).
type ID [Size]byte

// FromPublicKey hashes an ed25519 public key into a PeerId.
func FromPublicKey(pub ed25519.PublicKey) ID {
	sum := blake2b.Sum256(pub)
	var id ID
	copy(id[:], sum[:Size])
	return id
}

// String renders the id as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Less reports whether id is numerically smaller than other, treating both
// as big-endian unsigned integers. Used for the simultaneous-dial tie-break
// in §4.G: "the peer with the numerically smaller PeerId becomes the
// non-dialer."
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Parse decodes a hex-encoded PeerId, as used for config.ContactEntry.PeerID.
func Parse(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != Size {
		return id, errInvalidLength
	}
	copy(id[:], b)
	return id, nil
}

type invalidLengthError struct{}

func (invalidLengthError) Error() string { return "peerid: invalid length" }

var errInvalidLength = invalidLengthError{}
