// Package id defines the NodeId identifier used throughout the fabric:
// the 32-byte hash of a node's long-term signing public key.
package id

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Size is the length of a NodeId in bytes.
const Size = 32

// ErrInvalidLength is returned when decoding a NodeId from the wrong
// number of bytes.
var ErrInvalidLength = errors.New("id: invalid node id length")

// NodeId is the cryptographic hash of a node's long-term signing public
// key. Equality is byte-equal; a node never reuses a NodeId across
// distinct key pairs because the id is derived, not assigned.
type NodeId [Size]byte

// Zero is the zero-value NodeId, used as a sentinel for "no node".
var Zero NodeId

// FromPublicKey derives the NodeId for an Ed25519 signing public key.
func FromPublicKey(pub ed25519.PublicKey) NodeId {
	return NodeId(sha256.Sum256(pub))
}

// FromBytes decodes a NodeId from exactly Size raw bytes.
func FromBytes(b []byte) (NodeId, error) {
	var n NodeId
	if len(b) != Size {
		return n, ErrInvalidLength
	}
	copy(n[:], b)
	return n, nil
}

// FromHex decodes a NodeId from its full 64-character hex encoding.
func FromHex(s string) (NodeId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, err
	}
	return FromBytes(b)
}

// Bytes returns the raw 32-byte encoding, as it appears on the wire.
func (n NodeId) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, n[:])
	return out
}

// IsZero reports whether this is the zero-value NodeId.
func (n NodeId) IsZero() bool {
	return n == Zero
}

// String returns the short display form: the first 8 hex bytes.
func (n NodeId) String() string {
	return hex.EncodeToString(n[:8])
}

// Full returns the full 32-byte hex encoding.
func (n NodeId) Full() string {
	return hex.EncodeToString(n[:])
}

// Less provides a deterministic total order over NodeIds, used wherever
// a canonical ordering is required (e.g. session seed derivation over
// an unordered pair of ephemeral keys).
func (n NodeId) Less(other NodeId) bool {
	for i := range n {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}

// Identity binds a node's signing key pair to its derived NodeId.
type Identity struct {
	ID         NodeId
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// NewIdentity generates a fresh Ed25519 identity.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Identity{
		ID:         FromPublicKey(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// IdentityFromPrivateKey rebuilds an Identity from an existing Ed25519
// private key, e.g. one loaded from a blobstore.
func IdentityFromPrivateKey(priv ed25519.PrivateKey) *Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		ID:         FromPublicKey(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}
}

// Sign signs a message with the identity's private key.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.PrivateKey, message)
}

// Verify verifies a signature made by this identity's public key.
func (i *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(i.PublicKey, message, signature)
}
