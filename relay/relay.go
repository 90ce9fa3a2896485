// Package relay implements the store-and-forward RelayBeacon: an
// HPKE-sealed message an origin node hands to any peer willing to
// carry it, hopping until it reaches a node that can decrypt it or
// its TTL is exhausted.
package relay

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"sync"

	"lukechampine.com/blake3"

	"github.com/meshfabric/node/crypto/keys"
	"github.com/meshfabric/node/internal/metrics"
)

// RelayInfo is the fixed HPKE info string binding every beacon to this
// protocol, per SPEC_FULL's resolution of the relay AEAD/KDF open
// question.
const RelayInfo = "meshfabric/relay-beacon v1"

// MaxTTL is the protocol's hard ceiling on a beacon's hop cap.
const MaxTTL = 255

var (
	// ErrTTLExhausted is returned by Forward when a beacon's hop_count
	// has reached its TTL.
	ErrTTLExhausted = errors.New("relay: ttl exhausted")
	// ErrHopCountExceeded is returned when a beacon's hop_count would
	// exceed its own ttl, a protocol invariant violation.
	ErrHopCountExceeded = errors.New("relay: hop_count exceeds ttl")
	// ErrDuplicateBeacon is returned by Forward for an already-seen
	// beacon hash.
	ErrDuplicateBeacon = errors.New("relay: duplicate beacon")
	// ErrNotAddressed is returned by Decrypt when the beacon's
	// recipient pubkey hash prefix does not match this node.
	ErrNotAddressed = errors.New("relay: beacon not addressed to this node")
)

// Beacon is the in-memory form of a relay message: recipient pubkey
// hash, the fixed hop cap set at origination, hops already taken, and
// the HPKE-sealed payload. TTL is set once by Originate and never
// changes in transit; HopCount starts at 0 and increments by one on
// every accepted Forward, and forwarding stops once HopCount reaches
// TTL.
type Beacon struct {
	RecipientPubKeyHash [8]byte
	TTL                 uint8
	HopCount            uint8
	EncryptedPayload    []byte
}

// Hash returns the content hash used for gossip/forward dedup.
func (b Beacon) Hash() [32]byte {
	joined := make([]byte, 0, 8+1+1+len(b.EncryptedPayload))
	joined = append(joined, b.RecipientPubKeyHash[:]...)
	joined = append(joined, b.TTL, b.HopCount)
	joined = append(joined, b.EncryptedPayload...)
	return blake3.Sum256(joined)
}

// RecipientHash returns the first 8 bytes of sha256(pub), the prefix
// a beacon is addressed by so relays never see the real recipient
// identity.
func RecipientHash(pub ed25519.PublicKey) [8]byte {
	sum := sha256.Sum256(pub)
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// Originate seals payload to recipientPub via HPKE and wraps it in a
// fresh Beacon with hop_count 0 and the given ttl hop cap (clamped to
// MaxTTL).
func Originate(recipientPub ed25519.PublicKey, payload []byte, ttl uint8) (Beacon, error) {
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	xPub, err := keys.Ed25519PublicKeyToX25519(recipientPub)
	if err != nil {
		return Beacon{}, err
	}
	pubKey, err := ecdh.X25519().NewPublicKey(xPub)
	if err != nil {
		return Beacon{}, err
	}

	packet, _, err := keys.HPKESealAndExportToX25519Peer(pubKey, payload, []byte(RelayInfo), []byte(RelayInfo), 0)
	if err != nil {
		return Beacon{}, err
	}

	b := Beacon{
		RecipientPubKeyHash: RecipientHash(recipientPub),
		TTL:                 ttl,
		HopCount:            0,
		EncryptedPayload:    packet,
	}
	metrics.RelayBeaconsOriginated.Inc()
	return b, nil
}

// Store is the per-node relay cache: a seen-hash dedup set plus a
// hash-addressed cache of forwarded beacons, so a later RelayFetch by
// pubkey prefix can be answered without re-receiving the beacon.
type Store struct {
	mu     sync.RWMutex
	seen   map[[32]byte]struct{}
	byHash map[[32]byte]Beacon
}

// NewStore constructs an empty relay cache.
func NewStore() *Store {
	return &Store{
		seen:   make(map[[32]byte]struct{}),
		byHash: make(map[[32]byte]Beacon),
	}
}

// HasSeen reports whether a beacon hash has already been forwarded.
func (s *Store) HasSeen(hash [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[hash]
	return ok
}

// Forward validates a beacon's TTL/hop_count invariants, dedups it by
// hash, and if accepted, increments its hop_count, caching the result
// for later fetch. Returns the forwarded beacon (with hop_count
// already advanced) ready to hand to the next hop. TTL is a fixed hop
// cap, not a remaining-hops counter: a beacon stops being forwarded
// once hop_count reaches ttl, not when ttl reaches zero.
func (s *Store) Forward(b Beacon) (Beacon, error) {
	if b.HopCount > b.TTL {
		metrics.RelayBeaconsForwarded.WithLabelValues("invariant_violation").Inc()
		return Beacon{}, ErrHopCountExceeded
	}
	if b.HopCount >= b.TTL {
		metrics.RelayBeaconsForwarded.WithLabelValues("ttl_exhausted").Inc()
		return Beacon{}, ErrTTLExhausted
	}

	hash := b.Hash()

	s.mu.Lock()
	if _, dup := s.seen[hash]; dup {
		s.mu.Unlock()
		metrics.RelayBeaconsForwarded.WithLabelValues("duplicate").Inc()
		return Beacon{}, ErrDuplicateBeacon
	}
	s.seen[hash] = struct{}{}
	s.mu.Unlock()

	metrics.RelayHopCount.Observe(float64(b.HopCount))

	forwarded := b
	forwarded.HopCount++

	s.mu.Lock()
	s.byHash[forwarded.Hash()] = forwarded
	s.mu.Unlock()

	metrics.RelayBeaconsForwarded.WithLabelValues("forwarded").Inc()
	return forwarded, nil
}

// FetchByPrefix returns every cached beacon whose RecipientPubKeyHash
// starts with prefix.
func (s *Store) FetchByPrefix(prefix []byte) []Beacon {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Beacon
	for _, b := range s.byHash {
		if bytes.HasPrefix(b.RecipientPubKeyHash[:], prefix) {
			out = append(out, b)
		}
	}
	return out
}

// Decrypt attempts to open a beacon's payload with priv's signing
// identity, first checking the beacon is actually addressed to
// selfPub. Any AEAD open failure is reported as a plain error rather
// than panicking or leaking timing information about why it failed.
func Decrypt(b Beacon, selfPub ed25519.PublicKey, selfPriv ed25519.PrivateKey) ([]byte, error) {
	if b.RecipientPubKeyHash != RecipientHash(selfPub) {
		metrics.RelayBeaconsFetched.WithLabelValues("not_addressed").Inc()
		return nil, ErrNotAddressed
	}

	xPriv, err := keys.Ed25519PrivateKeyToX25519(selfPriv)
	if err != nil {
		metrics.RelayBeaconsFetched.WithLabelValues("decrypt_failed").Inc()
		return nil, err
	}
	privKey, err := ecdh.X25519().NewPrivateKey(xPriv)
	if err != nil {
		metrics.RelayBeaconsFetched.WithLabelValues("decrypt_failed").Inc()
		return nil, err
	}

	plaintext, _, err := keys.HPKEOpenAndExportWithX25519Priv(privKey, b.EncryptedPayload, []byte(RelayInfo), []byte(RelayInfo), 0)
	if err != nil {
		metrics.RelayBeaconsFetched.WithLabelValues("decrypt_failed").Inc()
		return nil, err
	}

	metrics.RelayBeaconsFetched.WithLabelValues("decrypted").Inc()
	return plaintext, nil
}
