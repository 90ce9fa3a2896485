package wire

import (
	"encoding/binary"
)

// --- encoding helpers -------------------------------------------------

func putUint32(buf []byte, off int, v uint32) int {
	binary.BigEndian.PutUint32(buf[off:], v)
	return off + 4
}

func putUint64(buf []byte, off int, v uint64) int {
	binary.BigEndian.PutUint64(buf[off:], v)
	return off + 8
}

func putBytes(buf []byte, off int, b []byte) int {
	off = putUint32(buf, off, uint32(len(b)))
	copy(buf[off:], b)
	return off + len(b)
}

func byteLen(b []byte) int { return 4 + len(b) }

func takeUint32(b []byte, off int) (uint32, int, error) {
	if off+4 > len(b) {
		return 0, 0, newProtocolError("short read: expected 4 bytes at offset %d", off)
	}
	return binary.BigEndian.Uint32(b[off:]), off + 4, nil
}

func takeUint64(b []byte, off int) (uint64, int, error) {
	if off+8 > len(b) {
		return 0, 0, newProtocolError("short read: expected 8 bytes at offset %d", off)
	}
	return binary.BigEndian.Uint64(b[off:]), off + 8, nil
}

func takeBytes(b []byte, off int) ([]byte, int, error) {
	n, off, err := takeUint32(b, off)
	if err != nil {
		return nil, 0, err
	}
	if off+int(n) > len(b) {
		return nil, 0, newProtocolError("short read: expected %d bytes at offset %d", n, off)
	}
	out := make([]byte, n)
	copy(out, b[off:off+int(n)])
	return out, off + int(n), nil
}

// --- Hello --------------------------------------------------------------

// Hello is I→R: protocol_version, I's NodeId, I's signing pubkey,
// capability blob, I's ephemeral key-exchange public key, timestamp,
// signature over all preceding fields.
type Hello struct {
	ProtocolVersion uint32
	NodeID          []byte // 32 bytes
	SigningPubKey   []byte // 32 bytes (ed25519)
	Capabilities    []byte // opaque capability blob
	EphemeralPubKey []byte // 32 bytes (x25519)
	Timestamp       int64  // unix seconds
	Signature       []byte // 64 bytes
}

func (h *Hello) Tag() Tag { return TagHello }

// SignedFields returns the canonical byte encoding of every field that
// precedes the signature, i.e. the bytes I signs and R verifies.
func (h *Hello) SignedFields() []byte {
	size := 4 + byteLen(h.NodeID) + byteLen(h.SigningPubKey) + byteLen(h.Capabilities) + byteLen(h.EphemeralPubKey) + 8
	buf := make([]byte, size)
	off := putUint32(buf, 0, h.ProtocolVersion)
	off = putBytes(buf, off, h.NodeID)
	off = putBytes(buf, off, h.SigningPubKey)
	off = putBytes(buf, off, h.Capabilities)
	off = putBytes(buf, off, h.EphemeralPubKey)
	putUint64(buf, off, uint64(h.Timestamp))
	return buf
}

func (h *Hello) MarshalBody() ([]byte, error) {
	signed := h.SignedFields()
	buf := make([]byte, len(signed)+byteLen(h.Signature))
	copy(buf, signed)
	putBytes(buf, len(signed), h.Signature)
	return buf, nil
}

func decodeHello(b []byte) (*Hello, error) {
	var h Hello
	var err error
	off := 0
	if h.ProtocolVersion, off, err = takeUint32(b, off); err != nil {
		return nil, err
	}
	if h.NodeID, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if h.SigningPubKey, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if h.Capabilities, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if h.EphemeralPubKey, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	ts, off2, err := takeUint64(b, off)
	if err != nil {
		return nil, err
	}
	h.Timestamp = int64(ts)
	off = off2
	if h.Signature, _, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	return &h, nil
}

// --- Challenge ------------------------------------------------------------

// Challenge is R→I: random 32-byte nonce and R's ephemeral key-exchange
// public key.
type Challenge struct {
	Nonce           []byte // 32 bytes
	EphemeralPubKey []byte // 32 bytes
}

func (c *Challenge) Tag() Tag { return TagChallenge }

func (c *Challenge) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(c.Nonce)+byteLen(c.EphemeralPubKey))
	off := putBytes(buf, 0, c.Nonce)
	putBytes(buf, off, c.EphemeralPubKey)
	return buf, nil
}

func decodeChallenge(b []byte) (*Challenge, error) {
	var c Challenge
	var err error
	off := 0
	if c.Nonce, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if c.EphemeralPubKey, _, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Prove ------------------------------------------------------------

// Prove is I→R: 64-byte signature by I over the CHALLENGE nonce.
type Prove struct {
	Signature []byte // 64 bytes
}

func (p *Prove) Tag() Tag { return TagProve }

func (p *Prove) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(p.Signature))
	putBytes(buf, 0, p.Signature)
	return buf, nil
}

func decodeProve(b []byte) (*Prove, error) {
	sig, _, err := takeBytes(b, 0)
	if err != nil {
		return nil, err
	}
	return &Prove{Signature: sig}, nil
}

// --- Welcome ------------------------------------------------------------

// Welcome is R→I: session parameters.
type Welcome struct {
	SessionID        []byte // 32 bytes
	HeartbeatMs      uint32
	MaxMessageSize   uint32
}

func (w *Welcome) Tag() Tag { return TagWelcome }

func (w *Welcome) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(w.SessionID)+4+4)
	off := putBytes(buf, 0, w.SessionID)
	off = putUint32(buf, off, w.HeartbeatMs)
	putUint32(buf, off, w.MaxMessageSize)
	return buf, nil
}

func decodeWelcome(b []byte) (*Welcome, error) {
	var w Welcome
	var err error
	off := 0
	if w.SessionID, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if w.HeartbeatMs, off, err = takeUint32(b, off); err != nil {
		return nil, err
	}
	if w.MaxMessageSize, _, err = takeUint32(b, off); err != nil {
		return nil, err
	}
	return &w, nil
}

// --- Ping / Pong ------------------------------------------------------------

// Ping is a liveness probe carrying a nonce echoed back in Pong.
type Ping struct {
	Nonce uint64
}

func (p *Ping) Tag() Tag { return TagPing }

func (p *Ping) MarshalBody() ([]byte, error) {
	buf := make([]byte, 8)
	putUint64(buf, 0, p.Nonce)
	return buf, nil
}

func decodePing(b []byte) (*Ping, error) {
	n, _, err := takeUint64(b, 0)
	if err != nil {
		return nil, err
	}
	return &Ping{Nonce: n}, nil
}

// Pong echoes a Ping's nonce.
type Pong struct {
	Nonce uint64
}

func (p *Pong) Tag() Tag { return TagPong }

func (p *Pong) MarshalBody() ([]byte, error) {
	buf := make([]byte, 8)
	putUint64(buf, 0, p.Nonce)
	return buf, nil
}

func decodePong(b []byte) (*Pong, error) {
	n, _, err := takeUint64(b, 0)
	if err != nil {
		return nil, err
	}
	return &Pong{Nonce: n}, nil
}

// --- TaskRequest / TaskAck ------------------------------------------------------------

// TaskRequest carries a skill task's payload body addressed to a remote
// executor.
type TaskRequest struct {
	TaskID      []byte // 16 bytes (UUID)
	Skill       string
	Input       []byte
	Params      []byte // opaque structured params blob (e.g. JSON)
	TimeoutSecs uint32
	Priority    uint8
	MinTrust    uint32 // fixed-point: value / 1e6
}

func (t *TaskRequest) Tag() Tag { return TagTaskRequest }

func (t *TaskRequest) MarshalBody() ([]byte, error) {
	skillBytes := []byte(t.Skill)
	size := byteLen(t.TaskID) + byteLen(skillBytes) + byteLen(t.Input) + byteLen(t.Params) + 4 + 1 + 4
	buf := make([]byte, size)
	off := putBytes(buf, 0, t.TaskID)
	off = putBytes(buf, off, skillBytes)
	off = putBytes(buf, off, t.Input)
	off = putBytes(buf, off, t.Params)
	off = putUint32(buf, off, t.TimeoutSecs)
	buf[off] = t.Priority
	off++
	putUint32(buf, off, t.MinTrust)
	return buf, nil
}

func decodeTaskRequest(b []byte) (*TaskRequest, error) {
	var t TaskRequest
	var err error
	var skillBytes []byte
	off := 0
	if t.TaskID, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if skillBytes, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	t.Skill = string(skillBytes)
	if t.Input, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if t.Params, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if t.TimeoutSecs, off, err = takeUint32(b, off); err != nil {
		return nil, err
	}
	if off+1 > len(b) {
		return nil, newProtocolError("short read: expected priority byte at offset %d", off)
	}
	t.Priority = b[off]
	off++
	if t.MinTrust, _, err = takeUint32(b, off); err != nil {
		return nil, err
	}
	return &t, nil
}

// TaskAckStatus mirrors the terminal/non-terminal status enum carried
// in a TaskAck.
type TaskAckStatus uint8

const (
	TaskAckAssigned TaskAckStatus = iota
	TaskAckRunning
	TaskAckCompleted
	TaskAckFailed
	TaskAckCancelled
	TaskAckTimedOut
)

// TaskAck reports a status transition for a previously-requested task,
// optionally carrying the result payload for terminal states.
type TaskAck struct {
	TaskID     []byte
	Status     TaskAckStatus
	Output     []byte
	Error      string
	DurationMs uint64
}

func (t *TaskAck) Tag() Tag { return TagTaskAck }

func (t *TaskAck) MarshalBody() ([]byte, error) {
	errBytes := []byte(t.Error)
	size := byteLen(t.TaskID) + 1 + byteLen(t.Output) + byteLen(errBytes) + 8
	buf := make([]byte, size)
	off := putBytes(buf, 0, t.TaskID)
	buf[off] = byte(t.Status)
	off++
	off = putBytes(buf, off, t.Output)
	off = putBytes(buf, off, errBytes)
	putUint64(buf, off, t.DurationMs)
	return buf, nil
}

func decodeTaskAck(b []byte) (*TaskAck, error) {
	var t TaskAck
	var err error
	var errBytes []byte
	off := 0
	if t.TaskID, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if off+1 > len(b) {
		return nil, newProtocolError("short read: expected status byte at offset %d", off)
	}
	t.Status = TaskAckStatus(b[off])
	off++
	if t.Output, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if errBytes, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	t.Error = string(errBytes)
	dur, _, err := takeUint64(b, off)
	if err != nil {
		return nil, err
	}
	t.DurationMs = dur
	return &t, nil
}

// --- Capability query/update ------------------------------------------------------------

// CapsGet requests the current capability blob from a peer; it carries
// no body.
type CapsGet struct{}

func (c *CapsGet) Tag() Tag                     { return TagCapsGet }
func (c *CapsGet) MarshalBody() ([]byte, error) { return []byte{}, nil }

func decodeCapsGet(_ []byte) (*CapsGet, error) { return &CapsGet{}, nil }

// CapsSet pushes an updated capability blob to a peer.
type CapsSet struct {
	Capabilities []byte
}

func (c *CapsSet) Tag() Tag { return TagCapsSet }

func (c *CapsSet) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(c.Capabilities))
	putBytes(buf, 0, c.Capabilities)
	return buf, nil
}

func decodeCapsSet(b []byte) (*CapsSet, error) {
	caps, _, err := takeBytes(b, 0)
	if err != nil {
		return nil, err
	}
	return &CapsSet{Capabilities: caps}, nil
}

// --- Event chunk / artifact content-addressed exchange ------------------------------------------------------------

// EventChunkGet requests a content-addressed event chunk by its
// 32-byte hash.
type EventChunkGet struct {
	Hash []byte // 32 bytes
}

func (e *EventChunkGet) Tag() Tag { return TagEventChunkGet }

func (e *EventChunkGet) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(e.Hash))
	putBytes(buf, 0, e.Hash)
	return buf, nil
}

func decodeEventChunkGet(b []byte) (*EventChunkGet, error) {
	hash, _, err := takeBytes(b, 0)
	if err != nil {
		return nil, err
	}
	return &EventChunkGet{Hash: hash}, nil
}

// EventChunkPut pushes a content-addressed event chunk; Hash must
// equal the content hash of Body.
type EventChunkPut struct {
	Hash []byte
	Body []byte
}

func (e *EventChunkPut) Tag() Tag { return TagEventChunkPut }

func (e *EventChunkPut) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(e.Hash)+byteLen(e.Body))
	off := putBytes(buf, 0, e.Hash)
	putBytes(buf, off, e.Body)
	return buf, nil
}

func decodeEventChunkPut(b []byte) (*EventChunkPut, error) {
	var e EventChunkPut
	var err error
	off := 0
	if e.Hash, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if e.Body, _, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	return &e, nil
}

// ArtifactGet requests a content-addressed task artifact by hash.
type ArtifactGet struct {
	Hash []byte
}

func (a *ArtifactGet) Tag() Tag { return TagArtifactGet }

func (a *ArtifactGet) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(a.Hash))
	putBytes(buf, 0, a.Hash)
	return buf, nil
}

func decodeArtifactGet(b []byte) (*ArtifactGet, error) {
	hash, _, err := takeBytes(b, 0)
	if err != nil {
		return nil, err
	}
	return &ArtifactGet{Hash: hash}, nil
}

// ArtifactPut pushes a content-addressed task artifact.
type ArtifactPut struct {
	Hash []byte
	Body []byte
}

func (a *ArtifactPut) Tag() Tag { return TagArtifactPut }

func (a *ArtifactPut) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(a.Hash)+byteLen(a.Body))
	off := putBytes(buf, 0, a.Hash)
	putBytes(buf, off, a.Body)
	return buf, nil
}

func decodeArtifactPut(b []byte) (*ArtifactPut, error) {
	var a ArtifactPut
	var err error
	off := 0
	if a.Hash, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if a.Body, _, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	return &a, nil
}

// --- Relay messages ------------------------------------------------------------

// RelayBeaconMsg is the wire form of a RelayBeacon: recipient pubkey
// hash, ttl, hop count, and opaque encrypted payload.
type RelayBeaconMsg struct {
	RecipientPubKeyHash []byte // 8 bytes
	TTL                 uint8
	HopCount            uint8
	EncryptedPayload    []byte
}

func (r *RelayBeaconMsg) Tag() Tag { return TagRelayBeacon }

func (r *RelayBeaconMsg) MarshalBody() ([]byte, error) {
	size := byteLen(r.RecipientPubKeyHash) + 1 + 1 + byteLen(r.EncryptedPayload)
	buf := make([]byte, size)
	off := putBytes(buf, 0, r.RecipientPubKeyHash)
	buf[off] = r.TTL
	off++
	buf[off] = r.HopCount
	off++
	putBytes(buf, off, r.EncryptedPayload)
	return buf, nil
}

func decodeRelayBeaconMsg(b []byte) (*RelayBeaconMsg, error) {
	var r RelayBeaconMsg
	var err error
	off := 0
	if r.RecipientPubKeyHash, off, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	if off+2 > len(b) {
		return nil, newProtocolError("short read: expected ttl/hop_count bytes at offset %d", off)
	}
	r.TTL = b[off]
	off++
	r.HopCount = b[off]
	off++
	if r.EncryptedPayload, _, err = takeBytes(b, off); err != nil {
		return nil, err
	}
	return &r, nil
}

// RelayForward wraps a beacon being relayed onward by an intermediate
// node.
type RelayForward struct {
	Beacon *RelayBeaconMsg
}

func (r *RelayForward) Tag() Tag { return TagRelayForward }

func (r *RelayForward) MarshalBody() ([]byte, error) {
	return r.Beacon.MarshalBody()
}

func decodeRelayForward(b []byte) (*RelayForward, error) {
	beacon, err := decodeRelayBeaconMsg(b)
	if err != nil {
		return nil, err
	}
	return &RelayForward{Beacon: beacon}, nil
}

// RelayDeliver announces a beacon's final delivery, identified by the
// beacon's content hash.
type RelayDeliver struct {
	BeaconHash []byte // 32 bytes
}

func (r *RelayDeliver) Tag() Tag { return TagRelayDeliver }

func (r *RelayDeliver) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(r.BeaconHash))
	putBytes(buf, 0, r.BeaconHash)
	return buf, nil
}

func decodeRelayDeliver(b []byte) (*RelayDeliver, error) {
	hash, _, err := takeBytes(b, 0)
	if err != nil {
		return nil, err
	}
	return &RelayDeliver{BeaconHash: hash}, nil
}

// RelayFetch requests any cached beacons addressed to a recipient
// pubkey hash prefix.
type RelayFetch struct {
	PubKeyPrefix []byte
}

func (r *RelayFetch) Tag() Tag { return TagRelayFetch }

func (r *RelayFetch) MarshalBody() ([]byte, error) {
	buf := make([]byte, byteLen(r.PubKeyPrefix))
	putBytes(buf, 0, r.PubKeyPrefix)
	return buf, nil
}

func decodeRelayFetch(b []byte) (*RelayFetch, error) {
	prefix, _, err := takeBytes(b, 0)
	if err != nil {
		return nil, err
	}
	return &RelayFetch{PubKeyPrefix: prefix}, nil
}

// --- Error ------------------------------------------------------------

// ErrorMessage is the wire-level application error: a stable code plus
// a human-readable message.
type ErrorMessage struct {
	Code    string
	Message string
}

func (e *ErrorMessage) Tag() Tag { return TagError }

func (e *ErrorMessage) MarshalBody() ([]byte, error) {
	codeBytes := []byte(e.Code)
	msgBytes := []byte(e.Message)
	buf := make([]byte, byteLen(codeBytes)+byteLen(msgBytes))
	off := putBytes(buf, 0, codeBytes)
	putBytes(buf, off, msgBytes)
	return buf, nil
}

func decodeErrorMessage(b []byte) (*ErrorMessage, error) {
	code, off, err := takeBytes(b, 0)
	if err != nil {
		return nil, err
	}
	msg, _, err := takeBytes(b, off)
	if err != nil {
		return nil, err
	}
	return &ErrorMessage{Code: string(code), Message: string(msg)}, nil
}
