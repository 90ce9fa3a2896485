// Package handshake implements the four-message HELLO/CHALLENGE/PROVE/
// WELCOME state machine (spec §4.1) that two nodes run once per
// connection before any other wire traffic is exchanged.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshfabric/node/crypto/keys"
	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/session"
	"github.com/meshfabric/node/wire"
)

// ReplayWindow bounds how far a HELLO's wall-clock timestamp may drift
// from the responder's own clock before it is rejected, and how long
// an accepted (node, timestamp) pair must be remembered to reject
// duplicates.
const ReplayWindow = 5 * time.Minute

// DefaultHeartbeatMs is the heartbeat interval a responder proposes in
// WELCOME.
const DefaultHeartbeatMs = 5000

// defaultSessionConfig governs sessions established by a completed
// handshake; callers that need different limits construct their own
// session via session.NewSecureSessionWithParams directly.
var defaultSessionConfig = session.Config{
	MaxAge:      time.Hour,
	IdleTimeout: 10 * time.Minute,
	MaxMessages: 100000,
}

// State is a node in the handshake state machine.
type State int

const (
	StateInitial State = iota
	StateHelloSent
	StateChallengeSent
	StateProveSent
	StateWelcomeSent
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateHelloSent:
		return "hello_sent"
	case StateChallengeSent:
		return "challenge_sent"
	case StateProveSent:
		return "prove_sent"
	case StateWelcomeSent:
		return "welcome_sent"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason names why a handshake failed.
type Reason string

const (
	ReasonInvalidSignature  Reason = "invalid_signature"
	ReasonInvalidNodeID     Reason = "invalid_node_id"
	ReasonProtocolError     Reason = "protocol_error"
	ReasonTimeout           Reason = "timeout"
	ReasonReplay            Reason = "replay_detected"
	ReasonUnexpectedMessage Reason = "unexpected_message"
)

// Error is the terminal failure carried by Failed{reason}.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return fmt.Sprintf("HandshakeFailed: %s", e.Reason)
}

// Role distinguishes the initiator (HELLO sender) from the responder.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Capabilities is the capability blob carried in HELLO, encoded as
// canonical JSON on the wire.
type Capabilities struct {
	CanRelay   bool `json:"can_relay"`
	CanStore   bool `json:"can_store"`
	CanCompute bool `json:"can_compute"`
}

func (c Capabilities) marshal() []byte {
	b, _ := json.Marshal(c)
	return b
}

func unmarshalCapabilities(b []byte) (Capabilities, error) {
	var c Capabilities
	if len(b) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

// ReplayGuard remembers accepted (NodeId, timestamp) pairs for at
// least ReplayWindow, rejecting duplicates. *session.NonceCache
// already implements exactly this TTL'd seen-set.
type ReplayGuard interface {
	Seen(keyID, nonce string) bool
}

// Machine drives one side of a single handshake session. It is not
// safe for concurrent use; a connection owns at most one Machine at a
// time, created fresh per connection attempt.
type Machine struct {
	role     Role
	identity *id.Identity
	state    State
	reason   Reason

	ephemeral *keys.X25519KeyPair
	selfEph   []byte
	peerEph   []byte

	peerNodeID       id.NodeId
	peerSigningPK    ed25519.PublicKey
	peerCapabilities Capabilities

	challengeNonce []byte
	replayGuard    ReplayGuard
	now            func() time.Time

	capabilities Capabilities
}

func newMachine(role Role, self *id.Identity, caps Capabilities) (*Machine, error) {
	kp, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	x25519KP, ok := kp.(*keys.X25519KeyPair)
	if !ok {
		return nil, fmt.Errorf("unexpected ephemeral key pair type %T", kp)
	}
	return &Machine{
		role:         role,
		identity:     self,
		state:        StateInitial,
		ephemeral:    x25519KP,
		selfEph:      x25519KP.PublicBytesKey(),
		capabilities: caps,
		now:          time.Now,
	}, nil
}

// NewInitiator starts a handshake as I, addressed to a known peer
// NodeId (learned e.g. from the peer store before dialing).
func NewInitiator(self *id.Identity, peerNodeID id.NodeId, caps Capabilities) (*Machine, error) {
	m, err := newMachine(RoleInitiator, self, caps)
	if err != nil {
		return nil, err
	}
	m.peerNodeID = peerNodeID
	return m, nil
}

// NewResponder starts a handshake as R. replayGuard is typically a
// connection-independent *session.NonceCache shared across all
// inbound handshakes on this node.
func NewResponder(self *id.Identity, caps Capabilities, replayGuard ReplayGuard) (*Machine, error) {
	m, err := newMachine(RoleResponder, self, caps)
	if err != nil {
		return nil, err
	}
	m.replayGuard = replayGuard
	return m, nil
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// FailureReason is valid only once State() == StateFailed.
func (m *Machine) FailureReason() Reason { return m.reason }

// PeerNodeID returns the remote node's id, known to the initiator from
// construction and to the responder once HELLO has been validated.
func (m *Machine) PeerNodeID() id.NodeId { return m.peerNodeID }

// PeerCapabilities returns the capability blob the responder decoded
// from HELLO. Zero value until HandleHello succeeds.
func (m *Machine) PeerCapabilities() Capabilities { return m.peerCapabilities }

func (m *Machine) fail(reason Reason) error {
	m.state = StateFailed
	m.reason = reason
	return &Error{Reason: reason}
}

// Start builds and signs the initial HELLO. Only legal from
// StateInitial as the initiator.
func (m *Machine) Start() (*wire.Hello, error) {
	if m.role != RoleInitiator || m.state != StateInitial {
		return nil, m.fail(ReasonUnexpectedMessage)
	}

	hello := &wire.Hello{
		ProtocolVersion: wire.ProtocolVersion,
		NodeID:          m.identity.ID.Bytes(),
		SigningPubKey:   append([]byte(nil), m.identity.PublicKey...),
		Capabilities:    m.capabilities.marshal(),
		EphemeralPubKey: m.selfEph,
		Timestamp:       m.now().Unix(),
	}
	hello.Signature = m.identity.Sign(hello.SignedFields())

	m.state = StateHelloSent
	return hello, nil
}

// HandleHello validates an inbound HELLO and replies with CHALLENGE.
// Only legal from StateInitial as the responder.
func (m *Machine) HandleHello(h *wire.Hello) (*wire.Challenge, error) {
	if m.role != RoleResponder || m.state != StateInitial {
		return nil, m.fail(ReasonUnexpectedMessage)
	}

	if h.ProtocolVersion != wire.ProtocolVersion {
		return nil, m.fail(ReasonProtocolError)
	}

	peerID, err := id.FromBytes(h.NodeID)
	if err != nil {
		return nil, m.fail(ReasonInvalidNodeID)
	}
	if peerID != id.FromPublicKey(ed25519.PublicKey(h.SigningPubKey)) {
		return nil, m.fail(ReasonInvalidNodeID)
	}

	if !ed25519.Verify(ed25519.PublicKey(h.SigningPubKey), h.SignedFields(), h.Signature) {
		return nil, m.fail(ReasonInvalidSignature)
	}

	drift := m.now().Unix() - h.Timestamp
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > ReplayWindow {
		return nil, m.fail(ReasonTimeout)
	}

	if m.replayGuard != nil {
		key := peerID.Full()
		nonce := fmt.Sprintf("%d", h.Timestamp)
		if m.replayGuard.Seen(key, nonce) {
			return nil, m.fail(ReasonReplay)
		}
	}

	peerCaps, err := unmarshalCapabilities(h.Capabilities)
	if err != nil {
		return nil, m.fail(ReasonProtocolError)
	}

	m.peerNodeID = peerID
	m.peerSigningPK = append(ed25519.PublicKey(nil), h.SigningPubKey...)
	m.peerEph = h.EphemeralPubKey
	m.peerCapabilities = peerCaps

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate challenge nonce: %w", err)
	}
	m.challengeNonce = nonce

	m.state = StateChallengeSent
	return &wire.Challenge{Nonce: nonce, EphemeralPubKey: m.selfEph}, nil
}

// HandleChallenge processes an inbound CHALLENGE and replies with
// PROVE. Only legal from StateHelloSent as the initiator.
func (m *Machine) HandleChallenge(c *wire.Challenge) (*wire.Prove, error) {
	if m.role != RoleInitiator || m.state != StateHelloSent {
		return nil, m.fail(ReasonUnexpectedMessage)
	}

	m.peerEph = c.EphemeralPubKey
	sig := m.identity.Sign(c.Nonce)

	m.state = StateProveSent
	return &wire.Prove{Signature: sig}, nil
}

// HandleProve verifies an inbound PROVE against the nonce this
// responder issued, and replies with WELCOME plus the newly
// established session. Only legal from StateChallengeSent as the
// responder.
func (m *Machine) HandleProve(p *wire.Prove) (*wire.Welcome, *session.SecureSession, error) {
	if m.role != RoleResponder || m.state != StateChallengeSent {
		return nil, nil, m.fail(ReasonUnexpectedMessage)
	}

	if !ed25519.Verify(m.peerSigningPK, m.challengeNonce, p.Signature) {
		return nil, nil, m.fail(ReasonInvalidSignature)
	}

	sessionID := make([]byte, 32)
	if _, err := rand.Read(sessionID); err != nil {
		return nil, nil, fmt.Errorf("generate session id: %w", err)
	}

	sess, err := m.establishSession(sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("establish session: %w", err)
	}

	welcome := &wire.Welcome{
		SessionID:      sessionID,
		HeartbeatMs:    DefaultHeartbeatMs,
		MaxMessageSize: wire.MaxMessageSize,
	}

	m.state = StateWelcomeSent
	return welcome, sess, nil
}

// HandleWelcome processes an inbound WELCOME and completes the
// handshake, deriving the shared session. Only legal from
// StateProveSent as the initiator.
func (m *Machine) HandleWelcome(w *wire.Welcome) (*session.SecureSession, error) {
	if m.role != RoleInitiator || m.state != StateProveSent {
		return nil, m.fail(ReasonUnexpectedMessage)
	}

	sess, err := m.establishSession(w.SessionID)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}

	m.state = StateCompleted
	return sess, nil
}

// establishSession derives the shared secret via the ephemeral
// key-exchange pair and builds the session keyed by sessionID, per
// the "KDF seeded with the shared secret and the session id" rule in
// §4.1.
func (m *Machine) establishSession(sessionID []byte) (*session.SecureSession, error) {
	shared, err := m.ephemeral.DeriveSharedSecret(m.peerEph)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}

	params := session.Params{
		ContextID:    m.contextID() + hex.EncodeToString(sessionID),
		SelfEph:      m.selfEph,
		PeerEph:      m.peerEph,
		Label:        "meshfabric/handshake v1",
		SharedSecret: shared,
	}
	return session.NewSecureSessionWithParams(shared, params, defaultSessionConfig)
}

// contextID is identical on both peers regardless of role, derived
// from the canonical (lower, higher) order of the two NodeIds.
func (m *Machine) contextID() string {
	a, b := m.identity.ID, m.peerNodeID
	if a.Less(b) {
		return a.Full() + b.Full()
	}
	return b.Full() + a.Full()
}
