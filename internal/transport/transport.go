// Package transport runs the TCP connection lifecycle a node needs
// once the handshake, wire codec, session and delegate packages exist
// in isolation: accept a connection, drive the responder handshake,
// then service task, ping and relay traffic until the peer hangs up.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/meshfabric/node/blobstore"
	"github.com/meshfabric/node/handshake"
	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/internal/logger"
	"github.com/meshfabric/node/peerstore"
	"github.com/meshfabric/node/relay"
	"github.com/meshfabric/node/session"
	"github.com/meshfabric/node/skill"
	"github.com/meshfabric/node/task"
	"github.com/meshfabric/node/wire"
)

// TaskHandler executes a task requested over the wire by a remote
// peer. *task.Executor satisfies this directly.
type TaskHandler interface {
	Execute(ctx context.Context, t *task.Task) task.Result
}

// DialTimeout bounds how long Dispatch waits to establish a TCP
// connection to a remote peer before giving up.
const DialTimeout = 10 * time.Second

// capabilitiesJSON mirrors handshake.Capabilities' wire encoding so
// this package can build a HELLO/CapsSet body without reaching into
// handshake's unexported marshal method.
type capabilitiesJSON struct {
	CanRelay   bool `json:"can_relay"`
	CanStore   bool `json:"can_store"`
	CanCompute bool `json:"can_compute"`
}

func marshalCapabilities(c handshake.Capabilities) []byte {
	b, _ := json.Marshal(capabilitiesJSON{CanRelay: c.CanRelay, CanStore: c.CanStore, CanCompute: c.CanCompute})
	return b
}

// Server accepts inbound connections, runs the responder side of the
// handshake, and services each connection's subsequent traffic.
type Server struct {
	identity     *id.Identity
	capabilities handshake.Capabilities
	peers        *peerstore.Store
	replayGuard  *session.NonceCache
	executor     TaskHandler
	relayStore   *relay.Store
	blobs        blobstore.Store
	log          logger.Logger

	listener net.Listener
}

// NewServer constructs a Server. relayStore and blobs may be nil if
// this node never accepts relay traffic or artifact transfers.
func NewServer(identity *id.Identity, caps handshake.Capabilities, peers *peerstore.Store, replayGuard *session.NonceCache, executor TaskHandler, relayStore *relay.Store, blobs blobstore.Store, log logger.Logger) *Server {
	return &Server{
		identity:     identity,
		capabilities: caps,
		peers:        peers,
		replayGuard:  replayGuard,
		executor:     executor,
		relayStore:   relayStore,
		blobs:        blobs,
		log:          log,
	}
}

// Serve listens on addr and services connections until Close is
// called. It blocks the calling goroutine.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", logger.Error(err))
			continue
		}
		go s.handleConn(conn)
	}
}

// Addr returns the listener's bound address, valid only after Serve
// has started listening.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	m, err := handshake.NewResponder(s.identity, s.capabilities, s.replayGuard)
	if err != nil {
		s.log.Warn("responder handshake init failed", logger.Error(err))
		return
	}

	if err := s.runResponderHandshake(conn, m); err != nil {
		s.log.Warn("handshake failed", logger.Error(err), logger.String("remote", conn.RemoteAddr().String()))
		return
	}

	peer := m.PeerNodeID()
	s.log.Info("peer handshake completed", logger.String("peer", peer.String()))

	if s.peers != nil {
		info, ok := s.peers.Get(peer)
		if !ok {
			info = peerstore.PeerInfo{NodeID: peer}
		}
		info.Addresses = appendAddr(info.Addresses, conn.RemoteAddr().String())
		info.Capabilities = peerstore.Capabilities{
			CanRelay:   m.PeerCapabilities().CanRelay,
			CanStore:   m.PeerCapabilities().CanStore,
			CanCompute: m.PeerCapabilities().CanCompute,
		}
		s.peers.Insert(info)
		s.peers.Touch(peer, time.Now())
	}

	s.serveFrames(conn, peer)
}

func appendAddr(existing []string, addr string) []string {
	for _, a := range existing {
		if a == addr {
			return existing
		}
	}
	return append([]string{addr}, existing...)
}

func (s *Server) runResponderHandshake(conn net.Conn, m *handshake.Machine) error {
	body, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	msg, err := wire.Decode(body)
	if err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}
	hello, ok := msg.(*wire.Hello)
	if !ok {
		return fmt.Errorf("expected HELLO, got %T", msg)
	}

	challenge, err := m.HandleHello(hello)
	if err != nil {
		return fmt.Errorf("handle hello: %w", err)
	}
	if err := wire.WriteFrame(conn, challenge); err != nil {
		return fmt.Errorf("write challenge: %w", err)
	}

	body, err = wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read prove: %w", err)
	}
	msg, err = wire.Decode(body)
	if err != nil {
		return fmt.Errorf("decode prove: %w", err)
	}
	prove, ok := msg.(*wire.Prove)
	if !ok {
		return fmt.Errorf("expected PROVE, got %T", msg)
	}

	welcome, _, err := m.HandleProve(prove)
	if err != nil {
		return fmt.Errorf("handle prove: %w", err)
	}
	if err := wire.WriteFrame(conn, welcome); err != nil {
		return fmt.Errorf("write welcome: %w", err)
	}
	return nil
}

// serveFrames loops reading frames from an established connection
// until it errors or the peer closes it.
func (s *Server) serveFrames(conn net.Conn, peer id.NodeId) {
	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		msg, err := wire.Decode(body)
		if err != nil {
			s.log.Warn("decode frame failed", logger.Error(err), logger.String("peer", peer.String()))
			return
		}

		if err := s.dispatchFrame(conn, peer, msg); err != nil {
			s.log.Warn("frame handling failed", logger.Error(err), logger.String("peer", peer.String()))
			return
		}
	}
}

func (s *Server) dispatchFrame(conn net.Conn, peer id.NodeId, msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.Ping:
		return wire.WriteFrame(conn, &wire.Pong{Nonce: m.Nonce})
	case *wire.CapsGet:
		return wire.WriteFrame(conn, &wire.CapsSet{Capabilities: marshalCapabilities(s.capabilities)})
	case *wire.TaskRequest:
		return s.handleTaskRequest(conn, m)
	case *wire.RelayForward:
		return s.handleRelayForward(conn, m)
	case *wire.ArtifactGet:
		return s.handleArtifactGet(conn, m)
	case *wire.ArtifactPut:
		return s.handleArtifactPut(conn, m)
	default:
		return wire.WriteFrame(conn, &wire.ErrorMessage{Code: "unsupported_message", Message: fmt.Sprintf("tag %T not handled by this node", msg)})
	}
}

func (s *Server) handleTaskRequest(conn net.Conn, req *wire.TaskRequest) error {
	if s.executor == nil {
		return wire.WriteFrame(conn, &wire.TaskAck{
			TaskID: req.TaskID,
			Status: wire.TaskAckFailed,
			Error:  "node does not execute tasks",
		})
	}

	t := &task.Task{
		ID:          string(req.TaskID),
		Skill:       skill.ID(req.Skill),
		Input:       req.Input,
		Params:      req.Params,
		TimeoutSecs: req.TimeoutSecs,
		Priority:    req.Priority,
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if t.TimeoutSecs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.TimeoutSecs)*time.Second)
		defer cancel()
	}

	res := s.executor.Execute(ctx, t)
	return wire.WriteFrame(conn, resultToAck(req.TaskID, res))
}

func (s *Server) handleRelayForward(conn net.Conn, rf *wire.RelayForward) error {
	if s.relayStore == nil {
		return wire.WriteFrame(conn, &wire.ErrorMessage{Code: "relay_disabled", Message: "node does not relay beacons"})
	}

	var recipientHash [8]byte
	copy(recipientHash[:], rf.Beacon.RecipientPubKeyHash)

	b := relay.Beacon{
		RecipientPubKeyHash: recipientHash,
		TTL:                 rf.Beacon.TTL,
		HopCount:            rf.Beacon.HopCount,
		EncryptedPayload:    rf.Beacon.EncryptedPayload,
	}

	forwarded, err := s.relayStore.Forward(b)
	if err != nil {
		if errors.Is(err, relay.ErrDuplicateBeacon) || errors.Is(err, relay.ErrTTLExhausted) {
			return nil
		}
		return err
	}

	hash := forwarded.Hash()
	return wire.WriteFrame(conn, &wire.RelayDeliver{BeaconHash: hash[:]})
}

func (s *Server) handleArtifactGet(conn net.Conn, req *wire.ArtifactGet) error {
	if s.blobs == nil || len(req.Hash) != 32 {
		return wire.WriteFrame(conn, &wire.ErrorMessage{Code: "artifact_unavailable", Message: "node does not store artifacts"})
	}
	var hash [32]byte
	copy(hash[:], req.Hash)

	body, ok, err := s.blobs.Get(hash)
	if err != nil {
		return err
	}
	if !ok {
		return wire.WriteFrame(conn, &wire.ErrorMessage{Code: "artifact_not_found", Message: "no artifact stored under that hash"})
	}
	return wire.WriteFrame(conn, &wire.ArtifactPut{Hash: req.Hash, Body: body})
}

func (s *Server) handleArtifactPut(conn net.Conn, put *wire.ArtifactPut) error {
	if s.blobs == nil || len(put.Hash) != 32 {
		return wire.WriteFrame(conn, &wire.ErrorMessage{Code: "artifact_unavailable", Message: "node does not store artifacts"})
	}
	var hash [32]byte
	copy(hash[:], put.Hash)
	if err := s.blobs.Put(hash, put.Body); err != nil {
		return err
	}
	return wire.WriteFrame(conn, &wire.ArtifactPut{Hash: put.Hash})
}

func resultToAck(taskID []byte, res task.Result) *wire.TaskAck {
	ack := &wire.TaskAck{
		TaskID:     taskID,
		Output:     res.Output,
		DurationMs: res.DurationMs,
	}
	if res.Err != nil {
		ack.Error = res.Err.Error()
	}
	switch res.Status {
	case task.StatusCompleted:
		ack.Status = wire.TaskAckCompleted
	case task.StatusTimedOut:
		ack.Status = wire.TaskAckTimedOut
	case task.StatusCancelled:
		ack.Status = wire.TaskAckCancelled
	default:
		ack.Status = wire.TaskAckFailed
	}
	return ack
}

