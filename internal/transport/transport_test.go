package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func mustIdentity(t *testing.T) *id.Identity {
	t.Helper()
	identity, err := id.NewIdentity()
	require.NoError(t, err)
	return identity
}

type echoSkill struct{}

func (echoSkill) ID() skill.ID                 { return skill.Normalize("echo") }
func (echoSkill) Descriptor() skill.Descriptor { return skill.Descriptor{} }
func (echoSkill) CanExecute() bool             { return true }
func (echoSkill) EstimateCost(_ []byte) (skill.CostEstimate, bool) {
	return skill.CostEstimate{}, false
}
func (echoSkill) Execute(_ context.Context, input []byte) ([]byte, error) {
	return input, nil
}

func newTestServer(t *testing.T) (*Server, *id.Identity) {
	t.Helper()
	identity := mustIdentity(t)
	caps := handshake.Capabilities{CanCompute: true}
	peers := peerstore.New()
	guard := session.NewNonceCache(handshake.ReplayWindow)
	t.Cleanup(guard.Close)

	registry := skill.NewLocalSkillRegistry()
	registry.Register(echoSkill{})
	executor := task.NewExecutor(registry)

	srv := NewServer(identity, caps, peers, guard, executor, relay.NewStore(), blobstore.NewMemoryStore(), logger.NewDefaultLogger())
	return srv, identity
}

func startListening(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	go srv.Serve(addr)
	// Give Serve a moment to bind before a client dials; a fixed short
	// sleep is adequate here since the listener always binds almost
	// immediately on loopback.
	time.Sleep(20 * time.Millisecond)
	t.Cleanup(func() { srv.Close() })
	return addr
}

func TestServer_AcceptsTaskRequestAndReturnsCompletedAck(t *testing.T) {
	srv, serverIdentity := newTestServer(t)
	addr := startListening(t, srv)

	clientIdentity := mustIdentity(t)
	clientPeers := peerstore.New()
	clientPeers.Insert(peerstore.PeerInfo{NodeID: serverIdentity.ID, Addresses: []string{addr}})

	dispatcher := NewDispatcher(clientIdentity, handshake.Capabilities{CanCompute: true}, clientPeers)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := dispatcher.Dispatch(ctx, serverIdentity.ID, &task.Task{
		ID:          "t-1",
		Skill:       skill.Normalize("echo"),
		Input:       []byte("hello"),
		TimeoutSecs: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, res.Status)
	assert.Equal(t, []byte("hello"), res.Output)
}

func TestServer_UnknownSkillReturnsFailedAck(t *testing.T) {
	srv, serverIdentity := newTestServer(t)
	addr := startListening(t, srv)

	clientIdentity := mustIdentity(t)
	clientPeers := peerstore.New()
	clientPeers.Insert(peerstore.PeerInfo{NodeID: serverIdentity.ID, Addresses: []string{addr}})

	dispatcher := NewDispatcher(clientIdentity, handshake.Capabilities{CanCompute: true}, clientPeers)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := dispatcher.Dispatch(ctx, serverIdentity.ID, &task.Task{
		ID:    "t-2",
		Skill: skill.Normalize("does-not-exist"),
		Input: []byte("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)
	require.Error(t, res.Err)
}

func TestDispatcher_NoKnownAddressReturnsError(t *testing.T) {
	clientIdentity := mustIdentity(t)
	dispatcher := NewDispatcher(clientIdentity, handshake.Capabilities{}, peerstore.New())

	_, err := dispatcher.Dispatch(context.Background(), id.NodeId{9}, &task.Task{ID: "t-3", Skill: skill.Normalize("echo")})
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestServer_PingAfterHandshakeGetsPong(t *testing.T) {
	srv, serverIdentity := newTestServer(t)
	addr := startListening(t, srv)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	clientIdentity := mustIdentity(t)
	m, err := handshake.NewInitiator(clientIdentity, serverIdentity.ID, handshake.Capabilities{})
	require.NoError(t, err)

	hello, err := m.Start()
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, hello))

	body, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	msg, err := wire.Decode(body)
	require.NoError(t, err)
	challenge := msg.(*wire.Challenge)

	prove, err := m.HandleChallenge(challenge)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, prove))

	body, err = wire.ReadFrame(conn)
	require.NoError(t, err)
	msg, err = wire.Decode(body)
	require.NoError(t, err)
	welcome := msg.(*wire.Welcome)
	_, err = m.HandleWelcome(welcome)
	require.NoError(t, err)

	require.NoError(t, wire.WriteFrame(conn, &wire.Ping{Nonce: 42}))
	body, err = wire.ReadFrame(conn)
	require.NoError(t, err)
	msg, err = wire.Decode(body)
	require.NoError(t, err)
	pong, ok := msg.(*wire.Pong)
	require.True(t, ok)
	assert.Equal(t, uint64(42), pong.Nonce)
}
