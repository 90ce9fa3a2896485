package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/meshfabric/node/handshake"
	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/peerstore"
	"github.com/meshfabric/node/task"
	"github.com/meshfabric/node/wire"
)

// ErrNoAddress is returned when Dispatch is asked to reach a node the
// peer store has no known address for.
var ErrNoAddress = errors.New("transport: no known address for node")

// Dispatcher implements delegate.RemoteDispatcher over a plain TCP
// connection dialed fresh per call: handshake, send TaskRequest, wait
// for a terminal TaskAck.
type Dispatcher struct {
	identity     *id.Identity
	capabilities handshake.Capabilities
	peers        *peerstore.Store
}

// NewDispatcher constructs a Dispatcher. peers supplies the address to
// dial for a given NodeId, populated by prior handshakes or static
// configuration.
func NewDispatcher(identity *id.Identity, caps handshake.Capabilities, peers *peerstore.Store) *Dispatcher {
	return &Dispatcher{identity: identity, capabilities: caps, peers: peers}
}

// Dispatch satisfies delegate.RemoteDispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, node id.NodeId, t *task.Task) (task.Result, error) {
	addr, err := d.addressFor(node)
	if err != nil {
		return task.Result{}, err
	}

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return task.Result{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	m, err := handshake.NewInitiator(d.identity, node, d.capabilities)
	if err != nil {
		return task.Result{}, fmt.Errorf("initiator handshake init: %w", err)
	}
	if err := d.runInitiatorHandshake(conn, m); err != nil {
		return task.Result{}, err
	}

	taskReq := &wire.TaskRequest{
		TaskID:      []byte(t.ID),
		Skill:       string(t.Skill),
		Input:       t.Input,
		Params:      t.Params,
		TimeoutSecs: t.TimeoutSecs,
		Priority:    t.Priority,
	}
	if err := wire.WriteFrame(conn, taskReq); err != nil {
		return task.Result{}, fmt.Errorf("write task request: %w", err)
	}

	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			return task.Result{}, fmt.Errorf("read task ack: %w", err)
		}
		msg, err := wire.Decode(body)
		if err != nil {
			return task.Result{}, fmt.Errorf("decode task ack: %w", err)
		}

		switch ack := msg.(type) {
		case *wire.TaskAck:
			if res, ok := ackToResult(t.ID, ack); ok {
				return res, nil
			}
			// Assigned/Running: not terminal yet, keep reading.
		case *wire.ErrorMessage:
			return task.Result{}, fmt.Errorf("remote error %s: %s", ack.Code, ack.Message)
		default:
			return task.Result{}, fmt.Errorf("unexpected message while awaiting task ack: %T", msg)
		}
	}
}

func (d *Dispatcher) addressFor(node id.NodeId) (string, error) {
	if d.peers == nil {
		return "", ErrNoAddress
	}
	info, ok := d.peers.Get(node)
	if !ok || len(info.Addresses) == 0 {
		return "", ErrNoAddress
	}
	return info.Addresses[0], nil
}

func (d *Dispatcher) runInitiatorHandshake(conn net.Conn, m *handshake.Machine) error {
	hello, err := m.Start()
	if err != nil {
		return fmt.Errorf("start handshake: %w", err)
	}
	if err := wire.WriteFrame(conn, hello); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	body, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	msg, err := wire.Decode(body)
	if err != nil {
		return fmt.Errorf("decode challenge: %w", err)
	}
	challenge, ok := msg.(*wire.Challenge)
	if !ok {
		return fmt.Errorf("expected CHALLENGE, got %T", msg)
	}

	prove, err := m.HandleChallenge(challenge)
	if err != nil {
		return fmt.Errorf("handle challenge: %w", err)
	}
	if err := wire.WriteFrame(conn, prove); err != nil {
		return fmt.Errorf("write prove: %w", err)
	}

	body, err = wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	msg, err = wire.Decode(body)
	if err != nil {
		return fmt.Errorf("decode welcome: %w", err)
	}
	welcome, ok := msg.(*wire.Welcome)
	if !ok {
		return fmt.Errorf("expected WELCOME, got %T", msg)
	}

	_, err = m.HandleWelcome(welcome)
	if err != nil {
		return fmt.Errorf("handle welcome: %w", err)
	}
	return nil
}

func ackToResult(taskID string, ack *wire.TaskAck) (task.Result, bool) {
	res := task.Result{TaskID: taskID, Output: ack.Output, DurationMs: ack.DurationMs}
	switch ack.Status {
	case wire.TaskAckCompleted:
		res.Status = task.StatusCompleted
		return res, true
	case wire.TaskAckFailed:
		res.Status = task.StatusFailed
		if ack.Error != "" {
			res.Err = &task.ErrExecutionFailed{TaskID: taskID, Cause: errors.New(ack.Error)}
		}
		return res, true
	case wire.TaskAckCancelled:
		res.Status = task.StatusCancelled
		return res, true
	case wire.TaskAckTimedOut:
		res.Status = task.StatusTimedOut
		return res, true
	default:
		return task.Result{}, false
	}
}
