package delegate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/reputation"
	"github.com/meshfabric/node/reputation/gossip"
	"github.com/meshfabric/node/skill"
	"github.com/meshfabric/node/task"
)

func nodeID(b byte) id.NodeId {
	var n id.NodeId
	n[0] = b
	return n
}

type echoSkill struct{ id skill.ID }

func (e echoSkill) ID() skill.ID                 { return e.id }
func (e echoSkill) Descriptor() skill.Descriptor { return skill.Descriptor{} }
func (e echoSkill) CanExecute() bool             { return true }
func (e echoSkill) EstimateCost(_ []byte) (skill.CostEstimate, bool) {
	return skill.CostEstimate{}, false
}
func (e echoSkill) Execute(_ context.Context, input []byte) ([]byte, error) {
	return input, nil
}

type failingSkill struct{ id skill.ID }

func (f failingSkill) ID() skill.ID                 { return f.id }
func (f failingSkill) Descriptor() skill.Descriptor { return skill.Descriptor{} }
func (f failingSkill) CanExecute() bool             { return true }
func (f failingSkill) EstimateCost(_ []byte) (skill.CostEstimate, bool) {
	return skill.CostEstimate{}, false
}
func (f failingSkill) Execute(_ context.Context, _ []byte) ([]byte, error) {
	return nil, errors.New("boom")
}

type fakeDispatcher struct {
	result task.Result
	err    error
	calls  int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ id.NodeId, t *task.Task) (task.Result, error) {
	f.calls++
	r := f.result
	r.TaskID = t.ID
	return r, f.err
}

type staticPeers struct{ peers []id.NodeId }

func (s staticPeers) Peers() []id.NodeId { return s.peers }

func newLocalCoordinator(t *testing.T, self id.NodeId, s skill.Executable) *Coordinator {
	reg := skill.NewLocalSkillRegistry()
	reg.Register(s)

	netReg := skill.NewNetworkSkillRegistry()
	netReg.MarkLocal(s.ID())

	graph := reputation.New(self)
	router := skill.NewRouter(self, graph, netReg)
	queue := task.NewQueue()
	executor := task.NewExecutor(reg)
	g := gossip.NewGossiper(self, graph, 0)

	c := New(self, router, queue, executor, graph, g, nil, staticPeers{})
	c.Start(50 * time.Millisecond)
	t.Cleanup(c.Stop)
	return c
}

func TestSubmitTask_LocalExecutionSucceeds(t *testing.T) {
	self := nodeID(1)
	c := newLocalCoordinator(t, self, echoSkill{id: skill.Normalize("echo")})

	res, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("echo"), Input: []byte("hi")}, 0.0)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, res.Status)
	assert.Equal(t, []byte("hi"), res.Output)
}

func TestSubmitTask_NoRouteReturnsError(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	netReg := skill.NewNetworkSkillRegistry()
	router := skill.NewRouter(self, graph, netReg)
	queue := task.NewQueue()
	executor := task.NewExecutor(skill.NewLocalSkillRegistry())

	c := New(self, router, queue, executor, graph, nil, nil, nil)
	c.Start(0)
	defer c.Stop()

	_, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("missing")}, 0.0)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestSubmitTask_RemoteExecutionRecordsPositiveRating(t *testing.T) {
	self := nodeID(1)
	remote := nodeID(2)

	graph := reputation.New(self)
	netReg := skill.NewNetworkSkillRegistry()
	netReg.AnnounceNode(remote, []skill.ID{skill.Normalize("classify")})
	router := skill.NewRouter(self, graph, netReg)
	queue := task.NewQueue()
	executor := task.NewExecutor(skill.NewLocalSkillRegistry())

	dispatcher := &fakeDispatcher{result: task.Result{Status: task.StatusCompleted, Output: []byte("ok")}}
	g := gossip.NewGossiper(self, graph, 10)
	peers := staticPeers{peers: []id.NodeId{remote, nodeID(3)}}

	c := New(self, router, queue, executor, graph, g, dispatcher, peers)
	c.Start(0)
	defer c.Stop()

	res, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("classify")}, 0.0)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, res.Status)

	agg, ok := graph.GetSkillRating(remote, skill.Normalize("classify"))
	require.True(t, ok)
	assert.Equal(t, 1, agg.PositiveCount)

	select {
	case env := <-g.Outbox():
		assert.Equal(t, remote, env.Target)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a gossip envelope for the new rating")
	}
}

func TestSubmitTask_ExecutionFailureRetriesOnDifferentNode(t *testing.T) {
	self := nodeID(1)
	nodeA := nodeID(2)
	nodeB := nodeID(3)

	graph := reputation.New(self)
	netReg := skill.NewNetworkSkillRegistry()
	netReg.AnnounceNode(nodeA, []skill.ID{skill.Normalize("classify")})
	netReg.AnnounceNode(nodeB, []skill.ID{skill.Normalize("classify")})
	router := skill.NewRouter(self, graph, netReg)
	queue := task.NewQueue()
	executor := task.NewExecutor(skill.NewLocalSkillRegistry())

	dispatcher := &fakeDispatcher{
		result: task.Result{Status: task.StatusFailed, Err: &task.ErrExecutionFailed{TaskID: "t1", Cause: errors.New("x")}},
	}

	c := New(self, router, queue, executor, graph, nil, dispatcher, nil)
	c.Start(0)
	defer c.Stop()

	res, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("classify")}, 0.0)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, 2, dispatcher.calls, "both candidates should have been tried before giving up")
}

func TestSubmitTask_NeverRatesSelf(t *testing.T) {
	self := nodeID(1)
	c := newLocalCoordinator(t, self, echoSkill{id: skill.Normalize("echo")})

	_, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("echo")}, 0.0)
	require.NoError(t, err)

	_, ok := c.graph.GetSkillRating(self, skill.Normalize("echo"))
	assert.False(t, ok, "coordinator must never rate itself")
}

func TestMetrics_TracksSubmittedAndCompleted(t *testing.T) {
	self := nodeID(1)
	c := newLocalCoordinator(t, self, echoSkill{id: skill.Normalize("echo")})

	_, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("echo")}, 0.0)
	require.NoError(t, err)

	m := c.Snapshot()
	assert.Equal(t, uint64(1), m.Submitted)
	assert.Equal(t, uint64(1), m.Completed)
}

func TestMetrics_TracksLocalExecutionFailure(t *testing.T) {
	self := nodeID(1)
	c := newLocalCoordinator(t, self, failingSkill{id: skill.Normalize("broken")})

	res, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("broken")}, 0.0)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)

	m := c.Snapshot()
	assert.Equal(t, uint64(1), m.Failed)
}

func TestInFlightCount_ZeroAfterCompletion(t *testing.T) {
	self := nodeID(1)
	c := newLocalCoordinator(t, self, echoSkill{id: skill.Normalize("echo")})

	_, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("echo")}, 0.0)
	require.NoError(t, err)
	assert.Equal(t, 0, c.InFlightCount())
}

func TestStatus_ReflectsSelfPeersAndMetrics(t *testing.T) {
	self := nodeID(1)
	remote := nodeID(2)

	graph := reputation.New(self)
	netReg := skill.NewNetworkSkillRegistry()
	netReg.AnnounceNode(remote, []skill.ID{skill.Normalize("classify")})
	router := skill.NewRouter(self, graph, netReg)
	queue := task.NewQueue()
	executor := task.NewExecutor(skill.NewLocalSkillRegistry())

	dispatcher := &fakeDispatcher{result: task.Result{Status: task.StatusCompleted, Output: []byte("ok")}}
	peers := staticPeers{peers: []id.NodeId{remote}}

	c := New(self, router, queue, executor, graph, nil, dispatcher, peers)
	c.Start(0)
	defer c.Stop()

	_, err := c.SubmitTask(context.Background(), &task.Task{ID: "t1", Skill: skill.Normalize("classify")}, 0.0)
	require.NoError(t, err)

	status := c.Status()
	assert.Equal(t, self, status.Self)
	assert.Equal(t, 0, status.InFlight)
	assert.Equal(t, 1, status.PeerCount)
	assert.Equal(t, uint64(1), status.Metrics.Completed)

	assert.Equal(t, []id.NodeId{remote}, c.Peers())
	assert.Equal(t, c.Snapshot(), c.Stats())
}

func TestPeers_NilPeerListerReturnsNil(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	netReg := skill.NewNetworkSkillRegistry()
	router := skill.NewRouter(self, graph, netReg)
	c := New(self, router, task.NewQueue(), task.NewExecutor(skill.NewLocalSkillRegistry()), graph, nil, nil, nil)
	c.Start(0)
	defer c.Stop()

	assert.Nil(t, c.Peers())
}
