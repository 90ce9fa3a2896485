// Package delegate wires the skill router, task queue/executor,
// reputation graph and gossip layer together into a single
// coordinator that submits tasks, tracks them to completion, and
// feeds the outcome back into reputation.
package delegate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/reputation"
	"github.com/meshfabric/node/reputation/gossip"
	"github.com/meshfabric/node/skill"
	"github.com/meshfabric/node/task"
)

// ErrNoRoute is returned when the router cannot find any capable,
// sufficiently-trusted node for a task's skill.
var ErrNoRoute = errors.New("delegate: no route available")

// RemoteDispatcher sends a task to a remote node and blocks until a
// terminal result arrives (or ctx is cancelled). Implemented by the
// transport layer; a coordinator never talks wire framing directly.
type RemoteDispatcher interface {
	Dispatch(ctx context.Context, node id.NodeId, t *task.Task) (task.Result, error)
}

// PeerLister supplies the current broadcast fan-out set for a newly
// recorded rating. Implemented by peerstore.Store.
type PeerLister interface {
	Peers() []id.NodeId
}

// DefaultExpirationInterval is how often the background scheduler
// sweeps for in-flight tasks past their deadline.
const DefaultExpirationInterval = 2 * time.Second

type inFlightEntry struct {
	task     *task.Task
	node     id.NodeId
	deadline time.Time
	cancel   context.CancelFunc
}

// Metrics is a point-in-time summary of delegation activity.
type Metrics struct {
	Submitted   uint64
	Completed   uint64
	Failed      uint64
	TimedOut    uint64
	MinExecMs   uint64
	MaxExecMs   uint64
	AvgExecMs   float64
	execSamples uint64
	execTotalMs uint64
}

// Coordinator binds together routing, local execution, remote
// dispatch, reputation and gossip for one node.
type Coordinator struct {
	self       id.NodeId
	router     *skill.Router
	queue      *task.Queue
	executor   *task.Executor
	graph      *reputation.Graph
	gossiper   *gossip.Gossiper
	dispatcher RemoteDispatcher
	peers      PeerLister

	mu       sync.Mutex
	inFlight map[string]*inFlightEntry
	metrics  Metrics
	pending  map[string]chan task.Result

	stop chan struct{}
	wg   sync.WaitGroup
}

// localQueuePollInterval bounds how long the local worker sleeps
// between empty queue polls.
const localQueuePollInterval = 5 * time.Millisecond

// New constructs a Coordinator. dispatcher may be nil if this node
// never routes tasks to remote peers; peers may be nil if gossip
// fan-out is not wired (ratings are still recorded locally either
// way).
func New(self id.NodeId, router *skill.Router, queue *task.Queue, executor *task.Executor, graph *reputation.Graph, gossiper *gossip.Gossiper, dispatcher RemoteDispatcher, peers PeerLister) *Coordinator {
	return &Coordinator{
		self:       self,
		router:     router,
		queue:      queue,
		executor:   executor,
		graph:      graph,
		gossiper:   gossiper,
		dispatcher: dispatcher,
		peers:      peers,
		inFlight:   make(map[string]*inFlightEntry),
		pending:    make(map[string]chan task.Result),
		stop:       make(chan struct{}),
	}
}

// Start launches the background expiration scheduler and the local
// worker that drains the task queue. Call Stop to release both.
func (c *Coordinator) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultExpirationInterval
	}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.sweepExpired()
			}
		}
	}()
	go c.localWorkerLoop()
}

// localWorkerLoop continuously drains the priority queue, executing
// whichever task is highest-priority regardless of which SubmitTask
// call enqueued it, and delivers the result to that call's waiter.
func (c *Coordinator) localWorkerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		t, ok := c.queue.Pop()
		if !ok {
			select {
			case <-c.stop:
				return
			case <-time.After(localQueuePollInterval):
			}
			continue
		}

		ctx := context.Background()
		var cancel context.CancelFunc
		if t.TimeoutSecs > 0 {
			ctx, cancel = context.WithTimeout(ctx, time.Duration(t.TimeoutSecs)*time.Second)
		}
		res := c.executor.Execute(ctx, t)
		if cancel != nil {
			cancel()
		}
		c.queue.Complete(t.ID)
		c.deliverLocalResult(t.ID, res)
	}
}

func (c *Coordinator) deliverLocalResult(taskID string, res task.Result) {
	c.mu.Lock()
	ch, ok := c.pending[taskID]
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- res
}

// Stop halts the background scheduler and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stop)
	c.wg.Wait()
}

// SubmitTask routes t to the best capable node and drives it to
// completion, retrying via RouteWithFallback only when the prior
// attempt's failure was a skill-execution failure (never on a
// timeout, which is presumed load-related rather than node-quality
// related).
func (c *Coordinator) SubmitTask(ctx context.Context, t *task.Task, minTrust float64) (task.Result, error) {
	c.recordSubmitted()

	failed := make(map[id.NodeId]struct{})
	var lastResult task.Result
	attempted := false

	for {
		decision, err := c.router.RouteWithFallback(t.Skill, minTrust, failed)
		if err != nil {
			if attempted {
				// Every candidate the router could offer has already
				// failed execution; report the last real outcome
				// rather than masking it behind a routing error.
				return lastResult, nil
			}
			return task.Result{}, ErrNoRoute
		}
		attempted = true

		res, execErr := c.runOn(ctx, decision.Winner, t)
		if execErr != nil {
			return task.Result{}, execErr
		}

		c.recordOutcome(decision.Winner, t, res)
		lastResult = res

		var execFail *task.ErrExecutionFailed
		if res.Status == task.StatusFailed && errors.As(res.Err, &execFail) {
			failed[decision.Winner] = struct{}{}
			continue
		}
		return res, nil
	}
}

func (c *Coordinator) runOn(ctx context.Context, node id.NodeId, t *task.Task) (task.Result, error) {
	deadline := time.Now()
	if t.TimeoutSecs > 0 {
		deadline = deadline.Add(time.Duration(t.TimeoutSecs) * time.Second)
	} else {
		deadline = deadline.Add(24 * time.Hour)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.inFlight[t.ID] = &inFlightEntry{task: t, node: node, deadline: deadline, cancel: cancel}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, t.ID)
		c.mu.Unlock()
	}()

	if node == c.self {
		return c.runLocal(runCtx, t)
	}
	if c.dispatcher == nil {
		return task.Result{}, errors.New("delegate: no dispatcher configured for remote routing")
	}
	return c.dispatcher.Dispatch(runCtx, node, t)
}

// runLocal enqueues t onto the shared priority queue and blocks until
// the local worker loop (started via Start) delivers its result.
func (c *Coordinator) runLocal(ctx context.Context, t *task.Task) (task.Result, error) {
	ch := make(chan task.Result, 1)
	c.mu.Lock()
	c.pending[t.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, t.ID)
		c.mu.Unlock()
	}()

	c.queue.Submit(t)

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return task.Result{}, ctx.Err()
	}
}

func (c *Coordinator) recordSubmitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Submitted++
}

// recordOutcome updates metrics, then rates the executing node based
// on task success, skipping self-ratings entirely, and forwards any
// freshly-recorded rating to the gossip layer.
func (c *Coordinator) recordOutcome(node id.NodeId, t *task.Task, res task.Result) {
	c.mu.Lock()
	switch res.Status {
	case task.StatusCompleted:
		c.metrics.Completed++
		c.metrics.execSamples++
		c.metrics.execTotalMs += res.DurationMs
		if c.metrics.MinExecMs == 0 || res.DurationMs < c.metrics.MinExecMs {
			c.metrics.MinExecMs = res.DurationMs
		}
		if res.DurationMs > c.metrics.MaxExecMs {
			c.metrics.MaxExecMs = res.DurationMs
		}
		c.metrics.AvgExecMs = float64(c.metrics.execTotalMs) / float64(c.metrics.execSamples)
	case task.StatusTimedOut:
		c.metrics.TimedOut++
	default:
		c.metrics.Failed++
	}
	c.mu.Unlock()

	if node == c.self {
		return
	}

	rating := reputation.Negative
	if res.Status == task.StatusCompleted {
		rating = reputation.Positive
	}

	record, err := c.graph.Rate(node, t.Skill, rating, time.Now())
	if err != nil {
		return
	}
	if c.gossiper != nil && c.peers != nil {
		c.gossiper.Broadcast(record, c.peers.Peers())
	}
}

// sweepExpired cancels any in-flight task whose deadline has passed;
// the waiting SubmitTask then returns the context's cancellation error.
// No result, TimedOut count or rating is recorded for such a task.
// SubmitTask's own runOn defer removes the entry once its context
// observes the cancellation and returns.
func (c *Coordinator) sweepExpired() {
	now := time.Now()
	var expired []*inFlightEntry

	c.mu.Lock()
	for _, entry := range c.inFlight {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
		}
	}
	c.mu.Unlock()

	for _, entry := range expired {
		entry.cancel()
	}
}

// Snapshot returns a copy of the coordinator's current metrics.
func (c *Coordinator) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// InFlightCount returns how many tasks are currently being tracked.
func (c *Coordinator) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// StatusSnapshot is a read-only, lock-respecting view of a
// Coordinator's current operating state, meant for an external
// dashboard or status CLI subcommand to poll without touching any
// internal lock itself.
type StatusSnapshot struct {
	Self      id.NodeId
	InFlight  int
	PeerCount int
	Metrics   Metrics
}

// Status returns a point-in-time snapshot of this node's delegation
// state: its identity, in-flight task count, known peer count and
// task metrics.
func (c *Coordinator) Status() StatusSnapshot {
	return StatusSnapshot{
		Self:      c.self,
		InFlight:  c.InFlightCount(),
		PeerCount: len(c.Peers()),
		Metrics:   c.Snapshot(),
	}
}

// Peers returns every peer known to the configured PeerLister, or nil
// if none was wired (a coordinator running with no peer store, e.g.
// in a unit test, has no remote fan-out set to report).
func (c *Coordinator) Peers() []id.NodeId {
	if c.peers == nil {
		return nil
	}
	return c.peers.Peers()
}

// Stats is an alias for Snapshot, named to match the other read-only
// accessors (Status, Peers) a status CLI subcommand polls.
func (c *Coordinator) Stats() Metrics {
	return c.Snapshot()
}
