// Package gossip propagates reputation.RatingRecord values between
// nodes: a best-effort, dedup-by-hash broadcast layer sitting on top
// of reputation.Graph.
package gossip

import (
	"sync"

	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/reputation"
)

// NewRating announces a single rating record to a peer.
type NewRating struct {
	Record reputation.RatingRecord
}

// RequestRatings asks a peer for every record it has seen since a
// given timestamp.
type RequestRatings struct {
	SinceTS int64
}

// RatingsResponse answers a RequestRatings.
type RatingsResponse struct {
	Records []reputation.RatingRecord
}

// RequestTopNodes asks a peer for its locally-ranked top nodes for a
// skill.
type RequestTopNodes struct {
	Skill reputation.SkillID
	Limit int
}

// TopNodesResponse answers a RequestTopNodes.
type TopNodesResponse struct {
	Entries []reputation.TopEntry
}

// SyncRequest asks a peer for a full incremental sync since a
// timestamp (distinct from RequestRatings in that a Syncer may choose
// to answer it with more than raw records in the future).
type SyncRequest struct {
	SinceTS int64
}

// SyncResponse answers a SyncRequest.
type SyncResponse struct {
	Records []reputation.RatingRecord
}

// Envelope addresses a gossip message to a specific peer.
type Envelope struct {
	Target  id.NodeId
	Message any
}

// DefaultOutboxCapacity bounds the outbound channel; gossip is
// best-effort, so a full outbox means a drop, never a block.
const DefaultOutboxCapacity = 256

// Gossiper propagates new ratings to a set of peers, deduplicating by
// RatingRecord.Hash so a record is never re-broadcast once seen.
type Gossiper struct {
	self  id.NodeId
	graph *reputation.Graph

	mu   sync.Mutex
	seen map[[32]byte]struct{}

	outbox chan Envelope

	droppedMu sync.Mutex
	dropped   uint64
}

// NewGossiper constructs a Gossiper bound to self's identity and its
// reputation graph, with an outbox of the given capacity (uses
// DefaultOutboxCapacity if capacity <= 0).
func NewGossiper(self id.NodeId, graph *reputation.Graph, capacity int) *Gossiper {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Gossiper{
		self:   self,
		graph:  graph,
		seen:   make(map[[32]byte]struct{}),
		outbox: make(chan Envelope, capacity),
	}
}

// Outbox returns the channel of outbound envelopes a transport layer
// should drain and deliver.
func (g *Gossiper) Outbox() <-chan Envelope {
	return g.outbox
}

// DroppedCount returns how many enqueue attempts were dropped because
// the outbox was full.
func (g *Gossiper) DroppedCount() uint64 {
	g.droppedMu.Lock()
	defer g.droppedMu.Unlock()
	return g.dropped
}

// HandleNewRating applies the dedup-then-record-then-rebroadcast rule:
// if the record's hash has already been seen, it is discarded; else it
// is recorded into the graph and becomes eligible for further
// broadcast. Returns true if the record was newly accepted.
func (g *Gossiper) HandleNewRating(msg NewRating) (bool, error) {
	hash := msg.Record.Hash()

	g.mu.Lock()
	if _, dup := g.seen[hash]; dup {
		g.mu.Unlock()
		return false, nil
	}
	g.seen[hash] = struct{}{}
	g.mu.Unlock()

	if err := g.graph.RecordRating(msg.Record); err != nil {
		if err == reputation.ErrDuplicateRating {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Broadcast enqueues a NewRating to every target id other than self,
// marking the record as seen so it is never fed back to this
// gossiper's own HandleNewRating. Enqueue is best-effort: a full
// outbox silently drops the envelope for that target rather than
// blocking or retrying.
func (g *Gossiper) Broadcast(record reputation.RatingRecord, targets []id.NodeId) {
	hash := record.Hash()
	g.mu.Lock()
	g.seen[hash] = struct{}{}
	g.mu.Unlock()

	for _, target := range targets {
		if target == g.self {
			continue
		}
		g.enqueue(Envelope{Target: target, Message: NewRating{Record: record}})
	}
}

// RespondRatings builds a RatingsResponse from every locally-known
// record newer than sinceTS.
func (g *Gossiper) RespondRatings(sinceTS int64) RatingsResponse {
	return RatingsResponse{Records: g.graph.HistorySince(sinceTS)}
}

// RespondTopNodes builds a TopNodesResponse for a skill.
func (g *Gossiper) RespondTopNodes(skill reputation.SkillID, limit int) TopNodesResponse {
	return TopNodesResponse{Entries: g.graph.TopNodesForSkill(skill, limit)}
}

// RespondSync builds a SyncResponse from every locally-known record
// newer than sinceTS.
func (g *Gossiper) RespondSync(sinceTS int64) SyncResponse {
	return SyncResponse{Records: g.graph.HistorySince(sinceTS)}
}

// HandleSyncResponse folds every record in a SyncResponse into the
// local graph via HandleNewRating, returning the count newly
// accepted.
func (g *Gossiper) HandleSyncResponse(resp SyncResponse) (int, error) {
	accepted := 0
	for _, r := range resp.Records {
		ok, err := g.HandleNewRating(NewRating{Record: r})
		if err != nil {
			return accepted, err
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

// Send enqueues an arbitrary gossip message to a single target,
// best-effort.
func (g *Gossiper) Send(target id.NodeId, message any) {
	if target == g.self {
		return
	}
	g.enqueue(Envelope{Target: target, Message: message})
}

func (g *Gossiper) enqueue(env Envelope) {
	select {
	case g.outbox <- env:
	default:
		g.droppedMu.Lock()
		g.dropped++
		g.droppedMu.Unlock()
	}
}
