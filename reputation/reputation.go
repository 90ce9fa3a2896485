// Package reputation owns the append-only ledger of ratings between
// nodes and the derived trust/skill aggregates the router consumes.
package reputation

import (
	"encoding/binary"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/meshfabric/node/id"
)

// DefaultTrust is returned for a node with no incoming ratings.
const DefaultTrust = 0.5

// ErrSelfRating is returned when rater == ratee.
var ErrSelfRating = errors.New("reputation: self rating rejected")

// ErrDuplicateRating is returned when a record's hash is already
// present in the graph.
var ErrDuplicateRating = errors.New("reputation: duplicate rating")

// SkillID is a short human-readable capability tag, normalized to
// lower-case with outer whitespace trimmed.
type SkillID string

// Normalize returns the canonical form of a raw skill tag.
func Normalize(raw string) SkillID {
	return SkillID(strings.ToLower(strings.TrimSpace(raw)))
}

// Rating is a real number clamped to [-1, +1].
type Rating float64

const (
	Positive Rating = 1.0
	Negative Rating = -1.0
	Neutral  Rating = 0.0
)

// Clamp returns r bounded to [-1, +1].
func (r Rating) Clamp() Rating {
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}

// RatingRecord is an immutable tuple describing one node's rating of
// another for a given skill.
type RatingRecord struct {
	Rater     id.NodeId
	Ratee     id.NodeId
	Skill     SkillID
	Rating    Rating
	Timestamp int64 // unix seconds
	Context   string
	Signature []byte
}

// Hash returns the canonical BLAKE3 hash over rater ∥ ratee ∥ skill ∥
// timestamp, used exclusively for gossip deduplication.
func (r RatingRecord) Hash() [32]byte {
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(r.Timestamp))

	joined := make([]byte, 0, id.Size*2+len(r.Skill)+len(tsBuf))
	joined = append(joined, r.Rater.Bytes()...)
	joined = append(joined, r.Ratee.Bytes()...)
	joined = append(joined, []byte(r.Skill)...)
	joined = append(joined, tsBuf[:]...)

	return blake3.Sum256(joined)
}

// SkillRating is the aggregate (ratee, skill) view derived from the
// ledger.
type SkillRating struct {
	PositiveCount int
	NegativeCount int
	WeightedSum   float64
	LastUpdated   int64
}

// Total is the number of ratings folded into this aggregate.
func (s SkillRating) Total() int { return s.PositiveCount + s.NegativeCount }

// ApprovalRatio is positives / total, defaulting to 0.5 with no
// ratings.
func (s SkillRating) ApprovalRatio() float64 {
	total := s.Total()
	if total == 0 {
		return 0.5
	}
	return float64(s.PositiveCount) / float64(total)
}

// NormalizedScore is a Laplace-smoothed sign-count score in (-1, +1),
// or 0 with no ratings. A naive weighted_sum/total average is not
// monotone in the rating count (a single +1 rating averages to 1.0,
// and a second, smaller positive rating can pull that average down),
// which violates the testable property that a new positive rating
// must never decrease the normalized score. (positive_count -
// negative_count) / (total + 2) mirrors GetTrust's smoothing and is
// provably monotone non-decreasing as positive_count grows and
// non-increasing as negative_count grows.
func (s SkillRating) NormalizedScore() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return (float64(s.PositiveCount) - float64(s.NegativeCount)) / (float64(total) + 2)
}

func (s *SkillRating) apply(r Rating, ts int64) {
	if r > 0 {
		s.PositiveCount++
	} else if r < 0 {
		s.NegativeCount++
	}
	s.WeightedSum += float64(r.Clamp())
	if ts > s.LastUpdated {
		s.LastUpdated = ts
	}
}

type nodeSkillKey struct {
	node  id.NodeId
	skill SkillID
}

// TopEntry is one row of a top_nodes_for_skill result.
type TopEntry struct {
	Node  id.NodeId
	Score SkillRating
}

// Graph is the reputation graph: append-only history plus a derived
// aggregate index, guarded by a single RWMutex (many readers, one
// writer per operation, matching the peer store's discipline).
type Graph struct {
	mu      sync.RWMutex
	self    id.NodeId
	history []RatingRecord
	seen    map[[32]byte]struct{}
	index   map[nodeSkillKey]*SkillRating
}

// New constructs an empty Graph owned by self (used by Rate's
// convenience helper to build records).
func New(self id.NodeId) *Graph {
	return &Graph{
		self:  self,
		seen:  make(map[[32]byte]struct{}),
		index: make(map[nodeSkillKey]*SkillRating),
	}
}

// RecordRating appends r to the ledger and updates its SkillRating
// aggregate. Rejects self-ratings and duplicates (by hash).
func (g *Graph) RecordRating(r RatingRecord) error {
	if r.Rater == r.Ratee {
		return ErrSelfRating
	}

	hash := r.Hash()

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.seen[hash]; dup {
		return ErrDuplicateRating
	}
	g.seen[hash] = struct{}{}
	g.history = append(g.history, r)

	key := nodeSkillKey{node: r.Ratee, skill: r.Skill}
	agg, ok := g.index[key]
	if !ok {
		agg = &SkillRating{}
		g.index[key] = agg
	}
	agg.apply(r.Rating, r.Timestamp)
	return nil
}

// Rate builds a record from this graph's owning NodeId and records
// it, failing on self-rate.
func (g *Graph) Rate(ratee id.NodeId, skill SkillID, rating Rating, now time.Time) (RatingRecord, error) {
	r := RatingRecord{
		Rater:     g.self,
		Ratee:     ratee,
		Skill:     Normalize(string(skill)),
		Rating:    rating.Clamp(),
		Timestamp: now.Unix(),
	}
	if err := g.RecordRating(r); err != nil {
		return RatingRecord{}, err
	}
	return r, nil
}

// GetTrust returns node's TrustScore: a Laplace-smoothed approval
// ratio over positive/negative counts across every skill, so that
// adding a positive-signed rating of any magnitude strictly increases
// trust and adding a negative-signed rating of any magnitude strictly
// decreases it — magnitude only shapes the per-skill weighted score,
// never trust's monotonicity. A node with no ratings returns exactly
// DefaultTrust.
func (g *Graph) GetTrust(node id.NodeId) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var pos, neg int
	for key, agg := range g.index {
		if key.node != node {
			continue
		}
		pos += agg.PositiveCount
		neg += agg.NegativeCount
	}
	return (float64(pos) + 1) / (float64(pos+neg) + 2)
}

// GetSkillRating returns the aggregate for (node, skill), if any
// ratings exist.
func (g *Graph) GetSkillRating(node id.NodeId, skill SkillID) (SkillRating, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	agg, ok := g.index[nodeSkillKey{node: node, skill: Normalize(string(skill))}]
	if !ok {
		return SkillRating{}, false
	}
	return *agg, true
}

// TopNodesForSkill sorts all (node, SkillRating) pairs for skill by
// normalized weighted score descending, tie-broken by positive_count
// descending then NodeId bytes ascending, truncated to limit.
func (g *Graph) TopNodesForSkill(skill SkillID, limit int) []TopEntry {
	norm := Normalize(string(skill))

	g.mu.RLock()
	entries := make([]TopEntry, 0)
	for key, agg := range g.index {
		if key.skill != norm {
			continue
		}
		entries = append(entries, TopEntry{Node: key.node, Score: *agg})
	}
	g.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		si, sj := entries[i].Score.NormalizedScore(), entries[j].Score.NormalizedScore()
		if si != sj {
			return si > sj
		}
		if entries[i].Score.PositiveCount != entries[j].Score.PositiveCount {
			return entries[i].Score.PositiveCount > entries[j].Score.PositiveCount
		}
		return entries[i].Node.Less(entries[j].Node)
	})

	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// History returns a copy of the full immutable rating history, used
// by gossip sync.
func (g *Graph) History() []RatingRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]RatingRecord, len(g.history))
	copy(out, g.history)
	return out
}

// HistorySince returns every record with timestamp > sinceTS.
func (g *Graph) HistorySince(sinceTS int64) []RatingRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []RatingRecord
	for _, r := range g.history {
		if r.Timestamp > sinceTS {
			out = append(out, r)
		}
	}
	return out
}

// HasSeen reports whether a record hash is already known to the
// graph, without mutating state.
func (g *Graph) HasSeen(hash [32]byte) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.seen[hash]
	return ok
}
