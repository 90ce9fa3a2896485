// Package peerstore holds the concurrent mapping from NodeId to
// PeerInfo that every NodeRuntime owns exclusively.
package peerstore

import (
	"sync"
	"time"

	"github.com/meshfabric/node/id"
)

// DefaultStaleThreshold is the default duration after which a peer
// with no activity is considered stale.
const DefaultStaleThreshold = 120 * time.Second

// Capabilities describes a peer's advertised flags.
type Capabilities struct {
	CanRelay      bool
	CanStore      bool
	CanCompute    bool
	StorageBudget uint64 // bytes
}

// ReputationSummary is the cached view of a peer's trust, refreshed by
// the reputation graph whenever it changes materially.
type ReputationSummary struct {
	Trust         float64
	SkillsRated   int
	PositiveCount int
	NegativeCount int
}

// PeerInfo is everything known about a remote node.
type PeerInfo struct {
	NodeID        id.NodeId
	SigningPubKey []byte
	Addresses     []string // ordered by preference
	Capabilities  Capabilities
	LastSeen      time.Time
	LatencyMs     *float64 // nil when no sample has been taken
	Reputation    ReputationSummary
}

// clone returns a deep-enough copy so callers can't mutate store state
// through a returned PeerInfo's slice/pointer fields.
func (p PeerInfo) clone() PeerInfo {
	out := p
	if p.SigningPubKey != nil {
		out.SigningPubKey = append([]byte(nil), p.SigningPubKey...)
	}
	if p.Addresses != nil {
		out.Addresses = append([]string(nil), p.Addresses...)
	}
	if p.LatencyMs != nil {
		v := *p.LatencyMs
		out.LatencyMs = &v
	}
	return out
}

// IsStale reports whether p has been silent for longer than threshold,
// as of now.
func (p PeerInfo) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(p.LastSeen) > threshold
}

// Store is the concurrent NodeId → PeerInfo map. Many readers or one
// writer per operation; readers never block readers.
type Store struct {
	mu             sync.RWMutex
	peers          map[id.NodeId]PeerInfo
	staleThreshold time.Duration
}

// New constructs an empty Store using DefaultStaleThreshold.
func New() *Store {
	return NewWithStaleThreshold(DefaultStaleThreshold)
}

// NewWithStaleThreshold constructs an empty Store with a custom stale
// threshold.
func NewWithStaleThreshold(threshold time.Duration) *Store {
	return &Store{
		peers:          make(map[id.NodeId]PeerInfo),
		staleThreshold: threshold,
	}
}

// Insert upserts a PeerInfo by its NodeID.
func (s *Store) Insert(p PeerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.NodeID] = p.clone()
}

// Get returns the PeerInfo for a NodeId, if present.
func (s *Store) Get(n id.NodeId) (PeerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[n]
	if !ok {
		return PeerInfo{}, false
	}
	return p.clone(), true
}

// Remove deletes a peer, returning whether it was present.
func (s *Store) Remove(n id.NodeId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[n]; !ok {
		return false
	}
	delete(s.peers, n)
	return true
}

// Touch refreshes a peer's last-seen timestamp to now. It is a no-op
// if the peer is unknown.
func (s *Store) Touch(n id.NodeId, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[n]
	if !ok {
		return false
	}
	p.LastSeen = now
	s.peers[n] = p
	return true
}

// UpdateLatency records a fresh latency sample (milliseconds) for a
// known peer.
func (s *Store) UpdateLatency(n id.NodeId, sampleMs float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[n]
	if !ok {
		return false
	}
	v := sampleMs
	p.LatencyMs = &v
	s.peers[n] = p
	return true
}

// UpdateReputation overwrites the cached reputation summary for a
// known peer.
func (s *Store) UpdateReputation(n id.NodeId, rep ReputationSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[n]
	if !ok {
		return false
	}
	p.Reputation = rep
	s.peers[n] = p
	return true
}

// PruneStale drops every peer older than the configured stale
// threshold as of now, returning the count removed.
func (s *Store) PruneStale(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for n, p := range s.peers {
		if p.IsStale(now, s.staleThreshold) {
			delete(s.peers, n)
			removed++
		}
	}
	return removed
}

// ListActive returns every non-stale peer, as of now.
func (s *Store) ListActive(now time.Time) []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		if !p.IsStale(now, s.staleThreshold) {
			out = append(out, p.clone())
		}
	}
	return out
}

// FindByCapability returns every non-stale peer for which predicate
// returns true.
func (s *Store) FindByCapability(now time.Time, predicate func(Capabilities) bool) []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PeerInfo
	for _, p := range s.peers {
		if p.IsStale(now, s.staleThreshold) {
			continue
		}
		if predicate(p.Capabilities) {
			out = append(out, p.clone())
		}
	}
	return out
}

// Len returns the total number of tracked peers, stale or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Peers returns every tracked NodeId, stale or not, satisfying the
// gossip/delegate layers' PeerLister interface.
func (s *Store) Peers() []id.NodeId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]id.NodeId, 0, len(s.peers))
	for n := range s.peers {
		out = append(out, n)
	}
	return out
}
