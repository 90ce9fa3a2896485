// Package skill holds the local and network skill registries plus
// the reputation-weighted router that picks an executor for a task.
package skill

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/reputation"
)

// ID is a short human-readable capability tag; reputation.SkillID is
// the canonical normalized form shared across packages.
type ID = reputation.SkillID

// Normalize delegates to reputation.Normalize so callers never need
// to import both packages just to build a skill tag.
func Normalize(raw string) ID { return reputation.Normalize(raw) }

// Descriptor describes the hardware/software prerequisites of a
// skill.
type Descriptor struct {
	RequiredHardware []string
	Models           []string
	MinMemoryMB      uint64
	NeedsNetwork     bool
	NeedsStorage     bool
}

// CostEstimate is an optional, skill-supplied estimate of resource
// cost for a given input, used only as routing metadata.
type CostEstimate struct {
	EstimatedMs     uint64
	EstimatedMemory uint64
}

// Executable is a locally-executable skill handle.
type Executable interface {
	ID() ID
	Descriptor() Descriptor
	CanExecute() bool
	EstimateCost(input []byte) (CostEstimate, bool)
	Execute(ctx context.Context, input []byte) ([]byte, error)
}

// ErrSkillNotFound is returned by LocalSkillRegistry.Get for an
// unregistered skill.
var ErrSkillNotFound = errors.New("skill: not found")

// LocalSkillRegistry maps a SkillId to a locally-executable handle.
type LocalSkillRegistry struct {
	mu     sync.RWMutex
	skills map[ID]Executable
}

// NewLocalSkillRegistry constructs an empty local registry.
func NewLocalSkillRegistry() *LocalSkillRegistry {
	return &LocalSkillRegistry{skills: make(map[ID]Executable)}
}

// Register adds or replaces a locally-executable skill.
func (r *LocalSkillRegistry) Register(s Executable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.ID()] = s
}

// Unregister removes a skill, returning whether it was present.
func (r *LocalSkillRegistry) Unregister(skillID ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[skillID]; !ok {
		return false
	}
	delete(r.skills, skillID)
	return true
}

// Get returns the executable handle for a skill id.
func (r *LocalSkillRegistry) Get(skillID ID) (Executable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[skillID]
	if !ok {
		return nil, ErrSkillNotFound
	}
	return s, nil
}

// Skills returns every locally-claimed skill id.
func (r *LocalSkillRegistry) Skills() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ID, 0, len(r.skills))
	for sid := range r.skills {
		out = append(out, sid)
	}
	return out
}

// NetworkSkillRegistry is the two-way node<->skill index: node→{skills}
// and skill→{nodes}, kept mutually coherent under a single RWMutex.
type NetworkSkillRegistry struct {
	mu          sync.RWMutex
	nodeSkills  map[id.NodeId]map[ID]struct{}
	skillNodes  map[ID]map[id.NodeId]struct{}
	localSkills map[ID]struct{}
}

// NewNetworkSkillRegistry constructs an empty network registry.
func NewNetworkSkillRegistry() *NetworkSkillRegistry {
	return &NetworkSkillRegistry{
		nodeSkills:  make(map[id.NodeId]map[ID]struct{}),
		skillNodes:  make(map[ID]map[id.NodeId]struct{}),
		localSkills: make(map[ID]struct{}),
	}
}

// AnnounceNode records that node advertises skills, replacing any
// previously-advertised set for that node.
func (n *NetworkSkillRegistry) AnnounceNode(node id.NodeId, skills []ID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.nodeSkills[node]; ok {
		for sid := range existing {
			if set, ok := n.skillNodes[sid]; ok {
				delete(set, node)
				if len(set) == 0 {
					delete(n.skillNodes, sid)
				}
			}
		}
	}

	fresh := make(map[ID]struct{}, len(skills))
	for _, sid := range skills {
		fresh[sid] = struct{}{}
		set, ok := n.skillNodes[sid]
		if !ok {
			set = make(map[id.NodeId]struct{})
			n.skillNodes[sid] = set
		}
		set[node] = struct{}{}
	}
	n.nodeSkills[node] = fresh
}

// RemoveNode atomically purges node from every skill's set.
func (n *NetworkSkillRegistry) RemoveNode(node id.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	skills, ok := n.nodeSkills[node]
	if !ok {
		return
	}
	for sid := range skills {
		if set, ok := n.skillNodes[sid]; ok {
			delete(set, node)
			if len(set) == 0 {
				delete(n.skillNodes, sid)
			}
		}
	}
	delete(n.nodeSkills, node)
}

// MarkLocal records that this node itself claims a skill (used by the
// router to treat the local NodeId as a last-resort candidate).
func (n *NetworkSkillRegistry) MarkLocal(skillID ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.localSkills[skillID] = struct{}{}
}

// NodesForSkill returns every node (besides any local-only marker)
// advertising skillID.
func (n *NetworkSkillRegistry) NodesForSkill(skillID ID) []id.NodeId {
	n.mu.RLock()
	defer n.mu.RUnlock()
	set, ok := n.skillNodes[skillID]
	if !ok {
		return nil
	}
	out := make([]id.NodeId, 0, len(set))
	for nodeID := range set {
		out = append(out, nodeID)
	}
	return out
}

// IsLocal reports whether this node claims skillID locally.
func (n *NetworkSkillRegistry) IsLocal(skillID ID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.localSkills[skillID]
	return ok
}

// SkillsForNode returns node's advertised skill set.
func (n *NetworkSkillRegistry) SkillsForNode(node id.NodeId) []ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	set, ok := n.nodeSkills[node]
	if !ok {
		return nil
	}
	out := make([]ID, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	return out
}

// Announcement is gossiped when a node's declared skill set changes;
// it fully replaces the set NetworkSkillRegistry has on file for Node.
type Announcement struct {
	Node   id.NodeId
	Skills []ID
}

// Withdraw is gossiped when a node drops out entirely (shutdown or
// capability change to zero skills).
type Withdraw struct {
	Node id.NodeId
}

// Query asks a peer which nodes it believes support a skill.
type Query struct {
	Skill ID
}

// QueryResponse answers a Query with the responder's local view of
// NetworkSkillRegistry.
type QueryResponse struct {
	Skill ID
	Nodes []id.NodeId
}

// WhoHas asks a specific peer, directly, whether it locally executes
// a skill -- a point-to-point capability check distinct from Query's
// registry-wide lookup.
type WhoHas struct {
	Skill ID
}

// WhoHasResponse answers a WhoHas.
type WhoHasResponse struct {
	Skill ID
	Has   bool
}

// ApplyAnnouncement folds a gossiped Announcement into the registry.
func (n *NetworkSkillRegistry) ApplyAnnouncement(a Announcement) {
	n.AnnounceNode(a.Node, a.Skills)
}

// ApplyWithdraw folds a gossiped Withdraw into the registry.
func (n *NetworkSkillRegistry) ApplyWithdraw(w Withdraw) {
	n.RemoveNode(w.Node)
}

// RespondQuery builds a QueryResponse from the local registry view.
func (n *NetworkSkillRegistry) RespondQuery(q Query) QueryResponse {
	return QueryResponse{Skill: q.Skill, Nodes: n.NodesForSkill(q.Skill)}
}

// RespondWhoHas reports whether this node locally executes the
// requested skill.
func (n *NetworkSkillRegistry) RespondWhoHas(w WhoHas) WhoHasResponse {
	return WhoHasResponse{Skill: w.Skill, Has: n.IsLocal(w.Skill)}
}

// ErrNoCapableNode is returned when no candidate survives filtering.
var ErrNoCapableNode = errors.New("skill: no capable node")

// Candidate is a scored routing option.
type Candidate struct {
	Node  id.NodeId
	Score float64
}

// RouteDecision is the router's output: the winner plus the remaining
// scored pool in descending order, excluding the winner itself.
type RouteDecision struct {
	Winner       id.NodeId
	Alternatives []Candidate
}

// TrustSource abstracts the reputation graph's read surface the
// router needs.
type TrustSource interface {
	GetTrust(node id.NodeId) float64
	GetSkillRating(node id.NodeId, skillID reputation.SkillID) (reputation.SkillRating, bool)
}

// DefaultTrustWeight is w in the scoring formula when the caller
// doesn't override it.
const DefaultTrustWeight = 0.3

// Router selects an executor for a task given a reputation graph and
// a network registry.
type Router struct {
	local       id.NodeId
	graph       TrustSource
	registry    *NetworkSkillRegistry
	trustWeight float64
}

// NewRouter constructs a Router with the default trust weight (0.3).
func NewRouter(local id.NodeId, graph TrustSource, registry *NetworkSkillRegistry) *Router {
	return NewRouterWithWeight(local, graph, registry, DefaultTrustWeight)
}

// NewRouterWithWeight constructs a Router with an explicit trust
// weight w ∈ [0, 1].
func NewRouterWithWeight(local id.NodeId, graph TrustSource, registry *NetworkSkillRegistry, w float64) *Router {
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return &Router{local: local, graph: graph, registry: registry, trustWeight: w}
}

// Route picks the best node for a task requiring skillID, with a
// minimum acceptable trust in [0, 1].
func (r *Router) Route(skillID ID, minTrust float64) (RouteDecision, error) {
	candidates := r.registry.NodesForSkill(skillID)
	if len(candidates) == 0 && !r.registry.IsLocal(skillID) {
		return RouteDecision{}, ErrNoCapableNode
	}

	remote := make([]id.NodeId, 0, len(candidates))
	for _, n := range candidates {
		if n == r.local {
			continue
		}
		if r.graph.GetTrust(n) < minTrust {
			continue
		}
		remote = append(remote, n)
	}

	var pool []id.NodeId
	if len(remote) > 0 {
		pool = remote
	} else if r.registry.IsLocal(skillID) && r.graph.GetTrust(r.local) >= minTrust {
		pool = []id.NodeId{r.local}
	}

	if len(pool) == 0 {
		return RouteDecision{}, ErrNoCapableNode
	}

	scored := make([]Candidate, 0, len(pool))
	for _, n := range pool {
		scored = append(scored, Candidate{Node: n, Score: r.score(n, skillID)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Node.Less(scored[j].Node)
	})

	return RouteDecision{Winner: scored[0].Node, Alternatives: scored[1:]}, nil
}

func (r *Router) score(node id.NodeId, skillID ID) float64 {
	trust := r.graph.GetTrust(node)
	skillScore := 0.0
	if agg, ok := r.graph.GetSkillRating(node, skillID); ok {
		skillScore = agg.NormalizedScore()
	}
	return r.trustWeight*trust + (1-r.trustWeight)*(skillScore+1)/2
}

// RouteWithFallback walks the winner-then-alternatives order of a
// fresh Route call, skipping any node present in failedNodes.
func (r *Router) RouteWithFallback(skillID ID, minTrust float64, failedNodes map[id.NodeId]struct{}) (RouteDecision, error) {
	decision, err := r.Route(skillID, minTrust)
	if err != nil {
		return RouteDecision{}, err
	}

	ordered := make([]Candidate, 0, len(decision.Alternatives)+1)
	ordered = append(ordered, Candidate{Node: decision.Winner, Score: r.score(decision.Winner, skillID)})
	ordered = append(ordered, decision.Alternatives...)

	for i, c := range ordered {
		if _, failed := failedNodes[c.Node]; failed {
			continue
		}
		remaining := make([]Candidate, 0, len(ordered)-1)
		for j, alt := range ordered {
			if j == i {
				continue
			}
			if _, f := failedNodes[alt.Node]; !f {
				remaining = append(remaining, alt)
			}
		}
		return RouteDecision{Winner: c.Node, Alternatives: remaining}, nil
	}
	return RouteDecision{}, ErrNoCapableNode
}

// RouteMulti returns the top-k scored candidates, winner first, for
// callers that want to fan a task out to several candidates at once.
func (r *Router) RouteMulti(skillID ID, minTrust float64, k int) ([]Candidate, error) {
	decision, err := r.Route(skillID, minTrust)
	if err != nil {
		return nil, err
	}
	all := make([]Candidate, 0, len(decision.Alternatives)+1)
	all = append(all, Candidate{Node: decision.Winner, Score: r.score(decision.Winner, skillID)})
	all = append(all, decision.Alternatives...)
	if k > len(all) {
		k = len(all)
	}
	return all[:k], nil
}
