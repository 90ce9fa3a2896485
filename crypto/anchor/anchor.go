// Package anchor implements the Reputation Checkpoint Anchor: a
// tamper-evidence accessory that periodically writes a BLAKE3 merkle
// root over the reputation ledger to an external chain. Anchoring
// never feeds back into trust computation and a failure to anchor
// must never block rating ingestion.
package anchor

import (
	"context"
	"sort"
	"time"

	"lukechampine.com/blake3"

	"github.com/meshfabric/node/reputation"
)

// ChainAnchor submits a merkle root to some external chain and
// returns an opaque transaction/signature identifier for logging.
type ChainAnchor interface {
	Anchor(ctx context.Context, root [32]byte) (txID string, err error)
}

// MerkleRoot computes a BLAKE3 binary merkle root over records,
// sorted by hash first so the same ledger content always produces
// the same root regardless of insertion order. An empty ledger
// anchors the zero hash.
func MerkleRoot(records []reputation.RatingRecord) [32]byte {
	if len(records) == 0 {
		return [32]byte{}
	}

	leaves := make([][32]byte, len(records))
	for i, r := range records {
		leaves[i] = r.Hash()
	}
	sort.Slice(leaves, func(i, j int) bool {
		return string(leaves[i][:]) < string(leaves[j][:])
	})

	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			joined := make([]byte, 0, 64)
			joined = append(joined, level[i][:]...)
			joined = append(joined, level[i+1][:]...)
			next = append(next, blake3.Sum256(joined))
		}
		level = next
	}
	return level[0]
}

// Scheduler periodically computes the reputation graph's merkle root
// and submits it through a ChainAnchor. Failures are recorded on
// LastResult and retried on the next tick; they are never surfaced to
// the rating-ingestion path.
type Scheduler struct {
	graph    *reputation.Graph
	backend  ChainAnchor
	interval time.Duration

	stop chan struct{}
	done chan struct{}

	lastRoot  [32]byte
	lastTxID  string
	lastError error
}

// NewScheduler constructs a Scheduler. interval defaults to 10
// minutes (the spec's AnchorInterval default) if zero or negative.
func NewScheduler(graph *reputation.Graph, backend ChainAnchor, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		graph:    graph,
		backend:  backend,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic anchoring loop in a goroutine.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop halts the anchoring loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// TickNow runs one anchor attempt synchronously, for tests and for
// callers that want an anchor taken immediately rather than waiting
// for the next tick.
func (s *Scheduler) TickNow(ctx context.Context) error {
	root := MerkleRoot(s.graph.History())
	txID, err := s.backend.Anchor(ctx, root)
	s.lastRoot = root
	s.lastTxID = txID
	s.lastError = err
	return err
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	_ = s.TickNow(ctx)
}

// LastResult reports the outcome of the most recent anchor attempt.
func (s *Scheduler) LastResult() (root [32]byte, txID string, err error) {
	return s.lastRoot, s.lastTxID, s.lastError
}
