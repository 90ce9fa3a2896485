package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/reputation"
)

func nodeID(b byte) id.NodeId {
	var n id.NodeId
	n[0] = b
	return n
}

func record(rater, ratee byte, skill string, ts int64) reputation.RatingRecord {
	return reputation.RatingRecord{
		Rater:     nodeID(rater),
		Ratee:     nodeID(ratee),
		Skill:     reputation.Normalize(skill),
		Rating:    reputation.Positive,
		Timestamp: ts,
	}
}

func TestMerkleRoot_EmptyIsZero(t *testing.T) {
	assert.Equal(t, [32]byte{}, MerkleRoot(nil))
}

func TestMerkleRoot_DeterministicRegardlessOfOrder(t *testing.T) {
	a := record(1, 2, "classify", 100)
	b := record(1, 3, "classify", 200)
	c := record(1, 4, "classify", 300)

	r1 := MerkleRoot([]reputation.RatingRecord{a, b, c})
	r2 := MerkleRoot([]reputation.RatingRecord{c, a, b})
	assert.Equal(t, r1, r2)
}

func TestMerkleRoot_ChangesWithContent(t *testing.T) {
	a := record(1, 2, "classify", 100)
	b := record(1, 3, "classify", 200)

	r1 := MerkleRoot([]reputation.RatingRecord{a})
	r2 := MerkleRoot([]reputation.RatingRecord{a, b})
	assert.NotEqual(t, r1, r2)
}

func TestMerkleRoot_SingleRecordIsItsOwnHash(t *testing.T) {
	a := record(1, 2, "classify", 100)
	assert.Equal(t, a.Hash(), MerkleRoot([]reputation.RatingRecord{a}))
}

type fakeAnchor struct {
	mu      sync.Mutex
	calls   int
	lastTx  string
	err     error
	lastSum [32]byte
}

func (f *fakeAnchor) Anchor(_ context.Context, root [32]byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSum = root
	if f.err != nil {
		return "", f.err
	}
	f.lastTx = "tx-ok"
	return f.lastTx, nil
}

func TestScheduler_TickNow_SubmitsCurrentRoot(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	_, err := graph.Rate(nodeID(2), "classify", reputation.Positive, time.Now())
	require.NoError(t, err)

	backend := &fakeAnchor{}
	s := NewScheduler(graph, backend, time.Minute)

	err = s.TickNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)

	root, txID, lastErr := s.LastResult()
	assert.NoError(t, lastErr)
	assert.Equal(t, "tx-ok", txID)
	assert.Equal(t, MerkleRoot(graph.History()), root)
}

func TestScheduler_TickNow_RecordsErrorWithoutPanicking(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	backend := &fakeAnchor{err: errors.New("rpc down")}
	s := NewScheduler(graph, backend, time.Minute)

	err := s.TickNow(context.Background())
	assert.Error(t, err)

	_, _, lastErr := s.LastResult()
	assert.Error(t, lastErr)
}

func TestScheduler_StartStop(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	backend := &fakeAnchor{}
	s := NewScheduler(graph, backend, 10*time.Millisecond)

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	backend.mu.Lock()
	calls := backend.calls
	backend.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1)
}

func TestNewScheduler_DefaultsInterval(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	s := NewScheduler(graph, &fakeAnchor{}, 0)
	assert.Equal(t, 10*time.Minute, s.interval)
}
