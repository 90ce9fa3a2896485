package gossip

import (
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

func sampleRecord(rater, ratee byte, ts int64) reputation.RatingRecord {
	return reputation.RatingRecord{
		Rater:     nodeID(rater),
		Ratee:     nodeID(ratee),
		Skill:     reputation.Normalize("classify"),
		Rating:    reputation.Positive,
		Timestamp: ts,
	}
}

func TestHandleNewRating_AcceptsAndRecords(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 0)

	accepted, err := g.HandleNewRating(NewRating{Record: sampleRecord(2, 3, 100)})
	require.NoError(t, err)
	assert.True(t, accepted)

	agg, ok := graph.GetSkillRating(nodeID(3), reputation.Normalize("classify"))
	require.True(t, ok)
	assert.Equal(t, 1, agg.PositiveCount)
}

func TestHandleNewRating_DiscardsDuplicateByHash(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 0)

	rec := sampleRecord(2, 3, 100)
	accepted1, err := g.HandleNewRating(NewRating{Record: rec})
	require.NoError(t, err)
	assert.True(t, accepted1)

	accepted2, err := g.HandleNewRating(NewRating{Record: rec})
	require.NoError(t, err)
	assert.False(t, accepted2)
}

func TestHandleNewRating_RejectsSelfRatingAsError(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 0)

	rec := sampleRecord(1, 1, 100)
	_, err := g.HandleNewRating(NewRating{Record: rec})
	assert.ErrorIs(t, err, reputation.ErrSelfRating)
}

func TestBroadcast_ExcludesSelfAndEnqueuesOthers(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 10)

	rec := sampleRecord(1, 2, 100)
	targets := []id.NodeId{nodeID(1), nodeID(2), nodeID(3)}
	g.Broadcast(rec, targets)

	received := map[id.NodeId]struct{}{}
	for i := 0; i < 2; i++ {
		select {
		case env := <-g.Outbox():
			received[env.Target] = struct{}{}
			msg, ok := env.Message.(NewRating)
			require.True(t, ok)
			assert.Equal(t, rec.Timestamp, msg.Record.Timestamp)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("expected envelope, got none")
		}
	}
	assert.Contains(t, received, nodeID(2))
	assert.Contains(t, received, nodeID(3))
	assert.NotContains(t, received, nodeID(1))
}

func TestBroadcast_MarksSeenSoOwnRebroadcastIsDiscarded(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 10)

	rec := sampleRecord(2, 3, 100)
	g.Broadcast(rec, []id.NodeId{nodeID(4)})

	accepted, err := g.HandleNewRating(NewRating{Record: rec})
	require.NoError(t, err)
	assert.False(t, accepted, "a record this gossiper already broadcast must not be re-accepted")
}

func TestEnqueue_DropsOnFullOutbox(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 1)

	g.Send(nodeID(2), NewRating{Record: sampleRecord(2, 3, 1)})
	g.Send(nodeID(2), NewRating{Record: sampleRecord(2, 3, 2)})

	assert.Equal(t, uint64(1), g.DroppedCount())
}

func TestSend_SkipsSelfTarget(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 10)

	g.Send(self, NewRating{Record: sampleRecord(2, 3, 1)})
	select {
	case <-g.Outbox():
		t.Fatal("expected no envelope addressed to self")
	default:
	}
}

func TestRespondRatingsAndSync(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 10)

	require.NoError(t, graph.RecordRating(sampleRecord(2, 3, 100)))
	require.NoError(t, graph.RecordRating(sampleRecord(2, 4, 200)))

	resp := g.RespondRatings(150)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, nodeID(4), resp.Records[0].Ratee)

	sync := g.RespondSync(0)
	assert.Len(t, sync.Records, 2)
}

func TestRespondTopNodes(t *testing.T) {
	self := nodeID(1)
	graph := reputation.New(self)
	g := NewGossiper(self, graph, 10)

	require.NoError(t, graph.RecordRating(sampleRecord(2, 3, 100)))
	resp := g.RespondTopNodes(reputation.Normalize("classify"), 10)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, nodeID(3), resp.Entries[0].Node)
}

func TestHandleSyncResponse_FoldsNewRecordsAndSkipsDuplicates(t *testing.T) {
	self := nodeID(1)
	srcGraph := reputation.New(nodeID(9))
	require.NoError(t, srcGraph.RecordRating(sampleRecord(2, 3, 100)))
	require.NoError(t, srcGraph.RecordRating(sampleRecord(2, 4, 200)))

	dstGraph := reputation.New(self)
	g := NewGossiper(self, dstGraph, 10)

	resp := SyncResponse{Records: srcGraph.History()}
	accepted, err := g.HandleSyncResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)

	accepted2, err := g.HandleSyncResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, 0, accepted2)
}
