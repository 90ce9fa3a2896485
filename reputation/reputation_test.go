package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfabric/node/id"
)

func nodeID(b byte) id.NodeId {
	var n id.NodeId
	n[0] = b
	return n
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, SkillID("image-classify"), Normalize("  Image-Classify  "))
}

func TestRatingRecord_HashIsDeterministic(t *testing.T) {
	r := RatingRecord{Rater: nodeID(1), Ratee: nodeID(2), Skill: "classify", Timestamp: 100}
	assert.Equal(t, r.Hash(), r.Hash())

	r2 := r
	r2.Timestamp = 101
	assert.NotEqual(t, r.Hash(), r2.Hash())
}

func TestRecordRating_RejectsSelfRating(t *testing.T) {
	g := New(nodeID(1))
	err := g.RecordRating(RatingRecord{Rater: nodeID(1), Ratee: nodeID(1), Skill: "x", Rating: 1, Timestamp: 1})
	assert.ErrorIs(t, err, ErrSelfRating)
}

func TestRecordRating_RejectsDuplicate(t *testing.T) {
	g := New(nodeID(1))
	r := RatingRecord{Rater: nodeID(1), Ratee: nodeID(2), Skill: "x", Rating: 1, Timestamp: 1}
	require.NoError(t, g.RecordRating(r))
	err := g.RecordRating(r)
	assert.ErrorIs(t, err, ErrDuplicateRating)
}

func TestGetTrust_DefaultForUnknownNode(t *testing.T) {
	g := New(nodeID(1))
	assert.Equal(t, DefaultTrust, g.GetTrust(nodeID(9)))
}

func TestGetTrust_MonotoneAcrossMagnitudes(t *testing.T) {
	g := New(nodeID(1))
	target := nodeID(2)
	now := time.Now()

	trust0 := g.GetTrust(target)
	_, err := g.Rate(target, "classify", 0.1, now) // small positive
	require.NoError(t, err)
	trust1 := g.GetTrust(target)
	assert.Greater(t, trust1, trust0, "even a small positive rating must increase trust")

	_, err = g.Rate(target, "classify", 1.0, now.Add(time.Second)) // large positive
	require.NoError(t, err)
	trust2 := g.GetTrust(target)
	assert.Greater(t, trust2, trust1)

	_, err = g.Rate(target, "classify", -0.05, now.Add(2*time.Second)) // small negative
	require.NoError(t, err)
	trust3 := g.GetTrust(target)
	assert.Less(t, trust3, trust2, "even a small negative rating must decrease trust")
}

func TestNormalizedScore_MonotoneNonDecreasingOnNewPositiveRating(t *testing.T) {
	g := New(nodeID(1))
	target := nodeID(2)
	now := time.Now()

	_, err := g.Rate(target, "classify", Positive, now)
	require.NoError(t, err)
	agg, ok := g.GetSkillRating(target, "classify")
	require.True(t, ok)
	score0 := agg.NormalizedScore()

	_, err = g.Rate(target, "classify", 0.01, now.Add(time.Second))
	require.NoError(t, err)
	agg, ok = g.GetSkillRating(target, "classify")
	require.True(t, ok)
	score1 := agg.NormalizedScore()

	assert.GreaterOrEqual(t, score1, score0, "a new positive rating must never decrease the normalized score")
}

func TestNormalizedScore_NonIncreasingOnNewNegativeRating(t *testing.T) {
	g := New(nodeID(1))
	target := nodeID(2)
	now := time.Now()

	_, err := g.Rate(target, "classify", Negative, now)
	require.NoError(t, err)
	agg, ok := g.GetSkillRating(target, "classify")
	require.True(t, ok)
	score0 := agg.NormalizedScore()

	_, err = g.Rate(target, "classify", -0.01, now.Add(time.Second))
	require.NoError(t, err)
	agg, ok = g.GetSkillRating(target, "classify")
	require.True(t, ok)
	score1 := agg.NormalizedScore()

	assert.LessOrEqual(t, score1, score0, "a new negative rating must never increase the normalized score")
}

func TestRate_RejectsSelfRate(t *testing.T) {
	self := nodeID(1)
	g := New(self)
	_, err := g.Rate(self, "x", Positive, time.Now())
	assert.ErrorIs(t, err, ErrSelfRating)
}

func TestGetSkillRating(t *testing.T) {
	g := New(nodeID(1))
	now := time.Now()
	_, err := g.Rate(nodeID(2), "classify", Positive, now)
	require.NoError(t, err)
	_, err = g.Rate(nodeID(2), "classify", Negative, now.Add(time.Second))
	require.NoError(t, err)

	agg, ok := g.GetSkillRating(nodeID(2), "Classify") // normalization at lookup
	require.True(t, ok)
	assert.Equal(t, 1, agg.PositiveCount)
	assert.Equal(t, 1, agg.NegativeCount)
	assert.Equal(t, 0.5, agg.ApprovalRatio())
	assert.InDelta(t, 0.0, agg.NormalizedScore(), 1e-9)

	_, ok = g.GetSkillRating(nodeID(3), "classify")
	assert.False(t, ok)
}

func TestTopNodesForSkill_SortingAndTieBreak(t *testing.T) {
	g := New(nodeID(1))
	now := time.Now()

	// node 2: one strong positive
	_, _ = g.Rate(nodeID(2), "classify", Positive, now)
	// node 3: one strong positive, tie on score, fewer positives expected equal tie-break by NodeId
	_, _ = g.Rate(nodeID(3), "classify", Positive, now)
	// node 4: negative rating, lowest score
	_, _ = g.Rate(nodeID(4), "classify", Negative, now)

	top := g.TopNodesForSkill("classify", 10)
	require.Len(t, top, 3)
	assert.Equal(t, nodeID(4), top[len(top)-1].Node, "negative-rated node must sort last")

	// nodes 2 and 3 tie on score and positive_count; tie-break by NodeId bytes ascending
	assert.Equal(t, nodeID(2), top[0].Node)
	assert.Equal(t, nodeID(3), top[1].Node)
}

func TestTopNodesForSkill_TruncatesToLimit(t *testing.T) {
	g := New(nodeID(1))
	now := time.Now()
	for i := byte(2); i < 10; i++ {
		_, _ = g.Rate(nodeID(i), "classify", Positive, now)
	}
	top := g.TopNodesForSkill("classify", 3)
	assert.Len(t, top, 3)
}

func TestHistoryAndHistorySince(t *testing.T) {
	g := New(nodeID(1))
	_, _ = g.Rate(nodeID(2), "x", Positive, time.Unix(100, 0))
	_, _ = g.Rate(nodeID(3), "x", Positive, time.Unix(200, 0))

	full := g.History()
	assert.Len(t, full, 2)

	recent := g.HistorySince(150)
	require.Len(t, recent, 1)
	assert.Equal(t, nodeID(3), recent[0].Ratee)
}

func TestHistory_ReturnsCopyNotAlias(t *testing.T) {
	g := New(nodeID(1))
	_, _ = g.Rate(nodeID(2), "x", Positive, time.Now())

	h := g.History()
	h[0].Skill = "tampered"

	h2 := g.History()
	assert.NotEqual(t, SkillID("tampered"), h2[0].Skill)
}

func TestHasSeen(t *testing.T) {
	g := New(nodeID(1))
	r := RatingRecord{Rater: nodeID(1), Ratee: nodeID(2), Skill: "x", Rating: 1, Timestamp: 1}
	assert.False(t, g.HasSeen(r.Hash()))
	require.NoError(t, g.RecordRating(r))
	assert.True(t, g.HasSeen(r.Hash()))
}

func TestRatingClamp(t *testing.T) {
	assert.Equal(t, Rating(1), Rating(5).Clamp())
	assert.Equal(t, Rating(-1), Rating(-5).Clamp())
	assert.Equal(t, Rating(0.3), Rating(0.3).Clamp())
}
