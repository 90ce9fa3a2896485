package peerstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfabric/node/id"
)

func samplePeer(n byte, lastSeen time.Time) PeerInfo {
	var nodeID id.NodeId
	nodeID[0] = n
	return PeerInfo{
		NodeID:        nodeID,
		SigningPubKey: []byte{n, n, n},
		Addresses:     []string{"10.0.0.1:7946"},
		Capabilities:  Capabilities{CanCompute: true},
		LastSeen:      lastSeen,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := New()
	now := time.Now()
	p := samplePeer(1, now)
	s.Insert(p)

	got, ok := s.Get(p.NodeID)
	require.True(t, ok)
	assert.Equal(t, p.NodeID, got.NodeID)
	assert.Equal(t, p.Addresses, got.Addresses)
}

func TestGet_UnknownReturnsFalse(t *testing.T) {
	s := New()
	_, ok := s.Get(id.NodeId{0x99})
	assert.False(t, ok)
}

func TestInsert_UpsertsExisting(t *testing.T) {
	s := New()
	now := time.Now()
	p := samplePeer(2, now)
	s.Insert(p)

	p.Addresses = []string{"updated:1"}
	s.Insert(p)

	got, ok := s.Get(p.NodeID)
	require.True(t, ok)
	assert.Equal(t, []string{"updated:1"}, got.Addresses)
	assert.Equal(t, 1, s.Len())
}

func TestRemove(t *testing.T) {
	s := New()
	p := samplePeer(3, time.Now())
	s.Insert(p)

	assert.True(t, s.Remove(p.NodeID))
	assert.False(t, s.Remove(p.NodeID))
	_, ok := s.Get(p.NodeID)
	assert.False(t, ok)
}

func TestTouch(t *testing.T) {
	s := New()
	old := time.Now().Add(-time.Hour)
	p := samplePeer(4, old)
	s.Insert(p)

	now := time.Now()
	assert.True(t, s.Touch(p.NodeID, now))

	got, _ := s.Get(p.NodeID)
	assert.WithinDuration(t, now, got.LastSeen, time.Millisecond)

	assert.False(t, s.Touch(id.NodeId{0xEE}, now))
}

func TestUpdateLatency(t *testing.T) {
	s := New()
	p := samplePeer(5, time.Now())
	s.Insert(p)

	require.True(t, s.UpdateLatency(p.NodeID, 42.5))
	got, _ := s.Get(p.NodeID)
	require.NotNil(t, got.LatencyMs)
	assert.Equal(t, 42.5, *got.LatencyMs)
}

func TestPruneStale(t *testing.T) {
	s := NewWithStaleThreshold(time.Minute)
	now := time.Now()

	fresh := samplePeer(1, now)
	stale := samplePeer(2, now.Add(-2*time.Minute))
	s.Insert(fresh)
	s.Insert(stale)

	removed := s.PruneStale(now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get(fresh.NodeID)
	assert.True(t, ok)
	_, ok = s.Get(stale.NodeID)
	assert.False(t, ok)
}

func TestListActive_ExcludesStale(t *testing.T) {
	s := NewWithStaleThreshold(time.Minute)
	now := time.Now()

	s.Insert(samplePeer(1, now))
	s.Insert(samplePeer(2, now.Add(-5*time.Minute)))

	active := s.ListActive(now)
	require.Len(t, active, 1)
	assert.Equal(t, byte(1), active[0].NodeID[0])
}

func TestFindByCapability(t *testing.T) {
	s := NewWithStaleThreshold(time.Minute)
	now := time.Now()

	relay := samplePeer(1, now)
	relay.Capabilities = Capabilities{CanRelay: true}
	compute := samplePeer(2, now)
	compute.Capabilities = Capabilities{CanCompute: true}
	staleRelay := samplePeer(3, now.Add(-5*time.Minute))
	staleRelay.Capabilities = Capabilities{CanRelay: true}

	s.Insert(relay)
	s.Insert(compute)
	s.Insert(staleRelay)

	matches := s.FindByCapability(now, func(c Capabilities) bool { return c.CanRelay })
	require.Len(t, matches, 1)
	assert.Equal(t, byte(1), matches[0].NodeID[0])
}

func TestClone_PreventsAliasing(t *testing.T) {
	s := New()
	p := samplePeer(1, time.Now())
	s.Insert(p)

	got, _ := s.Get(p.NodeID)
	got.Addresses[0] = "mutated"

	got2, _ := s.Get(p.NodeID)
	assert.NotEqual(t, "mutated", got2.Addresses[0])
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	now := time.Now()
	done := make(chan struct{})

	go func() {
		for i := 0; i < 100; i++ {
			s.Insert(samplePeer(byte(i%16), now))
		}
		close(done)
	}()

	for i := 0; i < 100; i++ {
		s.ListActive(now)
	}
	<-done
}

func TestPeers_ReturnsAllTrackedIncludingStale(t *testing.T) {
	s := New()
	now := time.Now()
	s.Insert(samplePeer(1, now))
	s.Insert(samplePeer(2, now.Add(-time.Hour)))

	peers := s.Peers()
	assert.Len(t, peers, 2)
}
