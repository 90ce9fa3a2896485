package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GossipMessagesReceived tracks inbound reputation gossip traffic.
	GossipMessagesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "messages_received_total",
			Help:      "Total number of reputation gossip messages received",
		},
		[]string{"kind", "status"}, // new_rating/request_ratings/.../sync_response, accepted/deduped/rejected
	)

	// GossipMessagesSent tracks outbound gossip fanout.
	GossipMessagesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "messages_sent_total",
			Help:      "Total number of reputation gossip messages sent",
		},
		[]string{"kind"},
	)

	// PeerstoreSize tracks the current count of known peers.
	PeerstoreSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peerstore",
			Name:      "size",
			Help:      "Number of peers currently known to the peer store",
		},
	)

	// PeerstoreStalePruned tracks peers evicted for staleness.
	PeerstoreStalePruned = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peerstore",
			Name:      "stale_pruned_total",
			Help:      "Total number of peers pruned from the peer store for staleness",
		},
	)
)
