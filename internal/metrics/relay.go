package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayBeaconsOriginated tracks beacons this node created.
	RelayBeaconsOriginated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "beacons_originated_total",
			Help:      "Total number of relay beacons originated by this node",
		},
	)

	// RelayBeaconsForwarded tracks beacons forwarded on behalf of peers.
	RelayBeaconsForwarded = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "beacons_forwarded_total",
			Help:      "Total number of relay beacons forwarded",
		},
		[]string{"outcome"}, // forwarded, ttl_exhausted, duplicate
	)

	// RelayBeaconsFetched tracks local fetch/decrypt attempts.
	RelayBeaconsFetched = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "beacons_fetched_total",
			Help:      "Total number of relay beacon fetch attempts",
		},
		[]string{"outcome"}, // decrypted, not_addressed, decrypt_failed
	)

	// RelayHopCount tracks the hop_count distribution of beacons seen.
	RelayHopCount = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "hop_count",
			Help:      "Hop count of relay beacons observed",
			Buckets:   prometheus.LinearBuckets(0, 1, 16),
		},
	)
)
