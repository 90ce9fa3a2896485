package metrics

import (
	"sync"
	"time"
)

// StatsCollector aggregates in-process counters independent of the
// prometheus Registry (useful for a dashboard status endpoint that wants
// a plain struct rather than scraping /metrics). No other package in
// this module records into it.
type StatsCollector struct {
	mu sync.RWMutex

	// Counters
	TaskExecutions  int64
	TaskSuccesses   int64
	TaskFailures    int64
	RouteDecisions  int64
	RouteFailures   int64
	RelayForwards   int64
	RelayDrops      int64
	GossipReceived  int64
	GossipDeduped   int64

	// Timing metrics (in microseconds)
	TaskExecutionTimes  []int64
	RouteDecisionTimes  []int64
	RelayForwardTimes   []int64

	startTime time.Time

	maxTimingSamples int
}

// NewStatsCollector creates a new stats collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		startTime:        time.Now(),
		maxTimingSamples: 1000,
	}
}

// RecordTaskExecution records a completed task execution.
func (sc *StatsCollector) RecordTaskExecution(success bool, duration time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.TaskExecutions++
	if success {
		sc.TaskSuccesses++
	} else {
		sc.TaskFailures++
	}
	sc.recordTiming(&sc.TaskExecutionTimes, duration)
}

// RecordRouteDecision records a router selection, success meaning a
// capable peer was found.
func (sc *StatsCollector) RecordRouteDecision(success bool, duration time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.RouteDecisions++
	if !success {
		sc.RouteFailures++
	}
	sc.recordTiming(&sc.RouteDecisionTimes, duration)
}

// RecordRelayForward records a relay beacon forward or drop.
func (sc *StatsCollector) RecordRelayForward(forwarded bool, duration time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if forwarded {
		sc.RelayForwards++
		sc.recordTiming(&sc.RelayForwardTimes, duration)
	} else {
		sc.RelayDrops++
	}
}

// RecordGossipMessage records an inbound reputation gossip message,
// deduped meaning it had already been seen and was discarded.
func (sc *StatsCollector) RecordGossipMessage(deduped bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.GossipReceived++
	if deduped {
		sc.GossipDeduped++
	}
}

func (sc *StatsCollector) recordTiming(timings *[]int64, duration time.Duration) {
	microseconds := duration.Microseconds()
	*timings = append(*timings, microseconds)

	if len(*timings) > sc.maxTimingSamples {
		*timings = (*timings)[len(*timings)-sc.maxTimingSamples:]
	}
}

// Snapshot returns a point-in-time snapshot of the collected stats.
func (sc *StatsCollector) Snapshot() *StatsSnapshot {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	return &StatsSnapshot{
		Timestamp:              time.Now(),
		Uptime:                 time.Since(sc.startTime),
		TaskExecutions:         sc.TaskExecutions,
		TaskSuccesses:          sc.TaskSuccesses,
		TaskFailures:           sc.TaskFailures,
		RouteDecisions:         sc.RouteDecisions,
		RouteFailures:          sc.RouteFailures,
		RelayForwards:          sc.RelayForwards,
		RelayDrops:             sc.RelayDrops,
		GossipReceived:         sc.GossipReceived,
		GossipDeduped:          sc.GossipDeduped,
		AvgTaskExecutionTime:   calculateAverage(sc.TaskExecutionTimes),
		AvgRouteDecisionTime:   calculateAverage(sc.RouteDecisionTimes),
		AvgRelayForwardTime:    calculateAverage(sc.RelayForwardTimes),
		P95TaskExecutionTime:   calculatePercentile(sc.TaskExecutionTimes, 95),
		P95RouteDecisionTime:   calculatePercentile(sc.RouteDecisionTimes, 95),
		P95RelayForwardTime:    calculatePercentile(sc.RelayForwardTimes, 95),
	}
}

// Reset clears all collected stats.
func (sc *StatsCollector) Reset() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.TaskExecutions = 0
	sc.TaskSuccesses = 0
	sc.TaskFailures = 0
	sc.RouteDecisions = 0
	sc.RouteFailures = 0
	sc.RelayForwards = 0
	sc.RelayDrops = 0
	sc.GossipReceived = 0
	sc.GossipDeduped = 0

	sc.TaskExecutionTimes = nil
	sc.RouteDecisionTimes = nil
	sc.RelayForwardTimes = nil

	sc.startTime = time.Now()
}

// StatsSnapshot is a point-in-time copy of StatsCollector's counters.
type StatsSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	TaskExecutions int64
	TaskSuccesses  int64
	TaskFailures   int64
	RouteDecisions int64
	RouteFailures  int64
	RelayForwards  int64
	RelayDrops     int64
	GossipReceived int64
	GossipDeduped  int64

	AvgTaskExecutionTime float64
	AvgRouteDecisionTime float64
	AvgRelayForwardTime  float64

	P95TaskExecutionTime int64
	P95RouteDecisionTime int64
	P95RelayForwardTime  int64
}

// TaskSuccessRate returns the task success rate as a percentage.
func (ss *StatsSnapshot) TaskSuccessRate() float64 {
	if ss.TaskExecutions == 0 {
		return 0
	}
	return float64(ss.TaskSuccesses) / float64(ss.TaskExecutions) * 100
}

// RouteFailureRate returns the route failure rate as a percentage.
func (ss *StatsSnapshot) RouteFailureRate() float64 {
	if ss.RouteDecisions == 0 {
		return 0
	}
	return float64(ss.RouteFailures) / float64(ss.RouteDecisions) * 100
}

// GossipDedupeRate returns the percentage of gossip messages discarded as
// already-seen.
func (ss *StatsSnapshot) GossipDedupeRate() float64 {
	if ss.GossipReceived == 0 {
		return 0
	}
	return float64(ss.GossipDeduped) / float64(ss.GossipReceived) * 100
}

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)

	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	return sorted[index]
}

// Global stats collector instance, returned by GetGlobalCollector.
var globalCollector = NewStatsCollector()

// GetGlobalCollector returns the global stats collector.
func GetGlobalCollector() *StatsCollector {
	return globalCollector
}
