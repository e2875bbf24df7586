package dispatch

import (
	"sync"
	"time"
)

// PerformanceTracker accumulates per-backend outcome counters. It has
// no dependencies and is safe for concurrent use.
type PerformanceTracker struct {
	mu           sync.Mutex
	requests     int64
	successes    int64
	totalLatency time.Duration
}

// PerformanceStats is a read-only snapshot of a tracker
type PerformanceStats struct {
	Requests       int64         `json:"requests"`
	Successes      int64         `json:"successes"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
}

func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{}
}

// Record adds one dispatch outcome
func (t *PerformanceTracker) Record(latency time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests++
	if success {
		t.successes++
	}
	t.totalLatency += latency
}

// Stats returns a snapshot of the accumulated counters
func (t *PerformanceTracker) Stats() PerformanceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := PerformanceStats{
		Requests:  t.requests,
		Successes: t.successes,
	}
	if t.requests > 0 {
		stats.SuccessRate = float64(t.successes) / float64(t.requests)
		stats.AverageLatency = t.totalLatency / time.Duration(t.requests)
	}
	return stats
}

// Score blends success rate and average latency into a single
// reliability figure: 0.7*success_rate + 0.3*(1/(1+avg_latency_seconds)).
func (t *PerformanceTracker) Score() float64 {
	stats := t.Stats()
	if stats.Requests == 0 {
		return 0
	}
	return 0.7*stats.SuccessRate + 0.3*(1.0/(1.0+stats.AverageLatency.Seconds()))
}

// Requests returns the total recorded request count
func (t *PerformanceTracker) Requests() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests
}
