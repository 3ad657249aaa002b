package metrics

import (
	"math"
	"sync"
	"time"
)

// WelfordState holds running statistics using Welford's online algorithm,
// so mean and deviation are updated in O(1) without storing observations.
type WelfordState struct {
	Count int
	Mean  float64
	M2    float64 // sum of squared differences from the mean
}

// Update adds one observation
func (w *WelfordState) Update(v float64) {
	w.Count++
	delta := v - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (v - w.Mean)
}

// StdDev returns the population standard deviation, 0 below two observations
func (w *WelfordState) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}

// LatencySummary is a point-in-time view of LatencyStats
type LatencySummary struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	Failures int     `json:"failures"`
}

// LatencyStats tracks fetch latency across all vehicles. Safe for concurrent use.
type LatencyStats struct {
	mu       sync.Mutex
	state    WelfordState
	min, max float64
	failures int
}

// Observe records one completed fetch
func (s *LatencyStats) Observe(elapsed time.Duration, failed bool) {
	ms := float64(elapsed) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.failures++
	}
	if s.state.Count == 0 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
	s.state.Update(ms)
}

// Summary returns the current statistics
func (s *LatencyStats) Summary() LatencySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LatencySummary{
		Count:    s.state.Count,
		MeanMs:   s.state.Mean,
		StdDevMs: s.state.StdDev(),
		MinMs:    s.min,
		MaxMs:    s.max,
		Failures: s.failures,
	}
}
