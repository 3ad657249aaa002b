// Package metrics exposes poller and session metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
)

// Collector implements vehicle.Recorder on top of Prometheus metrics and
// keeps running latency statistics for the health endpoint.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks          *prometheus.CounterVec
	Fetches        *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	StaleDiscarded prometheus.Counter
	OpenSessions   prometheus.Gauge

	latency LatencyStats
}

var _ vehicle.Recorder = (*Collector)(nil)

// NewCollector registers the tracker metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_poll_ticks_total",
		Help: "Poll ticks, labeled by outcome (issued or skipped).",
	}, []string{"outcome"})
	if err := register(reg, ticks, "tracker_poll_ticks_total"); err != nil {
		return nil, err
	}

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_position_fetches_total",
		Help: "Completed position fetches, labeled by result (ok or the fetch error kind).",
	}, []string{"result"})
	if err := register(reg, fetches, "tracker_position_fetches_total"); err != nil {
		return nil, err
	}

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_position_fetch_duration_seconds",
		Help:    "Position fetch latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
	})
	if err := register(reg, duration, "tracker_position_fetch_duration_seconds"); err != nil {
		return nil, err
	}

	stale := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_stale_positions_total",
		Help: "Positions discarded because they were not newer than the last accepted one.",
	})
	if err := register(reg, stale, "tracker_stale_positions_total"); err != nil {
		return nil, err
	}

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_open_sessions",
		Help: "Currently open tracking sessions.",
	})
	if err := register(reg, sessions, "tracker_open_sessions"); err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		Ticks:          ticks,
		Fetches:        fetches,
		FetchDuration:  duration,
		StaleDiscarded: stale,
		OpenSessions:   sessions,
	}, nil
}

func (c *Collector) TickIssued(string) {
	c.Ticks.WithLabelValues("issued").Inc()
}

func (c *Collector) TickSkipped(string) {
	c.Ticks.WithLabelValues("skipped").Inc()
}

func (c *Collector) FetchCompleted(_ string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		var fe *vehicle.FetchError
		if errors.As(err, &fe) {
			result = string(fe.Kind)
		}
	}
	c.Fetches.WithLabelValues(result).Inc()
	c.FetchDuration.Observe(elapsed.Seconds())
	c.latency.Observe(elapsed, err != nil)
}

func (c *Collector) PositionDiscarded(string) {
	c.StaleDiscarded.Inc()
}

// SetOpenSessions updates the open sessions gauge
func (c *Collector) SetOpenSessions(n int) {
	c.OpenSessions.Set(float64(n))
}

// Latency returns running fetch latency statistics
func (c *Collector) Latency() LatencySummary {
	return c.latency.Summary()
}

// Handler exposes a ready-to-use /metrics handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func register(reg prometheus.Registerer, c prometheus.Collector, name string) error {
	if err := reg.Register(c); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return nil
}
