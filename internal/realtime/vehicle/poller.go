// Package vehicle polls a position source for live vehicle locations.
//
// A Poller owns no state of its own; every Start returns an independent Handle
// that ticks on a fixed interval, keeps at most one request in flight, and
// drops results that are not newer than the last one it delivered.
package vehicle

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mini-rodalies-3d/bustracker/internal/logging"
)

// DefaultInterval is used when Start is given a non-positive interval
const DefaultInterval = 4 * time.Second

// Source fetches the current position of a single vehicle
type Source interface {
	FetchPosition(ctx context.Context, vehicleID string) (Position, error)
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func(ctx context.Context, vehicleID string) (Position, error)

func (f SourceFunc) FetchPosition(ctx context.Context, vehicleID string) (Position, error) {
	return f(ctx, vehicleID)
}

// Recorder receives poll lifecycle events for metrics
type Recorder interface {
	TickIssued(vehicleID string)
	TickSkipped(vehicleID string)
	FetchCompleted(vehicleID string, elapsed time.Duration, err error)
	PositionDiscarded(vehicleID string)
}

type noopRecorder struct{}

func (noopRecorder) TickIssued(string) {}

func (noopRecorder) TickSkipped(string) {}

func (noopRecorder) FetchCompleted(string, time.Duration, error) {}

func (noopRecorder) PositionDiscarded(string) {}

// Poller starts position polling schedules against one Source
type Poller struct {
	src    Source
	clock  clockwork.Clock
	log    logging.Logger
	rec    Recorder
	tracer trace.Tracer
}

// Option configures a Poller
type Option func(*Poller)

// WithClock replaces the wall clock used for ticks and issue times
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the poller's logger
func WithLogger(l logging.Logger) Option {
	return func(p *Poller) { p.log = l }
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(p *Poller) { p.rec = r }
}

// WithTracer sets the tracer used for per-fetch spans
func WithTracer(t trace.Tracer) Option {
	return func(p *Poller) { p.tracer = t }
}

// NewPoller creates a poller for src
func NewPoller(src Source, opts ...Option) *Poller {
	p := &Poller{
		src:    src,
		clock:  clockwork.NewRealClock(),
		log:    logging.Noop(),
		rec:    noopRecorder{},
		tracer: otel.Tracer("github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling vehicleID. The first request is issued immediately,
// then one per interval. onUpdate receives only positions newer than the last
// delivered one; onError receives a *FetchError for every failed request.
// Both callbacks run one at a time and must not call Stop on their own handle.
func (p *Poller) Start(vehicleID string, interval time.Duration, onUpdate func(Position), onError func(error)) *Handle {
	return p.start(vehicleID, interval, nil, onUpdate, onError)
}

// StartFrom is Start with a known position already accepted, so results not
// newer than seed are discarded.
func (p *Poller) StartFrom(seed Position, interval time.Duration, onUpdate func(Position), onError func(error)) *Handle {
	return p.start(seed.VehicleID, interval, &seed, onUpdate, onError)
}

func (p *Poller) start(vehicleID string, interval time.Duration, seed *Position, onUpdate func(Position), onError func(error)) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if onUpdate == nil {
		onUpdate = func(Position) {}
	}
	if onError == nil {
		onError = func(error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		poller:    p,
		vehicleID: vehicleID,
		interval:  interval,
		onUpdate:  onUpdate,
		onError:   onError,
		log:       p.log.With(logging.String("vehicle_id", vehicleID)),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if seed != nil {
		h.latest = *seed
		h.hasLatest = true
	}

	ticker := p.clock.NewTicker(interval)
	h.tick()
	go h.run(ticker)

	h.log.Debug(ctx, "polling started", logging.Duration("interval", interval))
	return h
}

// Handle controls one running poll schedule
type Handle struct {
	poller    *Poller
	vehicleID string
	interval  time.Duration
	onUpdate  func(Position)
	onError   func(error)
	log       logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	stopped   bool
	inFlight  bool
	latest    Position
	hasLatest bool
	stats     Stats
}

// Stats counts what a handle has done so far
type Stats struct {
	Issued    int
	Skipped   int
	Failed    int
	Accepted  int
	Discarded int
}

// VehicleID returns the polled vehicle
func (h *Handle) VehicleID() string { return h.vehicleID }

// Interval returns the effective tick interval
func (h *Handle) Interval() time.Duration { return h.interval }

// Latest returns the last delivered position
func (h *Handle) Latest() (Position, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.hasLatest
}

// Stats returns a copy of the handle's counters
func (h *Handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Done is closed once the tick loop has exited after Stop
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop cancels the schedule and any in-flight request. No callback runs after
// Stop returns. It is safe to call more than once.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.cancel()
	h.log.Debug(context.Background(), "polling stopped")
}

func (h *Handle) run(ticker clockwork.Ticker) {
	defer close(h.done)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.Chan():
			h.tick()
		}
	}
}

// tick issues a request unless one is outstanding. It reports whether a
// request was issued.
func (h *Handle) tick() bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	if h.inFlight {
		h.stats.Skipped++
		h.poller.rec.TickSkipped(h.vehicleID)
		h.mu.Unlock()
		h.log.Debug(h.ctx, "tick skipped, request still outstanding")
		return false
	}
	h.inFlight = true
	h.stats.Issued++
	h.poller.rec.TickIssued(h.vehicleID)
	issuedAt := h.poller.clock.Now()
	h.mu.Unlock()

	go h.fetch(issuedAt)
	return true
}

func (h *Handle) fetch(issuedAt time.Time) {
	ctx, span := h.poller.tracer.Start(h.ctx, "vehicle.FetchPosition",
		trace.WithAttributes(attribute.String("vehicle.id", h.vehicleID)))
	pos, err := h.poller.src.FetchPosition(ctx, h.vehicleID)
	elapsed := h.poller.clock.Now().Sub(issuedAt)

	var fetchErr *FetchError
	if err != nil {
		fetchErr = classify(h.vehicleID, err)
	} else {
		if pos.VehicleID == "" {
			pos.VehicleID = h.vehicleID
		}
		if pos.ObservedAt.IsZero() {
			pos.ObservedAt = issuedAt
		}
		if verr := pos.Coordinate.Validate(); verr != nil {
			fetchErr = &FetchError{VehicleID: h.vehicleID, Kind: KindPayload, Err: verr}
		}
	}
	if fetchErr != nil {
		span.RecordError(fetchErr)
		span.SetStatus(codes.Error, string(fetchErr.Kind))
	}
	span.End()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.inFlight = false
	if h.stopped {
		return
	}

	if fetchErr != nil {
		h.stats.Failed++
		h.poller.rec.FetchCompleted(h.vehicleID, elapsed, fetchErr)
		h.log.Warn(h.ctx, "position fetch failed",
			logging.String("kind", string(fetchErr.Kind)), logging.Err(fetchErr.Err))
		h.onError(fetchErr)
		return
	}

	h.poller.rec.FetchCompleted(h.vehicleID, elapsed, nil)
	if h.hasLatest && !pos.NewerThan(h.latest) {
		h.stats.Discarded++
		h.poller.rec.PositionDiscarded(h.vehicleID)
		h.log.Debug(h.ctx, "stale position discarded",
			logging.Any("observed_at", pos.ObservedAt), logging.Any("latest", h.latest.ObservedAt))
		return
	}
	h.latest = pos
	h.hasLatest = true
	h.stats.Accepted++
	h.onUpdate(pos)
}
