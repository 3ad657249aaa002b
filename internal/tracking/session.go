// Package tracking combines a decoded route with live vehicle and user
// positions into a single snapshot that is recomputed on every change.
package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
	"github.com/mini-rodalies-3d/bustracker/internal/logging"
	"github.com/mini-rodalies-3d/bustracker/internal/polyline"
	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
)

type options struct {
	id              string
	precision       float64
	interval        time.Duration
	location        LocationProvider
	log             logging.Logger
	clock           clockwork.Clock
	listeners       []func(Snapshot)
	onVehicleError  func(error)
	onVehicleUpdate func(routeID string, pos vehicle.Position)
}

// Option configures a session at Open
type Option func(*options)

// WithPrecision sets the polyline precision factor
func WithPrecision(precision float64) Option {
	return func(o *options) { o.precision = precision }
}

// WithInterval sets the vehicle poll interval
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithLocationProvider sets the provider used by RequestUserLocation
func WithLocationProvider(p LocationProvider) Option {
	return func(o *options) { o.location = p }
}

// WithLogger sets the session logger
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock sets the clock used for snapshot timestamps
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSnapshotListener registers a listener before polling starts, so it
// sees the very first update.
func WithSnapshotListener(fn func(Snapshot)) Option {
	return func(o *options) { o.listeners = append(o.listeners, fn) }
}

// WithVehicleErrorHandler receives every failed vehicle fetch
func WithVehicleErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onVehicleError = fn }
}

// WithVehicleUpdateHandler receives every vehicle position the session
// accepts, with the ID of the route it was accepted for
func WithVehicleUpdateHandler(fn func(routeID string, pos vehicle.Position)) Option {
	return func(o *options) { o.onVehicleUpdate = fn }
}

func withID(id string) Option {
	return func(o *options) { o.id = id }
}

type listener struct {
	id uint64
	fn func(Snapshot)
}

// Session tracks one route. Updates are applied and broadcast to listeners
// one at a time, in the order their requests complete.
type Session struct {
	id       string
	route    Route
	geometry []geo.Coordinate
	stops    []Stop
	opts     options
	log      logging.Logger

	mu           sync.Mutex
	state        State
	handle       *vehicle.Handle
	vehicle      *vehicle.Position
	user         *UserPosition
	vehicleErr   error
	version      uint64
	updatedAt    time.Time
	listeners    []listener
	nextListener uint64
	done         chan struct{}
}

// Open decodes the route geometry and starts polling its vehicle. A malformed
// path returns the *polyline.DecodeError and no session.
func Open(route Route, poller *vehicle.Poller, opts ...Option) (*Session, error) {
	o := options{
		precision: polyline.DefaultPrecision,
		log:       logging.Noop(),
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	seen := make(map[string]struct{}, len(route.Stops))
	for _, stop := range route.Stops {
		if _, dup := seen[stop.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStop, stop.Name)
		}
		seen[stop.Name] = struct{}{}
	}

	geometry, err := polyline.DecodeWithPrecision(route.EncodedPath, o.precision)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       o.id,
		route:    route,
		geometry: geometry,
		stops:    append([]Stop(nil), route.Stops...),
		opts:     o,
		log: o.log.With(
			logging.String("session_id", o.id),
			logging.String("route_id", route.ID),
			logging.String("vehicle_id", route.VehicleID),
		),
		state: StateOpening,
		done:  make(chan struct{}),
	}
	for _, fn := range o.listeners {
		s.addListenerLocked(fn)
	}
	if seed := route.InitialVehicle; seed != nil && seed.Coordinate.Validate() == nil {
		v := *seed
		if route.VehicleID != "" {
			v.VehicleID = route.VehicleID
		}
		s.vehicle = &v
	}
	s.updatedAt = o.clock.Now()

	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()

	if route.VehicleID != "" && poller != nil {
		var h *vehicle.Handle
		if s.vehicle != nil {
			h = poller.StartFrom(*s.vehicle, o.interval, s.applyVehicle, s.applyVehicleError)
		} else {
			h = poller.Start(route.VehicleID, o.interval, s.applyVehicle, s.applyVehicleError)
		}
		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()
	}

	s.log.Info(context.Background(), "tracking session opened",
		logging.Int("points", len(geometry)), logging.Int("stops", len(s.stops)))
	return s, nil
}

// ID returns the session identifier, empty when opened outside a Registry
func (s *Session) ID() string { return s.id }

// Route returns the route the session was opened with
func (s *Session) Route() Route { return s.route }

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session is closed
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the current derived view
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// OnSnapshotChanged registers fn to be called synchronously with a fresh
// snapshot after every accepted vehicle or user update. The returned func
// removes the listener.
func (s *Session) OnSnapshotChanged(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return func() {}
	}
	id := s.addListenerLocked(fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) addListenerLocked(fn func(Snapshot)) uint64 {
	s.nextListener++
	s.listeners = append(s.listeners, listener{id: s.nextListener, fn: fn})
	return s.nextListener
}

// RequestUserLocation asks the configured provider for a one-shot fix
func (s *Session) RequestUserLocation(ctx context.Context) (UserPosition, error) {
	if s.State() != StateActive {
		return UserPosition{}, ErrSessionClosed
	}
	if s.opts.location == nil {
		return UserPosition{}, fmt.Errorf("%w: no location provider configured", ErrLocationUnavailable)
	}
	return s.RequestUserLocationFrom(ctx, s.opts.location)
}

// RequestUserLocationFrom asks provider for a one-shot fix. On success the
// user position is replaced and listeners are notified. It may run while a
// vehicle request is outstanding.
func (s *Session) RequestUserLocationFrom(ctx context.Context, provider LocationProvider) (UserPosition, error) {
	if s.State() != StateActive {
		return UserPosition{}, ErrSessionClosed
	}

	resp, err := provider.RequestLocation(ctx)
	if err != nil {
		return UserPosition{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}
	if resp.Status == LocationDenied {
		return UserPosition{}, ErrPermissionDenied
	}
	if resp.Status != LocationGranted || resp.Coordinate == nil {
		return UserPosition{}, ErrLocationUnavailable
	}
	if err := resp.Coordinate.Validate(); err != nil {
		return UserPosition{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	user := UserPosition{Coordinate: *resp.Coordinate, ObservedAt: resp.ObservedAt}
	if user.ObservedAt.IsZero() {
		user.ObservedAt = s.opts.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return UserPosition{}, ErrSessionClosed
	}
	s.user = &user
	s.notifyLocked()
	return user, nil
}

// Close stops vehicle polling. No listener is called once Close returns.
// It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.listeners = nil
	h := s.handle
	close(s.done)
	s.mu.Unlock()

	if h != nil {
		h.Stop()
	}
	s.log.Info(context.Background(), "tracking session closed")
}

func (s *Session) applyVehicle(pos vehicle.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	if s.vehicle != nil && !pos.NewerThan(*s.vehicle) {
		s.log.Debug(context.Background(), "stale vehicle position ignored",
			logging.Any("observed_at", pos.ObservedAt))
		return
	}
	s.vehicle = &pos
	s.vehicleErr = nil
	if s.opts.onVehicleUpdate != nil {
		s.opts.onVehicleUpdate(s.route.ID, pos)
	}
	s.notifyLocked()
}

func (s *Session) applyVehicleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.vehicleErr = err
	if s.opts.onVehicleError != nil {
		s.opts.onVehicleError(err)
	}
}

func (s *Session) notifyLocked() {
	s.version++
	s.updatedAt = s.opts.clock.Now()
	snap := s.snapshotLocked()
	for _, l := range s.listeners {
		l.fn(snap)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: s.id,
		RouteID:   s.route.ID,
		RouteName: s.route.Name,
		State:     s.state,
		Version:   s.version,
		Path:      s.route.EncodedPath,
		Geometry:  s.geometry,
		Stops:     s.stops,
		Crowd:     vehicle.CrowdUnknown,
		UpdatedAt: s.updatedAt,
	}
	if s.vehicle != nil {
		v := *s.vehicle
		snap.Vehicle = &v
		snap.Crowd = v.Crowd()
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if s.vehicleErr != nil {
		snap.VehicleError = s.vehicleErr.Error()
	}
	if snap.Vehicle != nil && snap.User != nil {
		d, err := geo.DistanceKm(snap.User.Coordinate, snap.Vehicle.Coordinate)
		if err != nil {
			s.log.Error(context.Background(), "distance computation failed", logging.Err(err))
		} else {
			snap.DistanceKm = &d
		}
	}
	return snap
}
