package tracking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mini-rodalies-3d/bustracker/internal/logging"
	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
)

// ErrTooManySessions is returned by Registry.Open when the session limit is reached
var ErrTooManySessions = errors.New("too many open sessions")

// Limits bounds how many sessions a registry holds and for how long an
// unwatched session may sit unused. Zero values mean no bound.
type Limits struct {
	MaxSessions int
	IdleTimeout time.Duration
}

type entry struct {
	session  *Session
	lastSeen time.Time
	watchers int
}

// Registry owns the open sessions of a process, keyed by generated ID
type Registry struct {
	poller *vehicle.Poller
	opts   []Option
	limits Limits
	clock  clockwork.Clock

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewRegistry creates a registry whose sessions poll through poller and
// receive opts before any per-call options.
func NewRegistry(poller *vehicle.Poller, opts ...Option) *Registry {
	return &Registry{
		poller:   poller,
		opts:     opts,
		clock:    clockwork.NewRealClock(),
		sessions: make(map[string]*entry),
	}
}

// WithLimits sets the session cap and idle timeout
func (r *Registry) WithLimits(l Limits) *Registry {
	r.limits = l
	return r
}

// WithRegistryClock sets the clock used for idle tracking
func (r *Registry) WithRegistryClock(c clockwork.Clock) *Registry {
	r.clock = c
	return r
}

// Open opens a session for route under a new ID
func (r *Registry) Open(route Route, opts ...Option) (*Session, error) {
	if limit := r.limits.MaxSessions; limit > 0 && r.Len() >= limit {
		return nil, ErrTooManySessions
	}

	all := make([]Option, 0, len(r.opts)+len(opts)+1)
	all = append(all, r.opts...)
	all = append(all, opts...)
	all = append(all, withID(uuid.NewString()))

	s, err := Open(route, r.poller, all...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// concurrent opens may have filled the last slot
	if limit := r.limits.MaxSessions; limit > 0 && len(r.sessions) >= limit {
		r.mu.Unlock()
		s.Close()
		return nil, ErrTooManySessions
	}
	r.sessions[s.ID()] = &entry{session: s, lastSeen: r.clock.Now()}
	r.mu.Unlock()
	return s, nil
}

// Get returns the session with id and marks it as used
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.clock.Now()
	return e.session, true
}

// Watch returns the session with id and keeps it from idling out until
// release is called. release is safe to call more than once.
func (r *Registry) Watch(id string) (s *Session, release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, nil, false
	}
	e.watchers++
	e.lastSeen = r.clock.Now()

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.watchers--
			e.lastSeen = r.clock.Now()
		})
	}
	return e.session, release, true
}

// Close closes and forgets the session with id. It reports whether the
// session existed.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		e.session.Close()
	}
	return ok
}

// CloseAll closes every session
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
	}
}

// CloseIdle closes every unwatched session not used for longer than the idle
// timeout and returns their IDs.
func (r *Registry) CloseIdle() []string {
	if r.limits.IdleTimeout <= 0 {
		return nil
	}
	now := r.clock.Now()

	var idle []*Session
	r.mu.Lock()
	for id, e := range r.sessions {
		if e.watchers == 0 && now.Sub(e.lastSeen) > r.limits.IdleTimeout {
			idle = append(idle, e.session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, s := range idle {
		s.Close()
		ids = append(ids, s.ID())
	}
	sort.Strings(ids)
	return ids
}

// RunIdleReaper calls CloseIdle every interval until ctx is done. onClosed,
// if set, receives the IDs closed by each pass that closed any.
func (r *Registry) RunIdleReaper(ctx context.Context, interval time.Duration, log logging.Logger, onClosed func([]string)) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			ids := r.CloseIdle()
			if len(ids) == 0 {
				continue
			}
			log.Info(ctx, "idle sessions closed", logging.Int("count", len(ids)))
			if onClosed != nil {
				onClosed(ids)
			}
		}
	}
}

// Len returns the number of open sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the open session IDs in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
