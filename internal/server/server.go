// Package server exposes tracking sessions, route details and stored
// vehicle history over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mini-rodalies-3d/bustracker/internal/backend"
	"github.com/mini-rodalies-3d/bustracker/internal/db"
	"github.com/mini-rodalies-3d/bustracker/internal/logging"
	"github.com/mini-rodalies-3d/bustracker/internal/metrics"
	"github.com/mini-rodalies-3d/bustracker/internal/tracking"
)

// RouteSource returns route details by ID
type RouteSource interface {
	GetRoute(ctx context.Context, routeID string) (*backend.RouteDetails, error)
}

// PositionStore reads stored vehicle positions
type PositionStore interface {
	LatestPosition(ctx context.Context, vehicleID string) (db.PositionRecord, error)
	History(ctx context.Context, vehicleID string, limit int) ([]db.PositionRecord, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the handlers. Store and Metrics are optional.
type Deps struct {
	Routes   RouteSource
	Sessions *tracking.Registry
	Store    PositionStore
	Metrics  *metrics.Collector
	Logger   logging.Logger
}

// Config holds HTTP-level settings
type Config struct {
	AllowedOrigins []string
	// KeepAlive is the idle period between comments on event streams
	KeepAlive time.Duration
}

// Server routes HTTP requests to the tracking core
type Server struct {
	routes    RouteSource
	sessions  *tracking.Registry
	store     PositionStore
	metrics   *metrics.Collector
	log       logging.Logger
	keepAlive time.Duration
	router    chi.Router
}

// New builds the server and its router
func New(deps Deps, cfg Config) *Server {
	s := &Server{
		routes:    deps.Routes,
		sessions:  deps.Sessions,
		store:     deps.Store,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		keepAlive: cfg.KeepAlive,
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:5173"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", s.Health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/routes/{routeID}", s.GetRoute)

		r.Get("/sessions", s.ListSessions)
		r.Post("/sessions", s.OpenSession)
		r.Get("/sessions/{sessionID}", s.GetSession)
		r.Delete("/sessions/{sessionID}", s.CloseSession)
		r.Get("/sessions/{sessionID}/overlay", s.GetOverlay)
		r.Get("/sessions/{sessionID}/events", s.StreamEvents)
		r.Post("/sessions/{sessionID}/user-location", s.PostUserLocation)

		r.Get("/vehicles/{vehicleID}/latest", s.GetLatestPosition)
		r.Get("/vehicles/{vehicleID}/history", s.GetHistory)
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug(r.Context(), "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) updateSessionGauge() {
	if s.metrics != nil {
		s.metrics.SetOpenSessions(s.sessions.Len())
	}
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]interface{}) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}
