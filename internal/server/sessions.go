package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mini-rodalies-3d/bustracker/internal/backend"
	"github.com/mini-rodalies-3d/bustracker/internal/geo"
	"github.com/mini-rodalies-3d/bustracker/internal/logging"
	"github.com/mini-rodalies-3d/bustracker/internal/mapview"
	"github.com/mini-rodalies-3d/bustracker/internal/polyline"
	"github.com/mini-rodalies-3d/bustracker/internal/tracking"
)

// OpenSessionRequest is the JSON body for POST /api/sessions
type OpenSessionRequest struct {
	RouteID string `json:"route_id"`
}

// SessionResponse is the JSON response for a single session
type SessionResponse struct {
	Snapshot tracking.Snapshot `json:"snapshot"`
	Viewport *mapview.Viewport `json:"viewport,omitempty"`
}

// ListSessionsResponse is the JSON response for GET /api/sessions
type ListSessionsResponse struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

// UserLocationRequest is the JSON body for POST /api/sessions/{sessionID}/user-location
type UserLocationRequest struct {
	Status     tracking.LocationStatus `json:"status"`
	Latitude   *float64                `json:"latitude,omitempty"`
	Longitude  *float64                `json:"longitude,omitempty"`
	ObservedAt *time.Time              `json:"observed_at,omitempty"`
}

func sessionResponse(snap tracking.Snapshot) SessionResponse {
	resp := SessionResponse{Snapshot: snap}
	if vp, ok := mapview.ViewportFor(snap); ok {
		resp.Viewport = &vp
	}
	return resp
}

// GetRoute handles GET /api/routes/{routeID}
func (s *Server) GetRoute(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	details, err := s.routes.GetRoute(ctx, routeID)
	if err != nil {
		s.writeRouteError(w, routeID, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) writeRouteError(w http.ResponseWriter, routeID string, err error) {
	if errors.Is(err, backend.ErrRouteNotFound) {
		writeError(w, http.StatusNotFound, "Route not found", map[string]interface{}{
			"routeId": routeID,
		})
		return
	}
	writeError(w, http.StatusBadGateway, "Failed to retrieve route", map[string]interface{}{
		"internal": err.Error(),
	})
}

// ListSessions handles GET /api/sessions
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.IDs()
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: ids, Count: len(ids)})
}

// OpenSession handles POST /api/sessions
// Fetches the route, decodes its path and starts polling its bus
func (s *Server) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}
	if req.RouteID == "" {
		writeError(w, http.StatusBadRequest, "route_id is required", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	details, err := s.routes.GetRoute(ctx, req.RouteID)
	if err != nil {
		s.writeRouteError(w, req.RouteID, err)
		return
	}

	sess, err := s.sessions.Open(details.TrackingRoute())
	if err != nil {
		var decodeErr *polyline.DecodeError
		switch {
		case errors.As(err, &decodeErr):
			writeError(w, http.StatusUnprocessableEntity, "Route path could not be decoded", map[string]interface{}{
				"routeId":  req.RouteID,
				"internal": decodeErr.Error(),
			})
		case errors.Is(err, tracking.ErrTooManySessions):
			w.Header().Set("Retry-After", "30")
			writeError(w, http.StatusServiceUnavailable, "Too many open sessions", nil)
		case errors.Is(err, tracking.ErrDuplicateStop):
			writeError(w, http.StatusUnprocessableEntity, "Route has duplicate stop names", map[string]interface{}{
				"routeId":  req.RouteID,
				"internal": err.Error(),
			})
		default:
			writeError(w, http.StatusInternalServerError, "Failed to open session", map[string]interface{}{
				"internal": err.Error(),
			})
		}
		return
	}
	s.updateSessionGauge()

	s.log.Info(r.Context(), "session opened via api",
		logging.String("session_id", sess.ID()),
		logging.String("route_id", req.RouteID))

	w.Header().Set("Location", "/api/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, sessionResponse(sess.Snapshot()))
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*tracking.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", map[string]interface{}{
			"sessionId": id,
		})
		return nil, false
	}
	return sess, true
}

// GetSession handles GET /api/sessions/{sessionID}
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, sessionResponse(sess.Snapshot()))
}

// CloseSession handles DELETE /api/sessions/{sessionID}
func (s *Server) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.sessions.Close(id) {
		writeError(w, http.StatusNotFound, "Session not found", map[string]interface{}{
			"sessionId": id,
		})
		return
	}
	s.updateSessionGauge()
	w.WriteHeader(http.StatusNoContent)
}

// GetOverlay handles GET /api/sessions/{sessionID}/overlay
func (s *Server) GetOverlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapview.Overlay(sess.Snapshot()))
}

// PostUserLocation handles POST /api/sessions/{sessionID}/user-location
// The body carries the device's answer to a one-shot location request
func (s *Server) PostUserLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req UserLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}

	resp := tracking.LocationResponse{Status: req.Status}
	if req.Latitude != nil && req.Longitude != nil {
		resp.Coordinate = &geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}
	if req.ObservedAt != nil {
		resp.ObservedAt = *req.ObservedAt
	}

	user, err := sess.RequestUserLocationFrom(r.Context(), tracking.Fixed(resp))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, user)
	case errors.Is(err, tracking.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "Location permission denied", nil)
	case errors.Is(err, tracking.ErrLocationUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "Location unavailable", map[string]interface{}{
			"internal": err.Error(),
		})
	case errors.Is(err, tracking.ErrSessionClosed):
		writeError(w, http.StatusGone, "Session closed", nil)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to update user location", map[string]interface{}{
			"internal": err.Error(),
		})
	}
}
