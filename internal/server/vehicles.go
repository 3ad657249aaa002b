package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mini-rodalies-3d/bustracker/internal/db"
	"github.com/mini-rodalies-3d/bustracker/internal/metrics"
)

// HistoryResponse is the JSON response for GET /api/vehicles/{vehicleID}/history
type HistoryResponse struct {
	VehicleID string              `json:"vehicle_id"`
	Positions []db.PositionRecord `json:"positions"`
	Count     int                 `json:"count"`
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status    string                  `json:"status"`
	Database  string                  `json:"database"`
	Sessions  int                     `json:"sessions"`
	Latency   *metrics.LatencySummary `json:"fetch_latency,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Error     string                  `json:"error,omitempty"`
}

// GetLatestPosition handles GET /api/vehicles/{vehicleID}/latest
func (s *Server) GetLatestPosition(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Position store disabled", nil)
		return
	}
	vehicleID := chi.URLParam(r, "vehicleID")

	rec, err := s.store.LatestPosition(r.Context(), vehicleID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Vehicle not found", map[string]interface{}{
			"vehicleId": vehicleID,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve position", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=2")
	writeJSON(w, http.StatusOK, rec)
}

// GetHistory handles GET /api/vehicles/{vehicleID}/history
// Returns stored positions newest first; ?limit= caps the count
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Position store disabled", nil)
		return
	}
	vehicleID := chi.URLParam(r, "vehicleID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", map[string]interface{}{
				"limit": raw,
			})
			return
		}
		limit = n
	}

	positions, err := s.store.History(r.Context(), vehicleID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve history", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}
	if positions == nil {
		positions = []db.PositionRecord{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		VehicleID: vehicleID,
		Positions: positions,
		Count:     len(positions),
	})
}

// Health handles GET /health with a store connectivity check
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Database:  "disabled",
		Sessions:  s.sessions.Len(),
		Timestamp: time.Now().UTC(),
	}
	if s.metrics != nil {
		summary := s.metrics.Latency()
		resp.Latency = &summary
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			resp.Status = "error"
			resp.Database = "disconnected"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "connected"
	}

	writeJSON(w, http.StatusOK, resp)
}
