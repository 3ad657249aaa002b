package db

import (
	"context"
	"errors"
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/logging"
	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
)

// ErrNotFound is returned when a vehicle has no stored position
var ErrNotFound = errors.New("not found")

// timeLayout keeps stored timestamps fixed-width so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// PositionRecord is one accepted vehicle position as persisted
type PositionRecord struct {
	VehicleID      string    `json:"vehicle_id"`
	RouteID        string    `json:"route_id,omitempty"`
	Label          string    `json:"label,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Capacity       *int      `json:"capacity,omitempty"`
	PassengerCount *int      `json:"passenger_count,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
	PolledAt       time.Time `json:"polled_at"`
	SnapshotID     string    `json:"snapshot_id,omitempty"`
}

// RecordFromPosition converts an accepted vehicle position for storage
func RecordFromPosition(routeID string, pos vehicle.Position) PositionRecord {
	return PositionRecord{
		VehicleID:      pos.VehicleID,
		RouteID:        routeID,
		Label:          pos.Label,
		Latitude:       pos.Coordinate.Latitude,
		Longitude:      pos.Coordinate.Longitude,
		Capacity:       pos.Capacity,
		PassengerCount: pos.PassengerCount,
		ObservedAt:     pos.ObservedAt,
	}
}

// Store persists vehicle positions: the latest per vehicle plus a history
type Store interface {
	// RecordPositions writes one batch under a new snapshot
	RecordPositions(ctx context.Context, polledAt time.Time, positions []PositionRecord) error
	LatestPosition(ctx context.Context, vehicleID string) (PositionRecord, error)
	// History returns up to limit records, newest first
	History(ctx context.Context, vehicleID string, limit int) ([]PositionRecord, error)
	// Cleanup deletes history older than retention and reports how many rows went
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

type storeOptions struct {
	log logging.Logger
	now func() time.Time
}

// Option configures a store
type Option func(*storeOptions)

// WithLogger sets the store logger
func WithLogger(l logging.Logger) Option {
	return func(o *storeOptions) { o.log = l }
}

func withNow(now func() time.Time) Option {
	return func(o *storeOptions) { o.now = now }
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{log: logging.Noop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open connects to the configured driver and ensures its schema
func Open(ctx context.Context, driver, sqlitePath, databaseURL string, opts ...Option) (Store, error) {
	switch driver {
	case "postgres":
		store, err := ConnectPostgres(ctx, databaseURL, opts...)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		store, err := Connect(sqlitePath, opts...)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
}

func retentionCutoff(now time.Time, retention time.Duration) time.Time {
	if retention < time.Hour {
		retention = time.Hour
	}
	return now.UTC().Add(-retention)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	}
	return limit
}
