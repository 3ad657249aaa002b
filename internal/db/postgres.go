package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mini-rodalies-3d/bustracker/internal/logging"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PGStore is a Store backed by a PostgreSQL connection pool
type PGStore struct {
	pool *pgxpool.Pool
	log  logging.Logger
	now  func() time.Time
}

// ConnectPostgres opens a pool against databaseURL
func ConnectPostgres(ctx context.Context, databaseURL string, opts ...Option) (*PGStore, error) {
	o := applyOptions(opts)

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	o.log.Info(ctx, "connected to PostgreSQL database")
	return &PGStore{pool: pool, log: o.log, now: o.now}, nil
}

// Close closes the pool
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the pool
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates tables if they don't exist
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.log.Info(ctx, "database schema ensured")
	return nil
}

// RecordPositions upserts the current row and appends history for each
// position, all under one snapshot.
func (s *PGStore) RecordPositions(ctx context.Context, polledAt time.Time, positions []PositionRecord) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	snapshotID := uuid.New().String()
	polledAt = polledAt.UTC()
	if _, err := tx.Exec(ctx,
		"INSERT INTO rt_snapshots (snapshot_id, polled_at_utc) VALUES ($1, $2)",
		snapshotID, polledAt,
	); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range positions {
		args := []any{
			p.VehicleID, snapshotID, nullable(p.RouteID), nullable(p.Label), p.Latitude, p.Longitude,
			p.Capacity, p.PassengerCount, p.ObservedAt.UTC(), polledAt,
		}
		batch.Queue(`
			INSERT INTO rt_vehicle_current (
				vehicle_id, snapshot_id, route_id, label, latitude, longitude,
				capacity, passenger_count, observed_at_utc, polled_at_utc, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			ON CONFLICT (vehicle_id) DO UPDATE SET
				snapshot_id = EXCLUDED.snapshot_id,
				route_id = EXCLUDED.route_id,
				label = EXCLUDED.label,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				capacity = EXCLUDED.capacity,
				passenger_count = EXCLUDED.passenger_count,
				observed_at_utc = EXCLUDED.observed_at_utc,
				polled_at_utc = EXCLUDED.polled_at_utc,
				updated_at = NOW()
			WHERE EXCLUDED.observed_at_utc >= rt_vehicle_current.observed_at_utc`, args...)
		batch.Queue(`
			INSERT INTO rt_vehicle_history (
				vehicle_id, snapshot_id, route_id, label, latitude, longitude,
				capacity, passenger_count, observed_at_utc, polled_at_utc
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (vehicle_id, observed_at_utc) DO NOTHING`, args...)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write positions: %w", err)
	}
	return tx.Commit(ctx)
}

func scanPGRecord(row pgx.Row) (PositionRecord, error) {
	var (
		rec            PositionRecord
		routeID, label *string
	)
	err := row.Scan(
		&rec.VehicleID, &rec.SnapshotID, &routeID, &label, &rec.Latitude, &rec.Longitude,
		&rec.Capacity, &rec.PassengerCount, &rec.ObservedAt, &rec.PolledAt,
	)
	if err != nil {
		return PositionRecord{}, err
	}
	if routeID != nil {
		rec.RouteID = *routeID
	}
	if label != nil {
		rec.Label = *label
	}
	rec.ObservedAt = rec.ObservedAt.UTC()
	rec.PolledAt = rec.PolledAt.UTC()
	return rec, nil
}

// LatestPosition returns the current row for vehicleID
func (s *PGStore) LatestPosition(ctx context.Context, vehicleID string) (PositionRecord, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+positionColumns+" FROM rt_vehicle_current WHERE vehicle_id = $1", vehicleID)
	rec, err := scanPGRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PositionRecord{}, ErrNotFound
	}
	if err != nil {
		return PositionRecord{}, fmt.Errorf("failed to query position: %w", err)
	}
	return rec, nil
}

// History returns stored positions for vehicleID, newest first
func (s *PGStore) History(ctx context.Context, vehicleID string, limit int) ([]PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+positionColumns+" FROM rt_vehicle_history WHERE vehicle_id = $1 ORDER BY observed_at_utc DESC LIMIT $2",
		vehicleID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []PositionRecord{}
	for rows.Next() {
		rec, err := scanPGRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Cleanup deletes history and snapshots older than retention (at least one hour)
func (s *PGStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := retentionCutoff(s.now(), retention)

	queries := []struct {
		name  string
		query string
	}{
		{name: "vehicle_history", query: "DELETE FROM rt_vehicle_history WHERE polled_at_utc < $1"},
		{name: "snapshots", query: "DELETE FROM rt_snapshots WHERE polled_at_utc < $1 AND snapshot_id NOT IN (SELECT snapshot_id FROM rt_vehicle_current)"},
	}

	totalDeleted := 0
	for _, q := range queries {
		tag, err := s.pool.Exec(ctx, q.query, cutoff)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		totalDeleted += int(tag.RowsAffected())
	}

	if totalDeleted > 0 {
		s.log.Info(ctx, "cleanup deleted old records",
			logging.Int("deleted", totalDeleted), logging.Any("cutoff", cutoff))
	}
	return totalDeleted, nil
}
