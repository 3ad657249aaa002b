package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordPositions upserts the current row and appends history for each
// position, all under one snapshot.
func (db *DB) RecordPositions(ctx context.Context, polledAt time.Time, positions []PositionRecord) error {
	if len(positions) == 0 {
		return nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	polledAtStr := polledAt.UTC().Format(timeLayout)
	snapshotID := uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO rt_snapshots (snapshot_id, polled_at_utc) VALUES (?, ?)",
		snapshotID, polledAtStr,
	); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	currentStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rt_vehicle_current (
			vehicle_id, snapshot_id, route_id, label, latitude, longitude,
			capacity, passenger_count, observed_at_utc, polled_at_utc, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (vehicle_id) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			route_id = excluded.route_id,
			label = excluded.label,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			capacity = excluded.capacity,
			passenger_count = excluded.passenger_count,
			observed_at_utc = excluded.observed_at_utc,
			polled_at_utc = excluded.polled_at_utc,
			updated_at = datetime('now')
		WHERE excluded.observed_at_utc >= rt_vehicle_current.observed_at_utc
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare current statement: %w", err)
	}
	defer currentStmt.Close()

	historyStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO rt_vehicle_history (
			vehicle_id, snapshot_id, route_id, label, latitude, longitude,
			capacity, passenger_count, observed_at_utc, polled_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history statement: %w", err)
	}
	defer historyStmt.Close()

	for _, p := range positions {
		args := []any{
			p.VehicleID, snapshotID, nullable(p.RouteID), nullable(p.Label), p.Latitude, p.Longitude,
			p.Capacity, p.PassengerCount, p.ObservedAt.UTC().Format(timeLayout), polledAtStr,
		}

		if _, err := currentStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert position %s: %w", p.VehicleID, err)
		}
		if _, err := historyStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert history %s: %w", p.VehicleID, err)
		}
	}

	return tx.Commit()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
