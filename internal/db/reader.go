package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const positionColumns = `
	vehicle_id, snapshot_id, route_id, label, latitude, longitude,
	capacity, passenger_count, observed_at_utc, polled_at_utc`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (PositionRecord, error) {
	var (
		rec                  PositionRecord
		routeID, label       sql.NullString
		observedAt, polledAt string
	)
	err := row.Scan(
		&rec.VehicleID, &rec.SnapshotID, &routeID, &label, &rec.Latitude, &rec.Longitude,
		&rec.Capacity, &rec.PassengerCount, &observedAt, &polledAt,
	)
	if err != nil {
		return PositionRecord{}, err
	}
	rec.RouteID = routeID.String
	rec.Label = label.String
	if rec.ObservedAt, err = time.Parse(timeLayout, observedAt); err != nil {
		return PositionRecord{}, fmt.Errorf("bad observed_at %q: %w", observedAt, err)
	}
	if rec.PolledAt, err = time.Parse(timeLayout, polledAt); err != nil {
		return PositionRecord{}, fmt.Errorf("bad polled_at %q: %w", polledAt, err)
	}
	return rec, nil
}

// LatestPosition returns the current row for vehicleID
func (db *DB) LatestPosition(ctx context.Context, vehicleID string) (PositionRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+positionColumns+" FROM rt_vehicle_current WHERE vehicle_id = ?", vehicleID)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PositionRecord{}, ErrNotFound
	}
	if err != nil {
		return PositionRecord{}, fmt.Errorf("failed to query position: %w", err)
	}
	return rec, nil
}

// History returns stored positions for vehicleID, newest first
func (db *DB) History(ctx context.Context, vehicleID string, limit int) ([]PositionRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+positionColumns+" FROM rt_vehicle_history WHERE vehicle_id = ? ORDER BY observed_at_utc DESC LIMIT ?",
		vehicleID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []PositionRecord{}
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
