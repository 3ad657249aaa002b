package db

import (
	"context"
	"fmt"
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/logging"
)

// Cleanup deletes history and snapshots older than retention (at least one hour)
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	cutoff := retentionCutoff(db.now(), retention).Format(timeLayout)

	queries := []struct {
		name  string
		query string
	}{
		{name: "vehicle_history", query: "DELETE FROM rt_vehicle_history WHERE polled_at_utc < ?"},
		{name: "snapshots", query: "DELETE FROM rt_snapshots WHERE polled_at_utc < ? AND snapshot_id NOT IN (SELECT snapshot_id FROM rt_vehicle_current)"},
	}

	totalDeleted := 0
	for _, q := range queries {
		result, err := db.conn.ExecContext(ctx, q.query, cutoff)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		totalDeleted += int(rows)
	}

	if totalDeleted > 0 {
		db.log.Info(ctx, "cleanup deleted old records",
			logging.Int("deleted", totalDeleted), logging.String("cutoff", cutoff))
	}
	return totalDeleted, nil
}
