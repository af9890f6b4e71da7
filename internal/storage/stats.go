package storage

import (
	"context"
	"fmt"

	"github.com/Nickostick/project-lift-off/internal/models"
)

// GetDataStats returns totals about a user's stored training data.
func (db *DB) GetDataStats(ctx context.Context, userID string) (*models.DataStats, error) {
	stats := &models.DataStats{}

	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(started_at), MAX(started_at) FROM workout_logs WHERE user_id = $1`, userID,
	).Scan(&stats.TotalWorkouts, &stats.EarliestData, &stats.LatestData)
	if err != nil {
		return nil, fmt.Errorf("counting workouts: %w", err)
	}

	err = db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM workout_log_sets WHERE user_id = $1`, userID,
	).Scan(&stats.TotalSets)
	if err != nil {
		return nil, fmt.Errorf("counting sets: %w", err)
	}

	err = db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM personal_records WHERE user_id = $1`, userID,
	).Scan(&stats.TotalRecords)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	return stats, nil
}
