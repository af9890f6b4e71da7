package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
)

// GetTrainingSummary returns strength volume per week or month, newest first.
func (db *DB) GetTrainingSummary(ctx context.Context, userID string, start, end time.Time, bucket string) ([]models.StrengthVolumeSummary, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT date_trunc($1, completed_at AT TIME ZONE 'UTC')::date AS period,
		        COUNT(DISTINCT log_id)::int AS sessions,
		        COUNT(*) FILTER (WHERE is_completed)::int AS working_sets,
		        COALESCE(SUM(actual_reps) FILTER (WHERE is_completed), 0)::int AS total_reps,
		        COALESCE(SUM(weight * actual_reps) FILTER (WHERE is_completed), 0) AS tonnage,
		        COUNT(*) FILTER (WHERE is_completed AND is_pr)::int AS pr_sets
		 FROM workout_log_sets
		 WHERE completed_at >= $2 AND completed_at < $3 AND user_id = $4
		 GROUP BY period
		 ORDER BY period DESC`,
		truncInterval(bucket), start, end, userID)
	if err != nil {
		return nil, fmt.Errorf("querying strength summary: %w", err)
	}
	defer rows.Close()

	var result []models.StrengthVolumeSummary
	for rows.Next() {
		var (
			period time.Time
			sv     models.StrengthVolumeSummary
		)
		if err := rows.Scan(&period, &sv.Sessions, &sv.WorkingSets, &sv.TotalReps, &sv.Tonnage, &sv.PRSets); err != nil {
			return nil, fmt.Errorf("scanning strength summary: %w", err)
		}
		sv.Period = period.Format("2006-01-02")
		if sv.Sessions > 0 {
			sv.AvgSetsPerSession = float64(sv.WorkingSets) / float64(sv.Sessions)
		}
		result = append(result, sv)
	}
	return result, rows.Err()
}

// GetExerciseProgression returns per-session best weight and tonnage for
// one exercise, oldest first.
func (db *DB) GetExerciseProgression(ctx context.Context, userID, exercise string, start, end time.Time) ([]models.ExerciseProgression, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT (completed_at AT TIME ZONE 'UTC')::date,
		        MAX(weight),
		        COALESCE(SUM(weight * actual_reps), 0),
		        COUNT(*)::int
		 FROM workout_log_sets
		 WHERE user_id = $1 AND exercise_name = $2 AND is_completed
		   AND completed_at >= $3 AND completed_at < $4
		 GROUP BY log_id, completed_at
		 ORDER BY completed_at ASC`,
		userID, exercise, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying exercise progression: %w", err)
	}
	defer rows.Close()

	var result []models.ExerciseProgression
	for rows.Next() {
		var (
			date time.Time
			p    models.ExerciseProgression
		)
		if err := rows.Scan(&date, &p.MaxWeight, &p.SessionTonnage, &p.Sets); err != nil {
			return nil, fmt.Errorf("scanning exercise progression: %w", err)
		}
		p.Date = date.Format("2006-01-02")
		result = append(result, p)
	}
	return result, rows.Err()
}

// truncInterval converts bucket strings like "1 month" to the interval name
// that date_trunc expects.
func truncInterval(bucket string) string {
	switch bucket {
	case "1 week":
		return "week"
	default:
		return "month"
	}
}
