package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/jackc/pgx/v5"
)

const recordColumns = `user_id, exercise_name, weight, reps, achieved_at, workout_log_id`

// GetPersonalRecord returns the current record for an exercise, or nil.
func (db *DB) GetPersonalRecord(ctx context.Context, userID, exercise string) (*models.PersonalRecord, error) {
	r, err := scanRecord(db.Pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM personal_records WHERE user_id = $1 AND exercise_name = $2`,
		userID, exercise))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying personal record: %w", err)
	}
	return r, nil
}

// ListPersonalRecords returns every current record of a user.
func (db *DB) ListPersonalRecords(ctx context.Context, userID string) ([]models.PersonalRecord, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+recordColumns+` FROM personal_records WHERE user_id = $1 ORDER BY exercise_name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("querying personal records: %w", err)
	}
	defer rows.Close()

	var result []models.PersonalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning personal record: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// PutPersonalRecord overwrites the current record for the exercise.
func (db *DB) PutPersonalRecord(ctx context.Context, rec models.PersonalRecord) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO personal_records (`+recordColumns+`, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (user_id, exercise_name) DO UPDATE SET
			weight = EXCLUDED.weight,
			reps = EXCLUDED.reps,
			achieved_at = EXCLUDED.achieved_at,
			workout_log_id = EXCLUDED.workout_log_id,
			updated_at = NOW()`,
		rec.UserID, rec.ExerciseName, rec.Weight, rec.Reps, rec.AchievedAt, rec.WorkoutLogID)
	if err != nil {
		return fmt.Errorf("writing personal record %q: %w", rec.ExerciseName, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*models.PersonalRecord, error) {
	var r models.PersonalRecord
	if err := row.Scan(&r.UserID, &r.ExerciseName, &r.Weight, &r.Reps, &r.AchievedAt, &r.WorkoutLogID); err != nil {
		return nil, err
	}
	return &r, nil
}
