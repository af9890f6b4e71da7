package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/jackc/pgx/v5"
)

const logColumns = `id, user_id, day_name, template_id, source, started_at, completed_at,
	duration_sec, pr_sets, exercises`

// PutWorkoutLog inserts or replaces a workout log and its flattened sets in
// one transaction. Writing the same log twice leaves one copy.
func (db *DB) PutWorkoutLog(ctx context.Context, l *models.WorkoutLog) error {
	exercises, err := json.Marshal(l.Exercises)
	if err != nil {
		return fmt.Errorf("encoding exercises: %w", err)
	}

	return pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO workout_logs (`+logColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			 ON CONFLICT (id) DO UPDATE SET
				day_name = EXCLUDED.day_name,
				template_id = EXCLUDED.template_id,
				source = EXCLUDED.source,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				duration_sec = EXCLUDED.duration_sec,
				pr_sets = EXCLUDED.pr_sets,
				exercises = EXCLUDED.exercises`,
			l.ID, l.UserID, l.DayName, l.TemplateID, l.Source, l.StartedAt, l.CompletedAt,
			l.DurationSec, l.PRSets, exercises)
		if err != nil {
			return fmt.Errorf("upserting workout log: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM workout_log_sets WHERE log_id = $1`, l.ID); err != nil {
			return fmt.Errorf("deleting workout log sets: %w", err)
		}
		return insertLogSets(ctx, tx, l)
	})
}

// insertLogSets batch-inserts the flattened sets used by summary queries.
func insertLogSets(ctx context.Context, tx pgx.Tx, l *models.WorkoutLog) error {
	const cols = 12
	var (
		args         []any
		valueStrings []string
	)
	for _, ex := range l.Exercises {
		for _, s := range ex.CompletedSets {
			base := len(valueStrings) * cols
			ph := make([]string, cols)
			for i := range ph {
				ph[i] = fmt.Sprintf("$%d", base+i+1)
			}
			valueStrings = append(valueStrings, "("+strings.Join(ph, ",")+")")
			args = append(args, l.ID, l.UserID, l.CompletedAt, ex.Order, ex.Name, s.SetNumber,
				s.TargetReps, s.TargetWeight, s.ActualReps, s.Weight, s.IsCompleted, s.IsPR)
		}
	}
	if len(valueStrings) == 0 {
		return nil
	}

	query := `INSERT INTO workout_log_sets (log_id, user_id, completed_at, exercise_order,
		exercise_name, set_number, target_reps, target_weight, actual_reps, weight,
		is_completed, is_pr) VALUES ` + strings.Join(valueStrings, ",") + " ON CONFLICT DO NOTHING"
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting workout log sets: %w", err)
	}
	return nil
}

// GetRecentLogContaining returns the most recent log of the user that
// contains the named exercise, or nil.
func (db *DB) GetRecentLogContaining(ctx context.Context, userID, exercise string) (*models.WorkoutLog, error) {
	probe, err := json.Marshal([]map[string]string{{"name": exercise}})
	if err != nil {
		return nil, fmt.Errorf("encoding exercise probe: %w", err)
	}
	l, err := scanLog(db.Pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM workout_logs
		 WHERE user_id = $1 AND exercises @> $2::jsonb
		 ORDER BY completed_at DESC
		 LIMIT 1`,
		userID, string(probe)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying recent log for %q: %w", exercise, err)
	}
	return l, nil
}

// QueryWorkoutLogs returns logs completed in [start, end), newest first.
func (db *DB) QueryWorkoutLogs(ctx context.Context, userID string, start, end time.Time) ([]models.WorkoutLog, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+logColumns+` FROM workout_logs
		 WHERE user_id = $1 AND completed_at >= $2 AND completed_at < $3
		 ORDER BY completed_at DESC`,
		userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying workout logs: %w", err)
	}
	defer rows.Close()

	var result []models.WorkoutLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workout log: %w", err)
		}
		result = append(result, *l)
	}
	return result, rows.Err()
}

func scanLog(row pgx.Row) (*models.WorkoutLog, error) {
	var (
		l         models.WorkoutLog
		exercises []byte
	)
	if err := row.Scan(&l.ID, &l.UserID, &l.DayName, &l.TemplateID, &l.Source, &l.StartedAt,
		&l.CompletedAt, &l.DurationSec, &l.PRSets, &exercises); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(exercises, &l.Exercises); err != nil {
		return nil, fmt.Errorf("decoding exercises: %w", err)
	}
	return &l, nil
}
