package storage

import (
	"context"
	"fmt"

	"github.com/Nickostick/project-lift-off/internal/models"
)

// InsertImportLog creates a new import log entry and returns its ID.
func (db *DB) InsertImportLog(ctx context.Context, l models.ImportLog) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO import_logs (user_id, source, status, sessions, logs_written,
		 sets_written, records_updated, duration_ms, error_message)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING id`,
		l.UserID, l.Source, l.Status, l.Sessions, l.LogsWritten,
		l.SetsWritten, l.RecordsUpdated, l.DurationMs, l.ErrorMessage,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting import log: %w", err)
	}
	return id, nil
}

// UpdateImportLog updates an existing import log entry (typically from
// "running" to "success" or "error").
func (db *DB) UpdateImportLog(ctx context.Context, id int64, l models.ImportLog) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE import_logs SET
		 status = $2, sessions = $3, logs_written = $4, sets_written = $5,
		 records_updated = $6, duration_ms = $7, error_message = $8
		 WHERE id = $1`,
		id, l.Status, l.Sessions, l.LogsWritten, l.SetsWritten,
		l.RecordsUpdated, l.DurationMs, l.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("updating import log %d: %w", id, err)
	}
	return nil
}

// QueryImportLogs returns the most recent import logs for a user.
func (db *DB) QueryImportLogs(ctx context.Context, userID string, limit int) ([]models.ImportLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, created_at, source, status, sessions, logs_written,
		 sets_written, records_updated, duration_ms, error_message
		 FROM import_logs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying import logs: %w", err)
	}
	defer rows.Close()

	var result []models.ImportLog
	for rows.Next() {
		var l models.ImportLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.CreatedAt, &l.Source, &l.Status,
			&l.Sessions, &l.LogsWritten, &l.SetsWritten, &l.RecordsUpdated,
			&l.DurationMs, &l.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning import log: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}
