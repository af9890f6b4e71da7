package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/jackc/pgx/v5"
)

const levelColumns = `user_id, current_level, current_xp, total_xp, last_level_up_at`

// GetUserLevel returns the user's level, or nil if the user has none.
func (db *DB) GetUserLevel(ctx context.Context, userID string) (*models.UserLevel, error) {
	l, err := scanLevel(db.Pool.QueryRow(ctx,
		`SELECT `+levelColumns+` FROM user_levels WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user level: %w", err)
	}
	return l, nil
}

// RunAtomic reads the user's level, hands it to fn (nil if absent) and
// writes fn's result, all in one transaction. A transaction-scoped advisory
// lock on the user serializes concurrent calls even before the row exists.
func (db *DB) RunAtomic(ctx context.Context, userID string, fn func(cur *models.UserLevel) (*models.UserLevel, error)) (*models.UserLevel, error) {
	var out *models.UserLevel
	err := pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
			return fmt.Errorf("locking user level: %w", err)
		}

		cur, err := scanLevel(tx.QueryRow(ctx,
			`SELECT `+levelColumns+` FROM user_levels WHERE user_id = $1 FOR UPDATE`, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			cur = nil
		} else if err != nil {
			return fmt.Errorf("reading user level: %w", err)
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			return errors.New("atomic update returned no level")
		}
		next.UserID = userID

		_, err = tx.Exec(ctx,
			`INSERT INTO user_levels (`+levelColumns+`, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 ON CONFLICT (user_id) DO UPDATE SET
				current_level = EXCLUDED.current_level,
				current_xp = EXCLUDED.current_xp,
				total_xp = EXCLUDED.total_xp,
				last_level_up_at = EXCLUDED.last_level_up_at,
				updated_at = NOW()`,
			next.UserID, next.CurrentLevel, next.CurrentXP, next.TotalXP, next.LastLevelUpDate)
		if err != nil {
			return fmt.Errorf("writing user level: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanLevel(row pgx.Row) (*models.UserLevel, error) {
	var l models.UserLevel
	if err := row.Scan(&l.UserID, &l.CurrentLevel, &l.CurrentXP, &l.TotalXP, &l.LastLevelUpDate); err != nil {
		return nil, err
	}
	return &l, nil
}
