// Package leveling awards workout XP against the durable store under an
// atomic read-modify-write.
package leveling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/progression"
)

// Store is the slice of the durable store the gateway needs. RunAtomic must
// serialize concurrent calls for the same user; fn receives nil when the
// user has no level yet.
type Store interface {
	GetUserLevel(ctx context.Context, userID string) (*models.UserLevel, error)
	RunAtomic(ctx context.Context, userID string, fn func(cur *models.UserLevel) (*models.UserLevel, error)) (*models.UserLevel, error)
}

// Award is the outcome of AwardXP.
type Award struct {
	Level     models.UserLevel `json:"level"`
	XP        int              `json:"xp"`
	LeveledUp bool             `json:"leveled_up"`
	// PreviousLevel is the level before this award; zero unless LeveledUp.
	PreviousLevel int `json:"previous_level,omitempty"`
}

// Gateway executes XP awards.
type Gateway struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Gateway.
func New(store Store, log *slog.Logger) *Gateway {
	return &Gateway{store: store, log: log, now: time.Now}
}

// Current returns the stored level, or a fresh level 1 when none exists.
// Nothing is written.
func (g *Gateway) Current(ctx context.Context, userID string) (*models.UserLevel, error) {
	lvl, err := g.store.GetUserLevel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading level: %w", err)
	}
	if lvl == nil {
		return models.NewUserLevel(userID), nil
	}
	return lvl, nil
}

// AwardXP adds xp to the user's level in one atomic unit. hint is only used
// to answer a non-positive award without reading the store.
func (g *Gateway) AwardXP(ctx context.Context, userID string, xp int, hint *models.UserLevel) (*Award, error) {
	if xp <= 0 {
		if hint != nil {
			return &Award{Level: *hint}, nil
		}
		cur, err := g.Current(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &Award{Level: *cur}, nil
	}

	var (
		prev int
		up   bool
	)
	lvl, err := g.store.RunAtomic(ctx, userID, func(cur *models.UserLevel) (*models.UserLevel, error) {
		if cur == nil {
			cur = models.NewUserLevel(userID)
		}
		next := *cur
		prev = cur.CurrentLevel
		next.CurrentLevel, next.CurrentXP, next.TotalXP, up = progression.AddXP(
			cur.CurrentLevel, cur.CurrentXP, cur.TotalXP, xp)
		if up {
			t := g.now().UTC()
			next.LastLevelUpDate = &t
		}
		return &next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("awarding %d xp: %w", xp, err)
	}

	a := &Award{Level: *lvl, XP: xp, LeveledUp: up}
	if up {
		a.PreviousLevel = prev
		g.log.Info("level up", "user", userID, "from", prev, "to", lvl.CurrentLevel)
	}
	return a, nil
}
