package leveling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nickostick/project-lift-off/internal/memstore"
	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/progression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*memstore.Store
	reads, writes atomic.Int32
	fail          error
}

func (c *countingStore) GetUserLevel(ctx context.Context, userID string) (*models.UserLevel, error) {
	c.reads.Add(1)
	return c.Store.GetUserLevel(ctx, userID)
}

func (c *countingStore) RunAtomic(ctx context.Context, userID string, fn func(*models.UserLevel) (*models.UserLevel, error)) (*models.UserLevel, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	c.writes.Add(1)
	return c.Store.RunAtomic(ctx, userID, fn)
}

func newGateway(t *testing.T) (*Gateway, *countingStore) {
	t.Helper()
	st := &countingStore{Store: memstore.New()}
	g := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return g, st
}

func TestAwardXPInitializesAbsentLevel(t *testing.T) {
	g, _ := newGateway(t)

	a, err := g.AwardXP(context.Background(), "alice", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Level.CurrentLevel)
	assert.Equal(t, 100, a.Level.CurrentXP)
	assert.Equal(t, 100, a.Level.TotalXP)
	assert.False(t, a.LeveledUp)
	assert.Zero(t, a.PreviousLevel)
	assert.Nil(t, a.Level.LastLevelUpDate)
}

func TestAwardXPMultiLevelReportsLevelBeforeAward(t *testing.T) {
	g, st := newGateway(t)
	ctx := context.Background()

	_, err := st.Store.RunAtomic(ctx, "alice", func(*models.UserLevel) (*models.UserLevel, error) {
		return &models.UserLevel{CurrentLevel: 1, CurrentXP: 0, TotalXP: 0}, nil
	})
	require.NoError(t, err)

	a, err := g.AwardXP(ctx, "alice", 500, nil)
	require.NoError(t, err)
	assert.True(t, a.LeveledUp)
	assert.Equal(t, 1, a.PreviousLevel)
	assert.Equal(t, 3, a.Level.CurrentLevel)
	assert.Equal(t, 125, a.Level.CurrentXP)
	require.NotNil(t, a.Level.LastLevelUpDate)
	assert.Equal(t, g.now(), *a.Level.LastLevelUpDate)

	stored, err := st.Store.GetUserLevel(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a.Level.CurrentLevel, stored.CurrentLevel)
	assert.Equal(t, a.Level.TotalXP, stored.TotalXP)
}

func TestAwardXPNonPositiveWritesNothing(t *testing.T) {
	g, st := newGateway(t)
	ctx := context.Background()

	hint := &models.UserLevel{UserID: "alice", CurrentLevel: 4, CurrentXP: 10, TotalXP: 999}
	a, err := g.AwardXP(ctx, "alice", 0, hint)
	require.NoError(t, err)
	assert.Equal(t, *hint, a.Level)
	assert.False(t, a.LeveledUp)
	assert.Zero(t, st.reads.Load(), "hint should avoid a read")

	a, err = g.AwardXP(ctx, "alice", -5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Level.CurrentLevel)
	assert.EqualValues(t, 1, st.reads.Load())
	assert.Zero(t, st.writes.Load())

	lvl, err := st.Store.GetUserLevel(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, lvl, "no-op award must not create a level")
}

func TestAwardXPIgnoresStaleHint(t *testing.T) {
	g, _ := newGateway(t)
	ctx := context.Background()

	_, err := g.AwardXP(ctx, "alice", 100, nil)
	require.NoError(t, err)

	stale := &models.UserLevel{UserID: "alice", CurrentLevel: 1}
	a, err := g.AwardXP(ctx, "alice", 100, stale)
	require.NoError(t, err)
	assert.Equal(t, 200, a.Level.TotalXP)
	assert.Equal(t, 2, a.Level.CurrentLevel)
}

func TestAwardXPConcurrentAwardsAreNotLost(t *testing.T) {
	g, _ := newGateway(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.AwardXP(ctx, "alice", progression.WorkoutXP(false), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lvl, err := g.Current(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, n*progression.WorkoutXP(false), lvl.TotalXP)

	wantLevel, wantXP, _, _ := progression.AddXP(1, 0, 0, n*progression.WorkoutXP(false))
	assert.Equal(t, wantLevel, lvl.CurrentLevel)
	assert.Equal(t, wantXP, lvl.CurrentXP)
}

func TestAwardXPPropagatesStoreError(t *testing.T) {
	g, st := newGateway(t)
	st.fail = errors.New("network down")

	_, err := g.AwardXP(context.Background(), "alice", 100, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, st.fail)
}
