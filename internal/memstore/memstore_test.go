package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logAt(user string, at time.Time, exercises ...models.ExerciseEntry) *models.WorkoutLog {
	return &models.WorkoutLog{
		ID:          uuid.New(),
		UserID:      user,
		DayName:     "Day",
		Source:      models.SourceSession,
		StartedAt:   at.Add(-time.Hour),
		CompletedAt: at,
		DurationSec: 3600,
		Exercises:   exercises,
	}
}

func bench(sets ...models.SetEntry) models.ExerciseEntry {
	return models.ExerciseEntry{Name: "Bench Press", CompletedSets: sets}
}

func TestRunAtomicSerializesUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunAtomic(ctx, "alice", func(cur *models.UserLevel) (*models.UserLevel, error) {
				if cur == nil {
					cur = models.NewUserLevel("alice")
				}
				cur.TotalXP++
				return cur, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lvl, err := s.GetUserLevel(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, lvl)
	assert.Equal(t, n, lvl.TotalXP)
}

func TestRunAtomicSeesAbsentLevel(t *testing.T) {
	s := New()
	var sawNil bool
	_, err := s.RunAtomic(context.Background(), "bob", func(cur *models.UserLevel) (*models.UserLevel, error) {
		sawNil = cur == nil
		return models.NewUserLevel("bob"), nil
	})
	require.NoError(t, err)
	assert.True(t, sawNil)

	_, err = s.RunAtomic(context.Background(), "bob", func(*models.UserLevel) (*models.UserLevel, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestRunAtomicPropagatesReadError(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := s.RunAtomic(ctx, "carol", func(*models.UserLevel) (*models.UserLevel, error) {
		called = true
		return models.NewUserLevel("carol"), nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "reading user level")
	assert.False(t, called)

	lvl, err := s.GetUserLevel(context.Background(), "carol")
	require.NoError(t, err)
	assert.Nil(t, lvl)
}

func TestPersonalRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.PutPersonalRecord(ctx, models.PersonalRecord{
		UserID: "alice", ExerciseName: "Squat", Weight: 100, Reps: 5, WorkoutLogID: &id,
	}))
	require.NoError(t, s.PutPersonalRecord(ctx, models.PersonalRecord{
		UserID: "alice", ExerciseName: "Bench Press", Weight: 80, Reps: 5,
	}))

	r, err := s.GetPersonalRecord(ctx, "alice", "Squat")
	require.NoError(t, err)
	require.NotNil(t, r)
	r.Weight = 1
	*r.WorkoutLogID = uuid.Nil

	again, err := s.GetPersonalRecord(ctx, "alice", "Squat")
	require.NoError(t, err)
	assert.Equal(t, 100.0, again.Weight)
	assert.Equal(t, id, *again.WorkoutLogID)

	missing, err := s.GetPersonalRecord(ctx, "alice", "Deadlift")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := s.ListPersonalRecords(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bench Press", list[0].ExerciseName)
}

func TestGetRecentLogContaining(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)

	old := logAt("alice", base, bench(models.SetEntry{Weight: 60, ActualReps: 5, IsCompleted: true}))
	recent := logAt("alice", base.AddDate(0, 0, 2), bench(models.SetEntry{Weight: 65, ActualReps: 5, IsCompleted: true}))
	other := logAt("alice", base.AddDate(0, 0, 3), models.ExerciseEntry{Name: "Squat"})
	foreign := logAt("bob", base.AddDate(0, 0, 4), bench())
	for _, l := range []*models.WorkoutLog{old, recent, other, foreign} {
		require.NoError(t, s.PutWorkoutLog(ctx, l))
	}

	got, err := s.GetRecentLogContaining(ctx, "alice", "Bench Press")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, recent.ID, got.ID)

	none, err := s.GetRecentLogContaining(ctx, "alice", "Deadlift")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPutWorkoutLogUpserts(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)

	l := logAt("alice", at, bench(models.SetEntry{Weight: 60, ActualReps: 5, IsCompleted: true}))
	require.NoError(t, s.PutWorkoutLog(ctx, l))
	l.DayName = "Updated"
	require.NoError(t, s.PutWorkoutLog(ctx, l))

	logs, err := s.QueryWorkoutLogs(ctx, "alice", at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Updated", logs[0].DayName)
}

func TestTrainingSummaryAndProgression(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Wednesday and Friday of the same ISO week, then the next Monday.
	wed := time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)
	fri := time.Date(2026, 3, 6, 18, 0, 0, 0, time.UTC)
	mon := time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutWorkoutLog(ctx, logAt("alice", wed, bench(
		models.SetEntry{Weight: 100, ActualReps: 5, IsCompleted: true, IsPR: true},
		models.SetEntry{Weight: 90, ActualReps: 8, IsCompleted: true},
		models.SetEntry{Weight: 90, ActualReps: 8, IsCompleted: false},
	))))
	require.NoError(t, s.PutWorkoutLog(ctx, logAt("alice", fri, bench(
		models.SetEntry{Weight: 95, ActualReps: 5, IsCompleted: true},
	))))
	require.NoError(t, s.PutWorkoutLog(ctx, logAt("alice", mon, bench(
		models.SetEntry{Weight: 102.5, ActualReps: 3, IsCompleted: true},
	))))

	start, end := wed.AddDate(0, 0, -7), mon.AddDate(0, 0, 1)
	weeks, err := s.GetTrainingSummary(ctx, "alice", start, end, "1 week")
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.Equal(t, "2026-03-09", weeks[0].Period)
	assert.Equal(t, "2026-03-02", weeks[1].Period)
	assert.Equal(t, 2, weeks[1].Sessions)
	assert.Equal(t, 3, weeks[1].WorkingSets)
	assert.Equal(t, 18, weeks[1].TotalReps)
	assert.InDelta(t, 100*5+90*8+95*5, weeks[1].Tonnage, 1e-9)
	assert.Equal(t, 1, weeks[1].PRSets)
	assert.InDelta(t, 1.5, weeks[1].AvgSetsPerSession, 1e-9)

	months, err := s.GetTrainingSummary(ctx, "alice", start, end, "1 month")
	require.NoError(t, err)
	require.Len(t, months, 1)
	assert.Equal(t, "2026-03-01", months[0].Period)
	assert.Equal(t, 3, months[0].Sessions)

	prog, err := s.GetExerciseProgression(ctx, "alice", "Bench Press", start, end)
	require.NoError(t, err)
	require.Len(t, prog, 3)
	assert.Equal(t, "2026-03-04", prog[0].Date)
	assert.Equal(t, 100.0, prog[0].MaxWeight)
	assert.Equal(t, 2, prog[0].Sets)
	assert.Equal(t, 102.5, prog[2].MaxWeight)

	stats, err := s.GetDataStats(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalWorkouts)
	assert.EqualValues(t, 5, stats.TotalSets)
}

func TestImportLogs(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.InsertImportLog(ctx, models.ImportLog{UserID: "alice", Source: "alpha", Status: "running"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateImportLog(ctx, id, models.ImportLog{Status: "success", LogsWritten: 4}))
	_, err = s.InsertImportLog(ctx, models.ImportLog{UserID: "bob", Source: "alpha", Status: "running"})
	require.NoError(t, err)

	logs, err := s.QueryImportLogs(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, 4, logs[0].LogsWritten)
	assert.Equal(t, "alpha", logs[0].Source)
}
