package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Nickostick/project-lift-off/internal/draftstore"
	"github.com/Nickostick/project-lift-off/internal/leveling"
	"github.com/Nickostick/project-lift-off/internal/memstore"
	"github.com/Nickostick/project-lift-off/internal/metrics"
	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/progression"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const user = "alice"

var t0 = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// fakeRemote wraps the in-memory store with failure and blocking hooks.
type fakeRemote struct {
	*memstore.Store

	mu          sync.Mutex
	failLog     error
	logGate     chan struct{}
	historyGate chan struct{}
	historyErrs chan error
}

func (f *fakeRemote) PutWorkoutLog(ctx context.Context, l *models.WorkoutLog) error {
	f.mu.Lock()
	gate, fail := f.logGate, f.failLog
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail != nil {
		return fail
	}
	return f.Store.PutWorkoutLog(ctx, l)
}

func (f *fakeRemote) GetRecentLogContaining(ctx context.Context, userID, exercise string) (*models.WorkoutLog, error) {
	f.mu.Lock()
	gate, errs := f.historyGate, f.historyErrs
	f.mu.Unlock()
	if gate != nil {
		<-gate
		if errs != nil {
			errs <- ctx.Err()
		}
	}
	return f.Store.GetRecentLogContaining(ctx, userID, exercise)
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fakeAwarder struct {
	*leveling.Gateway

	mu   sync.Mutex
	fail error
}

func (f *fakeAwarder) AwardXP(ctx context.Context, userID string, xp int, hint *models.UserLevel) (*leveling.Award, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return f.Gateway.AwardXP(ctx, userID, xp, hint)
}

type harness struct {
	c       *Controller
	mem     *memstore.Store
	remote  *fakeRemote
	awarder *fakeAwarder
	local   *draftstore.Store
	clock   *fakeClock
	metrics *metrics.Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, local *draftstore.Store) *harness {
	t.Helper()
	return newHarnessOn(t, memstore.New(), local)
}

// newHarnessOn builds a controller over an existing remote store, as a
// restarted process would see it.
func newHarnessOn(t *testing.T, mem *memstore.Store, local *draftstore.Store) *harness {
	t.Helper()
	if local == nil {
		local = draftstore.New(draftstore.NewMemKV())
	}
	h := &harness{
		mem:     mem,
		local:   local,
		clock:   &fakeClock{now: t0},
		metrics: metrics.NewUnregistered(),
	}
	h.remote = &fakeRemote{Store: h.mem}
	h.awarder = &fakeAwarder{Gateway: leveling.New(h.mem, discardLogger())}
	h.c = New(h.remote, h.awarder, h.local, Options{
		UserID:  user,
		Metrics: h.metrics,
		Logger:  discardLogger(),
	})
	h.c.now = h.clock.Now
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

func pushDay() models.TemplateDay {
	return models.TemplateDay{
		Name: "Push A",
		Exercises: []models.TemplateExercise{
			{Name: "Bench Press", Sets: 3, Reps: 5},
			{Name: "Overhead Press", Sets: 3, Reps: 8},
		},
	}
}

func TestStartFromTemplate(t *testing.T) {
	h := newHarness(t, nil)

	d := h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
	require.NotNil(t, d)

	assert.Equal(t, "Push A", d.DayName)
	assert.Equal(t, "ppl", d.TemplateID)
	assert.Equal(t, user, d.UserID)
	assert.Equal(t, t0, d.StartedAt)
	require.Len(t, d.Exercises, 2)
	for i, ex := range d.Exercises {
		assert.Equal(t, i, ex.Order)
		require.Len(t, ex.CompletedSets, 3)
		for j, s := range ex.CompletedSets {
			assert.Equal(t, j+1, s.SetNumber)
			assert.Equal(t, s.TargetReps, s.ActualReps)
			assert.False(t, s.IsCompleted)
		}
	}

	snap := h.c.Snapshot()
	assert.Equal(t, Active, snap.State)
	assert.Empty(t, snap.NewPRs)

	start, ok, err := h.local.LoadClockStart()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, start.Equal(t0))
}

func TestStartBlankUsesDefaultLabel(t *testing.T) {
	h := newHarness(t, nil)

	d := h.c.Start(context.Background(), Blank(""))
	require.NotNil(t, d)
	assert.Equal(t, DefaultDayName, d.DayName)
	assert.Empty(t, d.Exercises)

	d = h.c.Start(context.Background(), Blank("Arms"))
	assert.Equal(t, "Arms", d.DayName)
}

func TestStartReplacesActiveDraft(t *testing.T) {
	h := newHarness(t, nil)

	first := h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
	second := h.c.Start(context.Background(), Blank(""))

	assert.NotEqual(t, first.ID, second.ID)
	snap := h.c.Snapshot()
	assert.Equal(t, second.ID, snap.Draft.ID)
	assert.Empty(t, snap.Draft.Exercises)
}

// TestTemplatePRScenario walks a template session through a first-ever
// record to the doubled XP award.
func TestTemplatePRScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	d := h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	require.True(t, h.c.UpdateSet(0, 0, 5, 135, true))
	require.True(t, h.c.UpdateSet(0, 1, 5, 185, true))

	before, err := h.awarder.Current(ctx, user)
	require.NoError(t, err)

	res, err := h.c.Complete(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{"Bench Press"}, res.NewPRs)
	assert.Equal(t, 200, res.XP)

	bench, ok := res.Log.Exercise("Bench Press")
	require.True(t, ok)
	assert.True(t, bench.CompletedSets[0].IsPR)
	assert.True(t, bench.CompletedSets[1].IsPR)
	assert.False(t, bench.CompletedSets[2].IsPR, "incomplete set must not be marked")
	ohp, _ := res.Log.Exercise("Overhead Press")
	for _, s := range ohp.CompletedSets {
		assert.False(t, s.IsPR)
	}
	assert.Equal(t, 2, res.Log.PRSets)

	wantLevel, wantXP, wantTotal, up := progression.AddXP(before.CurrentLevel, before.CurrentXP, before.TotalXP, 200)
	assert.Equal(t, wantLevel, res.Level.CurrentLevel)
	assert.Equal(t, wantXP, res.Level.CurrentXP)
	assert.Equal(t, wantTotal, res.Level.TotalXP)
	assert.Equal(t, up, res.LeveledUp)

	rec, err := h.mem.GetPersonalRecord(ctx, user, "Bench Press")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 185.0, rec.Weight)
	assert.Equal(t, 5, rec.Reps)
	require.NotNil(t, rec.WorkoutLogID)
	assert.Equal(t, d.ID, *rec.WorkoutLogID)

	snap := h.c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Draft)
	assert.Equal(t, []string{"Bench Press"}, snap.NewPRs)

	_, ok, err = h.local.LoadDraft()
	require.NoError(t, err)
	assert.False(t, ok, "local draft should be cleared")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WorkoutsCompleted))
	assert.Equal(t, 200.0, testutil.ToFloat64(h.metrics.XPAwarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PersonalRecords))
}

func TestCompleteWithoutRecordsAwardsBaseXP(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.mem.PutPersonalRecord(ctx, models.PersonalRecord{
		UserID: user, ExerciseName: "Bench Press", Weight: 225, Reps: 3, AchievedAt: t0.Add(-time.Hour),
	}))

	h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	h.c.UpdateSet(0, 0, 5, 185, true)

	res, err := h.c.Complete(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.NewPRs)
	assert.Equal(t, 100, res.XP)
}

func TestCompleteRejectsRecordBeatenMeanwhile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	h.c.UpdateSet(0, 0, 5, 185, true)

	// Another device logs a better lift after this session cached its records.
	require.NoError(t, h.mem.PutPersonalRecord(ctx, models.PersonalRecord{
		UserID: user, ExerciseName: "Bench Press", Weight: 190, Reps: 5, AchievedAt: t0,
	}))

	res, err := h.c.Complete(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.NewPRs)
	assert.Equal(t, 100, res.XP)
	bench, _ := res.Log.Exercise("Bench Press")
	assert.False(t, bench.CompletedSets[0].IsPR)

	rec, err := h.mem.GetPersonalRecord(ctx, user, "Bench Press")
	require.NoError(t, err)
	assert.Equal(t, 190.0, rec.Weight)
}

func TestCompleteIsNoOpWhileInFlight(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	gate := make(chan struct{})
	h.remote.set(func(f *fakeRemote) { f.logGate = gate })

	h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	h.c.UpdateSet(0, 0, 5, 100, true)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.c.Complete(ctx)
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		return h.c.Snapshot().State == Completing
	}, time.Second, time.Millisecond)

	res, err := h.c.Complete(ctx)
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.False(t, h.c.AddSet(0), "edits are ignored while completing")
	assert.False(t, h.c.Discard())
	assert.Nil(t, h.c.Start(ctx, Blank("")))

	close(gate)
	first := <-done
	require.NoError(t, first.err)
	require.NotNil(t, first.res)

	logs, err := h.mem.QueryWorkoutLogs(ctx, user, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	lvl, err := h.mem.GetUserLevel(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 200, lvl.TotalXP)
}

func TestCompleteFailureKeepsDraftForRetry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	d := h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	h.c.UpdateSet(0, 0, 5, 185, true)
	h.clock.Advance(45 * time.Minute)

	h.remote.set(func(f *fakeRemote) { f.failLog = errors.New("connection reset") })
	res, err := h.c.Complete(ctx)
	require.Error(t, err)
	assert.Nil(t, res)

	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, metrics.StageWorkoutLog, ce.Stage)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CompletionFailures.WithLabelValues(metrics.StageWorkoutLog)))

	snap := h.c.Snapshot()
	assert.Equal(t, Active, snap.State)
	require.NotNil(t, snap.Draft.CompletedAt)
	assert.Equal(t, 45*60, *snap.Draft.DurationSec)

	_, ok, err := h.local.LoadDraft()
	require.NoError(t, err)
	assert.True(t, ok, "failed completion must keep the local draft")

	// The record was written before the log failed; the retry must still
	// count it as this workout's record.
	rec, err := h.mem.GetPersonalRecord(ctx, user, "Bench Press")
	require.NoError(t, err)
	require.NotNil(t, rec)

	h.clock.Advance(10 * time.Minute)
	h.remote.set(func(f *fakeRemote) { f.failLog = nil })
	res, err = h.c.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bench Press"}, res.NewPRs)
	assert.Equal(t, 200, res.XP)
	assert.Equal(t, d.ID, res.Log.ID)
	assert.Equal(t, 45*60, res.Log.DurationSec, "duration is frozen by the first attempt")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PersonalRecords))
}

// TestRetryAfterRestartKeepsRecord covers a completion that wrote the record,
// failed on the log, and is retried by a new process after Restore.
func TestRetryAfterRestartKeepsRecord(t *testing.T) {
	ctx := context.Background()
	local := draftstore.New(draftstore.NewMemKV())
	h := newHarness(t, local)

	d := h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	require.True(t, h.c.UpdateSet(0, 0, 5, 185, true))
	h.remote.set(func(f *fakeRemote) { f.failLog = errors.New("connection reset") })
	_, err := h.c.Complete(ctx)
	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, metrics.StageWorkoutLog, ce.Stage)
	require.NoError(t, h.c.Close())

	h2 := newHarnessOn(t, h.mem, local)
	ok, err := h2.c.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := h2.c.Complete(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, d.ID, res.Log.ID)
	assert.Equal(t, []string{"Bench Press"}, res.NewPRs)
	assert.Equal(t, 200, res.XP)

	bench, ok := res.Log.Exercise("Bench Press")
	require.True(t, ok)
	assert.True(t, bench.CompletedSets[0].IsPR)
	assert.Equal(t, 1, res.Log.PRSets)

	rec, err := h2.mem.GetPersonalRecord(ctx, user, "Bench Press")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, d.ID, *rec.WorkoutLogID)
}

func TestAwardFailureRetryDoesNotDuplicateLog(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.c.Start(ctx, Blank(""))
	require.True(t, h.c.AddExercise(models.ExerciseEntry{Name: "Squat", CompletedSets: []models.SetEntry{{}}}))
	h.c.UpdateSet(0, 0, 5, 140, true)

	h.awarder.mu.Lock()
	h.awarder.fail = errors.New("deadline exceeded")
	h.awarder.mu.Unlock()

	_, err := h.c.Complete(ctx)
	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, metrics.StageAwardXP, ce.Stage)

	h.awarder.mu.Lock()
	h.awarder.fail = nil
	h.awarder.mu.Unlock()

	res, err := h.c.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, res.XP)

	logs, err := h.mem.QueryWorkoutLogs(ctx, user, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	lvl, err := h.mem.GetUserLevel(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 200, lvl.TotalXP)
}

func TestDiscardClearsEverything(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
	require.True(t, h.c.Discard())
	assert.False(t, h.c.Discard())

	assert.Equal(t, Idle, h.c.Snapshot().State)
	_, ok, err := h.local.LoadDraft()
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = h.local.LoadClockStart()
	require.NoError(t, err)
	assert.False(t, ok)

	logs, err := h.mem.QueryWorkoutLogs(context.Background(), user, time.Time{}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WorkoutsDiscarded))
}

func TestMutationsTolerateBadInput(t *testing.T) {
	h := newHarness(t, nil)

	assert.False(t, h.c.AddSet(0), "idle")
	assert.False(t, h.c.UpdateSet(0, 0, 1, 1, true), "idle")
	assert.False(t, h.c.AddExercise(models.ExerciseEntry{Name: "Row"}), "idle")
	res, err := h.c.Complete(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, res)

	h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
	before := h.c.Snapshot().Draft

	assert.False(t, h.c.AddSet(5))
	assert.False(t, h.c.AddSet(-1))
	assert.False(t, h.c.RemoveSet(0, 3))
	assert.False(t, h.c.RemoveExercise(2))
	assert.False(t, h.c.UpdateSet(1, 9, 5, 100, true))
	assert.False(t, h.c.UpdateSet(0, 0, -1, 100, true))
	assert.False(t, h.c.AddExercise(models.ExerciseEntry{Name: "  "}))

	assert.Empty(t, cmp.Diff(before, h.c.Snapshot().Draft))
}

func TestAddSetCopiesPreviousSet(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
	h.c.UpdateSet(0, 2, 4, 200, true)

	require.True(t, h.c.AddSet(0))
	sets := h.c.Snapshot().Draft.Exercises[0].CompletedSets
	require.Len(t, sets, 4)
	added := sets[3]
	assert.Equal(t, 4, added.SetNumber)
	assert.Equal(t, 5, added.TargetReps)
	assert.Equal(t, 200.0, added.Weight)
	assert.False(t, added.IsCompleted)
}

func TestRemoveExerciseRenumbers(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
	h.c.AddExercise(models.ExerciseEntry{Name: "Dips"})

	require.True(t, h.c.RemoveExercise(0))
	exs := h.c.Snapshot().Draft.Exercises
	require.Len(t, exs, 2)
	assert.Equal(t, "Overhead Press", exs[0].Name)
	assert.Equal(t, 0, exs[0].Order)
	assert.Equal(t, "Dips", exs[1].Name)
	assert.Equal(t, 1, exs[1].Order)
}

// TestRandomEditsKeepNumbering applies a seeded random sequence of edits and
// checks numbering after each one.
func TestRandomEditsKeepNumbering(t *testing.T) {
	h := newHarness(t, nil)
	faker := gofakeit.New(42)

	h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
	for i := 0; i < 500; i++ {
		n := len(h.c.Snapshot().Draft.Exercises)
		switch faker.Number(0, 5) {
		case 0:
			h.c.AddExercise(models.ExerciseEntry{Name: faker.Word(), CompletedSets: make([]models.SetEntry, faker.Number(0, 3))})
		case 1:
			h.c.RemoveExercise(faker.Number(-1, n))
		case 2, 3:
			h.c.AddSet(faker.Number(-1, n))
		case 4:
			h.c.RemoveSet(faker.Number(-1, n), faker.Number(-1, 5))
		case 5:
			h.c.UpdateSet(faker.Number(-1, n), faker.Number(-1, 5), faker.Number(0, 12), float64(faker.Number(0, 300)), faker.Bool())
		}

		d := h.c.Snapshot().Draft
		for ei, ex := range d.Exercises {
			require.Equal(t, ei, ex.Order, "step %d", i)
			for si, s := range ex.CompletedSets {
				require.Equal(t, si+1, s.SetNumber, "step %d exercise %d", i, ei)
			}
		}
	}
}

func TestCrashRecoveryRoundTrip(t *testing.T) {
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			local, err := draftstore.Open(driver, dir)
			require.NoError(t, err)

			h := newHarness(t, local)
			h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
			h.c.UpdateSet(0, 0, 5, 185, true)
			h.c.AddSet(1)
			h.c.RemoveSet(1, 0)
			before := h.c.Snapshot().Draft
			require.NoError(t, h.c.Close())
			require.NoError(t, local.Close())

			reopened, err := draftstore.Open(driver, dir)
			require.NoError(t, err)
			t.Cleanup(func() { _ = reopened.Close() })

			h2 := newHarness(t, reopened)
			h2.clock.Advance(25 * time.Minute)
			ok, err := h2.c.Restore(context.Background())
			require.NoError(t, err)
			require.True(t, ok)

			after := h2.c.Snapshot()
			assert.Equal(t, Active, after.State)
			assert.Empty(t, cmp.Diff(before, after.Draft))
			assert.Equal(t, 25*time.Minute, h2.c.RefreshElapsed())
		})
	}
}

func TestRestoreWithoutDraft(t *testing.T) {
	h := newHarness(t, nil)
	ok, err := h.c.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Idle, h.c.Snapshot().State)
}

func TestElapsedComesFromPersistedClock(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Start(context.Background(), Blank(""))

	h.clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, h.c.RefreshElapsed())

	// A clock start rewritten underneath the process wins over memory.
	require.NoError(t, h.local.SaveClockStart(t0.Add(-time.Minute)))
	assert.Equal(t, 150*time.Second, h.c.RefreshElapsed())
	assert.Equal(t, 150, h.c.Snapshot().ElapsedSec)

	h.c.Discard()
	assert.Equal(t, time.Duration(0), h.c.RefreshElapsed())
}

func TestHistoryFillAnnotatesSets(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.mem.PutWorkoutLog(ctx, &models.WorkoutLog{
		ID:          h.c.newID(),
		UserID:      user,
		CompletedAt: t0.Add(-48 * time.Hour),
		Exercises: []models.ExerciseEntry{{
			Name: "Bench Press",
			CompletedSets: []models.SetEntry{
				{SetNumber: 1, Weight: 185, ActualReps: 5, IsCompleted: true},
				{SetNumber: 2, Weight: 175.5, ActualReps: 6, IsCompleted: true},
				{SetNumber: 3, Weight: 175, ActualReps: 2},
			},
		}},
	}))

	h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	require.Eventually(t, func() bool {
		sets := h.c.Snapshot().Draft.Exercises[0].CompletedSets
		return sets[0].PreviousPerformance == "185 × 5" && sets[1].PreviousPerformance == "175.5 × 6"
	}, time.Second, 5*time.Millisecond)

	d := h.c.Snapshot().Draft
	assert.Empty(t, d.Exercises[0].CompletedSets[2].PreviousPerformance)
	assert.Equal(t, 5, d.Exercises[0].CompletedSets[0].ActualReps, "actuals untouched")
	for _, s := range d.Exercises[1].CompletedSets {
		assert.Empty(t, s.PreviousPerformance)
	}

	// An exercise added later picks up the cached hint immediately.
	h.c.AddExercise(models.ExerciseEntry{Name: "Bench Press", CompletedSets: make([]models.SetEntry, 1)})
	assert.Equal(t, "185 × 5", h.c.Snapshot().Draft.Exercises[2].CompletedSets[0].PreviousPerformance)
}

func TestHistoryFillDroppedOnDiscard(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.mem.PutWorkoutLog(ctx, &models.WorkoutLog{
		ID:          h.c.newID(),
		UserID:      user,
		CompletedAt: t0.Add(-time.Hour),
		Exercises: []models.ExerciseEntry{{
			Name:          "Bench Press",
			CompletedSets: []models.SetEntry{{Weight: 100, ActualReps: 5, IsCompleted: true}},
		}},
	}))

	gate := make(chan struct{})
	errs := make(chan error, 2)
	h.remote.set(func(f *fakeRemote) {
		f.historyGate = gate
		f.historyErrs = errs
	})

	h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	require.True(t, h.c.Discard())
	close(gate)
	require.NoError(t, h.c.Close())

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errs, context.Canceled)
	}
	assert.Equal(t, Idle, h.c.Snapshot().State)
	_, ok, err := h.local.LoadDraft()
	require.NoError(t, err)
	assert.False(t, ok, "abandoned fill must not resurrect the draft")
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.HistoryFillFailures))
}

func TestHistoryFillSurvivesRequestCancel(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mem.PutWorkoutLog(context.Background(), &models.WorkoutLog{
		ID:          h.c.newID(),
		UserID:      user,
		CompletedAt: t0.Add(-time.Hour),
		Exercises: []models.ExerciseEntry{{
			Name:          "Overhead Press",
			CompletedSets: []models.SetEntry{{Weight: 60, ActualReps: 8, IsCompleted: true}},
		}},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	h.c.Start(ctx, FromTemplate("ppl", pushDay()))
	cancel()

	require.Eventually(t, func() bool {
		return h.c.Snapshot().Draft.Exercises[1].CompletedSets[0].PreviousPerformance == "60 × 8"
	}, time.Second, 5*time.Millisecond)
}

func TestLevelUpPendingUntilAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.mem.RunAtomic(ctx, user, func(*models.UserLevel) (*models.UserLevel, error) {
		return &models.UserLevel{UserID: user, CurrentLevel: 1, CurrentXP: 100, TotalXP: 100}, nil
	})
	require.NoError(t, err)
	require.NoError(t, h.c.LoadLevel(ctx))
	assert.InDelta(t, 100.0/150.0, h.c.Level().Progress, 1e-9)

	levels, unsubscribe := h.c.SubscribeLevel()
	defer unsubscribe()
	<-levels

	h.c.Start(ctx, Blank(""))
	res, err := h.c.Complete(ctx)
	require.NoError(t, err)
	require.True(t, res.LeveledUp)
	assert.Equal(t, 1, res.PreviousLevel)

	got := <-levels
	require.NotNil(t, got.PendingLevelUp)
	assert.Equal(t, LevelUp{PreviousLevel: 1, NewLevel: 2}, *got.PendingLevelUp)
	assert.Equal(t, 2, got.Level.CurrentLevel)
	assert.Equal(t, 50, got.Level.CurrentXP)

	assert.True(t, h.c.AcknowledgeLevelUp())
	assert.Nil(t, h.c.Level().PendingLevelUp)
	assert.False(t, h.c.AcknowledgeLevelUp())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LevelUps))
}

func TestSubscribeSeesLatestSnapshot(t *testing.T) {
	h := newHarness(t, nil)

	ch, unsubscribe := h.c.Subscribe()
	defer unsubscribe()
	assert.Equal(t, Idle, (<-ch).State)

	h.c.Start(context.Background(), FromTemplate("ppl", pushDay()))
	h.c.AddSet(0)
	h.c.AddSet(0)

	got := <-ch
	assert.Equal(t, Active, got.State)
	assert.Len(t, got.Draft.Exercises[0].CompletedSets, 5)
}
