// Package session runs the single active workout on a device: start, edit,
// complete and discard, with crash recovery through local draft storage.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nickostick/project-lift-off/internal/leveling"
	"github.com/Nickostick/project-lift-off/internal/metrics"
	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/progression"
	"github.com/Nickostick/project-lift-off/internal/records"
)

// DefaultDayName labels sessions started without a template.
const DefaultDayName = "Custom Workout"

// RemoteStore is the part of the durable store a session writes to.
type RemoteStore interface {
	ListPersonalRecords(ctx context.Context, userID string) ([]models.PersonalRecord, error)
	GetPersonalRecord(ctx context.Context, userID, exercise string) (*models.PersonalRecord, error)
	PutPersonalRecord(ctx context.Context, rec models.PersonalRecord) error
	PutWorkoutLog(ctx context.Context, l *models.WorkoutLog) error
	GetRecentLogContaining(ctx context.Context, userID, exercise string) (*models.WorkoutLog, error)
}

// Awarder applies XP awards; *leveling.Gateway implements it.
type Awarder interface {
	AwardXP(ctx context.Context, userID string, xp int, hint *models.UserLevel) (*leveling.Award, error)
	Current(ctx context.Context, userID string) (*models.UserLevel, error)
}

// LocalStore keeps the draft on the device; *draftstore.Store implements it.
type LocalStore interface {
	SaveDraft(b []byte) error
	LoadDraft() ([]byte, bool, error)
	ClearDraft() error
	SaveClockStart(t time.Time) error
	LoadClockStart() (time.Time, bool, error)
	ClearClockStart() error
}

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Active
	Completing
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Completing:
		return "completing"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "active":
		*s = Active
	case "completing":
		*s = Completing
	default:
		return fmt.Errorf("unknown session state %q", b)
	}
	return nil
}

// Snapshot is the observable session state.
type Snapshot struct {
	State      State                `json:"state"`
	Draft      *models.WorkoutDraft `json:"draft,omitempty"`
	ElapsedSec int                  `json:"elapsed_sec"`
	NewPRs     []string             `json:"new_prs"`
}

// LevelUp is a pending level-up notification.
type LevelUp struct {
	PreviousLevel int `json:"previous_level"`
	NewLevel      int `json:"new_level"`
}

// LevelSnapshot is the observable level state.
type LevelSnapshot struct {
	Level          models.UserLevel `json:"level"`
	Progress       float64          `json:"progress"`
	PendingLevelUp *LevelUp         `json:"pending_level_up,omitempty"`
}

// Result describes a successful completion.
type Result struct {
	Log           *models.WorkoutLog `json:"log"`
	NewPRs        []string           `json:"new_prs"`
	XP            int                `json:"xp"`
	Level         models.UserLevel   `json:"level"`
	LeveledUp     bool               `json:"leveled_up"`
	PreviousLevel int                `json:"previous_level,omitempty"`
}

// CompletionError reports which remote step of Complete failed. The draft
// stays active and Complete may be called again.
type CompletionError struct {
	Stage string
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completing workout (%s): %v", e.Stage, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Source describes how a session starts. The zero value is a blank session.
type Source struct {
	TemplateID string
	Day        *models.TemplateDay
	// DayName overrides the label; blank sessions fall back to DefaultDayName.
	DayName string
}

// Blank returns a Source for an ad-hoc session.
func Blank(label string) Source {
	return Source{DayName: label}
}

// FromTemplate returns a Source that pre-populates the day's exercises.
func FromTemplate(programID string, day models.TemplateDay) Source {
	return Source{TemplateID: programID, Day: &day}
}

// Options configures a Controller.
type Options struct {
	UserID string

	// HistoryFillConcurrency bounds parallel history lookups. Default 4.
	HistoryFillConcurrency int
	// HistoryFillTimeout bounds a single history lookup. Default 10s.
	HistoryFillTimeout time.Duration

	Metrics *metrics.Manager
	Logger  *slog.Logger
}

// Controller is the session state machine. Its methods are safe for
// concurrent use; remote I/O never runs under the internal lock.
type Controller struct {
	userID      string
	remote      RemoteStore
	awarder     Awarder
	local       LocalStore
	metrics     *metrics.Manager
	log         *slog.Logger
	fillLimit   int
	fillTimeout time.Duration

	now   func() time.Time
	newID func() uuid.UUID

	mu         sync.Mutex
	state      State
	draft      *models.WorkoutDraft
	clockStart time.Time
	newPRs     map[string]struct{}
	snap       records.Snapshot
	history    map[string][]string
	gen        uint64
	bgCtx      context.Context
	bgCancel   context.CancelFunc
	level      *models.UserLevel
	pending    *LevelUp

	wg       sync.WaitGroup
	sessions *Broadcaster[Snapshot]
	levels   *Broadcaster[LevelSnapshot]
}

// New creates an idle Controller.
func New(remote RemoteStore, awarder Awarder, local LocalStore, opts Options) *Controller {
	c := &Controller{
		userID:      opts.UserID,
		remote:      remote,
		awarder:     awarder,
		local:       local,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		fillLimit:   opts.HistoryFillConcurrency,
		fillTimeout: opts.HistoryFillTimeout,
		now:         time.Now,
		newID:       uuid.New,
		sessions:    NewBroadcaster[Snapshot](),
		levels:      NewBroadcaster[LevelSnapshot](),
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.fillLimit <= 0 {
		c.fillLimit = 4
	}
	if c.fillTimeout <= 0 {
		c.fillTimeout = 10 * time.Second
	}
	c.sessions.Publish(c.snapshotLocked())
	return c
}

// Start replaces any active draft with a new one and returns a copy of it.
// It returns nil while a completion is in flight.
func (c *Controller) Start(ctx context.Context, src Source) *models.WorkoutDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Completing {
		return nil
	}
	if c.state == Active {
		c.log.Info("replacing active workout", "workout_id", c.draft.ID)
	}
	c.resetLocked(ctx)

	now := c.now().UTC()
	d := &models.WorkoutDraft{
		ID:         c.newID(),
		UserID:     c.userID,
		DayName:    strings.TrimSpace(src.DayName),
		TemplateID: src.TemplateID,
		StartedAt:  now,
		Exercises:  []models.ExerciseEntry{},
	}
	if src.Day != nil {
		if d.DayName == "" {
			d.DayName = src.Day.Name
		}
		for _, te := range src.Day.Exercises {
			d.Exercises = append(d.Exercises, NewExercise(te))
		}
		d.Renumber()
	}
	if d.DayName == "" {
		d.DayName = DefaultDayName
	}

	c.state = Active
	c.draft = d
	c.clockStart = now
	c.newPRs = make(map[string]struct{})
	c.persistLocked()
	if err := c.local.SaveClockStart(now); err != nil {
		c.localFailure("saving clock start", err)
	}
	c.metrics.WorkoutsStarted.Inc()
	c.log.Info("workout started", "workout_id", d.ID, "day", d.DayName, "exercises", len(d.Exercises))

	c.loadRecordsLocked()
	names := make([]string, 0, len(d.Exercises))
	for _, ex := range d.Exercises {
		names = append(names, ex.Name)
	}
	c.fillHistoryLocked(names)

	c.publishLocked()
	return d.Clone()
}

// NewExercise builds a draft exercise with one set per prescribed set (at
// least one), prefilled from the targets.
func NewExercise(te models.TemplateExercise) models.ExerciseEntry {
	n := te.Sets
	if n < 1 {
		n = 1
	}
	ex := models.ExerciseEntry{Name: te.Name, CompletedSets: make([]models.SetEntry, n)}
	for i := range ex.CompletedSets {
		ex.CompletedSets[i] = models.SetEntry{
			SetNumber:    i + 1,
			TargetReps:   te.Reps,
			TargetWeight: te.Weight,
			ActualReps:   te.Reps,
			Weight:       te.Weight,
		}
	}
	return ex
}

// Restore reloads the draft and clock start from local storage only. It
// reports whether a draft was found.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	b, ok, err := c.local.LoadDraft()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	var d models.WorkoutDraft
	if err := json.Unmarshal(b, &d); err != nil {
		return false, fmt.Errorf("decoding draft: %w", err)
	}
	start, ok, err := c.local.LoadClockStart()
	if err != nil {
		return false, err
	}
	if !ok {
		start = d.StartedAt
	}
	if d.UserID == "" {
		d.UserID = c.userID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return false, nil
	}
	c.resetLocked(ctx)
	c.state = Active
	c.draft = &d
	c.clockStart = start
	c.newPRs = make(map[string]struct{})
	c.loadRecordsLocked()
	c.log.Info("workout restored", "workout_id", d.ID, "started_at", d.StartedAt)
	c.publishLocked()
	return true, nil
}

// AddExercise appends an exercise to the active draft. An entry without a
// name is ignored.
func (c *Controller) AddExercise(entry models.ExerciseEntry) bool {
	entry.Name = strings.TrimSpace(entry.Name)
	if entry.Name == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return false
	}
	entry.CompletedSets = append([]models.SetEntry(nil), entry.CompletedSets...)
	for i := range entry.CompletedSets {
		entry.CompletedSets[i].IsPR = false
	}
	if entry.CompletedSets == nil {
		entry.CompletedSets = []models.SetEntry{}
	}
	c.draft.Exercises = append(c.draft.Exercises, entry)
	c.draft.Renumber()
	c.applyHistoryLocked(entry.Name)
	c.persistLocked()
	c.fillHistoryLocked([]string{entry.Name})
	c.publishLocked()
	return true
}

// RemoveExercise deletes an exercise and closes the gap in ordering.
func (c *Controller) RemoveExercise(exerciseIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exerciseInRange(exerciseIndex) {
		return false
	}
	ex := c.draft.Exercises
	c.draft.Exercises = append(ex[:exerciseIndex:exerciseIndex], ex[exerciseIndex+1:]...)
	c.draft.Renumber()
	c.persistLocked()
	c.publishLocked()
	return true
}

// AddSet appends a set that repeats the previous set's targets and load.
func (c *Controller) AddSet(exerciseIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exerciseInRange(exerciseIndex) {
		return false
	}
	ex := &c.draft.Exercises[exerciseIndex]
	var s models.SetEntry
	if n := len(ex.CompletedSets); n > 0 {
		prev := ex.CompletedSets[n-1]
		s = models.SetEntry{
			TargetReps:   prev.TargetReps,
			TargetWeight: prev.TargetWeight,
			ActualReps:   prev.ActualReps,
			Weight:       prev.Weight,
		}
	}
	ex.CompletedSets = append(ex.CompletedSets, s)
	c.draft.Renumber()
	c.applyHistoryLocked(ex.Name)
	c.persistLocked()
	c.publishLocked()
	return true
}

// RemoveSet deletes a set and renumbers the rest of the exercise.
func (c *Controller) RemoveSet(exerciseIndex, setIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.setInRange(exerciseIndex, setIndex) {
		return false
	}
	ex := &c.draft.Exercises[exerciseIndex]
	sets := ex.CompletedSets
	ex.CompletedSets = append(sets[:setIndex:setIndex], sets[setIndex+1:]...)
	c.draft.Renumber()
	c.persistLocked()
	c.publishLocked()
	return true
}

// UpdateSet records what was lifted. Negative reps or weight are ignored.
func (c *Controller) UpdateSet(exerciseIndex, setIndex, reps int, weight float64, completed bool) bool {
	if reps < 0 || weight < 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.setInRange(exerciseIndex, setIndex) {
		return false
	}
	s := &c.draft.Exercises[exerciseIndex].CompletedSets[setIndex]
	s.ActualReps = reps
	s.Weight = weight
	s.IsCompleted = completed
	c.persistLocked()
	c.publishLocked()
	return true
}

// Discard drops the active draft without any remote write.
func (c *Controller) Discard() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return false
	}
	id := c.draft.ID
	c.resetLocked(nil)
	c.clearLocalLocked()
	c.metrics.WorkoutsDiscarded.Inc()
	c.log.Info("workout discarded", "workout_id", id)
	c.publishLocked()
	return true
}

// Complete commits the active workout: records, log, then XP. It returns
// (nil, nil) when there is nothing to complete or a completion is already
// running. On failure the draft stays active and the error is a
// *CompletionError.
func (c *Controller) Complete(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return nil, nil
	}
	c.state = Completing
	if c.draft.CompletedAt == nil {
		now := c.now().UTC()
		dur := int(now.Sub(c.clockStart) / time.Second)
		if dur < 0 {
			dur = 0
		}
		c.draft.CompletedAt = &now
		c.draft.DurationSec = &dur
		c.persistLocked()
	}
	draft := c.draft.Clone()
	snap := c.snap
	gen := c.gen
	var hint *models.UserLevel
	if c.level != nil {
		l := *c.level
		hint = &l
	}
	c.publishLocked()
	c.mu.Unlock()

	began := time.Now()
	res, stage, err := c.commit(ctx, draft, snap, gen, hint)
	c.metrics.HistCompletionDuration.Observe(time.Since(began).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Active
		c.metrics.CompletionFailures.WithLabelValues(stage).Inc()
		c.log.Error("workout completion failed", "workout_id", draft.ID, "stage", stage, "error", err)
		c.publishLocked()
		return nil, &CompletionError{Stage: stage, Err: err}
	}

	c.resetLocked(nil)
	c.clearLocalLocked()
	c.newPRs = make(map[string]struct{}, len(res.NewPRs))
	for _, n := range res.NewPRs {
		c.newPRs[n] = struct{}{}
	}
	lvl := res.Level
	c.level = &lvl
	if res.LeveledUp {
		prev := res.PreviousLevel
		if c.pending != nil && c.pending.PreviousLevel < prev {
			prev = c.pending.PreviousLevel
		}
		c.pending = &LevelUp{PreviousLevel: prev, NewLevel: lvl.CurrentLevel}
		c.metrics.LevelUps.Inc()
	}
	c.metrics.WorkoutsCompleted.Inc()
	c.metrics.XPAwarded.Add(float64(res.XP))
	c.log.Info("workout completed",
		"workout_id", draft.ID,
		"duration_sec", res.Log.DurationSec,
		"new_prs", len(res.NewPRs),
		"xp", res.XP,
		"level", lvl.CurrentLevel)
	c.publishLocked()
	c.publishLevelLocked()
	return res, nil
}

// commit performs the remote half of Complete. It returns the failing stage
// alongside any error.
func (c *Controller) commit(ctx context.Context, draft *models.WorkoutDraft, snap records.Snapshot, gen uint64, hint *models.UserLevel) (*Result, string, error) {
	if snap == nil {
		recs, err := c.remote.ListPersonalRecords(ctx, c.userID)
		if err != nil {
			return nil, metrics.StageRecords, fmt.Errorf("loading personal records: %w", err)
		}
		snap = records.NewSnapshot(recs)
		c.mu.Lock()
		if c.gen == gen {
			c.snap = snap
		}
		c.mu.Unlock()
	}

	prs := records.EvaluateWorkout(draft, snap)
	best := records.BestByName(draft.Exercises)
	for _, name := range records.Names(prs) {
		cur, err := c.remote.GetPersonalRecord(ctx, c.userID, name)
		if err != nil {
			return nil, metrics.StagePersonalRecord, fmt.Errorf("rechecking record for %s: %w", name, err)
		}
		if cur != nil && cur.WorkoutLogID != nil && *cur.WorkoutLogID == draft.ID {
			continue
		}
		b := best[name]
		if !records.IsNewRecord(b.Weight, b.ActualReps, cur) {
			c.log.Info("record superseded before write", "exercise", name, "weight", b.Weight, "reps", b.ActualReps)
			delete(prs, name)
			continue
		}
		logID := draft.ID
		rec := models.PersonalRecord{
			UserID:       c.userID,
			ExerciseName: name,
			Weight:       b.Weight,
			Reps:         b.ActualReps,
			AchievedAt:   *draft.CompletedAt,
			WorkoutLogID: &logID,
		}
		if err := c.remote.PutPersonalRecord(ctx, rec); err != nil {
			return nil, metrics.StagePersonalRecord, fmt.Errorf("writing record for %s: %w", name, err)
		}
		c.metrics.PersonalRecords.Inc()
	}
	records.MarkPRs(draft.Exercises, prs)

	wl := draft.Log(models.SourceSession)
	if err := c.remote.PutWorkoutLog(ctx, wl); err != nil {
		return nil, metrics.StageWorkoutLog, fmt.Errorf("saving workout log: %w", err)
	}

	xp := progression.WorkoutXP(len(prs) > 0)
	award, err := c.awarder.AwardXP(ctx, c.userID, xp, hint)
	if err != nil {
		return nil, metrics.StageAwardXP, err
	}

	return &Result{
		Log:           wl,
		NewPRs:        records.Names(prs),
		XP:            xp,
		Level:         award.Level,
		LeveledUp:     award.LeveledUp,
		PreviousLevel: award.PreviousLevel,
	}, "", nil
}

// RefreshElapsed recomputes elapsed time from the persisted clock start. A
// frozen completion reports its recorded duration.
func (c *Controller) RefreshElapsed() time.Duration {
	start, ok, err := c.local.LoadClockStart()
	if err != nil {
		c.log.Warn("reading clock start", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return 0
	}
	switch {
	case ok:
		c.clockStart = start
	case c.clockStart.IsZero():
		c.clockStart = c.draft.StartedAt
	}
	c.publishLocked()
	return c.elapsedLocked()
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe streams session snapshots; the latest one arrives immediately.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.sessions.Subscribe()
}

// LoadLevel reads the user's level from the durable store.
func (c *Controller) LoadLevel(ctx context.Context) error {
	lvl, err := c.awarder.Current(ctx, c.userID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = lvl
	c.publishLevelLocked()
	return nil
}

// Level returns the current level state.
func (c *Controller) Level() LevelSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levelSnapshotLocked()
}

// SubscribeLevel streams level snapshots.
func (c *Controller) SubscribeLevel() (<-chan LevelSnapshot, func()) {
	return c.levels.Subscribe()
}

// AcknowledgeLevelUp clears the pending level-up notification.
func (c *Controller) AcknowledgeLevelUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return false
	}
	c.pending = nil
	c.publishLevelLocked()
	return true
}

// Close abandons background work, waits for it, and ends subscriptions.
// The persisted draft is left in place for Restore.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.bgCancel != nil {
		c.bgCancel()
	}
	c.gen++
	c.mu.Unlock()

	c.wg.Wait()
	c.sessions.Close()
	c.levels.Close()
	return nil
}

// resetLocked abandons background work for the current draft and returns
// to Idle. A non-nil ctx seeds the background context of the next draft.
func (c *Controller) resetLocked(ctx context.Context) {
	if c.bgCancel != nil {
		c.bgCancel()
	}
	c.bgCtx, c.bgCancel = nil, nil
	if ctx != nil {
		c.bgCtx, c.bgCancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	c.gen++
	c.state = Idle
	c.draft = nil
	c.clockStart = time.Time{}
	c.newPRs = nil
	c.snap = nil
	c.history = nil
}

func (c *Controller) exerciseInRange(i int) bool {
	return c.state == Active && i >= 0 && i < len(c.draft.Exercises)
}

func (c *Controller) setInRange(i, j int) bool {
	return c.exerciseInRange(i) && j >= 0 && j < len(c.draft.Exercises[i].CompletedSets)
}

func (c *Controller) persistLocked() {
	b, err := json.Marshal(c.draft)
	if err != nil {
		c.localFailure("encoding draft", err)
		return
	}
	if err := c.local.SaveDraft(b); err != nil {
		c.localFailure("saving draft", err)
	}
}

func (c *Controller) clearLocalLocked() {
	err := errors.Join(c.local.ClearDraft(), c.local.ClearClockStart())
	if err != nil {
		c.localFailure("clearing draft", err)
	}
}

func (c *Controller) localFailure(msg string, err error) {
	c.metrics.LocalPersistFailures.Inc()
	c.log.Warn(msg, "error", err)
}

func (c *Controller) elapsedLocked() time.Duration {
	if c.draft == nil {
		return 0
	}
	if c.draft.CompletedAt != nil && c.draft.DurationSec != nil {
		return time.Duration(*c.draft.DurationSec) * time.Second
	}
	start := c.clockStart
	if start.IsZero() {
		start = c.draft.StartedAt
	}
	d := c.now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:      c.state,
		Draft:      c.draft.Clone(),
		ElapsedSec: int(c.elapsedLocked() / time.Second),
		NewPRs:     records.Names(c.newPRs),
	}
}

func (c *Controller) levelSnapshotLocked() LevelSnapshot {
	var ls LevelSnapshot
	if c.level != nil {
		ls.Level = *c.level
	} else {
		ls.Level = *models.NewUserLevel(c.userID)
	}
	ls.Progress = progression.Progress(ls.Level.CurrentLevel, ls.Level.CurrentXP)
	if c.pending != nil {
		p := *c.pending
		ls.PendingLevelUp = &p
	}
	return ls
}

func (c *Controller) publishLocked() {
	c.sessions.Publish(c.snapshotLocked())
}

func (c *Controller) publishLevelLocked() {
	c.levels.Publish(c.levelSnapshotLocked())
}
