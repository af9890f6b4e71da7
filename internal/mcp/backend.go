package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/session"
	"github.com/Nickostick/project-lift-off/internal/templates"
)

// ErrCompleting is returned by StartWorkout while a completion is in flight.
var ErrCompleting = errors.New("a workout is being completed")

// Mutation reports whether a workout edit took effect and the session
// state after it.
type Mutation struct {
	Applied bool             `json:"applied"`
	Session session.Snapshot `json:"session"`
}

// Backend is what the MCP tools drive. Local runs against the in-process
// session controller; HTTPClient drives a daemon over its REST API.
type Backend interface {
	ListTemplates(ctx context.Context) ([]models.ProgramTemplate, error)
	StartWorkout(ctx context.Context, programID, day, label string) (*session.Snapshot, error)
	AddExercise(ctx context.Context, ex models.TemplateExercise) (*Mutation, error)
	RemoveExercise(ctx context.Context, exercise int) (*Mutation, error)
	AddSet(ctx context.Context, exercise int) (*Mutation, error)
	LogSet(ctx context.Context, exercise, set, reps int, weight float64, completed bool) (*Mutation, error)
	RemoveSet(ctx context.Context, exercise, set int) (*Mutation, error)
	// CompleteWorkout returns (nil, nil) when there is nothing to complete.
	CompleteWorkout(ctx context.Context) (*session.Result, error)
	DiscardWorkout(ctx context.Context) (*Mutation, error)
	Session(ctx context.Context) (*session.Snapshot, error)
	Level(ctx context.Context) (*session.LevelSnapshot, error)
	AcknowledgeLevelUp(ctx context.Context) (bool, error)
	PersonalRecords(ctx context.Context) ([]models.PersonalRecord, error)
	WorkoutLogs(ctx context.Context, start, end time.Time) ([]models.WorkoutLog, error)
	TrainingSummary(ctx context.Context, start, end time.Time, bucket string) ([]models.StrengthVolumeSummary, error)
}

// Store is the durable-store reads Local serves.
type Store interface {
	ListPersonalRecords(ctx context.Context, userID string) ([]models.PersonalRecord, error)
	QueryWorkoutLogs(ctx context.Context, userID string, start, end time.Time) ([]models.WorkoutLog, error)
	GetTrainingSummary(ctx context.Context, userID string, start, end time.Time, bucket string) ([]models.StrengthVolumeSummary, error)
}

// Local implements Backend in-process.
type Local struct {
	userID  string
	ctrl    *session.Controller
	store   Store
	catalog *templates.Catalog
}

var _ Backend = (*Local)(nil)

// NewLocal creates a Local backend for userID.
func NewLocal(userID string, ctrl *session.Controller, store Store, catalog *templates.Catalog) *Local {
	return &Local{userID: userID, ctrl: ctrl, store: store, catalog: catalog}
}

func (l *Local) ListTemplates(_ context.Context) ([]models.ProgramTemplate, error) {
	return l.catalog.List(), nil
}

func (l *Local) StartWorkout(ctx context.Context, programID, day, label string) (*session.Snapshot, error) {
	src := session.Blank(label)
	if programID != "" {
		d, err := l.catalog.Day(programID, day)
		if err != nil {
			return nil, err
		}
		src = session.FromTemplate(programID, d)
		src.DayName = label
	}
	if l.ctrl.Start(ctx, src) == nil {
		return nil, ErrCompleting
	}
	snap := l.ctrl.Snapshot()
	return &snap, nil
}

func (l *Local) AddExercise(_ context.Context, ex models.TemplateExercise) (*Mutation, error) {
	return l.mutation(l.ctrl.AddExercise(session.NewExercise(ex))), nil
}

func (l *Local) RemoveExercise(_ context.Context, exercise int) (*Mutation, error) {
	return l.mutation(l.ctrl.RemoveExercise(exercise)), nil
}

func (l *Local) AddSet(_ context.Context, exercise int) (*Mutation, error) {
	return l.mutation(l.ctrl.AddSet(exercise)), nil
}

func (l *Local) LogSet(_ context.Context, exercise, set, reps int, weight float64, completed bool) (*Mutation, error) {
	return l.mutation(l.ctrl.UpdateSet(exercise, set, reps, weight, completed)), nil
}

func (l *Local) RemoveSet(_ context.Context, exercise, set int) (*Mutation, error) {
	return l.mutation(l.ctrl.RemoveSet(exercise, set)), nil
}

func (l *Local) CompleteWorkout(ctx context.Context) (*session.Result, error) {
	return l.ctrl.Complete(ctx)
}

func (l *Local) DiscardWorkout(_ context.Context) (*Mutation, error) {
	return l.mutation(l.ctrl.Discard()), nil
}

func (l *Local) Session(_ context.Context) (*session.Snapshot, error) {
	snap := l.ctrl.Snapshot()
	return &snap, nil
}

func (l *Local) Level(_ context.Context) (*session.LevelSnapshot, error) {
	lvl := l.ctrl.Level()
	return &lvl, nil
}

func (l *Local) AcknowledgeLevelUp(_ context.Context) (bool, error) {
	return l.ctrl.AcknowledgeLevelUp(), nil
}

func (l *Local) PersonalRecords(ctx context.Context) ([]models.PersonalRecord, error) {
	return l.store.ListPersonalRecords(ctx, l.userID)
}

func (l *Local) WorkoutLogs(ctx context.Context, start, end time.Time) ([]models.WorkoutLog, error) {
	return l.store.QueryWorkoutLogs(ctx, l.userID, start, end)
}

func (l *Local) TrainingSummary(ctx context.Context, start, end time.Time, bucket string) ([]models.StrengthVolumeSummary, error) {
	return l.store.GetTrainingSummary(ctx, l.userID, start, end, bucket)
}

func (l *Local) mutation(applied bool) *Mutation {
	return &Mutation{Applied: applied, Session: l.ctrl.Snapshot()}
}
