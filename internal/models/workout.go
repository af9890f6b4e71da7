package models

import (
	"time"

	"github.com/google/uuid"
)

// SetEntry is one set of an exercise inside a draft or a finished log.
type SetEntry struct {
	SetNumber    int     `json:"set_number"`
	TargetReps   int     `json:"target_reps"`
	TargetWeight float64 `json:"target_weight"`
	ActualReps   int     `json:"actual_reps"`
	Weight       float64 `json:"weight"`
	IsCompleted  bool    `json:"is_completed"`
	IsPR         bool    `json:"is_pr"`

	// PreviousPerformance is a display hint filled from history, e.g. "185 × 5".
	PreviousPerformance string `json:"previous_performance,omitempty"`
}

// ExerciseEntry is an exercise and its sets, positioned by Order.
type ExerciseEntry struct {
	Name          string     `json:"name"`
	Order         int        `json:"order"`
	CompletedSets []SetEntry `json:"completed_sets"`
}

// WorkoutDraft is the single in-progress workout on a device.
type WorkoutDraft struct {
	ID          uuid.UUID       `json:"id"`
	UserID      string          `json:"user_id"`
	DayName     string          `json:"day_name"`
	TemplateID  string          `json:"template_id,omitempty"`
	Exercises   []ExerciseEntry `json:"exercises"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationSec *int            `json:"duration_sec,omitempty"`
}

// Clone returns a deep copy of the draft.
func (d *WorkoutDraft) Clone() *WorkoutDraft {
	if d == nil {
		return nil
	}
	out := *d
	out.Exercises = cloneExercises(d.Exercises)
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		out.CompletedAt = &t
	}
	if d.DurationSec != nil {
		n := *d.DurationSec
		out.DurationSec = &n
	}
	return &out
}

// Renumber restores contiguous exercise order and set numbers.
func (d *WorkoutDraft) Renumber() {
	for i := range d.Exercises {
		d.Exercises[i].Order = i
		for j := range d.Exercises[i].CompletedSets {
			d.Exercises[i].CompletedSets[j].SetNumber = j + 1
		}
	}
}

// Log converts a finished draft into a workout log. CompletedAt and
// DurationSec must already be set.
func (d *WorkoutDraft) Log(source string) *WorkoutLog {
	l := &WorkoutLog{
		ID:         d.ID,
		UserID:     d.UserID,
		DayName:    d.DayName,
		TemplateID: d.TemplateID,
		Source:     source,
		StartedAt:  d.StartedAt,
		Exercises:  cloneExercises(d.Exercises),
	}
	if d.CompletedAt != nil {
		l.CompletedAt = *d.CompletedAt
	}
	if d.DurationSec != nil {
		l.DurationSec = *d.DurationSec
	}
	for _, ex := range l.Exercises {
		for _, s := range ex.CompletedSets {
			if s.IsPR {
				l.PRSets++
			}
		}
	}
	return l
}

// Workout log sources.
const (
	SourceSession = "session"
	SourceAlpha   = "alpha"
)

// WorkoutLog is a completed workout as stored in the durable store.
type WorkoutLog struct {
	ID          uuid.UUID       `json:"id"`
	UserID      string          `json:"user_id"`
	DayName     string          `json:"day_name"`
	TemplateID  string          `json:"template_id,omitempty"`
	Source      string          `json:"source"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationSec int             `json:"duration_sec"`
	PRSets      int             `json:"pr_sets"`
	Exercises   []ExerciseEntry `json:"exercises"`
}

// Exercise returns the first exercise with the given name.
func (l *WorkoutLog) Exercise(name string) (ExerciseEntry, bool) {
	for _, ex := range l.Exercises {
		if ex.Name == name {
			return ex, true
		}
	}
	return ExerciseEntry{}, false
}

func cloneExercises(in []ExerciseEntry) []ExerciseEntry {
	if in == nil {
		return nil
	}
	out := make([]ExerciseEntry, len(in))
	for i, ex := range in {
		out[i] = ex
		if ex.CompletedSets != nil {
			out[i].CompletedSets = append([]SetEntry(nil), ex.CompletedSets...)
		}
	}
	return out
}
