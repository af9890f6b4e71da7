// Package memstore is an in-memory durable store. It backs the "memory"
// database driver and tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/google/uuid"
)

var errNoLevel = errors.New("atomic update returned no level")

// Store holds levels, records, logs and import logs in maps.
type Store struct {
	mu         sync.RWMutex
	levels     map[string]models.UserLevel
	records    map[string]map[string]models.PersonalRecord
	logs       map[uuid.UUID]*models.WorkoutLog
	importLogs []models.ImportLog

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New returns an empty store.
func New() *Store {
	return &Store{
		levels:  make(map[string]models.UserLevel),
		records: make(map[string]map[string]models.PersonalRecord),
		logs:    make(map[uuid.UUID]*models.WorkoutLog),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// GetUserLevel returns the user's level or nil when none exists.
func (s *Store) GetUserLevel(ctx context.Context, userID string) (*models.UserLevel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levels[userID]
	if !ok {
		return nil, nil
	}
	return copyLevel(l), nil
}

// RunAtomic runs fn on the current level (nil if absent) and stores its
// result. Calls for the same user are serialized.
func (s *Store) RunAtomic(ctx context.Context, userID string, fn func(cur *models.UserLevel) (*models.UserLevel, error)) (*models.UserLevel, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := s.GetUserLevel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading user level: %w", err)
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, errNoLevel
	}
	next.UserID = userID

	s.mu.Lock()
	s.levels[userID] = *copyLevel(*next)
	s.mu.Unlock()
	return copyLevel(*next), nil
}

// GetPersonalRecord returns the current record or nil when none exists.
func (s *Store) GetPersonalRecord(_ context.Context, userID, exercise string) (*models.PersonalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[userID][exercise]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

// ListPersonalRecords returns all records of a user sorted by exercise.
func (s *Store) ListPersonalRecords(_ context.Context, userID string) ([]models.PersonalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PersonalRecord, 0, len(s.records[userID]))
	for _, r := range s.records[userID] {
		out = append(out, *copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExerciseName < out[j].ExerciseName })
	return out, nil
}

// PutPersonalRecord overwrites the user's record for the exercise.
func (s *Store) PutPersonalRecord(_ context.Context, rec models.PersonalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[rec.UserID]
	if !ok {
		m = make(map[string]models.PersonalRecord)
		s.records[rec.UserID] = m
	}
	m[rec.ExerciseName] = *copyRecord(rec)
	return nil
}

// PutWorkoutLog inserts or replaces a log by ID.
func (s *Store) PutWorkoutLog(_ context.Context, l *models.WorkoutLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[l.ID] = copyLog(l)
	return nil
}

// GetRecentLogContaining returns the latest log of the user that contains
// the exercise, or nil.
func (s *Store) GetRecentLogContaining(_ context.Context, userID, exercise string) (*models.WorkoutLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.WorkoutLog
	for _, l := range s.logs {
		if l.UserID != userID {
			continue
		}
		if _, ok := l.Exercise(exercise); !ok {
			continue
		}
		if best == nil || l.CompletedAt.After(best.CompletedAt) {
			best = l
		}
	}
	if best == nil {
		return nil, nil
	}
	return copyLog(best), nil
}

// QueryWorkoutLogs returns logs completed in [start, end), newest first.
func (s *Store) QueryWorkoutLogs(_ context.Context, userID string, start, end time.Time) ([]models.WorkoutLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WorkoutLog
	for _, l := range s.userLogs(userID, start, end) {
		out = append(out, *copyLog(l))
	}
	return out, nil
}

// userLogs returns matching logs sorted newest first. Callers hold mu.
func (s *Store) userLogs(userID string, start, end time.Time) []*models.WorkoutLog {
	var out []*models.WorkoutLog
	for _, l := range s.logs {
		if l.UserID == userID && !l.CompletedAt.Before(start) && l.CompletedAt.Before(end) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out
}

func copyLevel(l models.UserLevel) *models.UserLevel {
	if l.LastLevelUpDate != nil {
		t := *l.LastLevelUpDate
		l.LastLevelUpDate = &t
	}
	return &l
}

func copyRecord(r models.PersonalRecord) *models.PersonalRecord {
	if r.WorkoutLogID != nil {
		id := *r.WorkoutLogID
		r.WorkoutLogID = &id
	}
	return &r
}

func copyLog(l *models.WorkoutLog) *models.WorkoutLog {
	out := *l
	out.Exercises = make([]models.ExerciseEntry, len(l.Exercises))
	for i, ex := range l.Exercises {
		out.Exercises[i] = ex
		out.Exercises[i].CompletedSets = append([]models.SetEntry(nil), ex.CompletedSets...)
	}
	return &out
}
