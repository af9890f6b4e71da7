package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/Nickostick/project-lift-off/internal/models"
)

// GetTrainingSummary aggregates completed sets per week or month, newest
// period first.
func (s *Store) GetTrainingSummary(_ context.Context, userID string, start, end time.Time, bucket string) ([]models.StrengthVolumeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPeriod := make(map[string]*models.StrengthVolumeSummary)
	for _, l := range s.userLogs(userID, start, end) {
		key := periodStart(l.CompletedAt, bucket).Format("2006-01-02")
		p, ok := byPeriod[key]
		if !ok {
			p = &models.StrengthVolumeSummary{Period: key}
			byPeriod[key] = p
		}
		p.Sessions++
		for _, ex := range l.Exercises {
			for _, set := range ex.CompletedSets {
				if !set.IsCompleted {
					continue
				}
				p.WorkingSets++
				p.TotalReps += set.ActualReps
				p.Tonnage += set.Weight * float64(set.ActualReps)
				if set.IsPR {
					p.PRSets++
				}
			}
		}
	}

	out := make([]models.StrengthVolumeSummary, 0, len(byPeriod))
	for _, p := range byPeriod {
		if p.Sessions > 0 {
			p.AvgSetsPerSession = float64(p.WorkingSets) / float64(p.Sessions)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	return out, nil
}

// GetExerciseProgression returns per-session numbers for one exercise,
// oldest first.
func (s *Store) GetExerciseProgression(_ context.Context, userID, exercise string, start, end time.Time) ([]models.ExerciseProgression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.userLogs(userID, start, end)
	var out []models.ExerciseProgression
	for i := len(logs) - 1; i >= 0; i-- {
		var p models.ExerciseProgression
		for _, ex := range logs[i].Exercises {
			if ex.Name != exercise {
				continue
			}
			for _, set := range ex.CompletedSets {
				if !set.IsCompleted {
					continue
				}
				p.Sets++
				p.SessionTonnage += set.Weight * float64(set.ActualReps)
				if set.Weight > p.MaxWeight {
					p.MaxWeight = set.Weight
				}
			}
		}
		if p.Sets == 0 {
			continue
		}
		p.Date = logs[i].CompletedAt.UTC().Format("2006-01-02")
		out = append(out, p)
	}
	return out, nil
}

// GetDataStats returns totals for the user.
func (s *Store) GetDataStats(_ context.Context, userID string) (*models.DataStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.DataStats{TotalRecords: int64(len(s.records[userID]))}
	for _, l := range s.logs {
		if l.UserID != userID {
			continue
		}
		stats.TotalWorkouts++
		for _, ex := range l.Exercises {
			stats.TotalSets += int64(len(ex.CompletedSets))
		}
		t := l.StartedAt
		if stats.EarliestData == nil || t.Before(*stats.EarliestData) {
			stats.EarliestData = &t
		}
		if stats.LatestData == nil || t.After(*stats.LatestData) {
			stats.LatestData = &t
		}
	}
	return stats, nil
}

// InsertImportLog stores an import log and returns its ID.
func (s *Store) InsertImportLog(_ context.Context, l models.ImportLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = int64(len(s.importLogs) + 1)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	s.importLogs = append(s.importLogs, l)
	return l.ID, nil
}

// UpdateImportLog replaces the outcome fields of an import log.
func (s *Store) UpdateImportLog(_ context.Context, id int64, l models.ImportLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || int(id) > len(s.importLogs) {
		return nil
	}
	prev := s.importLogs[id-1]
	l.ID, l.UserID, l.CreatedAt, l.Source = prev.ID, prev.UserID, prev.CreatedAt, prev.Source
	s.importLogs[id-1] = l
	return nil
}

// QueryImportLogs returns the newest import logs of a user.
func (s *Store) QueryImportLogs(_ context.Context, userID string, limit int) ([]models.ImportLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []models.ImportLog
	for i := len(s.importLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.importLogs[i].UserID == userID {
			out = append(out, s.importLogs[i])
		}
	}
	return out, nil
}

// periodStart mirrors date_trunc for "1 week" (Monday) and "1 month" in UTC.
func periodStart(t time.Time, bucket string) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if bucket == "1 week" {
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
