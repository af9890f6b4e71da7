// Package alpha imports Alpha Progression CSV exports as workout history.
package alpha

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Nickostick/project-lift-off/internal/ingest"
	"github.com/Nickostick/project-lift-off/internal/metrics"
	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/records"
)

// logNamespace derives stable workout log ids so re-importing a file
// overwrites the same logs.
var logNamespace = uuid.MustParse("6f1c2a4e-3b57-4d0e-9a61-8c2f5e7d9b13")

// Store is what an import writes to.
type Store interface {
	ListPersonalRecords(ctx context.Context, userID string) ([]models.PersonalRecord, error)
	PutPersonalRecord(ctx context.Context, rec models.PersonalRecord) error
	PutWorkoutLog(ctx context.Context, l *models.WorkoutLog) error
	InsertImportLog(ctx context.Context, l models.ImportLog) (int64, error)
	UpdateImportLog(ctx context.Context, id int64, l models.ImportLog) error
}

// Provider processes Alpha Progression CSV exports.
type Provider struct {
	store   Store
	log     *slog.Logger
	metrics *metrics.Manager
}

// NewProvider creates a new Alpha Progression import provider. m may be nil.
func NewProvider(store Store, log *slog.Logger, m *metrics.Manager) *Provider {
	return &Provider{store: store, log: log, metrics: m}
}

// LogID returns the workout log id an exported session maps to.
func LogID(userID string, s Session) uuid.UUID {
	key := fmt.Sprintf("%s|%s|%s", userID, s.Date.UTC().Format(time.RFC3339), s.Name)
	return uuid.NewSHA1(logNamespace, []byte(key))
}

// Ingest parses a CSV export and writes each session as a workout log,
// oldest first, updating personal records along the way. Warm-up sets are
// dropped. Imports award no XP.
func (p *Provider) Ingest(ctx context.Context, r io.Reader, userID string) (*ingest.Result, error) {
	began := time.Now()
	logID, err := p.store.InsertImportLog(ctx, models.ImportLog{
		UserID: userID,
		Source: models.SourceAlpha,
		Status: ingest.StatusRunning,
	})
	if err != nil {
		p.log.Warn("failed to create import log", "error", err)
		logID = 0
	}

	result, err := p.ingest(ctx, r, userID)
	p.finish(userID, logID, result, err, time.Since(began))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Provider) ingest(ctx context.Context, r io.Reader, userID string) (*ingest.Result, error) {
	sessions, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Date.Before(sessions[j].Date)
	})

	recs, err := p.store.ListPersonalRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading personal records: %w", err)
	}
	snap := records.NewSnapshot(recs)

	result := &ingest.Result{SessionsReceived: len(sessions)}
	for _, s := range sessions {
		wl, skipped := toLog(userID, s)
		result.WarmupsSkipped += skipped

		prs := make(map[string]struct{})
		for name, best := range records.BestByName(wl.Exercises) {
			cur, ok := snap[name]
			if ok && cur.WorkoutLogID != nil && *cur.WorkoutLogID == wl.ID {
				prs[name] = struct{}{}
				continue
			}
			var existing *models.PersonalRecord
			if ok {
				existing = &cur
			}
			if !records.IsNewRecord(best.Weight, best.ActualReps, existing) {
				continue
			}
			id := wl.ID
			rec := models.PersonalRecord{
				UserID:       userID,
				ExerciseName: name,
				Weight:       best.Weight,
				Reps:         best.ActualReps,
				AchievedAt:   wl.CompletedAt,
				WorkoutLogID: &id,
			}
			if err := p.store.PutPersonalRecord(ctx, rec); err != nil {
				return nil, fmt.Errorf("writing record for %s: %w", name, err)
			}
			snap[name] = rec
			prs[name] = struct{}{}
			result.RecordsUpdated++
		}
		records.MarkPRs(wl.Exercises, prs)
		wl.PRSets = countPRSets(wl.Exercises)

		if err := p.store.PutWorkoutLog(ctx, wl); err != nil {
			return nil, fmt.Errorf("saving session %s: %w", s.Date.Format("2006-01-02"), err)
		}
		result.LogsWritten++
		for _, ex := range wl.Exercises {
			result.SetsWritten += len(ex.CompletedSets)
		}
	}

	if p.metrics != nil {
		p.metrics.ImportedWorkouts.Add(float64(result.LogsWritten))
	}
	p.log.Info("alpha import complete",
		"user", userID,
		"sessions", result.SessionsReceived,
		"sets", result.SetsWritten,
		"records", result.RecordsUpdated)
	return result, nil
}

// toLog converts a session into a workout log. It returns the number of
// warm-up sets left out.
func toLog(userID string, s Session) (*models.WorkoutLog, int) {
	dur := parseDuration(s.Duration)
	wl := &models.WorkoutLog{
		ID:          LogID(userID, s),
		UserID:      userID,
		DayName:     s.Name,
		Source:      models.SourceAlpha,
		StartedAt:   s.Date,
		CompletedAt: s.Date.Add(dur),
		DurationSec: int(dur / time.Second),
		Exercises:   make([]models.ExerciseEntry, 0, len(s.Exercises)),
	}
	skipped := 0
	for _, ex := range s.Exercises {
		entry := models.ExerciseEntry{Name: ex.Name, Order: len(wl.Exercises)}
		for _, set := range ex.Sets {
			if set.IsWarmup {
				skipped++
				continue
			}
			entry.CompletedSets = append(entry.CompletedSets, models.SetEntry{
				SetNumber:   len(entry.CompletedSets) + 1,
				TargetReps:  ex.TargetReps,
				ActualReps:  set.Reps,
				Weight:      set.WeightKg,
				IsCompleted: true,
			})
		}
		if len(entry.CompletedSets) == 0 {
			continue
		}
		wl.Exercises = append(wl.Exercises, entry)
	}
	return wl, skipped
}

func countPRSets(exercises []models.ExerciseEntry) int {
	n := 0
	for _, ex := range exercises {
		for _, s := range ex.CompletedSets {
			if s.IsPR {
				n++
			}
		}
	}
	return n
}

// finish records the import outcome. It runs on its own context so a
// cancelled request still leaves a final status behind.
func (p *Provider) finish(userID string, logID int64, result *ingest.Result, importErr error, elapsed time.Duration) {
	if logID == 0 {
		return
	}
	ms := int(elapsed / time.Millisecond)
	l := models.ImportLog{
		UserID:     userID,
		Source:     models.SourceAlpha,
		Status:     ingest.StatusSuccess,
		DurationMs: &ms,
	}
	if importErr != nil {
		l.Status = ingest.StatusError
		msg := importErr.Error()
		l.ErrorMessage = &msg
	}
	if result != nil {
		l.Sessions = result.SessionsReceived
		l.LogsWritten = result.LogsWritten
		l.SetsWritten = result.SetsWritten
		l.RecordsUpdated = result.RecordsUpdated
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.UpdateImportLog(ctx, logID, l); err != nil {
		p.log.Error("failed to finalize import log", "id", logID, "error", err)
	}
}
