// Package records decides when a completed set becomes a personal record.
package records

import (
	"sort"

	"github.com/Nickostick/project-lift-off/internal/models"
)

// Snapshot maps exercise name to the user's current record.
type Snapshot map[string]models.PersonalRecord

// NewSnapshot indexes a record list by exercise name.
func NewSnapshot(recs []models.PersonalRecord) Snapshot {
	s := make(Snapshot, len(recs))
	for _, r := range recs {
		s[r.ExerciseName] = r
	}
	return s
}

// IsNewRecord reports whether weight×reps beats existing. Heavier always
// wins; at equal weight only strictly more reps wins.
func IsNewRecord(weight float64, reps int, existing *models.PersonalRecord) bool {
	if existing == nil {
		return true
	}
	if weight > existing.Weight {
		return true
	}
	return weight == existing.Weight && reps > existing.Reps
}

// BestSet returns the completed set with the highest weight, ties broken by
// reps. Sets that are not completed or carry no weight never qualify.
func BestSet(ex models.ExerciseEntry) (models.SetEntry, bool) {
	var best models.SetEntry
	found := false
	for _, s := range ex.CompletedSets {
		if !s.IsCompleted || s.Weight <= 0 {
			continue
		}
		if !found || s.Weight > best.Weight || (s.Weight == best.Weight && s.ActualReps > best.ActualReps) {
			best = s
			found = true
		}
	}
	return best, found
}

// EvaluateWorkout returns the names of exercises whose best set beats the
// snapshot. An exercise listed twice is judged on its best set overall. A
// snapshot record written by this same draft (an earlier, partly failed
// completion) still counts as the draft's record.
func EvaluateWorkout(draft *models.WorkoutDraft, snap Snapshot) map[string]struct{} {
	out := make(map[string]struct{})
	if draft == nil {
		return out
	}
	for name, best := range BestByName(draft.Exercises) {
		var existing *models.PersonalRecord
		if r, ok := snap[name]; ok {
			if r.WorkoutLogID != nil && *r.WorkoutLogID == draft.ID {
				out[name] = struct{}{}
				continue
			}
			existing = &r
		}
		if IsNewRecord(best.Weight, best.ActualReps, existing) {
			out[name] = struct{}{}
		}
	}
	return out
}

// BestByName returns the best qualifying set per exercise name.
func BestByName(exercises []models.ExerciseEntry) map[string]models.SetEntry {
	out := make(map[string]models.SetEntry)
	for _, ex := range exercises {
		s, ok := BestSet(ex)
		if !ok {
			continue
		}
		cur, seen := out[ex.Name]
		if !seen || s.Weight > cur.Weight || (s.Weight == cur.Weight && s.ActualReps > cur.ActualReps) {
			out[ex.Name] = s
		}
	}
	return out
}

// Names returns the set's members in sorted order.
func Names(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// MarkPRs sets IsPR on every completed set of the named exercises and clears
// it everywhere else.
func MarkPRs(exercises []models.ExerciseEntry, names map[string]struct{}) {
	for i := range exercises {
		_, hit := names[exercises[i].Name]
		for j := range exercises[i].CompletedSets {
			s := &exercises[i].CompletedSets[j]
			s.IsPR = hit && s.IsCompleted
		}
	}
}
