package session

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/records"
)

// loadRecordsLocked caches the user's records for the current draft in the
// background. Complete loads them itself if this has not finished.
func (c *Controller) loadRecordsLocked() {
	ctx, gen := c.bgCtx, c.gen
	if ctx == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		recs, err := c.remote.ListPersonalRecords(ctx, c.userID)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("preloading personal records", "error", err)
			}
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.snap != nil {
			return
		}
		c.snap = records.NewSnapshot(recs)
	}()
}

// fillHistoryLocked looks up the latest previous performance of each named
// exercise. Results only ever touch PreviousPerformance, and are dropped
// once the draft they were started for is gone.
func (c *Controller) fillHistoryLocked(names []string) {
	ctx, gen := c.bgCtx, c.gen
	if ctx == nil {
		return
	}
	seen := make(map[string]bool, len(names))
	var todo []string
	for _, n := range names {
		if _, cached := c.history[n]; cached || seen[n] {
			continue
		}
		seen[n] = true
		todo = append(todo, n)
	}
	if len(todo) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var g errgroup.Group
		g.SetLimit(c.fillLimit)
		for _, name := range todo {
			g.Go(func() error {
				c.fillOne(ctx, gen, name)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (c *Controller) fillOne(ctx context.Context, gen uint64, name string) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.fillTimeout)
	defer cancel()

	wl, err := c.remote.GetRecentLogContaining(lookupCtx, c.userID, name)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.HistoryFillFailures.Inc()
		c.log.Warn("history fill failed", "exercise", name, "error", err)
		return
	}
	var perf []string
	if wl != nil {
		if ex, ok := wl.Exercise(name); ok {
			perf = performances(ex)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state == Idle {
		return
	}
	if c.history == nil {
		c.history = make(map[string][]string)
	}
	c.history[name] = perf
	if c.applyHistoryLocked(name) {
		c.persistLocked()
		c.publishLocked()
	}
}

// applyHistoryLocked copies cached hints onto the sets of every exercise
// with the given name, position by position.
func (c *Controller) applyHistoryLocked(name string) bool {
	perf := c.history[name]
	if len(perf) == 0 || c.draft == nil {
		return false
	}
	changed := false
	for i := range c.draft.Exercises {
		ex := &c.draft.Exercises[i]
		if ex.Name != name {
			continue
		}
		for j := range ex.CompletedSets {
			if j >= len(perf) {
				break
			}
			if ex.CompletedSets[j].PreviousPerformance != perf[j] {
				ex.CompletedSets[j].PreviousPerformance = perf[j]
				changed = true
			}
		}
	}
	return changed
}

// performances renders the completed sets of a past exercise, e.g. "185 × 5".
func performances(ex models.ExerciseEntry) []string {
	var out []string
	for _, s := range ex.CompletedSets {
		if !s.IsCompleted {
			continue
		}
		out = append(out, FormatPerformance(s.Weight, s.ActualReps))
	}
	return out
}

// FormatPerformance renders weight and reps for display. Unloaded sets show
// reps only.
func FormatPerformance(weight float64, reps int) string {
	if weight <= 0 {
		return fmt.Sprintf("%d reps", reps)
	}
	return strconv.FormatFloat(weight, 'f', -1, 64) + " × " + strconv.Itoa(reps)
}
