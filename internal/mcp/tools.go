package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Nickostick/project-lift-off/internal/models"
	"github.com/Nickostick/project-lift-off/internal/session"
)

// defaultTimeRange returns start/end defaulting to the last 30 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -30)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// decode unmarshals tool arguments into a typed struct.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

// --- Tool definitions ---

var toolListTemplates = mcp.NewTool("list_templates",
	mcp.WithDescription("List training programs with their days and prescribed exercises (sets, reps, weight)."),
)

var toolStartWorkout = mcp.NewTool("start_workout",
	mcp.WithDescription("Start a workout. With program_id and day the exercises are pre-filled from the template; otherwise the workout starts empty. Replaces any workout already in progress."),
	mcp.WithString("program_id", mcp.Description("Program id from list_templates. Omit for a blank workout.")),
	mcp.WithString("day", mcp.Description("Day name within the program (case-insensitive).")),
	mcp.WithString("label", mcp.Description("Workout label. Defaults to the day name, or 'Custom Workout'.")),
)

var toolAddExercise = mcp.NewTool("add_exercise",
	mcp.WithDescription("Append an exercise to the active workout with a number of prefilled sets."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Exercise name, e.g. 'Bench Press'")),
	mcp.WithNumber("sets", mcp.Description("Number of sets. Defaults to 1.")),
	mcp.WithNumber("reps", mcp.Description("Target reps per set.")),
	mcp.WithNumber("weight", mcp.Description("Target weight per set.")),
)

var toolRemoveExercise = mcp.NewTool("remove_exercise",
	mcp.WithDescription("Remove an exercise from the active workout by its zero-based index."),
	mcp.WithNumber("exercise_index", mcp.Required(), mcp.Description("Zero-based exercise index")),
)

var toolAddSet = mcp.NewTool("add_set",
	mcp.WithDescription("Append a set to an exercise, copying the previous set's targets."),
	mcp.WithNumber("exercise_index", mcp.Required(), mcp.Description("Zero-based exercise index")),
)

var toolLogSet = mcp.NewTool("log_set",
	mcp.WithDescription("Record the reps and weight lifted for a set, and whether it was completed."),
	mcp.WithNumber("exercise_index", mcp.Required(), mcp.Description("Zero-based exercise index")),
	mcp.WithNumber("set_index", mcp.Required(), mcp.Description("Zero-based set index")),
	mcp.WithNumber("reps", mcp.Required(), mcp.Description("Reps performed")),
	mcp.WithNumber("weight", mcp.Required(), mcp.Description("Weight lifted")),
	mcp.WithBoolean("completed", mcp.Description("Whether the set counts as done. Defaults to true.")),
)

var toolRemoveSet = mcp.NewTool("remove_set",
	mcp.WithDescription("Remove a set from an exercise. Remaining sets are renumbered."),
	mcp.WithNumber("exercise_index", mcp.Required(), mcp.Description("Zero-based exercise index")),
	mcp.WithNumber("set_index", mcp.Required(), mcp.Description("Zero-based set index")),
)

var toolCompleteWorkout = mcp.NewTool("complete_workout",
	mcp.WithDescription("Finish the active workout: records personal records, saves the log and awards XP. On failure the workout stays active and can be completed again."),
)

var toolDiscardWorkout = mcp.NewTool("discard_workout",
	mcp.WithDescription("Throw away the active workout without saving anything."),
)

var toolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription("Current workout state: idle/active/completing, the draft with all sets, elapsed seconds, and the personal records set by the last completion."),
)

var toolGetLevel = mcp.NewTool("get_level",
	mcp.WithDescription("Current level, XP, progress to the next level and any unacknowledged level-up."),
)

var toolAcknowledgeLevelUp = mcp.NewTool("acknowledge_level_up",
	mcp.WithDescription("Dismiss the pending level-up notification."),
)

var toolGetPersonalRecords = mcp.NewTool("get_personal_records",
	mcp.WithDescription("All personal records: best weight and reps per exercise and when they were set."),
)

var toolGetWorkoutLogs = mcp.NewTool("get_workout_logs",
	mcp.WithDescription("Completed workouts with every exercise and set, newest first."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 30 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
)

var toolGetTrainingSummary = mcp.NewTool("get_training_summary",
	mcp.WithDescription("Weekly or monthly strength volume: sessions, working sets, reps, tonnage and PR sets per period."),
	mcp.WithString("start", mcp.Description("Start date. Defaults to 30 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
	mcp.WithString("bucket", mcp.Description("Aggregation period. Defaults to '1 month'."), mcp.Enum("1 week", "1 month")),
)

// --- Tool handlers ---

type startArgs struct {
	ProgramID string `json:"program_id"`
	Day       string `json:"day"`
	Label     string `json:"label"`
}

type exerciseArgs struct {
	Name   string  `json:"name"`
	Sets   int     `json:"sets"`
	Reps   int     `json:"reps"`
	Weight float64 `json:"weight"`
}

type setArgs struct {
	ExerciseIndex int     `json:"exercise_index"`
	SetIndex      int     `json:"set_index"`
	Reps          int     `json:"reps"`
	Weight        float64 `json:"weight"`
	Completed     *bool   `json:"completed"`
}

func (h *handlers) listTemplates(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	programs, err := h.backend.ListTemplates(ctx)
	if err != nil {
		h.log.Error("mcp list_templates", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(programs)
}

func (h *handlers) startWorkout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[startArgs](req)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	if args.ProgramID != "" && args.Day == "" {
		return mcp.NewToolResultError("day is required with program_id"), nil
	}

	snap, err := h.backend.StartWorkout(ctx, args.ProgramID, args.Day, args.Label)
	if err != nil {
		return mcp.NewToolResultError("start failed: " + err.Error()), nil
	}
	return jsonResult(snap)
}

func (h *handlers) addExercise(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[exerciseArgs](req)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	if args.Name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}
	if args.Reps < 0 || args.Weight < 0 {
		return mcp.NewToolResultError("reps and weight must not be negative"), nil
	}

	m, err := h.backend.AddExercise(ctx, models.TemplateExercise{
		Name:   args.Name,
		Sets:   args.Sets,
		Reps:   args.Reps,
		Weight: args.Weight,
	})
	return h.mutationResult("add_exercise", m, err)
}

func (h *handlers) removeExercise(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ex, err := req.RequireInt("exercise_index")
	if err != nil {
		return mcp.NewToolResultError("exercise_index parameter is required"), nil
	}
	m, err := h.backend.RemoveExercise(ctx, ex)
	return h.mutationResult("remove_exercise", m, err)
}

func (h *handlers) addSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ex, err := req.RequireInt("exercise_index")
	if err != nil {
		return mcp.NewToolResultError("exercise_index parameter is required"), nil
	}
	m, err := h.backend.AddSet(ctx, ex)
	return h.mutationResult("add_set", m, err)
}

func (h *handlers) logSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[setArgs](req)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	completed := true
	if args.Completed != nil {
		completed = *args.Completed
	}
	m, err := h.backend.LogSet(ctx, args.ExerciseIndex, args.SetIndex, args.Reps, args.Weight, completed)
	return h.mutationResult("log_set", m, err)
}

func (h *handlers) removeSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[setArgs](req)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	m, err := h.backend.RemoveSet(ctx, args.ExerciseIndex, args.SetIndex)
	return h.mutationResult("remove_set", m, err)
}

func (h *handlers) completeWorkout(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.backend.CompleteWorkout(ctx)
	var cerr *session.CompletionError
	switch {
	case errors.As(err, &cerr):
		return mcp.NewToolResultError(fmt.Sprintf(
			"%v. The workout is still active; call complete_workout again to retry.", cerr)), nil
	case err != nil:
		h.log.Error("mcp complete_workout", "error", err)
		return mcp.NewToolResultError("complete failed: " + err.Error()), nil
	case res == nil:
		return mcp.NewToolResultError("no active workout to complete"), nil
	}
	return jsonResult(res)
}

func (h *handlers) discardWorkout(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := h.backend.DiscardWorkout(ctx)
	return h.mutationResult("discard_workout", m, err)
}

func (h *handlers) getSession(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := h.backend.Session(ctx)
	if err != nil {
		h.log.Error("mcp get_session", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(snap)
}

func (h *handlers) getLevel(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lvl, err := h.backend.Level(ctx)
	if err != nil {
		h.log.Error("mcp get_level", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(lvl)
}

func (h *handlers) acknowledgeLevelUp(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acked, err := h.backend.AcknowledgeLevelUp(ctx)
	if err != nil {
		return mcp.NewToolResultError("acknowledge failed: " + err.Error()), nil
	}
	return jsonResult(map[string]bool{"acknowledged": acked})
}

func (h *handlers) getPersonalRecords(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recs, err := h.backend.PersonalRecords(ctx)
	if err != nil {
		h.log.Error("mcp get_personal_records", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if recs == nil {
		recs = []models.PersonalRecord{}
	}
	return jsonResult(recs)
}

func (h *handlers) getWorkoutLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	logs, err := h.backend.WorkoutLogs(ctx, start, end)
	if err != nil {
		h.log.Error("mcp get_workout_logs", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if logs == nil {
		logs = []models.WorkoutLog{}
	}
	return jsonResult(logs)
}

func (h *handlers) getTrainingSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	bucket := req.GetString("bucket", "1 month")

	rows, err := h.backend.TrainingSummary(ctx, start, end, bucket)
	if err != nil {
		h.log.Error("mcp get_training_summary", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if rows == nil {
		rows = []models.StrengthVolumeSummary{}
	}
	return jsonResult(rows)
}

// mutationResult reports an edit that did not apply as a tool error so the
// model notices a bad index instead of assuming success.
func (h *handlers) mutationResult(tool string, m *Mutation, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		h.log.Error("mcp "+tool, "error", err)
		return mcp.NewToolResultError(tool + " failed: " + err.Error()), nil
	}
	if !m.Applied {
		return mcp.NewToolResultError("nothing changed: no active workout or index out of range"), nil
	}
	return jsonResult(m.Session)
}
