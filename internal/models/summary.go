package models

import "time"

// StrengthVolumeSummary holds aggregated strength training stats for a period.
type StrengthVolumeSummary struct {
	Period            string  `json:"period"`
	Sessions          int     `json:"sessions"`
	WorkingSets       int     `json:"working_sets"`
	TotalReps         int     `json:"total_reps"`
	Tonnage           float64 `json:"tonnage"`
	PRSets            int     `json:"pr_sets"`
	AvgSetsPerSession float64 `json:"avg_sets_per_session"`
}

// ExerciseProgression holds one session's numbers for a single exercise.
type ExerciseProgression struct {
	Date           string  `json:"date"`
	MaxWeight      float64 `json:"max_weight"`
	SessionTonnage float64 `json:"session_tonnage"`
	Sets           int     `json:"sets"`
}

// DataStats holds totals about a user's stored training data.
type DataStats struct {
	TotalWorkouts int64      `json:"total_workouts"`
	TotalSets     int64      `json:"total_sets"`
	TotalRecords  int64      `json:"total_records"`
	EarliestData  *time.Time `json:"earliest_data"`
	LatestData    *time.Time `json:"latest_data"`
}

// ImportLog records the outcome of one history import.
type ImportLog struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	Source         string    `json:"source"`
	Status         string    `json:"status"`
	Sessions       int       `json:"sessions"`
	LogsWritten    int       `json:"logs_written"`
	SetsWritten    int       `json:"sets_written"`
	RecordsUpdated int       `json:"records_updated"`
	DurationMs     *int      `json:"duration_ms"`
	ErrorMessage   *string   `json:"error_message"`
}
