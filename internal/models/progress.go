package models

import (
	"time"

	"github.com/google/uuid"
)

// PersonalRecord is the current best weight×reps for one exercise of one user.
type PersonalRecord struct {
	UserID       string     `json:"user_id"`
	ExerciseName string     `json:"exercise_name"`
	Weight       float64    `json:"weight"`
	Reps         int        `json:"reps"`
	AchievedAt   time.Time  `json:"achieved_at"`
	WorkoutLogID *uuid.UUID `json:"workout_log_id,omitempty"`
}

// UserLevel holds a user's leveling counters.
type UserLevel struct {
	UserID          string     `json:"user_id"`
	CurrentLevel    int        `json:"current_level"`
	CurrentXP       int        `json:"current_xp"`
	TotalXP         int        `json:"total_xp"`
	LastLevelUpDate *time.Time `json:"last_level_up_date,omitempty"`
}

// NewUserLevel returns the initial level for a user with no history.
func NewUserLevel(userID string) *UserLevel {
	return &UserLevel{UserID: userID, CurrentLevel: 1}
}
