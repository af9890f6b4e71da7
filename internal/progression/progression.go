// Package progression holds the XP and level arithmetic. Every function is
// pure so clients and servers recompute identical numbers.
package progression

import (
	"math"
	"math/big"
)

const (
	// BaseWorkoutXP is awarded for every completed workout.
	BaseWorkoutXP = 100
	// PRMultiplier scales the award when a workout set at least one record.
	PRMultiplier = 2.0
)

var (
	three   = big.NewInt(3)
	hundred = big.NewInt(100)
)

// XPForNextLevel returns floor(100 × 1.5^level), the XP needed to leave
// level. Levels below 1 are treated as 1.
func XPForNextLevel(level int) int {
	if level < 1 {
		level = 1
	}
	// 1.5^L = 3^L / 2^L, computed exactly.
	n := new(big.Int).Exp(three, big.NewInt(int64(level)), nil)
	n.Mul(n, hundred)
	n.Rsh(n, uint(level))
	if !n.IsInt64() || n.Int64() > math.MaxInt {
		return math.MaxInt
	}
	return int(n.Int64())
}

// WorkoutXP returns the award for one completed workout.
func WorkoutXP(hasPRs bool) int {
	if hasPRs {
		return int(BaseWorkoutXP * PRMultiplier)
	}
	return BaseWorkoutXP
}

// AddXP applies earned XP, rolling over as many levels as the award covers.
// A non-positive award returns the inputs unchanged.
func AddXP(currentLevel, currentXP, totalXP, earnedXP int) (newLevel, newCurrentXP, newTotalXP int, leveledUp bool) {
	if earnedXP <= 0 {
		return currentLevel, currentXP, totalXP, false
	}
	newLevel = currentLevel
	if newLevel < 1 {
		newLevel = 1
	}
	newCurrentXP = currentXP + earnedXP
	newTotalXP = totalXP + earnedXP
	for {
		need := XPForNextLevel(newLevel)
		if newCurrentXP < need {
			break
		}
		newCurrentXP -= need
		newLevel++
		leveledUp = true
	}
	return newLevel, newCurrentXP, newTotalXP, leveledUp
}

// Progress returns how far currentXP is toward the next level, in [0, 1).
func Progress(level, currentXP int) float64 {
	need := XPForNextLevel(level)
	if need <= 0 || currentXP <= 0 {
		return 0
	}
	f := float64(currentXP) / float64(need)
	if f >= 1 {
		return math.Nextafter(1, 0)
	}
	return f
}
