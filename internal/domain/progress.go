package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProgressRecord tracks one user's completion state for one activity
type ProgressRecord struct {
	UserID           string    `json:"user_id"`
	ActivityID       string    `json:"activity_id"`
	LevelsCompleted  int       `json:"levels_completed"`
	TotalLevels      int       `json:"total_levels"`
	TotalCoinsEarned int64     `json:"total_coins_earned"`
	FullyCompleted   bool      `json:"fully_completed"`
	ReplayUnlocked   bool      `json:"replay_unlocked"`
	LastCompletedAt  time.Time `json:"last_completed_at"`
}

// CompletionReport is what an activity UI sends when a user finishes some or
// all of an activity.
type CompletionReport struct {
	ActivityID       string `json:"activity_id"`
	ActivityCategory string `json:"activity_category,omitempty"`
	Score            int    `json:"score"`
	MaxScore         int    `json:"max_score"`
	LevelsCompleted  int    `json:"levels_completed"`
	TotalLevels      int    `json:"total_levels"`
	IsFullCompletion bool   `json:"is_full_completion"`
	CoinsPerLevel    int64  `json:"coins_per_level"`
	TotalCoins       int64  `json:"total_coins"`
	TotalXP          int64  `json:"total_xp"`
	IsReplay         bool   `json:"is_replay"`
	BadgeName        string `json:"badge_name,omitempty"`
	IsBadgeGame      bool   `json:"is_badge_game,omitempty"`
}

// Upper bounds on what one report may claim. They keep coin arithmetic such as
// CoinsPerLevel * TotalLevels far from int64 overflow.
const (
	MaxActivityLevels = 10_000
	MaxReportCoins    = 1_000_000
	MaxReportXP       = 1_000_000
)

// Validate rejects reports that cannot be classified.
func (r CompletionReport) Validate() error {
	if strings.TrimSpace(r.ActivityID) == "" {
		return fmt.Errorf("%w: activity_id is required", ErrInvalidRequest)
	}
	if r.LevelsCompleted < 0 || r.TotalLevels < 0 {
		return fmt.Errorf("%w: level counts must not be negative", ErrInvalidRequest)
	}
	if r.TotalLevels > 0 && r.LevelsCompleted > r.TotalLevels {
		return fmt.Errorf("%w: levels_completed exceeds total_levels", ErrInvalidRequest)
	}
	if r.TotalLevels > MaxActivityLevels || r.LevelsCompleted > MaxActivityLevels {
		return fmt.Errorf("%w: at most %d levels per activity", ErrInvalidRequest, MaxActivityLevels)
	}
	if r.CoinsPerLevel < 0 || r.TotalCoins < 0 || r.TotalXP < 0 {
		return fmt.Errorf("%w: rewards must not be negative", ErrInvalidRequest)
	}
	if r.CoinsPerLevel > MaxReportCoins || r.TotalCoins > MaxReportCoins {
		return fmt.Errorf("%w: coin rewards are capped at %d", ErrInvalidRequest, MaxReportCoins)
	}
	if r.TotalXP > MaxReportXP {
		return fmt.Errorf("%w: xp rewards are capped at %d", ErrInvalidRequest, MaxReportXP)
	}
	if r.Score < 0 || r.MaxScore < 0 {
		return fmt.Errorf("%w: scores must not be negative", ErrInvalidRequest)
	}
	return nil
}

// CompletesActivity reports whether the report covers the whole activity.
func (r CompletionReport) CompletesActivity() bool {
	return r.IsFullCompletion || (r.TotalLevels > 0 && r.LevelsCompleted >= r.TotalLevels)
}

// CoinBudget is the total number of coins the activity can ever pay out.
func (r CompletionReport) CoinBudget() int64 {
	if r.TotalCoins > 0 {
		return r.TotalCoins
	}
	return r.CoinsPerLevel * int64(r.TotalLevels)
}

// AllAnswersCorrect reports a perfect score.
func (r CompletionReport) AllAnswersCorrect() bool {
	return r.MaxScore > 0 && r.Score >= r.MaxScore
}

// Outcome is the guard's classification of a completion report
type Outcome string

const (
	OutcomeNewProgress         Outcome = "new_progress"
	OutcomeFirstFullCompletion Outcome = "first_full_completion"
	OutcomeReplay              Outcome = "replay"
	OutcomeStale               Outcome = "stale"
)

// CompletionResult is returned to the reporting UI
type CompletionResult struct {
	Outcome              Outcome `json:"outcome"`
	CoinsEarned          int64   `json:"coins_earned"`
	TotalCoinsEarned     int64   `json:"total_coins_earned"`
	NewLevelsCompleted   int     `json:"new_levels_completed"`
	TotalLevelsCompleted int     `json:"total_levels_completed"`
	NewBalance           int64   `json:"new_balance"`
	FullyCompleted       bool    `json:"fully_completed"`
	ReplayUnlocked       bool    `json:"replay_unlocked"`
	AllAnswersCorrect    bool    `json:"all_answers_correct"`
	BadgeEarned          bool    `json:"badge_earned"`
	BadgeAlreadyEarned   bool    `json:"badge_already_earned"`
	XPEarned             int64   `json:"xp_earned"`
	LevelUp              bool    `json:"level_up"`
	NewLevel             int     `json:"new_level"`
}
