package domain

import "time"

// UserProgression holds platform-wide XP, level and streak for a user
type UserProgression struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	XP          int64     `json:"xp"`
	Level       int       `json:"level"`
	Streak      int       `json:"streak"`
	LastCheckIn time.Time `json:"last_check_in,omitempty"`
	WeeklyXP    int64     `json:"weekly_xp"`
	Rank        int       `json:"rank,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewUserProgression returns the starting state for a user with no history.
func NewUserProgression(userID string) UserProgression {
	return UserProgression{UserID: userID, Level: 1}
}

// NameOrID returns the display name, falling back to the user ID.
func (p UserProgression) NameOrID() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}

// XPEvent is an append-only record of an XP award. Periodic leaderboards are
// summed from these.
type XPEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// XPAward is the outcome of adding XP
type XPAward struct {
	XP         int64     `json:"xp"`
	OldLevel   int       `json:"old_level"`
	Level      int       `json:"level"`
	LeveledUp  bool      `json:"leveled_up"`
	BonusCoins int64     `json:"bonus_coins"`
	AwardedAt  time.Time `json:"awarded_at"`
}

// LevelUp is the level-up push payload
type LevelUp struct {
	UserID      string `json:"user_id"`
	OldLevel    int    `json:"old_level"`
	NewLevel    int    `json:"new_level"`
	CoinsEarned int64  `json:"coins_earned"`
	TotalXP     int64  `json:"total_xp"`
	WeeklyXP    int64  `json:"weekly_xp"`
	Rank        int    `json:"rank,omitempty"`
}

// Standing is a denormalized weekly position written back after a refresh
type Standing struct {
	UserID   string
	WeeklyXP int64
	Rank     int
}

// LevelForXP derives the level from cumulative XP: 1 + floor(xp / perLevel).
func LevelForXP(xp, perLevel int64) int {
	if perLevel <= 0 {
		perLevel = 100
	}
	if xp < 0 {
		xp = 0
	}
	return int(xp/perLevel) + 1
}

// LevelUpBonus is the coin bonus for moving from oldLevel to newLevel.
func LevelUpBonus(oldLevel, newLevel int, perLevel int64) int64 {
	if newLevel <= oldLevel {
		return 0
	}
	return int64(newLevel-oldLevel) * perLevel
}
