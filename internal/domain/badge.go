package domain

import "time"

// Badge records that a user earned a badge. At most one per (user, badge).
type Badge struct {
	UserID   string    `json:"user_id"`
	BadgeID  string    `json:"badge_id"`
	EarnedAt time.Time `json:"earned_at"`
}

// BadgeStatus is the result of evaluating a badge
type BadgeStatus struct {
	BadgeID     string   `json:"badge_id"`
	HasBadge    bool     `json:"has_badge"`
	NewlyEarned bool     `json:"newly_earned"`
	Missing     []string `json:"missing_activities,omitempty"`
}
