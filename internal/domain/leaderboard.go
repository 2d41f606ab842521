package domain

import (
	"fmt"
	"sort"
	"time"
)

// Period is a leaderboard scoring window
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "allTime"
)

// AllPeriods lists every supported period
func AllPeriods() []Period {
	return []Period{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime}
}

// ParsePeriod validates a period name. "all-time" and "alltime" are accepted
// as aliases.
func ParsePeriod(s string) (Period, error) {
	switch s {
	case "daily":
		return PeriodDaily, nil
	case "weekly":
		return PeriodWeekly, nil
	case "monthly":
		return PeriodMonthly, nil
	case "allTime", "all-time", "alltime", "all_time":
		return PeriodAllTime, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// Start returns the inclusive start of the window containing now. The bool is
// false for allTime, which has no lower bound. Weeks start on Sunday.
func (p Period) Start(now time.Time, loc *time.Location) (time.Time, bool) {
	day := CalendarDay(now, loc)
	switch p {
	case PeriodDaily:
		return day, true
	case PeriodWeekly:
		return day.AddDate(0, 0, -int(day.Weekday())), true
	case PeriodMonthly:
		return day.AddDate(0, 0, 1-day.Day()), true
	}
	return time.Time{}, false
}

// BucketKey names the window containing now, e.g. "weekly:2026-10-11".
func (p Period) BucketKey(now time.Time, loc *time.Location) string {
	start, ok := p.Start(now, loc)
	if !ok {
		return string(PeriodAllTime)
	}
	if p == PeriodMonthly {
		return fmt.Sprintf("%s:%s", p, start.Format("2006-01"))
	}
	return fmt.Sprintf("%s:%s", p, start.Format("2006-01-02"))
}

// Retention is how long a period bucket is worth keeping after it opens.
func (p Period) Retention() time.Duration {
	switch p {
	case PeriodDaily:
		return 48 * time.Hour
	case PeriodWeekly:
		return 8 * 24 * time.Hour
	case PeriodMonthly:
		return 32 * 24 * time.Hour
	}
	return 0
}

// XPTotal is a user's XP within some window
type XPTotal struct {
	UserID string `json:"user_id"`
	XP     int64  `json:"xp"`
}

// SortXPTotals orders by XP descending, then user ID ascending so equal
// scores never swap places between refreshes.
func SortXPTotals(totals []XPTotal) {
	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].XP != totals[j].XP {
			return totals[i].XP > totals[j].XP
		}
		return totals[i].UserID < totals[j].UserID
	})
}

// Movement describes how an entrant's rank changed since the last broadcast
type Movement string

const (
	MovementUp   Movement = "up"
	MovementDown Movement = "down"
	MovementNew  Movement = "new"
	MovementSame Movement = "same"
)

// PositionChange annotates a leaderboard entry
type PositionChange struct {
	Movement  Movement `json:"movement"`
	Magnitude int      `json:"magnitude,omitempty"`
}

// LeaderboardEntry represents a single entry in the leaderboard
type LeaderboardEntry struct {
	Rank           int             `json:"rank"`
	UserID         string          `json:"user_id"`
	DisplayName    string          `json:"display_name"`
	XP             int64           `json:"xp"`
	Level          int             `json:"level"`
	PositionChange *PositionChange `json:"position_change,omitempty"`
}

// LeaderboardSnapshot is a ranked, annotated leaderboard for one period
type LeaderboardSnapshot struct {
	Period      Period             `json:"period"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Dropped     []string           `json:"dropped,omitempty"`
	ComputedAt  time.Time          `json:"computed_at"`
}

// RankOf returns the user's rank in the snapshot, or 0 when absent.
func (s LeaderboardSnapshot) RankOf(userID string) int {
	for _, e := range s.Leaderboard {
		if e.UserID == userID {
			return e.Rank
		}
	}
	return 0
}
