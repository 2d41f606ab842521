package domain

import "time"

// CalendarDay normalizes t to midnight of its calendar date in loc.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween counts calendar days from a to b in loc. The count is taken on
// civil dates so DST transitions never produce 23 or 25 hour "days".
func DaysBetween(a, b time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// NextStreak applies a check-in at now to a streak whose last check-in was
// last. The second return is false when the check-in is a same-day no-op.
func NextStreak(streak int, last, now time.Time, loc *time.Location) (int, bool) {
	if last.IsZero() || streak <= 0 {
		return 1, true
	}
	switch days := DaysBetween(last, now, loc); {
	case days <= 0:
		return streak, false
	case days == 1:
		return streak + 1, true
	default:
		return 1, true
	}
}
