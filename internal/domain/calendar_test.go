package domain

import (
	"testing"
	"time"
)

func TestNextStreak(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 3, 10, 9, 30, 0, 0, loc)

	tests := []struct {
		name        string
		streak      int
		last        time.Time
		now         time.Time
		wantStreak  int
		wantChanged bool
	}{
		{"first check-in", 0, time.Time{}, day, 1, true},
		{"next day increments", 1, day, day.AddDate(0, 0, 1), 2, true},
		{"late night then early morning", 3, time.Date(2026, 3, 10, 23, 59, 0, 0, loc), time.Date(2026, 3, 11, 0, 1, 0, 0, loc), 4, true},
		{"same day is a no-op", 2, day, day.Add(10 * time.Hour), 2, false},
		{"gap of two days resets", 5, day, day.AddDate(0, 0, 2), 1, true},
		{"gap of three days resets", 5, day, day.AddDate(0, 0, 3), 1, true},
		{"clock going backwards is a no-op", 4, day, day.Add(-time.Hour), 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := NextStreak(tt.streak, tt.last, tt.now, loc)
			if got != tt.wantStreak || changed != tt.wantChanged {
				t.Fatalf("want=(%d,%v) got=(%d,%v)", tt.wantStreak, tt.wantChanged, got, changed)
			}
		})
	}
}

func TestDaysBetweenAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2026-03-08 is the spring-forward day in New York; the day is 23h long.
	before := time.Date(2026, 3, 7, 23, 30, 0, 0, loc)
	after := time.Date(2026, 3, 8, 23, 30, 0, 0, loc)
	if got := DaysBetween(before, after, loc); got != 1 {
		t.Fatalf("want=1 got=%d", got)
	}
	streak, _ := NextStreak(3, before, after, loc)
	if streak != 4 {
		t.Fatalf("streak across DST: want=4 got=%d", streak)
	}
}

func TestDaysBetweenUsesReferenceZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC on the 1st is already the 2nd in Tokyo.
	a := time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC)
	b := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	if got := DaysBetween(a, b, time.UTC); got != 0 {
		t.Fatalf("utc: want=0 got=%d", got)
	}
	if got := DaysBetween(a, b, tokyo); got != 1 {
		t.Fatalf("tokyo: want=1 got=%d", got)
	}
}

func TestCalendarDay(t *testing.T) {
	got := CalendarDay(time.Date(2026, 7, 4, 18, 45, 12, 99, time.UTC), time.UTC)
	want := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("want=%s got=%s", want, got)
	}
}
