package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPeriodStart(t *testing.T) {
	// Wednesday
	now := time.Date(2026, 10, 14, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		period Period
		want   time.Time
		ok     bool
	}{
		{PeriodDaily, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), true},
		{PeriodWeekly, time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC), true},
		{PeriodMonthly, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), true},
		{PeriodAllTime, time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := tt.period.Start(now, time.UTC)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Fatalf("%s: want=(%s,%v) got=(%s,%v)", tt.period, tt.want, tt.ok, got, ok)
		}
	}
}

func TestWeeklyStartOnSunday(t *testing.T) {
	sunday := time.Date(2026, 10, 11, 8, 0, 0, 0, time.UTC)
	got, _ := PeriodWeekly.Start(sunday, time.UTC)
	if !got.Equal(time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("sunday should start its own week, got=%s", got)
	}
}

func TestBucketKey(t *testing.T) {
	now := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	cases := map[Period]string{
		PeriodDaily:   "daily:2026-10-14",
		PeriodWeekly:  "weekly:2026-10-11",
		PeriodMonthly: "monthly:2026-10",
		PeriodAllTime: "allTime",
	}
	for p, want := range cases {
		if got := p.BucketKey(now, time.UTC); got != want {
			t.Fatalf("%s: want=%s got=%s", p, want, got)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	if p, err := ParsePeriod("all-time"); err != nil || p != PeriodAllTime {
		t.Fatalf("alias: got=(%s,%v)", p, err)
	}
	if _, err := ParsePeriod("yearly"); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("want ErrInvalidPeriod, got=%v", err)
	}
}

func TestSortXPTotalsTieBreak(t *testing.T) {
	totals := []XPTotal{
		{UserID: "u4", XP: 30},
		{UserID: "u3", XP: 80},
		{UserID: "u1", XP: 50},
		{UserID: "u2", XP: 80},
	}
	SortXPTotals(totals)

	want := []string{"u2", "u3", "u1", "u4"}
	for i, id := range want {
		if totals[i].UserID != id {
			t.Fatalf("position %d: want=%s got=%s (%+v)", i, id, totals[i].UserID, totals)
		}
	}
}
