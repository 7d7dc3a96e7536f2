package scheduler

import (
	"testing"
	"time"
)

func TestNextCronTime(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 30, 45, 0, time.UTC)

	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 8, 30, 12, 31, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 8, 30, 12, 45, 0, 0, time.UTC)},
		{"0 9-17 * * *", time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)},
		{"0 0 * * 1", time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)}, // next Monday
	}
	for _, tc := range cases {
		got, err := nextCronTime(tc.expr, base)
		if err != nil {
			t.Errorf("nextCronTime(%q): %v", tc.expr, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("nextCronTime(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestParseCronRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"", "* * *", "x * * * *", "*/0 * * * *", "5-1 * * * *"} {
		if _, err := parseCron(expr); err == nil {
			t.Errorf("parseCron(%q) succeeded, want error", expr)
		}
	}
}

func TestNextDailyHour(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	got := nextDailyHour(now, 15)
	if want := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("later today: got %v, want %v", got, want)
	}

	got = nextDailyHour(now, 3)
	if want := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("tomorrow: got %v, want %v", got, want)
	}

	// Exactly at the boundary rolls to the next day.
	got = nextDailyHour(time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC), 3)
	if want := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("boundary: got %v, want %v", got, want)
	}
}
