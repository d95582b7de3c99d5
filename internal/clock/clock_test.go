package clock

import (
	"testing"
	"time"
)

func TestWindowStartStrictBoundary(t *testing.T) {
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	c := NewFixed(now, "UTC")

	start := c.WindowStart(now)
	want := now.Add(-30 * 24 * time.Hour)
	if !start.Equal(want) {
		t.Fatalf("WindowStart = %v, want %v", start, want)
	}

	// A visit exactly at the window start must not count: the count query
	// uses checked_in_at > since.
	exactly30d := start
	if exactly30d.After(start) {
		t.Fatal("visit aged exactly 30 days should sit on the boundary, not inside it")
	}
}

func TestNextEligibleAt(t *testing.T) {
	oldest := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	c := New("UTC")

	got := c.NextEligibleAt(oldest)
	want := oldest.Add(30*24*time.Hour + time.Second)
	if !got.Equal(want) {
		t.Fatalf("NextEligibleAt = %v, want %v", got, want)
	}

	// At the returned instant the oldest visit is 30d1s old, so the strict
	// age test admits a new visit.
	if !oldest.Add(30 * 24 * time.Hour).Before(got) {
		t.Fatal("next eligible instant must be past the 30-day age-out point")
	}
}

func TestCutoffReached(t *testing.T) {
	tests := []struct {
		name       string
		now        time.Time
		cutoffHour int
		want       bool
	}{
		{
			name:       "one second before boundary admits",
			now:        time.Date(2025, 6, 1, 23, 58, 59, 0, time.UTC),
			cutoffHour: 23,
			want:       false,
		},
		{
			name:       "boundary instant rejects",
			now:        time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC),
			cutoffHour: 23,
			want:       true,
		},
		{
			name:       "past boundary rejects",
			now:        time.Date(2025, 6, 1, 23, 59, 30, 0, time.UTC),
			cutoffHour: 23,
			want:       true,
		},
		{
			name:       "early cutoff mid-afternoon",
			now:        time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC),
			cutoffHour: 17,
			want:       true,
		},
		{
			name:       "before early cutoff",
			now:        time.Date(2025, 6, 1, 17, 58, 59, 0, time.UTC),
			cutoffHour: 17,
			want:       false,
		},
		{
			name:       "24 means no cutoff even at midnight-adjacent times",
			now:        time.Date(2025, 6, 1, 23, 59, 59, 0, time.UTC),
			cutoffHour: 24,
			want:       false,
		},
	}

	c := New("UTC")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.CutoffReached(tt.now, tt.cutoffHour); got != tt.want {
				t.Errorf("CutoffReached(%v, %d) = %v, want %v", tt.now, tt.cutoffHour, got, tt.want)
			}
		})
	}
}

func TestCutoffUsesCanonicalZone(t *testing.T) {
	// 03:59 UTC on June 2 is 23:59 June 1 in New York: past a 23-hour
	// cutoff regardless of the kiosk's own zone.
	c := New("America/New_York")
	now := time.Date(2025, 6, 2, 3, 59, 0, 0, time.UTC)
	if !c.CutoffReached(now, 23) {
		t.Fatal("cutoff must be evaluated in the canonical zone, not UTC")
	}
}

func TestDayRange(t *testing.T) {
	c := New("UTC")
	now := time.Date(2025, 6, 1, 15, 30, 45, 0, time.UTC)

	start, end := c.DayRange(now)
	if !start.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day start = %v", start)
	}
	if !end.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day end = %v", end)
	}
}

func TestNewFallsBackToUTC(t *testing.T) {
	c := New("Not/AZone")
	if c.Location() != time.UTC {
		t.Fatalf("unknown zone should fall back to UTC, got %v", c.Location())
	}
}
