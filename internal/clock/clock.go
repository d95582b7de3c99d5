// Package clock provides the canonical-timezone view of time used by every
// gate. All cutoff and rolling-window math happens in one zone so that a
// kiosk in a different locale cannot shift a boundary.
package clock

import (
	"time"

	"github.com/gatewise/guestgate/internal/domain"
)

// RollingWindow bounds repeat-visit frequency. A visit counts only while its
// age is strictly less than the window.
const RollingWindow = 30 * 24 * time.Hour

type Clock struct {
	loc  *time.Location
	nowF func() time.Time
}

// New loads the canonical zone. An unknown zone name falls back to UTC
// rather than failing startup.
func New(timezone string) *Clock {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, nowF: time.Now}
}

// NewFixed returns a clock pinned to a single instant, for tests.
func NewFixed(t time.Time, timezone string) *Clock {
	c := New(timezone)
	c.nowF = func() time.Time { return t }
	return c
}

func (c *Clock) Now() time.Time {
	return c.nowF().In(c.loc)
}

func (c *Clock) Location() *time.Location {
	return c.loc
}

// WindowStart returns the instant 30 days before now. Visits checked in
// strictly after it count toward the rolling limit; a visit aged exactly 30
// days does not.
func (c *Clock) WindowStart(now time.Time) time.Time {
	return now.Add(-RollingWindow)
}

// NextEligibleAt returns when a guest at the limit becomes eligible again:
// one second past the point where the oldest qualifying visit ages out, so a
// re-check at that instant passes the strict-inequality test.
func (c *Clock) NextEligibleAt(oldestVisit time.Time) time.Time {
	return oldestVisit.Add(RollingWindow + time.Second)
}

// DayRange returns the local calendar day [start, end) containing now.
func (c *Clock) DayRange(now time.Time) (time.Time, time.Time) {
	local := now.In(c.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	return start, start.AddDate(0, 0, 1)
}

// CutoffReached reports whether now has hit the check-in cutoff for the
// given hour. The boundary is HH:59:00 local, inclusive: 23:59:00 is past a
// 23-hour cutoff, 23:58:59 is not. A cutoff of 24 means 24-hour operation.
func (c *Clock) CutoffReached(now time.Time, cutoffHour int) bool {
	if cutoffHour >= domain.NoCutoffHour {
		return false
	}
	local := now.In(c.loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), cutoffHour, 59, 0, 0, c.loc)
	return !local.Before(boundary)
}
