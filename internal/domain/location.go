package domain

import "time"

// NoCutoffHour marks a location as 24-hour operation.
const NoCutoffHour = 24

type Location struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	IsActive           bool      `json:"is_active"`
	DailyVisitCapacity int       `json:"daily_visit_capacity"`
	CheckInCutoffHour  int       `json:"checkin_cutoff_hour"`
	CreatedAt          time.Time `json:"created_at"`
}

// Policy holds the global admission limits. Operators mutate it through the
// admin surface; the orchestrator loads it once per request and passes it to
// the gates as a value.
type Policy struct {
	GuestMonthlyLimit   int `json:"guest_monthly_limit"`
	HostConcurrentLimit int `json:"host_concurrent_limit"`
}

// Safe defaults applied when a configured limit is non-positive. Enforcement
// is never silently disabled.
const (
	DefaultMonthlyLimit    = 3
	DefaultConcurrentLimit = 3
	DefaultDailyCapacity   = 1000
)

func (p Policy) MonthlyLimit() int {
	if p.GuestMonthlyLimit <= 0 {
		return DefaultMonthlyLimit
	}
	return p.GuestMonthlyLimit
}

func (p Policy) ConcurrentLimit() int {
	if p.HostConcurrentLimit <= 0 {
		return DefaultConcurrentLimit
	}
	return p.HostConcurrentLimit
}

// Capacity resolves the daily visit capacity for a location.
func (l *Location) Capacity() int {
	if l == nil || l.DailyVisitCapacity <= 0 {
		return DefaultDailyCapacity
	}
	return l.DailyVisitCapacity
}
