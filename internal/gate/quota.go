package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewise/guestgate/internal/clock"
	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

// RollingWindowLimiter bounds how often a guest may visit in the trailing 30
// days. Rejection happens once the count has reached the limit, not only
// when it would exceed it.
type RollingWindowLimiter struct {
	visits repo.VisitRepository
	clock  *clock.Clock
}

func NewRollingWindowLimiter(visits repo.VisitRepository, clk *clock.Clock) *RollingWindowLimiter {
	return &RollingWindowLimiter{visits: visits, clock: clk}
}

func (g *RollingWindowLimiter) Check(ctx context.Context, guestID int64, policy domain.Policy, now time.Time) (Outcome, error) {
	limit := policy.MonthlyLimit()
	since := g.clock.WindowStart(now)

	count, err := g.visits.CountRecentVisits(ctx, guestID, since)
	if err != nil {
		return Outcome{}, fmt.Errorf("count recent visits: %w", err)
	}
	if count < limit {
		return Allow(), nil
	}

	out := Deny(domain.ReasonMonthlyLimitExceeded)
	out.Current = count
	out.Max = limit

	oldest, err := g.visits.OldestRecentVisit(ctx, guestID, since)
	if err != nil {
		return Outcome{}, fmt.Errorf("oldest recent visit: %w", err)
	}
	if oldest != nil {
		next := g.clock.NextEligibleAt(*oldest)
		out.NextEligibleAt = &next
	}
	return out, nil
}

// ConcurrencyLimiter caps how many guests a host may have inside at once.
// This is the gate most exposed to racing kiosks; the guarded visit insert
// re-checks it under lock.
type ConcurrencyLimiter struct {
	visits repo.VisitRepository
}

func NewConcurrencyLimiter(visits repo.VisitRepository) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{visits: visits}
}

func (g *ConcurrencyLimiter) Check(ctx context.Context, hostID int64, locationID *int64, policy domain.Policy) (Outcome, error) {
	limit := policy.ConcurrentLimit()

	count, err := g.visits.CountActiveVisitsForHost(ctx, hostID, locationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("count active visits: %w", err)
	}
	if count < limit {
		return Allow(), nil
	}

	out := Deny(domain.ReasonHostAtCapacity)
	out.Current = count
	out.Max = limit
	return out, nil
}

// CapacityGate enforces a location's daily visitor budget. An inactive
// location rejects outright regardless of count, and that rejection is not
// overridable.
type CapacityGate struct {
	visits repo.VisitRepository
	clock  *clock.Clock
}

func NewCapacityGate(visits repo.VisitRepository, clk *clock.Clock) *CapacityGate {
	return &CapacityGate{visits: visits, clock: clk}
}

func (g *CapacityGate) Check(ctx context.Context, loc *domain.Location, now time.Time) (Outcome, error) {
	if loc == nil {
		return Allow(), nil
	}
	if !loc.IsActive {
		return Deny(domain.ReasonLocationClosed), nil
	}

	dayStart, dayEnd := g.clock.DayRange(now)
	count, err := g.visits.CountTodayVisitsForLocation(ctx, loc.ID, dayStart, dayEnd)
	if err != nil {
		return Outcome{}, fmt.Errorf("count today's visits: %w", err)
	}

	capacity := loc.Capacity()
	if count < capacity {
		return Allow(), nil
	}

	out := Deny(domain.ReasonLocationAtCapacity)
	out.Current = count
	out.Max = capacity
	return out, nil
}

// TimeCutoffGate closes check-ins past the location's cutoff hour. Without a
// known location the global default applies.
type TimeCutoffGate struct {
	clock             *clock.Clock
	defaultCutoffHour int
}

func NewTimeCutoffGate(clk *clock.Clock, defaultCutoffHour int) *TimeCutoffGate {
	return &TimeCutoffGate{clock: clk, defaultCutoffHour: defaultCutoffHour}
}

func (g *TimeCutoffGate) Check(loc *domain.Location, now time.Time) Outcome {
	cutoff := g.defaultCutoffHour
	if loc != nil {
		cutoff = loc.CheckInCutoffHour
	}
	if g.clock.CutoffReached(now, cutoff) {
		return Deny(domain.ReasonLocationClosed)
	}
	return Allow()
}
