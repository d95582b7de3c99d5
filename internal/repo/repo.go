// Package repo defines the persistence interfaces the gate pipeline depends
// on. Gates only ever read; the orchestrator owns every write. Postgres
// implementations live in repo/postgres, in-memory ones in repo/memory.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewise/guestgate/internal/domain"
)

// LimitExceededError is returned by the guarded visit insert when the
// transactional re-check finds a quota already full. It carries the counts an
// override UI needs to display "3/3 at capacity".
type LimitExceededError struct {
	Reason  domain.Reason
	Current int
	Max     int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s: %d/%d", e.Reason, e.Current, e.Max)
}

// VisitGuard re-checks quota counts inside the insert transaction so the
// limits hold as true upper bounds under concurrent check-ins. A zero limit
// disables that guard (override approved, or no location known).
type VisitGuard struct {
	HostLimit        int
	LocationCapacity int
	DayStart         time.Time
	DayEnd           time.Time
}

type GuestRepository interface {
	CreateOrFetch(ctx context.Context, email, name, phone string) (*domain.Guest, error)
	FindByEmail(ctx context.Context, email string) (*domain.Guest, error)
	FindByID(ctx context.Context, id int64) (*domain.Guest, error)
	SetBlacklisted(ctx context.Context, id int64, at *time.Time) error
}

type VisitRepository interface {
	// CountRecentVisits counts check-ins strictly after since.
	CountRecentVisits(ctx context.Context, guestID int64, since time.Time) (int, error)
	// OldestRecentVisit returns the oldest check-in strictly after since,
	// or nil when none qualify.
	OldestRecentVisit(ctx context.Context, guestID int64, since time.Time) (*time.Time, error)
	// CountActiveVisitsForHost counts open visits (checked in, not out).
	// A non-nil locationID narrows the count to that site.
	CountActiveVisitsForHost(ctx context.Context, hostID int64, locationID *int64) (int, error)
	CountTodayVisitsForLocation(ctx context.Context, locationID int64, dayStart, dayEnd time.Time) (int, error)
	CountLifetimeVisits(ctx context.Context, guestID int64) (int, error)
	FindOpenVisit(ctx context.Context, guestID int64) (*domain.Visit, error)
	// Create inserts the visit, re-checking the guard's limits atomically
	// with the insert. Returns *LimitExceededError when a guard trips.
	Create(ctx context.Context, v domain.NewVisit, guard VisitGuard) (*domain.Visit, error)
	GetByID(ctx context.Context, id int64) (*domain.Visit, error)
	Checkout(ctx context.Context, id int64, at time.Time) (bool, error)
}

type ConsentRepository interface {
	FindLatest(ctx context.Context, guestID int64) (*domain.Acceptance, error)
	Create(ctx context.Context, guestID int64, acceptedAt time.Time) (*domain.Acceptance, error)
}

type DiscountRepository interface {
	// CreateIfAbsent inserts the guest's discount unless one already
	// exists. The second return is false when the guest already had one;
	// a concurrent losing writer sees that, not an error.
	CreateIfAbsent(ctx context.Context, guestID int64, code string) (*domain.Discount, bool, error)
	FindByGuest(ctx context.Context, guestID int64) (*domain.Discount, error)
}

type HostRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.Host, error)
	FindByEmail(ctx context.Context, email string) (*domain.Host, error)
}

type LocationRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.Location, error)
}

type PolicyRepository interface {
	Get(ctx context.Context) (domain.Policy, error)
	Update(ctx context.Context, p domain.Policy) error
}

type InvitationRepository interface {
	Create(ctx context.Context, guestID, hostID, locationID int64, qrToken string, qrExpiresAt *time.Time) (*domain.Invitation, error)
	FindByToken(ctx context.Context, qrToken string) (*domain.Invitation, error)
	UpdateStatus(ctx context.Context, id int64, from, to domain.InvitationStatus) (bool, error)
	MarkCheckedIn(ctx context.Context, guestID, hostID int64) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
