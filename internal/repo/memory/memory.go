// Package memory holds in-memory implementations of the repo interfaces.
// They back the gate and orchestrator tests, and mirror the Postgres
// semantics including the guarded visit insert.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

type Store struct {
	mu sync.Mutex

	nextGuestID int64
	nextVisitID int64
	nextOtherID int64

	Guests      map[int64]*domain.Guest
	Visits      map[int64]*domain.Visit
	Acceptances []*domain.Acceptance
	Discounts   map[int64]*domain.Discount // keyed by guest ID
	Hosts       map[int64]*domain.Host
	Locations   map[int64]*domain.Location
	Invitations map[int64]*domain.Invitation
	Policy      domain.Policy

	// Error hooks let tests simulate infrastructure failures.
	ConsentCreateErr error
	VisitCreateErr   error
}

func NewStore() *Store {
	return &Store{
		nextGuestID: 1,
		nextVisitID: 1,
		nextOtherID: 1,
		Guests:      make(map[int64]*domain.Guest),
		Visits:      make(map[int64]*domain.Visit),
		Discounts:   make(map[int64]*domain.Discount),
		Hosts:       make(map[int64]*domain.Host),
		Locations:   make(map[int64]*domain.Location),
		Invitations: make(map[int64]*domain.Invitation),
	}
}

// ---- GuestRepository ----

func (s *Store) CreateOrFetch(_ context.Context, email, name, phone string) (*domain.Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, g := range s.Guests {
		if g.Email == email {
			if name != "" {
				g.Name = name
			}
			if phone != "" {
				g.Phone = phone
			}
			g.UpdatedAt = time.Now()
			return g, nil
		}
	}

	g := &domain.Guest{
		ID:        s.nextGuestID,
		Email:     email,
		Name:      name,
		Phone:     phone,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.nextGuestID++
	s.Guests[g.ID] = g
	return g, nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*domain.Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, g := range s.Guests {
		if g.Email == email {
			return g, nil
		}
	}
	return nil, nil
}

func (s *Store) FindByID(_ context.Context, id int64) (*domain.Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Guests[id], nil
}

func (s *Store) SetBlacklisted(_ context.Context, id int64, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.Guests[id]; ok {
		g.BlacklistedAt = at
	}
	return nil
}

// ---- VisitRepository ----

func (s *Store) CountRecentVisits(_ context.Context, guestID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, v := range s.Visits {
		if v.GuestID == guestID && v.CheckedInAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) OldestRecentVisit(_ context.Context, guestID int64, since time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *time.Time
	for _, v := range s.Visits {
		if v.GuestID == guestID && v.CheckedInAt.After(since) {
			t := v.CheckedInAt
			if oldest == nil || t.Before(*oldest) {
				oldest = &t
			}
		}
	}
	return oldest, nil
}

func (s *Store) CountActiveVisitsForHost(_ context.Context, hostID int64, locationID *int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(hostID, locationID), nil
}

func (s *Store) countActiveLocked(hostID int64, locationID *int64) int {
	count := 0
	for _, v := range s.Visits {
		if v.HostID != hostID || v.CheckedOutAt != nil {
			continue
		}
		if locationID != nil && (v.LocationID == nil || *v.LocationID != *locationID) {
			continue
		}
		count++
	}
	return count
}

func (s *Store) CountTodayVisitsForLocation(_ context.Context, locationID int64, dayStart, dayEnd time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countTodayLocked(locationID, dayStart, dayEnd), nil
}

func (s *Store) countTodayLocked(locationID int64, dayStart, dayEnd time.Time) int {
	count := 0
	for _, v := range s.Visits {
		if v.LocationID == nil || *v.LocationID != locationID {
			continue
		}
		if !v.CheckedInAt.Before(dayStart) && v.CheckedInAt.Before(dayEnd) {
			count++
		}
	}
	return count
}

func (s *Store) CountLifetimeVisits(_ context.Context, guestID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, v := range s.Visits {
		if v.GuestID == guestID {
			count++
		}
	}
	return count, nil
}

func (s *Store) FindOpenVisit(_ context.Context, guestID int64) (*domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.Visit
	for _, v := range s.Visits {
		if v.GuestID == guestID && v.CheckedOutAt == nil {
			if latest == nil || v.CheckedInAt.After(latest.CheckedInAt) {
				latest = v
			}
		}
	}
	return latest, nil
}

func (s *Store) Create(_ context.Context, nv domain.NewVisit, guard repo.VisitGuard) (*domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.VisitCreateErr != nil {
		return nil, s.VisitCreateErr
	}

	if guard.HostLimit > 0 {
		count := s.countActiveLocked(nv.HostID, nv.LocationID)
		if count >= guard.HostLimit {
			return nil, &repo.LimitExceededError{Reason: domain.ReasonHostAtCapacity, Current: count, Max: guard.HostLimit}
		}
	}
	if guard.LocationCapacity > 0 && nv.LocationID != nil {
		count := s.countTodayLocked(*nv.LocationID, guard.DayStart, guard.DayEnd)
		if count >= guard.LocationCapacity {
			return nil, &repo.LimitExceededError{Reason: domain.ReasonLocationAtCapacity, Current: count, Max: guard.LocationCapacity}
		}
	}

	v := &domain.Visit{
		ID:             s.nextVisitID,
		GuestID:        nv.GuestID,
		HostID:         nv.HostID,
		LocationID:     nv.LocationID,
		CheckedInAt:    nv.CheckedInAt,
		ExpiresAt:      nv.ExpiresAt,
		OverrideReason: nv.OverrideReason,
		OverrideBy:     nv.OverrideBy,
		CreatedAt:      time.Now(),
	}
	s.nextVisitID++
	s.Visits[v.ID] = v
	return v, nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Visits[id], nil
}

func (s *Store) Checkout(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.Visits[id]
	if !ok || v.CheckedOutAt != nil {
		return false, nil
	}
	v.CheckedOutAt = &at
	return true, nil
}

// ---- ConsentRepository ----

func (s *Store) FindLatest(_ context.Context, guestID int64) (*domain.Acceptance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.Acceptance
	for _, a := range s.Acceptances {
		if a.GuestID == guestID {
			if latest == nil || a.AcceptedAt.After(latest.AcceptedAt) {
				latest = a
			}
		}
	}
	return latest, nil
}

func (s *Store) CreateConsent(_ context.Context, guestID int64, acceptedAt time.Time) (*domain.Acceptance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ConsentCreateErr != nil {
		return nil, s.ConsentCreateErr
	}

	a := &domain.Acceptance{
		ID:         s.nextOtherID,
		GuestID:    guestID,
		AcceptedAt: acceptedAt,
	}
	s.nextOtherID++
	s.Acceptances = append(s.Acceptances, a)
	return a, nil
}

// ---- DiscountRepository ----

func (s *Store) CreateIfAbsent(_ context.Context, guestID int64, code string) (*domain.Discount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.Discounts[guestID]; ok {
		return existing, false, nil
	}

	d := &domain.Discount{
		ID:        s.nextOtherID,
		GuestID:   guestID,
		Code:      code,
		CreatedAt: time.Now(),
	}
	s.nextOtherID++
	s.Discounts[guestID] = d
	return d, true, nil
}

func (s *Store) FindByGuest(_ context.Context, guestID int64) (*domain.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Discounts[guestID], nil
}

// ---- HostRepository / LocationRepository / PolicyRepository ----

func (s *Store) FindHostByID(_ context.Context, id int64) (*domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Hosts[id], nil
}

func (s *Store) FindHostByEmail(_ context.Context, email string) (*domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, h := range s.Hosts {
		if strings.ToLower(h.Email) == email {
			return h, nil
		}
	}
	return nil, nil
}

func (s *Store) FindLocationByID(_ context.Context, id int64) (*domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Locations[id], nil
}

func (s *Store) GetPolicy(_ context.Context) (domain.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Policy, nil
}

func (s *Store) UpdatePolicy(_ context.Context, p domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Policy = p
	return nil
}

// ---- InvitationRepository ----

func (s *Store) CreateInvitation(_ context.Context, guestID, hostID, locationID int64, qrToken string, qrExpiresAt *time.Time) (*domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := &domain.Invitation{
		ID:          s.nextOtherID,
		GuestID:     guestID,
		HostID:      hostID,
		LocationID:  locationID,
		Status:      domain.InvitationPending,
		QRToken:     qrToken,
		QRIssuedAt:  time.Now(),
		QRExpiresAt: qrExpiresAt,
		CreatedAt:   time.Now(),
	}
	s.nextOtherID++
	s.Invitations[inv.ID] = inv
	return inv, nil
}

func (s *Store) FindInvitationByToken(_ context.Context, qrToken string) (*domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.Invitations {
		if inv.QRToken == qrToken {
			return inv, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateInvitationStatus(_ context.Context, id int64, from, to domain.InvitationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.Invitations[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	return true, nil
}

func (s *Store) MarkCheckedIn(_ context.Context, guestID, hostID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.Invitations {
		if inv.GuestID == guestID && inv.HostID == hostID &&
			(inv.Status == domain.InvitationPending || inv.Status == domain.InvitationActivated) {
			inv.Status = domain.InvitationCheckedIn
		}
	}
	return nil
}

func (s *Store) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, inv := range s.Invitations {
		if (inv.Status == domain.InvitationPending || inv.Status == domain.InvitationActivated) &&
			inv.QRExpiresAt != nil && inv.QRExpiresAt.Before(now) {
			inv.Status = domain.InvitationExpired
			n++
		}
	}
	return n, nil
}

// The repo interfaces overlap on method names (Create, FindByID), so the
// store exposes narrow views instead of implementing everything itself.

type ConsentStore struct{ *Store }

func (c ConsentStore) Create(ctx context.Context, guestID int64, acceptedAt time.Time) (*domain.Acceptance, error) {
	return c.CreateConsent(ctx, guestID, acceptedAt)
}

type HostStore struct{ *Store }

func (h HostStore) FindByID(ctx context.Context, id int64) (*domain.Host, error) {
	return h.FindHostByID(ctx, id)
}

func (h HostStore) FindByEmail(ctx context.Context, email string) (*domain.Host, error) {
	return h.FindHostByEmail(ctx, email)
}

type LocationStore struct{ *Store }

func (l LocationStore) FindByID(ctx context.Context, id int64) (*domain.Location, error) {
	return l.FindLocationByID(ctx, id)
}

type PolicyStore struct{ *Store }

func (p PolicyStore) Get(ctx context.Context) (domain.Policy, error) {
	return p.GetPolicy(ctx)
}

func (p PolicyStore) Update(ctx context.Context, pol domain.Policy) error {
	return p.UpdatePolicy(ctx, pol)
}

type InvitationStore struct{ *Store }

func (i InvitationStore) Create(ctx context.Context, guestID, hostID, locationID int64, qrToken string, qrExpiresAt *time.Time) (*domain.Invitation, error) {
	return i.CreateInvitation(ctx, guestID, hostID, locationID, qrToken, qrExpiresAt)
}

func (i InvitationStore) FindByToken(ctx context.Context, qrToken string) (*domain.Invitation, error) {
	return i.FindInvitationByToken(ctx, qrToken)
}

func (i InvitationStore) UpdateStatus(ctx context.Context, id int64, from, to domain.InvitationStatus) (bool, error) {
	return i.UpdateInvitationStatus(ctx, id, from, to)
}

var (
	_ repo.GuestRepository      = (*Store)(nil)
	_ repo.VisitRepository      = (*Store)(nil)
	_ repo.DiscountRepository   = (*Store)(nil)
	_ repo.ConsentRepository    = ConsentStore{}
	_ repo.HostRepository       = HostStore{}
	_ repo.LocationRepository   = LocationStore{}
	_ repo.PolicyRepository     = PolicyStore{}
	_ repo.InvitationRepository = InvitationStore{}
)
