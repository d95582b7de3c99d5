package domain

import "time"

type Guest struct {
	ID            int64      `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	Country       string     `json:"country"`
	BlacklistedAt *time.Time `json:"blacklisted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Blacklisted reports whether the guest is currently barred. Unknown guests
// are eligible; the blacklist is opt-in.
func (g *Guest) Blacklisted() bool {
	return g != nil && g.BlacklistedAt != nil
}

type HostRole string

const (
	RoleHost     HostRole = "host"
	RoleSecurity HostRole = "security"
	RoleAdmin    HostRole = "admin"
)

func ParseHostRole(s string) (HostRole, bool) {
	switch HostRole(s) {
	case RoleHost, RoleSecurity, RoleAdmin:
		return HostRole(s), true
	default:
		return "", false
	}
}

type Host struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         HostRole  `json:"role"`
	LocationID   *int64    `json:"location_id,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CanOverride reports whether the host's role carries override authority.
func (h *Host) CanOverride() bool {
	return h != nil && (h.Role == RoleSecurity || h.Role == RoleAdmin)
}

// Acceptance is a timestamped proof that a guest accepted the visitor terms.
// Only the latest record matters for eligibility.
type Acceptance struct {
	ID         int64     `json:"id"`
	GuestID    int64     `json:"guest_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// ConsentValidity is how long an acceptance remains usable.
const ConsentValidity = 365 * 24 * time.Hour

// Expired reports whether the acceptance is older than the consent validity
// window at the given instant. Exactly 365 days old counts as expired.
func (a *Acceptance) Expired(now time.Time) bool {
	return !a.AcceptedAt.After(now.Add(-ConsentValidity))
}

// Discount is the one-time milestone reward. At most one exists per guest;
// the unique guest binding is the idempotency guard.
type Discount struct {
	ID        int64     `json:"id"`
	GuestID   int64     `json:"guest_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// DiscountMilestone is the lifetime visit count at which the reward fires.
const DiscountMilestone = 3
