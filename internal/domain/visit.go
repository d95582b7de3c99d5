package domain

import "time"

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "PENDING"
	InvitationActivated InvitationStatus = "ACTIVATED"
	InvitationCheckedIn InvitationStatus = "CHECKED_IN"
	InvitationExpired   InvitationStatus = "EXPIRED"
)

func ParseInvitationStatus(s string) (InvitationStatus, bool) {
	switch InvitationStatus(s) {
	case InvitationPending, InvitationActivated, InvitationCheckedIn, InvitationExpired:
		return InvitationStatus(s), true
	default:
		return "", false
	}
}

// Invitation is a pre-authorized guest/host/location tuple. A QR payload may
// reference one through its token.
type Invitation struct {
	ID          int64            `json:"id"`
	GuestID     int64            `json:"guest_id"`
	HostID      int64            `json:"host_id"`
	LocationID  int64            `json:"location_id"`
	Status      InvitationStatus `json:"status"`
	QRToken     string           `json:"qr_token"`
	QRIssuedAt  time.Time        `json:"qr_issued_at"`
	QRExpiresAt *time.Time       `json:"qr_expires_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Visit records a single successful admission decision. CheckedInAt is set
// exactly once; a null CheckedOutAt means the guest is still inside.
type Visit struct {
	ID             int64      `json:"id"`
	GuestID        int64      `json:"guest_id"`
	HostID         int64      `json:"host_id"`
	LocationID     *int64     `json:"location_id,omitempty"`
	CheckedInAt    time.Time  `json:"checked_in_at"`
	CheckedOutAt   *time.Time `json:"checked_out_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	OverrideReason *string    `json:"override_reason,omitempty"`
	OverrideBy     *int64     `json:"override_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (v *Visit) Open() bool {
	return v != nil && !v.CheckedInAt.IsZero() && v.CheckedOutAt == nil
}

type NewVisit struct {
	GuestID        int64
	HostID         int64
	LocationID     *int64
	CheckedInAt    time.Time
	ExpiresAt      time.Time
	OverrideReason *string
	OverrideBy     *int64
}
