// Package gate holds the admission eligibility checks. Every gate returns a
// structured Outcome rather than an error; errors are reserved for the
// backing store being unavailable.
package gate

import (
	"time"

	"github.com/gatewise/guestgate/internal/domain"
)

// Outcome is one gate's verdict. Quota gates fill Current/Max so an override
// UI can show "3/3 at capacity"; the rolling-window limiter fills
// NextEligibleAt so the guest knows when to come back.
type Outcome struct {
	Allowed        bool           `json:"allowed"`
	Reason         domain.Reason  `json:"reason,omitempty"`
	Current        int            `json:"current,omitempty"`
	Max            int            `json:"max,omitempty"`
	NextEligibleAt *time.Time     `json:"next_eligible_at,omitempty"`
	CurrentHost    *domain.Host   `json:"current_host,omitempty"`
}

func Allow() Outcome {
	return Outcome{Allowed: true}
}

func Deny(reason domain.Reason) Outcome {
	return Outcome{Allowed: false, Reason: reason}
}

// Overridable reports whether a security/admin actor may bypass this denial.
func (o Outcome) Overridable() bool {
	return !o.Allowed && o.Reason.Overridable()
}
