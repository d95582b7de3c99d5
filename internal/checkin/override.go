package checkin

import (
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"

	"github.com/gatewise/guestgate/internal/domain"
)

var (
	// ErrOverrideNotAuthorized means the actor's role carries no override
	// authority, or overrides are disabled entirely.
	ErrOverrideNotAuthorized = errors.New("actor not authorized to override")
	// ErrOverridePasswordIncorrect is reported specifically so a retry UI
	// can keep the same dialog open.
	ErrOverridePasswordIncorrect = errors.New("override password incorrect")
	// ErrOverrideReasonRequired rejects an override without an audit reason.
	ErrOverrideReasonRequired = errors.New("override reason is required")
)

// OverrideAuthorizer permits a security or admin actor to bypass a quota
// failure with an audited reason. Identity-gate failures are never routed
// here.
type OverrideAuthorizer struct {
	passwordHash string // argon2id encoded hash of the shared override password
}

func NewOverrideAuthorizer(passwordHash string) *OverrideAuthorizer {
	return &OverrideAuthorizer{passwordHash: passwordHash}
}

func (a *OverrideAuthorizer) Authorize(actor *domain.Host, password, reason string) error {
	if a.passwordHash == "" || !actor.CanOverride() {
		return ErrOverrideNotAuthorized
	}
	if strings.TrimSpace(reason) == "" {
		return ErrOverrideReasonRequired
	}

	match, err := argon2id.ComparePasswordAndHash(password, a.passwordHash)
	if err != nil || !match {
		return ErrOverridePasswordIncorrect
	}
	return nil
}
