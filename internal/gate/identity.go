package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

// BlacklistGate bars guests with a blacklist timestamp. Guests the system
// has never seen are eligible; the blacklist is opt-in, not default-deny.
type BlacklistGate struct{}

func NewBlacklistGate() *BlacklistGate {
	return &BlacklistGate{}
}

func (g *BlacklistGate) Check(guest *domain.Guest) Outcome {
	if guest.Blacklisted() {
		return Deny(domain.ReasonBlacklisted)
	}
	return Allow()
}

// AcceptanceGate requires a current consent record. In the returning-guest
// flow an expired consent is renewed in place ("implicit re-acceptance on a
// repeat physical visit") instead of hard-rejecting.
type AcceptanceGate struct {
	consents repo.ConsentRepository
}

func NewAcceptanceGate(consents repo.ConsentRepository) *AcceptanceGate {
	return &AcceptanceGate{consents: consents}
}

// Check evaluates the guest's consent standing at now. renewExpired is true
// only for the returning-guest check-in flow, never for cold invitation
// creation.
func (g *AcceptanceGate) Check(ctx context.Context, guestID int64, now time.Time, renewExpired bool) (Outcome, error) {
	latest, err := g.consents.FindLatest(ctx, guestID)
	if err != nil {
		return Outcome{}, fmt.Errorf("find latest consent: %w", err)
	}
	if latest == nil {
		return Deny(domain.ReasonConsentMissing), nil
	}
	if !latest.Expired(now) {
		return Allow(), nil
	}
	if !renewExpired {
		return Deny(domain.ReasonConsentMissing), nil
	}

	// The guest did consent before; a failed renewal write is a system
	// fault, distinct from never having consented.
	if _, err := g.consents.Create(ctx, guestID, now); err != nil {
		return Deny(domain.ReasonConsentRenewalFailed), nil
	}
	return Allow(), nil
}
