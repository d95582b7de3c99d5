package checkin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/platform/mailer"
	"github.com/gatewise/guestgate/internal/platform/reward"
	"github.com/gatewise/guestgate/internal/repo"
	"github.com/gatewise/guestgate/pkg/events"
	"github.com/gatewise/guestgate/pkg/logger"
)

// DiscountTrigger fires the one-time reward exactly at the milestone visit
// count. Everything here is best effort: a failure is logged and swallowed,
// never allowed to roll back a successful check-in.
type DiscountTrigger struct {
	visits    repo.VisitRepository
	discounts repo.DiscountRepository
	rewards   reward.Issuer
	mail      mailer.Service
	bus       events.Publisher
}

func NewDiscountTrigger(visits repo.VisitRepository, discounts repo.DiscountRepository, rewards reward.Issuer, mail mailer.Service, bus events.Publisher) *DiscountTrigger {
	return &DiscountTrigger{
		visits:    visits,
		discounts: discounts,
		rewards:   rewards,
		mail:      mail,
		bus:       bus,
	}
}

// Evaluate runs after a visit is persisted. It returns true only when the
// reward was newly granted; off-milestone counts and guests who already hold
// a discount are no-ops. The unique discount-per-guest constraint makes this
// safe under concurrent check-ins: the losing writer simply sees "already
// exists".
func (t *DiscountTrigger) Evaluate(ctx context.Context, guest *domain.Guest) bool {
	count, err := t.visits.CountLifetimeVisits(ctx, guest.ID)
	if err != nil {
		logger.ErrorContext(ctx, "Discount eval: counting visits failed", "error", err, "guest_id", guest.ID)
		return false
	}
	if count != domain.DiscountMilestone {
		return false
	}

	code := newDiscountCode()
	discount, created, err := t.discounts.CreateIfAbsent(ctx, guest.ID, code)
	if err != nil {
		logger.ErrorContext(ctx, "Discount eval: create failed", "error", err, "guest_id", guest.ID)
		return false
	}
	if !created {
		return false
	}

	if t.rewards != nil {
		if issued, err := t.rewards.IssuePromoCode(ctx, discount.Code, guest.Email); err != nil {
			logger.ErrorContext(ctx, "Discount eval: promo code issue failed", "error", err, "guest_id", guest.ID)
		} else {
			discount.Code = issued
		}
	}

	if err := t.mail.SendDiscount(guest.Email, guest.Name, discount.Code); err != nil {
		logger.ErrorContext(ctx, "Discount eval: mail failed", "error", err, "guest_id", guest.ID)
	}

	if t.bus != nil {
		event := events.DiscountGrantedEvent{
			GuestEmail: guest.Email,
			GuestName:  guest.Name,
			Code:       discount.Code,
			VisitCount: count,
			GrantedAt:  time.Now(),
		}
		if err := t.bus.Publish(ctx, events.DiscountGranted, event); err != nil {
			logger.ErrorContext(ctx, "Discount eval: publish failed", "error", err, "guest_id", guest.ID)
		}
	}

	return true
}

func newDiscountCode() string {
	return fmt.Sprintf("VISIT3-%s", strings.ToUpper(uuid.NewString()[:8]))
}
