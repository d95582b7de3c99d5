// Package reward turns a milestone discount into something redeemable. The
// Stripe issuer mints a single-use promotion code; when Stripe is not
// configured the local discount code stands on its own.
package reward

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/coupon"
	"github.com/stripe/stripe-go/v76/promotioncode"
)

type Issuer interface {
	// IssuePromoCode registers the code with the payment provider and
	// returns the redeemable code, which may differ from the input.
	IssuePromoCode(ctx context.Context, code, guestEmail string) (string, error)
}

type StripeIssuer struct {
	enabled bool
}

func NewStripeIssuer(secretKey string) *StripeIssuer {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return &StripeIssuer{enabled: secretKey != ""}
}

func (s *StripeIssuer) IssuePromoCode(ctx context.Context, code, guestEmail string) (string, error) {
	if !s.enabled {
		return code, nil
	}

	c, err := coupon.New(&stripe.CouponParams{
		PercentOff: stripe.Float64(10),
		Duration:   stripe.String(string(stripe.CouponDurationOnce)),
		Name:       stripe.String("Third visit reward"),
	})
	if err != nil {
		return "", fmt.Errorf("create coupon: %w", err)
	}

	pc, err := promotioncode.New(&stripe.PromotionCodeParams{
		Coupon:         stripe.String(c.ID),
		Code:           stripe.String(code),
		MaxRedemptions: stripe.Int64(1),
		Metadata: map[string]string{
			"guest_email": guestEmail,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create promotion code: %w", err)
	}
	return pc.Code, nil
}
