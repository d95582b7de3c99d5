// Package qr parses and authenticates scanned QR payloads into guest
// references. Parsing failures produce structured outcomes, never faults: a
// bad payload must not abort a batch or crash a kiosk request.
package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/pkg/auth"
)

// GuestRef is one guest referenced by a payload.
type GuestRef struct {
	Email string `json:"e"`
	Name  string `json:"n"`
	Phone string `json:"p,omitempty"`
}

// Payload is the decoded multi-guest batch form. A nil ExpiresAt marks a
// durable host-held QR that never expires.
type Payload struct {
	Guests    []GuestRef `json:"guests"`
	HostID    *int64     `json:"hostId,omitempty"`
	EventID   *int64     `json:"eventId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Signature string     `json:"signature,omitempty"`
}

// Result is the outcome of validating a scanned payload. Exactly one of
// Valid/Reason is meaningful.
type Result struct {
	Valid   bool
	Reason  domain.Reason
	Guests  []GuestRef
	HostID  *int64
	EventID *int64
}

func invalid(reason domain.Reason) Result {
	return Result{Valid: false, Reason: reason}
}

// Validator authenticates scanned payloads against the shared QR secret.
type Validator struct {
	secret string
}

func NewValidator(secret string) *Validator {
	return &Validator{secret: secret}
}

// single-guest direct form: { e, n, p?, h?, t? }
type singlePayload struct {
	Email  string `json:"e"`
	Name   string `json:"n"`
	Phone  string `json:"p"`
	HostID *int64 `json:"h"`
	Token  string `json:"t"`
}

// Validate decodes raw scanned data and authenticates it at the given
// instant. It accepts the signed single-guest token form, the direct
// single-guest form, and the unsigned or HMAC-signed batch form.
func (v *Validator) Validate(raw string, now time.Time) Result {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return invalid(domain.ReasonInvalidQRFormat)
	}

	// A bare JWT (no JSON braces) is the legacy signed token.
	if !strings.HasPrefix(raw, "{") {
		return v.validateToken(raw)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return invalid(domain.ReasonInvalidQRFormat)
	}

	if _, ok := probe["guests"]; ok {
		return v.validateBatch(raw, now)
	}
	return v.validateSingle(raw)
}

// ValidateToken authenticates the legacy signed single-guest reference.
func (v *Validator) ValidateToken(token string) Result {
	return v.validateToken(token)
}

func (v *Validator) validateToken(token string) Result {
	claims, err := auth.Parse(token, v.secret)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return invalid(domain.ReasonQRExpired)
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return invalid(domain.ReasonInvalidSignature)
		}
		return invalid(domain.ReasonInvalidQRFormat)
	}
	if claims.Role != "qr" || claims.Email == "" {
		return invalid(domain.ReasonInvalidQRFormat)
	}
	return Result{
		Valid:  true,
		Guests: []GuestRef{{Email: claims.Email, Name: claims.Name}},
	}
}

func (v *Validator) validateSingle(raw string) Result {
	var p singlePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return invalid(domain.ReasonInvalidQRFormat)
	}
	if p.Token != "" {
		res := v.validateToken(p.Token)
		if res.Valid && res.HostID == nil {
			res.HostID = p.HostID
		}
		return res
	}
	if p.Email == "" || p.Name == "" {
		return invalid(domain.ReasonInvalidQRFormat)
	}
	return Result{
		Valid:  true,
		Guests: []GuestRef{{Email: p.Email, Name: p.Name, Phone: p.Phone}},
		HostID: p.HostID,
	}
}

func (v *Validator) validateBatch(raw string, now time.Time) Result {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return invalid(domain.ReasonInvalidQRFormat)
	}
	if len(p.Guests) == 0 {
		return invalid(domain.ReasonInvalidQRFormat)
	}
	for _, g := range p.Guests {
		if g.Email == "" || g.Name == "" {
			return invalid(domain.ReasonInvalidQRFormat)
		}
	}

	// Signature mismatch invalidates the payload regardless of expiry.
	if p.Signature != "" {
		expected := Sign(p, v.secret)
		if !hmac.Equal([]byte(strings.ToLower(p.Signature)), []byte(expected)) {
			return invalid(domain.ReasonInvalidSignature)
		}
	}

	// Null expiry is a durable host-held QR. A past expiry, including the
	// current instant, is rejected.
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return invalid(domain.ReasonQRExpired)
	}

	return Result{
		Valid:   true,
		Guests:  p.Guests,
		HostID:  p.HostID,
		EventID: p.EventID,
	}
}

// Sign computes the hex HMAC-SHA256 of the payload's canonical string. The
// signature field itself is excluded from the signed content.
func Sign(p Payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingString(p)))
	return hex.EncodeToString(mac.Sum(nil))
}

func signingString(p Payload) string {
	var b strings.Builder
	b.WriteString("v1")
	for _, g := range p.Guests {
		fmt.Fprintf(&b, "|%s,%s", g.Email, g.Name)
	}
	if p.HostID != nil {
		fmt.Fprintf(&b, "|host=%d", *p.HostID)
	} else {
		b.WriteString("|host=null")
	}
	if p.EventID != nil {
		fmt.Fprintf(&b, "|event=%d", *p.EventID)
	} else {
		b.WriteString("|event=null")
	}
	if p.ExpiresAt != nil {
		b.WriteString("|exp=" + p.ExpiresAt.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("|exp=null")
	}
	return b.String()
}
