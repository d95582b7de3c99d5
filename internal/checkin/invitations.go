package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatewise/guestgate/internal/clock"
	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/platform/mailer"
	"github.com/gatewise/guestgate/internal/repo"
	"github.com/gatewise/guestgate/pkg/auth"
	"github.com/gatewise/guestgate/pkg/config"
	"github.com/gatewise/guestgate/pkg/events"
	"github.com/gatewise/guestgate/pkg/logger"
)

var (
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrUnknownHost        = errors.New("unknown host")
	ErrUnknownLocation    = errors.New("unknown location")
)

// InvitationService issues pre-authorized QR invitations and walks them
// through PENDING -> ACTIVATED. The check-in path moves them to CHECKED_IN.
type InvitationService struct {
	guests      repo.GuestRepository
	hosts       repo.HostRepository
	locations   repo.LocationRepository
	invitations repo.InvitationRepository
	mail        mailer.Service
	bus         events.Publisher
	clock       *clock.Clock
	cfg         config.CheckInConfig
}

func NewInvitationService(
	guests repo.GuestRepository,
	hosts repo.HostRepository,
	locations repo.LocationRepository,
	invitations repo.InvitationRepository,
	mail mailer.Service,
	bus events.Publisher,
	clk *clock.Clock,
	cfg config.CheckInConfig,
) *InvitationService {
	return &InvitationService{
		guests:      guests,
		hosts:       hosts,
		locations:   locations,
		invitations: invitations,
		mail:        mail,
		bus:         bus,
		clock:       clk,
		cfg:         cfg,
	}
}

type CreateInvitationInput struct {
	GuestEmail string `json:"guestEmail"`
	GuestName  string `json:"guestName"`
	GuestPhone string `json:"guestPhone,omitempty"`
	HostID     int64  `json:"hostId"`
	LocationID int64  `json:"locationId"`
}

// Create registers the guest if needed and issues a signed QR token for them.
// Creating an invitation never auto-renews a lapsed consent; the guest
// re-consents at the door.
func (s *InvitationService) Create(ctx context.Context, in CreateInvitationInput) (*domain.Invitation, error) {
	host, err := s.hosts.FindByID(ctx, in.HostID)
	if err != nil {
		return nil, fmt.Errorf("resolve host: %w", err)
	}
	if host == nil {
		return nil, ErrUnknownHost
	}

	loc, err := s.locations.FindByID(ctx, in.LocationID)
	if err != nil {
		return nil, fmt.Errorf("resolve location: %w", err)
	}
	if loc == nil {
		return nil, ErrUnknownLocation
	}

	guest, err := s.guests.CreateOrFetch(ctx, in.GuestEmail, in.GuestName, in.GuestPhone)
	if err != nil {
		return nil, fmt.Errorf("register guest: %w", err)
	}

	token, err := auth.NewGuestQRToken(guest.Email, guest.Name, s.cfg.QRSecret, s.cfg.QRTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign qr token: %w", err)
	}

	var expiresAt *time.Time
	if s.cfg.QRTokenTTL > 0 {
		t := s.clock.Now().Add(s.cfg.QRTokenTTL)
		expiresAt = &t
	}

	inv, err := s.invitations.Create(ctx, guest.ID, host.ID, loc.ID, token, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	if s.bus != nil {
		event := events.InvitationCreatedEvent{
			InvitationID: inv.ID,
			GuestEmail:   guest.Email,
			HostID:       host.ID,
			LocationID:   loc.ID,
			QRExpiresAt:  expiresAt,
			CreatedAt:    inv.CreatedAt,
		}
		if err := s.bus.Publish(ctx, events.InvitationCreated, event); err != nil {
			logger.ErrorContext(ctx, "Invitation: event publish failed", "error", err, "invitation_id", inv.ID)
		}
	}

	if s.mail != nil {
		qrLink := fmt.Sprintf("guestgate://checkin?token=%s", token)
		if err := s.mail.SendInvitation(guest.Email, guest.Name, host.Name, qrLink); err != nil {
			logger.ErrorContext(ctx, "Invitation: email send failed", "error", err, "email", guest.Email)
		}
	}

	return inv, nil
}

// Activate marks a pending invitation as scanned by the guest. Activating an
// already activated invitation is a no-op success.
func (s *InvitationService) Activate(ctx context.Context, qrToken string) (*domain.Invitation, error) {
	inv, err := s.invitations.FindByToken(ctx, qrToken)
	if err != nil {
		return nil, fmt.Errorf("find invitation: %w", err)
	}
	if inv == nil {
		return nil, ErrInvitationNotFound
	}

	now := s.clock.Now()
	if inv.QRExpiresAt != nil && !inv.QRExpiresAt.After(now) {
		if _, err := s.invitations.UpdateStatus(ctx, inv.ID, inv.Status, domain.InvitationExpired); err != nil {
			logger.WarnContext(ctx, "Invitation: expiry transition failed", "error", err, "invitation_id", inv.ID)
		}
		return nil, ErrInvitationExpired
	}

	switch inv.Status {
	case domain.InvitationActivated, domain.InvitationCheckedIn:
		return inv, nil
	case domain.InvitationExpired:
		return nil, ErrInvitationExpired
	}

	moved, err := s.invitations.UpdateStatus(ctx, inv.ID, domain.InvitationPending, domain.InvitationActivated)
	if err != nil {
		return nil, fmt.Errorf("activate invitation: %w", err)
	}
	if moved {
		inv.Status = domain.InvitationActivated
		if s.bus != nil {
			guest, _ := s.guests.FindByID(ctx, inv.GuestID)
			event := events.InvitationActivatedEvent{
				InvitationID: inv.ID,
				HostID:       inv.HostID,
				ActivatedAt:  now,
			}
			if guest != nil {
				event.GuestEmail = guest.Email
			}
			if err := s.bus.Publish(ctx, events.InvitationActivated, event); err != nil {
				logger.ErrorContext(ctx, "Invitation: event publish failed", "error", err, "invitation_id", inv.ID)
			}
		}
	}
	return inv, nil
}

// ExpireStale sweeps pending/activated invitations whose QR token lapsed.
func (s *InvitationService) ExpireStale(ctx context.Context) (int64, error) {
	return s.invitations.ExpireStale(ctx, s.clock.Now())
}

// RunExpirySweep runs ExpireStale on an interval until the context closes.
// Meant to be launched as a goroutine from main.
func (s *InvitationService) RunExpirySweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Invitation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "Invitation sweep expired stale invitations", "count", n)
			}
		}
	}
}
