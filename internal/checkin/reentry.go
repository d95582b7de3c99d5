package checkin

import (
	"context"
	"fmt"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

// ReEntry describes an open visit found before the gates run. A repeat scan
// is a success either way: same host means an idempotent re-scan, a
// different host means the guest was never checked out elsewhere — we report
// who currently owns them rather than punishing the guest.
type ReEntry struct {
	Visit       *domain.Visit
	SameHost    bool
	CurrentHost *domain.Host
}

// ReEntryDetector short-circuits the pipeline when the guest already holds
// an open visit, preventing duplicate rows on repeated scans.
type ReEntryDetector struct {
	visits repo.VisitRepository
	hosts  repo.HostRepository
}

func NewReEntryDetector(visits repo.VisitRepository, hosts repo.HostRepository) *ReEntryDetector {
	return &ReEntryDetector{visits: visits, hosts: hosts}
}

// Detect returns nil when the guest has no open visit.
func (d *ReEntryDetector) Detect(ctx context.Context, guestID, hostID int64) (*ReEntry, error) {
	open, err := d.visits.FindOpenVisit(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("find open visit: %w", err)
	}
	if open == nil {
		return nil, nil
	}

	re := &ReEntry{Visit: open, SameHost: open.HostID == hostID}
	if !re.SameHost {
		owner, err := d.hosts.FindByID(ctx, open.HostID)
		if err != nil {
			return nil, fmt.Errorf("resolve owning host: %w", err)
		}
		re.CurrentHost = owner
	}
	return re, nil
}
