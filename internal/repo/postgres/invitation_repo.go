package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

type invitationRepository struct {
	pool *pgxpool.Pool
}

func NewInvitationRepository(pool *pgxpool.Pool) repo.InvitationRepository {
	return &invitationRepository{pool: pool}
}

const invitationCols = `id, guest_id, host_id, location_id, status,
qr_token, qr_issued_at, qr_expires_at, created_at`

func scanInvitation(row pgx.Row) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := row.Scan(
		&inv.ID, &inv.GuestID, &inv.HostID, &inv.LocationID, &inv.Status,
		&inv.QRToken, &inv.QRIssuedAt, &inv.QRExpiresAt, &inv.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invitationRepository) Create(ctx context.Context, guestID, hostID, locationID int64, qrToken string, qrExpiresAt *time.Time) (*domain.Invitation, error) {
	const q = `INSERT INTO invitations (
		guest_id, host_id, location_id, status, qr_token, qr_issued_at, qr_expires_at
	) VALUES ($1,$2,$3,'PENDING',$4,now(),$5)
	RETURNING ` + invitationCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanInvitation(r.pool.QueryRow(ctx, q, guestID, hostID, locationID, qrToken, qrExpiresAt))
}

func (r *invitationRepository) FindByToken(ctx context.Context, qrToken string) (*domain.Invitation, error) {
	const q = `SELECT ` + invitationCols + ` FROM invitations WHERE qr_token=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanInvitation(r.pool.QueryRow(ctx, q, qrToken))
}

// UpdateStatus moves an invitation along its lifecycle only when it is still
// in the expected state, so concurrent scans cannot double-advance it.
func (r *invitationRepository) UpdateStatus(ctx context.Context, id int64, from, to domain.InvitationStatus) (bool, error) {
	const q = `UPDATE invitations SET status=$3 WHERE id=$1 AND status=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id, from, to)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *invitationRepository) MarkCheckedIn(ctx context.Context, guestID, hostID int64) error {
	const q = `UPDATE invitations SET status='CHECKED_IN'
		WHERE guest_id=$1 AND host_id=$2 AND status IN ('PENDING','ACTIVATED')`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, guestID, hostID)
	return err
}

func (r *invitationRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE invitations SET status='EXPIRED'
		WHERE status IN ('PENDING','ACTIVATED')
		AND qr_expires_at IS NOT NULL AND qr_expires_at < $1`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
