package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

type consentRepository struct {
	pool *pgxpool.Pool
}

func NewConsentRepository(pool *pgxpool.Pool) repo.ConsentRepository {
	return &consentRepository{pool: pool}
}

func (r *consentRepository) FindLatest(ctx context.Context, guestID int64) (*domain.Acceptance, error) {
	const q = `SELECT id, guest_id, accepted_at FROM acceptances
		WHERE guest_id=$1 ORDER BY accepted_at DESC LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var a domain.Acceptance
	err := r.pool.QueryRow(ctx, q, guestID).Scan(&a.ID, &a.GuestID, &a.AcceptedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *consentRepository) Create(ctx context.Context, guestID int64, acceptedAt time.Time) (*domain.Acceptance, error) {
	const q = `INSERT INTO acceptances (guest_id, accepted_at)
		VALUES ($1, $2) RETURNING id, guest_id, accepted_at`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var a domain.Acceptance
	err := r.pool.QueryRow(ctx, q, guestID, acceptedAt).Scan(&a.ID, &a.GuestID, &a.AcceptedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
