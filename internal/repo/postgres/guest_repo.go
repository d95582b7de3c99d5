package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

type guestRepository struct {
	pool *pgxpool.Pool
}

func NewGuestRepository(pool *pgxpool.Pool) repo.GuestRepository {
	return &guestRepository{pool: pool}
}

const guestCols = `id, email, name, phone, country, blacklisted_at, created_at, updated_at`

func scanGuest(row pgx.Row) (*domain.Guest, error) {
	var g domain.Guest
	err := row.Scan(&g.ID, &g.Email, &g.Name, &g.Phone, &g.Country, &g.BlacklistedAt, &g.CreatedAt, &g.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateOrFetch registers a guest on first sighting, or refreshes the stored
// name on a repeat scan. Guests are never hard-deleted.
func (r *guestRepository) CreateOrFetch(ctx context.Context, email, name, phone string) (*domain.Guest, error) {
	const q = `INSERT INTO guests (email, name, phone)
		VALUES (lower($1), $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			name = CASE WHEN $2 != '' THEN $2 ELSE guests.name END,
			phone = CASE WHEN $3 != '' THEN $3 ELSE guests.phone END,
			updated_at = now()
		RETURNING ` + guestCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanGuest(r.pool.QueryRow(ctx, q, email, name, phone))
}

func (r *guestRepository) FindByEmail(ctx context.Context, email string) (*domain.Guest, error) {
	const q = `SELECT ` + guestCols + ` FROM guests WHERE email=lower($1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanGuest(r.pool.QueryRow(ctx, q, email))
}

func (r *guestRepository) FindByID(ctx context.Context, id int64) (*domain.Guest, error) {
	const q = `SELECT ` + guestCols + ` FROM guests WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanGuest(r.pool.QueryRow(ctx, q, id))
}

func (r *guestRepository) SetBlacklisted(ctx context.Context, id int64, at *time.Time) error {
	const q = `UPDATE guests SET blacklisted_at=$2, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, id, at)
	return err
}
