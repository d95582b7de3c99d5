package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

type discountRepository struct {
	pool *pgxpool.Pool
}

func NewDiscountRepository(pool *pgxpool.Pool) repo.DiscountRepository {
	return &discountRepository{pool: pool}
}

const discountCols = `id, guest_id, code, created_at`

// CreateIfAbsent relies on the unique index on guest_id: two concurrent
// milestone hits race to one row, and the loser reads it back instead of
// erroring.
func (r *discountRepository) CreateIfAbsent(ctx context.Context, guestID int64, code string) (*domain.Discount, bool, error) {
	const ins = `INSERT INTO discounts (guest_id, code)
		VALUES ($1, $2)
		ON CONFLICT (guest_id) DO NOTHING
		RETURNING ` + discountCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var d domain.Discount
	err := r.pool.QueryRow(ctx, ins, guestID, code).Scan(&d.ID, &d.GuestID, &d.Code, &d.CreatedAt)
	if err == nil {
		return &d, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	existing, err := r.FindByGuest(ctx, guestID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *discountRepository) FindByGuest(ctx context.Context, guestID int64) (*domain.Discount, error) {
	const q = `SELECT ` + discountCols + ` FROM discounts WHERE guest_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var d domain.Discount
	err := r.pool.QueryRow(ctx, q, guestID).Scan(&d.ID, &d.GuestID, &d.Code, &d.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
