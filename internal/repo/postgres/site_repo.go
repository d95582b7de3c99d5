package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

type hostRepository struct {
	pool *pgxpool.Pool
}

func NewHostRepository(pool *pgxpool.Pool) repo.HostRepository {
	return &hostRepository{pool: pool}
}

const hostCols = `id, email, name, role, location_id, password_hash, created_at`

func scanHost(row pgx.Row) (*domain.Host, error) {
	var h domain.Host
	err := row.Scan(&h.ID, &h.Email, &h.Name, &h.Role, &h.LocationID, &h.PasswordHash, &h.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *hostRepository) FindByID(ctx context.Context, id int64) (*domain.Host, error) {
	const q = `SELECT ` + hostCols + ` FROM hosts WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanHost(r.pool.QueryRow(ctx, q, id))
}

func (r *hostRepository) FindByEmail(ctx context.Context, email string) (*domain.Host, error) {
	const q = `SELECT ` + hostCols + ` FROM hosts WHERE email=lower($1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanHost(r.pool.QueryRow(ctx, q, email))
}

type locationRepository struct {
	pool *pgxpool.Pool
}

func NewLocationRepository(pool *pgxpool.Pool) repo.LocationRepository {
	return &locationRepository{pool: pool}
}

func (r *locationRepository) FindByID(ctx context.Context, id int64) (*domain.Location, error) {
	const q = `SELECT id, name, is_active, daily_visit_capacity, checkin_cutoff_hour, created_at
		FROM locations WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var l domain.Location
	err := r.pool.QueryRow(ctx, q, id).Scan(&l.ID, &l.Name, &l.IsActive, &l.DailyVisitCapacity, &l.CheckInCutoffHour, &l.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

type policyRepository struct {
	pool *pgxpool.Pool
}

func NewPolicyRepository(pool *pgxpool.Pool) repo.PolicyRepository {
	return &policyRepository{pool: pool}
}

// Get loads the single policy row. A missing row yields the zero Policy,
// whose accessors fall back to the safe defaults.
func (r *policyRepository) Get(ctx context.Context) (domain.Policy, error) {
	const q = `SELECT guest_monthly_limit, host_concurrent_limit FROM policies WHERE id=1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var p domain.Policy
	err := r.pool.QueryRow(ctx, q).Scan(&p.GuestMonthlyLimit, &p.HostConcurrentLimit)
	if err == pgx.ErrNoRows {
		return domain.Policy{}, nil
	}
	return p, err
}

func (r *policyRepository) Update(ctx context.Context, p domain.Policy) error {
	const q = `INSERT INTO policies (id, guest_monthly_limit, host_concurrent_limit)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			guest_monthly_limit = $1,
			host_concurrent_limit = $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, p.GuestMonthlyLimit, p.HostConcurrentLimit)
	return err
}
