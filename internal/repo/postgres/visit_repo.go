package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/repo"
)

type visitRepository struct {
	pool *pgxpool.Pool
}

func NewVisitRepository(pool *pgxpool.Pool) repo.VisitRepository {
	return &visitRepository{pool: pool}
}

const visitCols = `id, guest_id, host_id, location_id,
checked_in_at, checked_out_at, expires_at,
override_reason, override_by, created_at`

func scanVisit(row pgx.Row) (*domain.Visit, error) {
	var v domain.Visit
	err := row.Scan(
		&v.ID, &v.GuestID, &v.HostID, &v.LocationID,
		&v.CheckedInAt, &v.CheckedOutAt, &v.ExpiresAt,
		&v.OverrideReason, &v.OverrideBy, &v.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *visitRepository) CountRecentVisits(ctx context.Context, guestID int64, since time.Time) (int, error) {
	const q = `SELECT count(*) FROM visits WHERE guest_id=$1 AND checked_in_at > $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var count int
	err := r.pool.QueryRow(ctx, q, guestID, since).Scan(&count)
	return count, err
}

func (r *visitRepository) OldestRecentVisit(ctx context.Context, guestID int64, since time.Time) (*time.Time, error) {
	const q = `SELECT min(checked_in_at) FROM visits WHERE guest_id=$1 AND checked_in_at > $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var oldest *time.Time
	err := r.pool.QueryRow(ctx, q, guestID, since).Scan(&oldest)
	return oldest, err
}

func (r *visitRepository) CountActiveVisitsForHost(ctx context.Context, hostID int64, locationID *int64) (int, error) {
	q := `SELECT count(*) FROM visits WHERE host_id=$1 AND checked_out_at IS NULL`
	args := []any{hostID}
	if locationID != nil {
		q += ` AND location_id=$2`
		args = append(args, *locationID)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var count int
	err := r.pool.QueryRow(ctx, q, args...).Scan(&count)
	return count, err
}

func (r *visitRepository) CountTodayVisitsForLocation(ctx context.Context, locationID int64, dayStart, dayEnd time.Time) (int, error) {
	const q = `SELECT count(*) FROM visits WHERE location_id=$1 AND checked_in_at >= $2 AND checked_in_at < $3`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var count int
	err := r.pool.QueryRow(ctx, q, locationID, dayStart, dayEnd).Scan(&count)
	return count, err
}

func (r *visitRepository) CountLifetimeVisits(ctx context.Context, guestID int64) (int, error) {
	const q = `SELECT count(*) FROM visits WHERE guest_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var count int
	err := r.pool.QueryRow(ctx, q, guestID).Scan(&count)
	return count, err
}

func (r *visitRepository) FindOpenVisit(ctx context.Context, guestID int64) (*domain.Visit, error) {
	const q = `SELECT ` + visitCols + ` FROM visits
		WHERE guest_id=$1 AND checked_out_at IS NULL
		ORDER BY checked_in_at DESC LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanVisit(r.pool.QueryRow(ctx, q, guestID))
}

// Create inserts the visit inside a single transaction that re-checks the
// guarded counts under per-key advisory locks. The gate reads outside this
// transaction are fast-fails only; this re-check is what makes the limits
// true upper bounds when kiosks race.
func (r *visitRepository) Create(ctx context.Context, v domain.NewVisit, guard repo.VisitGuard) (*domain.Visit, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock order is fixed (host, then location/day) so two competing
	// check-ins can never deadlock.
	if guard.HostLimit > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('host_visits:' || $1::text))`, v.HostID); err != nil {
			return nil, err
		}
		q := `SELECT count(*) FROM visits WHERE host_id=$1 AND checked_out_at IS NULL`
		args := []any{v.HostID}
		if v.LocationID != nil {
			q += ` AND location_id=$2`
			args = append(args, *v.LocationID)
		}
		var count int
		if err := tx.QueryRow(ctx, q, args...).Scan(&count); err != nil {
			return nil, err
		}
		if count >= guard.HostLimit {
			return nil, &repo.LimitExceededError{Reason: domain.ReasonHostAtCapacity, Current: count, Max: guard.HostLimit}
		}
	}

	if guard.LocationCapacity > 0 && v.LocationID != nil {
		key := guard.DayStart.Format("2006-01-02")
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('location_visits:' || $1::text || ':' || $2))`, *v.LocationID, key); err != nil {
			return nil, err
		}
		var count int
		const q = `SELECT count(*) FROM visits WHERE location_id=$1 AND checked_in_at >= $2 AND checked_in_at < $3`
		if err := tx.QueryRow(ctx, q, *v.LocationID, guard.DayStart, guard.DayEnd).Scan(&count); err != nil {
			return nil, err
		}
		if count >= guard.LocationCapacity {
			return nil, &repo.LimitExceededError{Reason: domain.ReasonLocationAtCapacity, Current: count, Max: guard.LocationCapacity}
		}
	}

	const ins = `INSERT INTO visits (
		guest_id, host_id, location_id,
		checked_in_at, expires_at, override_reason, override_by
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	RETURNING ` + visitCols

	visit, err := scanVisit(tx.QueryRow(ctx, ins,
		v.GuestID, v.HostID, v.LocationID,
		v.CheckedInAt, v.ExpiresAt, v.OverrideReason, v.OverrideBy,
	))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return visit, nil
}

func (r *visitRepository) GetByID(ctx context.Context, id int64) (*domain.Visit, error) {
	const q = `SELECT ` + visitCols + ` FROM visits WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanVisit(r.pool.QueryRow(ctx, q, id))
}

func (r *visitRepository) Checkout(ctx context.Context, id int64, at time.Time) (bool, error) {
	const q = `UPDATE visits SET checked_out_at=$2 WHERE id=$1 AND checked_out_at IS NULL`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}
