package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists per-user quota rows. Rows are created lazily on first
// request and never hard-deleted; their lifecycle follows the owning user.
type Repository interface {
	// GetOrCreate returns the user's quota row, creating it with the given
	// default limits when absent.
	GetOrCreate(ctx context.Context, userID uuid.UUID, defaults TierLimits, now time.Time) (*UserQuota, error)

	// SetTier overwrites the tier and every limit field from the catalog.
	// Usage counters are untouched: a mid-window tier change raises or
	// lowers the ceiling without restarting the window.
	SetTier(ctx context.Context, userID uuid.UUID, tier Tier, limits TierLimits, now time.Time) (*UserQuota, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed quota Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const quotaColumns = `user_id, tier, requests_per_hour, requests_per_day, requests_per_month,
	        storage_gb::text, concurrent_requests, reset_at, created_at, updated_at`

func (r *postgresRepository) GetOrCreate(ctx context.Context, userID uuid.UUID, defaults TierLimits, now time.Time) (*UserQuota, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO quotas (user_id, tier, requests_per_hour, requests_per_day, requests_per_month,
		                     storage_gb, concurrent_requests, reset_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, TierFree, defaults.RequestsPerHour, defaults.RequestsPerDay, defaults.RequestsPerMonth,
		defaults.StorageGB.String(), defaults.ConcurrentRequests, NextReset(now, PeriodHour))
	if err != nil {
		return nil, fmt.Errorf("%w: ensuring quota row: %v", ErrStorage, err)
	}

	q, err := r.get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching quota row: %v", ErrStorage, err)
	}
	return q, nil
}

func (r *postgresRepository) SetTier(ctx context.Context, userID uuid.UUID, tier Tier, limits TierLimits, now time.Time) (*UserQuota, error) {
	_, err := r.pool.Exec(ctx,
		`UPDATE quotas
		 SET tier = $2,
		     requests_per_hour = $3,
		     requests_per_day = $4,
		     requests_per_month = $5,
		     storage_gb = $6::numeric,
		     concurrent_requests = $7,
		     updated_at = NOW()
		 WHERE user_id = $1`,
		userID, tier, limits.RequestsPerHour, limits.RequestsPerDay, limits.RequestsPerMonth,
		limits.StorageGB.String(), limits.ConcurrentRequests)
	if err != nil {
		return nil, fmt.Errorf("updating quota tier: %w", err)
	}

	q, err := r.get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching quota after tier change: %w", err)
	}
	return q, nil
}

func (r *postgresRepository) get(ctx context.Context, userID uuid.UUID) (*UserQuota, error) {
	var q UserQuota
	var storage string
	err := r.pool.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM quotas WHERE user_id = $1`, userID,
	).Scan(&q.UserID, &q.Tier, &q.RequestsPerHour, &q.RequestsPerDay, &q.RequestsPerMonth,
		&storage, &q.ConcurrentRequests, &q.ResetAt, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}

	q.StorageGB, err = decimal.NewFromString(storage)
	if err != nil {
		return nil, fmt.Errorf("parsing storage_gb %q: %w", storage, err)
	}
	return &q, nil
}
