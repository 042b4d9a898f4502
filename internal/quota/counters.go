package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerly-hq/ledgerly/internal/metrics"
)

// ErrStorage wraps backing-store failures on the counter path. The engine
// fails closed on it: a request is denied, never admitted, when the store
// cannot answer.
var ErrStorage = errors.New("usage counter storage unavailable")

// CounterStore is the durable increment-and-read layer under admission
// control. Increments for the same (user, period, window) key are atomic and
// linearizable; the returned count always reflects the caller's own
// increment.
type CounterStore interface {
	// IncrementAndGet atomically bumps the aggregate counter for the window
	// containing now and returns the post-increment count. The per-endpoint
	// breakdown row is updated best-effort and never affects the result.
	IncrementAndGet(ctx context.Context, userID uuid.UUID, period Period, endpoint string, now time.Time) (int64, error)

	// Get returns the aggregate count for the current window, zero if the
	// window has no record yet. Read-only; never materializes a row.
	Get(ctx context.Context, userID uuid.UUID, period Period, now time.Time) (int64, error)

	// Reset deletes the user's current-window records for all periods,
	// endpoint breakdowns included. Administrative use only.
	Reset(ctx context.Context, userID uuid.UUID, now time.Time) error

	// History returns aggregate records for the period with window starts in
	// [from, to], ordered by window start ascending.
	History(ctx context.Context, userID uuid.UUID, period Period, from, to time.Time, limit int) ([]UsageRecord, error)

	// TopEndpoints ranks per-endpoint counts within the current window of
	// the period, count descending, ties broken by endpoint name ascending.
	TopEndpoints(ctx context.Context, userID uuid.UUID, period Period, now time.Time, limit int) ([]EndpointCount, error)
}

type postgresCounterStore struct {
	pool *pgxpool.Pool
}

// NewCounterStore creates a PostgreSQL-backed CounterStore.
func NewCounterStore(pool *pgxpool.Pool) CounterStore {
	return &postgresCounterStore{pool: pool}
}

// aggregateEndpoint marks the per-window aggregate row. Real endpoints are
// always non-empty paths, so the sentinel cannot collide.
const aggregateEndpoint = ""

func (s *postgresCounterStore) IncrementAndGet(ctx context.Context, userID uuid.UUID, period Period, endpoint string, now time.Time) (int64, error) {
	windowStart := WindowStart(now, period)
	start := time.Now()

	// The upsert is the single atomic primitive the whole engine leans on.
	// No caller ever reads and conditionally writes these rows in two steps.
	var count int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO usage_records (user_id, period, window_start, endpoint, count)
		 VALUES ($1, $2, $3, $4, 1)
		 ON CONFLICT (user_id, period, window_start, endpoint)
		 DO UPDATE SET count = usage_records.count + 1, updated_at = NOW()
		 RETURNING count`,
		userID, period, windowStart, aggregateEndpoint,
	).Scan(&count)
	metrics.CounterIncrementDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("%w: incrementing %s window: %v", ErrStorage, period, err)
	}

	if endpoint != aggregateEndpoint {
		// Reporting breakdown only; a failure here must not fail admission.
		_, err := s.pool.Exec(ctx,
			`INSERT INTO usage_records (user_id, period, window_start, endpoint, count)
			 VALUES ($1, $2, $3, $4, 1)
			 ON CONFLICT (user_id, period, window_start, endpoint)
			 DO UPDATE SET count = usage_records.count + 1, updated_at = NOW()`,
			userID, period, windowStart, endpoint)
		if err != nil {
			slog.Warn("incrementing endpoint breakdown", "endpoint", endpoint, "period", period, "error", err)
		}
	}

	return count, nil
}

func (s *postgresCounterStore) Get(ctx context.Context, userID uuid.UUID, period Period, now time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM usage_records
		 WHERE user_id = $1 AND period = $2 AND window_start = $3 AND endpoint = $4`,
		userID, period, WindowStart(now, period), aggregateEndpoint,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s window: %v", ErrStorage, period, err)
	}
	return count, nil
}

func (s *postgresCounterStore) Reset(ctx context.Context, userID uuid.UUID, now time.Time) error {
	for _, period := range Periods {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM usage_records
			 WHERE user_id = $1 AND period = $2 AND window_start = $3`,
			userID, period, WindowStart(now, period))
		if err != nil {
			return fmt.Errorf("%w: resetting %s window: %v", ErrStorage, period, err)
		}
	}
	return nil
}

func (s *postgresCounterStore) History(ctx context.Context, userID uuid.UUID, period Period, from, to time.Time, limit int) ([]UsageRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, period, window_start, count, updated_at
		 FROM usage_records
		 WHERE user_id = $1 AND period = $2 AND endpoint = $3
		   AND window_start >= $4 AND window_start <= $5
		 ORDER BY window_start ASC
		 LIMIT $6`,
		userID, period, aggregateEndpoint, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying usage history: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(&rec.UserID, &rec.Period, &rec.WindowStart, &rec.Count, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *postgresCounterStore) TopEndpoints(ctx context.Context, userID uuid.UUID, period Period, now time.Time, limit int) ([]EndpointCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT endpoint, count FROM usage_records
		 WHERE user_id = $1 AND period = $2 AND window_start = $3 AND endpoint <> $4
		 ORDER BY count DESC, endpoint ASC
		 LIMIT $5`,
		userID, period, WindowStart(now, period), aggregateEndpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top endpoints: %w", err)
	}
	defer rows.Close()

	var out []EndpointCount
	for rows.Next() {
		var ec EndpointCount
		if err := rows.Scan(&ec.Endpoint, &ec.Count); err != nil {
			return nil, fmt.Errorf("scanning endpoint count: %w", err)
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}
