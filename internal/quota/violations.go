package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerly-hq/ledgerly/internal/metrics"
)

// ViolationLog is the append-only audit trail of denied requests. Record is
// fire-and-forget: enforcement never depends on it, so a failed write is
// logged locally and swallowed rather than failing the request path.
type ViolationLog interface {
	Record(ctx context.Context, v ViolationRecord)

	// ListByUser returns the user's violations, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ViolationRecord, error)
}

type postgresViolationLog struct {
	pool *pgxpool.Pool
}

// NewViolationLog creates a PostgreSQL-backed ViolationLog.
func NewViolationLog(pool *pgxpool.Pool) ViolationLog {
	return &postgresViolationLog{pool: pool}
}

func (l *postgresViolationLog) Record(ctx context.Context, v ViolationRecord) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO violations (id, user_id, endpoint, limit_type, limit_value, actual_value)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.UserID, v.Endpoint, v.LimitType, v.LimitValue, v.ActualValue)
	if err != nil {
		slog.Warn("recording quota violation",
			"user_id", v.UserID, "limit_type", v.LimitType, "error", err)
		return
	}
	metrics.QuotaViolationsTotal.WithLabelValues(string(v.LimitType)).Inc()
}

func (l *postgresViolationLog) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ViolationRecord, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, endpoint, limit_type, limit_value, actual_value, created_at
		 FROM violations
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying violations: %w", err)
	}
	defer rows.Close()

	var out []ViolationRecord
	for rows.Next() {
		var v ViolationRecord
		if err := rows.Scan(&v.ID, &v.UserID, &v.Endpoint, &v.LimitType,
			&v.LimitValue, &v.ActualValue, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
