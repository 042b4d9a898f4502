package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reporter aggregates usage and violation data for the read endpoints. It is
// strictly read-only and never sits on the admission path.
type Reporter struct {
	counters   CounterStore
	gate       *Gate
	violations ViolationLog

	now func() time.Time
}

// NewReporter creates a Reporter over the engine's stores.
func NewReporter(counters CounterStore, gate *Gate, violations ViolationLog) *Reporter {
	return &Reporter{
		counters:   counters,
		gate:       gate,
		violations: violations,
		now:        time.Now,
	}
}

// CurrentUsage returns the user's counts for the current hour/day/month
// windows plus the live in-flight request count.
func (r *Reporter) CurrentUsage(ctx context.Context, userID uuid.UUID) (*UsageSnapshot, error) {
	now := r.now()

	snap := &UsageSnapshot{Concurrent: r.gate.InFlight(userID)}
	for _, period := range Periods {
		count, err := r.counters.Get(ctx, userID, period, now)
		if err != nil {
			return nil, err
		}
		switch period {
		case PeriodHour:
			snap.Hour = count
		case PeriodDay:
			snap.Day = count
		default:
			snap.Month = count
		}
	}
	return snap, nil
}

// History returns the user's aggregate usage records for the period with
// window starts in [from, to], ordered by window start ascending.
func (r *Reporter) History(ctx context.Context, userID uuid.UUID, period Period, from, to time.Time, limit int) ([]UsageRecord, error) {
	return r.counters.History(ctx, userID, period, from, to, limit)
}

// TopEndpoints ranks the user's endpoints by usage within the current window
// of the period: count descending, endpoint name ascending on ties.
func (r *Reporter) TopEndpoints(ctx context.Context, userID uuid.UUID, period Period, limit int) ([]EndpointCount, error) {
	return r.counters.TopEndpoints(ctx, userID, period, r.now(), limit)
}

// ViolationHistory returns the user's violations, newest first.
func (r *Reporter) ViolationHistory(ctx context.Context, userID uuid.UUID, limit int) ([]ViolationRecord, error) {
	return r.violations.ListByUser(ctx, userID, limit)
}
