package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerly-hq/ledgerly/internal/events"
	"github.com/ledgerly-hq/ledgerly/internal/metrics"
	"github.com/ledgerly-hq/ledgerly/internal/subscription"
)

var (
	// ErrUnknownTier is returned when an upgrade names a tier the catalog
	// does not carry.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrSubscriptionRequired is returned when a non-admin upgrades to a
	// paid tier without an active subscription.
	ErrSubscriptionRequired = errors.New("active subscription required for paid tiers")
)

// violationWriteTimeout bounds the detached audit write after a denial.
const violationWriteTimeout = 5 * time.Second

// Engine is the admission-control core: it gates every API call against the
// user's tier limits across the hour/day/month windows and the per-user
// concurrency bound.
//
// Storage failures on the admission path fail closed. Admitting on error
// would void the budget entirely, so an unanswerable check is a denied check.
type Engine struct {
	catalog    *Catalog
	repo       Repository
	counters   CounterStore
	gate       *Gate
	violations ViolationLog
	subs       subscription.Service
	publisher  *events.Publisher

	freeDefaults TierLimits

	now func() time.Time
}

// NewEngine validates the catalog and wires the engine's collaborators.
// publisher may be nil when NATS is not configured.
func NewEngine(
	catalog *Catalog,
	repo Repository,
	counters CounterStore,
	gate *Gate,
	violations ViolationLog,
	subs subscription.Service,
	publisher *events.Publisher,
) (*Engine, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("validating tier catalog: %w", err)
	}
	freeDefaults, err := catalog.LimitsFor(TierFree)
	if err != nil {
		return nil, err
	}

	return &Engine{
		catalog:      catalog,
		repo:         repo,
		counters:     counters,
		gate:         gate,
		violations:   violations,
		subs:         subs,
		publisher:    publisher,
		freeDefaults: freeDefaults,
		now:          time.Now,
	}, nil
}

// CheckAndAdmit runs the admission check for one inbound request. On
// admission the returned release holds the user's concurrency slot and must
// be called exactly once when the request finishes, on every exit path. On
// denial the decision carries the denying limit and release is a no-op.
//
// The concurrency gate is checked first: a request it rejects consumes no
// window quota. Window counters are then incremented tightest-first
// (hour, day, month) and checked after each increment; increments already
// applied for earlier windows are not rolled back on a later denial, since
// increment-then-check is what keeps the check atomic under concurrency.
func (e *Engine) CheckAndAdmit(ctx context.Context, userID uuid.UUID, endpoint string) (*AdmitDecision, func(), error) {
	noop := func() {}
	now := e.now()

	q, err := e.repo.GetOrCreate(ctx, userID, e.freeDefaults, now)
	if err != nil {
		return nil, noop, err
	}

	admitted, release := e.gate.Acquire(userID, q.ConcurrentRequests)
	if !admitted {
		e.deny(ctx, userID, endpoint, ViolationRecord{
			UserID:      userID,
			Endpoint:    endpoint,
			LimitType:   LimitConcurrency,
			LimitValue:  int64(q.ConcurrentRequests),
			ActualValue: int64(e.gate.InFlight(userID)),
		})
		return &AdmitDecision{Admitted: false, Reason: LimitConcurrency}, noop, nil
	}

	var remaining Remaining
	for _, period := range Periods {
		count, err := e.counters.IncrementAndGet(ctx, userID, period, endpoint, now)
		if err != nil {
			release()
			return nil, noop, err
		}

		limit := q.LimitFor(period)
		if count > limit {
			release()
			e.deny(ctx, userID, endpoint, ViolationRecord{
				UserID:      userID,
				Endpoint:    endpoint,
				LimitType:   limitTypeFor(period),
				LimitValue:  limit,
				ActualValue: count,
			})
			return &AdmitDecision{Admitted: false, Reason: limitTypeFor(period)}, noop, nil
		}
		remaining.set(period, limit-count)
	}

	metrics.AdmissionsTotal.WithLabelValues("admitted", "").Inc()
	return &AdmitDecision{Admitted: true, Remaining: remaining}, release, nil
}

// Check is the read-only preflight variant of CheckAndAdmit: same decision
// logic against current state, but nothing is incremented, no concurrency
// slot is taken and no violation is recorded.
func (e *Engine) Check(ctx context.Context, userID uuid.UUID, endpoint string) (*AdmitDecision, error) {
	now := e.now()

	q, err := e.repo.GetOrCreate(ctx, userID, e.freeDefaults, now)
	if err != nil {
		return nil, err
	}

	if e.gate.InFlight(userID) >= q.ConcurrentRequests {
		return &AdmitDecision{Admitted: false, Reason: LimitConcurrency}, nil
	}

	var remaining Remaining
	for _, period := range Periods {
		count, err := e.counters.Get(ctx, userID, period, now)
		if err != nil {
			return nil, err
		}
		limit := q.LimitFor(period)
		if count+1 > limit {
			return &AdmitDecision{Admitted: false, Reason: limitTypeFor(period)}, nil
		}
		remaining.set(period, limit-count)
	}

	return &AdmitDecision{Admitted: true, Remaining: remaining}, nil
}

// UpgradeTier moves the user to newTier, overwriting the tier and every limit
// field from the catalog. Current usage counters are preserved: a mid-window
// change adjusts the ceiling without restarting the window, so repeated
// upgrades cannot be used to launder a fresh budget. Paid tiers require an
// active subscription unless the caller is an admin.
func (e *Engine) UpgradeTier(ctx context.Context, userID uuid.UUID, newTier Tier, isAdmin bool) (*UserQuota, error) {
	limits, err := e.catalog.LimitsFor(newTier)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, newTier)
	}

	if newTier != TierFree && !isAdmin {
		active, err := e.subs.HasActiveSubscription(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("checking subscription for tier change: %w", err)
		}
		if !active {
			return nil, ErrSubscriptionRequired
		}
	}

	now := e.now()
	current, err := e.repo.GetOrCreate(ctx, userID, e.freeDefaults, now)
	if err != nil {
		return nil, err
	}
	if current.Tier == newTier {
		return current, nil
	}

	updated, err := e.repo.SetTier(ctx, userID, newTier, limits, now)
	if err != nil {
		return nil, err
	}

	changedBy := "user"
	if isAdmin {
		changedBy = "admin"
	}
	if err := e.publisher.PublishTierChange(ctx, events.TierChangeEvent{
		UserID:    userID,
		OldTier:   string(current.Tier),
		NewTier:   string(newTier),
		ChangedBy: changedBy,
		Timestamp: now.UTC(),
	}); err != nil {
		slog.Warn("publishing tier change event", "user_id", userID, "error", err)
	}

	slog.Info("tier changed", "user_id", userID, "from", current.Tier, "to", newTier, "by", changedBy)
	return updated, nil
}

// ResetQuota zeroes the user's current-window counters for all periods.
// Violations are retained: the audit trail is never deleted as a side effect
// of a counter reset. Caller authorization is the HTTP layer's job.
func (e *Engine) ResetQuota(ctx context.Context, userID uuid.UUID) error {
	if err := e.counters.Reset(ctx, userID, e.now()); err != nil {
		return err
	}
	slog.Info("quota counters reset", "user_id", userID)
	return nil
}

// LimitsStatus is the full quota-limits view for a user.
type LimitsStatus struct {
	Tier      Tier       `json:"tier"`
	Limits    TierLimits `json:"limits"`
	Remaining Remaining  `json:"remaining"`
	ResetAt   time.Time  `json:"reset_at"`
}

// Limits returns the user's tier, configured limits, per-window headroom and
// the next hourly reset boundary. Read-only.
func (e *Engine) Limits(ctx context.Context, userID uuid.UUID) (*LimitsStatus, error) {
	now := e.now()

	q, err := e.repo.GetOrCreate(ctx, userID, e.freeDefaults, now)
	if err != nil {
		return nil, err
	}

	var remaining Remaining
	for _, period := range Periods {
		count, err := e.counters.Get(ctx, userID, period, now)
		if err != nil {
			return nil, err
		}
		remaining.set(period, q.LimitFor(period)-count)
	}

	return &LimitsStatus{
		Tier: q.Tier,
		Limits: TierLimits{
			RequestsPerHour:    q.RequestsPerHour,
			RequestsPerDay:     q.RequestsPerDay,
			RequestsPerMonth:   q.RequestsPerMonth,
			StorageGB:          q.StorageGB,
			ConcurrentRequests: q.ConcurrentRequests,
		},
		Remaining: remaining,
		ResetAt:   NextReset(now, PeriodHour),
	}, nil
}

// Catalog returns the engine's tier catalog for the public tiers endpoint.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// deny records metrics and the audit trail for a denied request. The
// violation write is detached from the request: audit is best-effort and
// must never add latency to, or fail, the denial response.
func (e *Engine) deny(ctx context.Context, userID uuid.UUID, endpoint string, v ViolationRecord) {
	metrics.AdmissionsTotal.WithLabelValues("denied", string(v.LimitType)).Inc()

	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, violationWriteTimeout)
		defer cancel()

		e.violations.Record(ctx, v)
		if err := e.publisher.PublishViolation(ctx, events.ViolationEvent{
			UserID:      v.UserID,
			Endpoint:    v.Endpoint,
			LimitType:   string(v.LimitType),
			LimitValue:  v.LimitValue,
			ActualValue: v.ActualValue,
			Timestamp:   e.now().UTC(),
		}); err != nil {
			slog.Warn("publishing violation event", "user_id", userID, "error", err)
		}
	}()

	slog.Debug("request denied",
		"user_id", userID, "endpoint", endpoint,
		"limit_type", v.LimitType, "limit", v.LimitValue, "actual", v.ActualValue)
}

func (r *Remaining) set(p Period, v int64) {
	if v < 0 {
		v = 0
	}
	switch p {
	case PeriodHour:
		r.Hour = v
	case PeriodDay:
		r.Day = v
	default:
		r.Month = v
	}
}
