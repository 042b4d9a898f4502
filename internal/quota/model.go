package quota

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier is a named bundle of quota limits tied to a subscription plan.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// Period identifies one of the calendar-aligned usage windows.
type Period string

const (
	PeriodHour  Period = "HOUR"
	PeriodDay   Period = "DAY"
	PeriodMonth Period = "MONTH"
)

// Periods lists the windows in check order, tightest first.
var Periods = []Period{PeriodHour, PeriodDay, PeriodMonth}

// LimitType names the limit that denied a request.
type LimitType string

const (
	LimitHour        LimitType = "HOUR"
	LimitDay         LimitType = "DAY"
	LimitMonth       LimitType = "MONTH"
	LimitConcurrency LimitType = "CONCURRENCY"
)

// limitTypeFor maps a window period to its denial reason.
func limitTypeFor(p Period) LimitType {
	switch p {
	case PeriodHour:
		return LimitHour
	case PeriodDay:
		return LimitDay
	default:
		return LimitMonth
	}
}

// UserQuota matches the quotas table schema: one row per user, created
// lazily on first request and mutated only by tier changes and admin resets.
type UserQuota struct {
	UserID             uuid.UUID       `json:"user_id"`
	Tier               Tier            `json:"tier"`
	RequestsPerHour    int64           `json:"requests_per_hour"`
	RequestsPerDay     int64           `json:"requests_per_day"`
	RequestsPerMonth   int64           `json:"requests_per_month"`
	StorageGB          decimal.Decimal `json:"storage_gb"`
	ConcurrentRequests int             `json:"concurrent_requests"`
	ResetAt            time.Time       `json:"reset_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// LimitFor returns the request ceiling for the given window.
func (q *UserQuota) LimitFor(p Period) int64 {
	switch p {
	case PeriodHour:
		return q.RequestsPerHour
	case PeriodDay:
		return q.RequestsPerDay
	default:
		return q.RequestsPerMonth
	}
}

// UsageRecord matches the usage_records table schema. At most one row exists
// per (user, period, window start, endpoint); the empty endpoint is the
// window aggregate used for admission.
type UsageRecord struct {
	UserID      uuid.UUID `json:"user_id"`
	Period      Period    `json:"period"`
	WindowStart time.Time `json:"window_start"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Count       int64     `json:"count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ViolationRecord is an append-only audit entry for a denied request.
type ViolationRecord struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Endpoint    string    `json:"endpoint"`
	LimitType   LimitType `json:"limit_type"`
	LimitValue  int64     `json:"limit_value"`
	ActualValue int64     `json:"actual_value"`
	CreatedAt   time.Time `json:"created_at"`
}

// Remaining reports per-window headroom after an admitted request.
type Remaining struct {
	Hour  int64 `json:"hour"`
	Day   int64 `json:"day"`
	Month int64 `json:"month"`
}

// AdmitDecision is the structured outcome of an admission check. Denials are
// decisions, not errors; only storage failures surface as errors.
type AdmitDecision struct {
	Admitted  bool      `json:"admitted"`
	Reason    LimitType `json:"reason,omitempty"`
	Remaining Remaining `json:"remaining"`
}

// UsageSnapshot is the reporter's current-usage view across all windows.
type UsageSnapshot struct {
	Hour       int64 `json:"hour"`
	Day        int64 `json:"day"`
	Month      int64 `json:"month"`
	Concurrent int   `json:"concurrent"`
}

// EndpointCount is one row of a top-endpoints ranking.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}

// ParseTier validates a tier name from an API request.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFree, TierPro, TierEnterprise:
		return Tier(s), true
	}
	return "", false
}

// ParsePeriod validates a period name from an API request.
func ParsePeriod(s string) (Period, bool) {
	switch Period(s) {
	case PeriodHour, PeriodDay, PeriodMonth:
		return Period(s), true
	}
	return "", false
}
