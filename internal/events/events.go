package events

import (
	"time"

	"github.com/google/uuid"
)

// Stream and subject constants.
const (
	StreamQuota = "LEDGERLY_QUOTA"

	SubjectViolation  = "ledgerly.quota.violation"
	SubjectTierChange = "ledgerly.quota.tier_change"
)

// ViolationEvent is published when a request is denied by admission control.
// The platform's alerting and billing pipelines consume it; the durable
// violation row in PostgreSQL stays the audit source of truth.
type ViolationEvent struct {
	UserID      uuid.UUID `json:"user_id"`
	Endpoint    string    `json:"endpoint"`
	LimitType   string    `json:"limit_type"`
	LimitValue  int64     `json:"limit_value"`
	ActualValue int64     `json:"actual_value"`
	Timestamp   time.Time `json:"timestamp"`
}

// TierChangeEvent is published on tier upgrade or downgrade.
type TierChangeEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	OldTier   string    `json:"old_tier"`
	NewTier   string    `json:"new_tier"`
	ChangedBy string    `json:"changed_by"` // "user" or "admin"
	Timestamp time.Time `json:"timestamp"`
}
