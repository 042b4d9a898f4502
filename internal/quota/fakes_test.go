package quota

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerly-hq/ledgerly/internal/subscription"
)

// Shared in-memory fakes for engine and reporter tests. memCounterStore
// mirrors the postgres store's contract: increments are atomic per
// (user, period, window, endpoint) key and Get never materializes a row.

type counterKey struct {
	userID      uuid.UUID
	period      Period
	windowStart time.Time
	endpoint    string
}

type memCounterStore struct {
	mu     sync.Mutex
	counts map[counterKey]int64
	err    error // when set, every call fails
}

func newMemCounterStore() *memCounterStore {
	return &memCounterStore{counts: make(map[counterKey]int64)}
}

func (s *memCounterStore) IncrementAndGet(_ context.Context, userID uuid.UUID, period Period, endpoint string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}

	agg := counterKey{userID, period, WindowStart(now, period), ""}
	s.counts[agg]++
	if endpoint != "" {
		ep := counterKey{userID, period, WindowStart(now, period), endpoint}
		s.counts[ep]++
	}
	return s.counts[agg], nil
}

func (s *memCounterStore) Get(_ context.Context, userID uuid.UUID, period Period, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.counts[counterKey{userID, period, WindowStart(now, period), ""}], nil
}

func (s *memCounterStore) Reset(_ context.Context, userID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, period := range Periods {
		start := WindowStart(now, period)
		for key := range s.counts {
			if key.userID == userID && key.period == period && key.windowStart.Equal(start) {
				delete(s.counts, key)
			}
		}
	}
	return nil
}

func (s *memCounterStore) History(_ context.Context, userID uuid.UUID, period Period, from, to time.Time, limit int) ([]UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	var records []UsageRecord
	for key, count := range s.counts {
		if key.userID != userID || key.period != period || key.endpoint != "" {
			continue
		}
		if key.windowStart.Before(from) || key.windowStart.After(to) {
			continue
		}
		records = append(records, UsageRecord{
			UserID: userID, Period: period, WindowStart: key.windowStart, Count: count,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].WindowStart.Before(records[j].WindowStart)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *memCounterStore) TopEndpoints(_ context.Context, userID uuid.UUID, period Period, now time.Time, limit int) ([]EndpointCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	start := WindowStart(now, period)
	var out []EndpointCount
	for key, count := range s.counts {
		if key.userID != userID || key.period != period || key.endpoint == "" || !key.windowStart.Equal(start) {
			continue
		}
		out = append(out, EndpointCount{Endpoint: key.endpoint, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRepository struct {
	mu     sync.Mutex
	quotas map[uuid.UUID]*UserQuota
}

func newMemRepository() *memRepository {
	return &memRepository{quotas: make(map[uuid.UUID]*UserQuota)}
}

func (r *memRepository) GetOrCreate(_ context.Context, userID uuid.UUID, defaults TierLimits, now time.Time) (*UserQuota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.quotas[userID]; ok {
		cp := *q
		return &cp, nil
	}
	q := &UserQuota{
		UserID:             userID,
		Tier:               TierFree,
		RequestsPerHour:    defaults.RequestsPerHour,
		RequestsPerDay:     defaults.RequestsPerDay,
		RequestsPerMonth:   defaults.RequestsPerMonth,
		StorageGB:          defaults.StorageGB,
		ConcurrentRequests: defaults.ConcurrentRequests,
		ResetAt:            NextReset(now, PeriodHour),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	r.quotas[userID] = q
	cp := *q
	return &cp, nil
}

func (r *memRepository) SetTier(_ context.Context, userID uuid.UUID, tier Tier, limits TierLimits, now time.Time) (*UserQuota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[userID]
	if !ok {
		return nil, errors.New("quota row missing")
	}
	q.Tier = tier
	q.RequestsPerHour = limits.RequestsPerHour
	q.RequestsPerDay = limits.RequestsPerDay
	q.RequestsPerMonth = limits.RequestsPerMonth
	q.StorageGB = limits.StorageGB
	q.ConcurrentRequests = limits.ConcurrentRequests
	q.UpdatedAt = now
	cp := *q
	return &cp, nil
}

// put installs a quota row with explicit limits, bypassing the catalog.
func (r *memRepository) put(q *UserQuota) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas[q.UserID] = q
}

type memViolationLog struct {
	mu      sync.Mutex
	records []ViolationRecord
}

func (l *memViolationLog) Record(_ context.Context, v ViolationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v.CreatedAt = time.Now().UTC()
	l.records = append(l.records, v)
}

func (l *memViolationLog) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]ViolationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ViolationRecord
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		if l.records[i].UserID == userID {
			out = append(out, l.records[i])
		}
	}
	return out, nil
}

func (l *memViolationLog) count(userID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.records {
		if v.UserID == userID {
			n++
		}
	}
	return n
}

type fakeSubscriptions struct {
	active bool
}

func (s *fakeSubscriptions) HasActiveSubscription(context.Context, uuid.UUID) (bool, error) {
	return s.active, nil
}

func (s *fakeSubscriptions) ActivePlan(context.Context, uuid.UUID) (*subscription.Plan, error) {
	if !s.active {
		return nil, nil
	}
	return &subscription.Plan{Name: "pro-monthly", Status: "active"}, nil
}
