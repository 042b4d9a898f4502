package quota

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_Valid(t *testing.T) {
	assert.NoError(t, DefaultCatalog().Validate())
}

func TestCatalog_LimitsFor(t *testing.T) {
	c := DefaultCatalog()

	free, err := c.LimitsFor(TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(100), free.RequestsPerHour)
	assert.Equal(t, 5, free.ConcurrentRequests)

	_, err = c.LimitsFor(Tier("PLATINUM"))
	assert.Error(t, err)
}

func TestCatalog_Validate(t *testing.T) {
	valid := func() map[Tier]TierLimits {
		return map[Tier]TierLimits{
			TierFree:       {RequestsPerHour: 10, RequestsPerDay: 100, RequestsPerMonth: 1000, StorageGB: decimal.NewFromInt(1), ConcurrentRequests: 2},
			TierPro:        {RequestsPerHour: 20, RequestsPerDay: 200, RequestsPerMonth: 2000, StorageGB: decimal.NewFromInt(2), ConcurrentRequests: 4},
			TierEnterprise: {RequestsPerHour: 30, RequestsPerDay: 300, RequestsPerMonth: 3000, StorageGB: decimal.NewFromInt(3), ConcurrentRequests: 8},
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[Tier]TierLimits)
	}{
		{
			name:   "missing tier",
			mutate: func(m map[Tier]TierLimits) { delete(m, TierPro) },
		},
		{
			name: "hourly limit not increasing",
			mutate: func(m map[Tier]TierLimits) {
				l := m[TierPro]
				l.RequestsPerHour = 10
				m[TierPro] = l
			},
		},
		{
			name: "equal storage between tiers",
			mutate: func(m map[Tier]TierLimits) {
				l := m[TierEnterprise]
				l.StorageGB = decimal.NewFromInt(2)
				m[TierEnterprise] = l
			},
		},
		{
			name: "concurrency regresses at the top tier",
			mutate: func(m map[Tier]TierLimits) {
				l := m[TierEnterprise]
				l.ConcurrentRequests = 3
				m[TierEnterprise] = l
			},
		},
		{
			name: "zero free limit",
			mutate: func(m map[Tier]TierLimits) {
				l := m[TierFree]
				l.RequestsPerHour = 0
				m[TierFree] = l
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := valid()
			tt.mutate(limits)
			assert.Error(t, (&Catalog{limits: limits}).Validate())
		})
	}

	assert.NoError(t, (&Catalog{limits: valid()}).Validate())
}

func TestCatalog_TiersReturnsCopy(t *testing.T) {
	c := DefaultCatalog()

	out := c.Tiers()
	out[TierFree] = TierLimits{RequestsPerHour: 1}

	free, err := c.LimitsFor(TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(100), free.RequestsPerHour, "mutating the returned map must not touch the catalog")
}

func TestParseTier(t *testing.T) {
	for _, name := range []string{"FREE", "PRO", "ENTERPRISE"} {
		tier, ok := ParseTier(name)
		assert.True(t, ok)
		assert.Equal(t, Tier(name), tier)
	}

	for _, name := range []string{"free", "Gold", ""} {
		_, ok := ParseTier(name)
		assert.False(t, ok, "%q should not parse", name)
	}
}

func TestParsePeriod(t *testing.T) {
	for _, name := range []string{"HOUR", "DAY", "MONTH"} {
		period, ok := ParsePeriod(name)
		assert.True(t, ok)
		assert.Equal(t, Period(name), period)
	}

	_, ok := ParsePeriod("WEEK")
	assert.False(t, ok)
}
