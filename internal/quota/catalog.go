package quota

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TierLimits is the static limit bundle for one tier.
type TierLimits struct {
	RequestsPerHour    int64           `json:"requests_per_hour"`
	RequestsPerDay     int64           `json:"requests_per_day"`
	RequestsPerMonth   int64           `json:"requests_per_month"`
	StorageGB          decimal.Decimal `json:"storage_gb"`
	ConcurrentRequests int             `json:"concurrent_requests"`
}

// LimitFor returns the request ceiling for the given window.
func (l TierLimits) LimitFor(p Period) int64 {
	switch p {
	case PeriodHour:
		return l.RequestsPerHour
	case PeriodDay:
		return l.RequestsPerDay
	default:
		return l.RequestsPerMonth
	}
}

// Catalog is the static tier → limits mapping. Tiers form a total order on
// every numeric field (FREE < PRO < ENTERPRISE); Validate enforces this at
// startup so a misconfigured catalog never reaches traffic.
type Catalog struct {
	limits map[Tier]TierLimits
}

// DefaultCatalog returns the platform's built-in tier catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{limits: map[Tier]TierLimits{
		TierFree: {
			RequestsPerHour:    100,
			RequestsPerDay:     1_000,
			RequestsPerMonth:   10_000,
			StorageGB:          decimal.NewFromFloat(0.5),
			ConcurrentRequests: 5,
		},
		TierPro: {
			RequestsPerHour:    1_000,
			RequestsPerDay:     20_000,
			RequestsPerMonth:   500_000,
			StorageGB:          decimal.NewFromInt(10),
			ConcurrentRequests: 25,
		},
		TierEnterprise: {
			RequestsPerHour:    10_000,
			RequestsPerDay:     200_000,
			RequestsPerMonth:   5_000_000,
			StorageGB:          decimal.NewFromInt(500),
			ConcurrentRequests: 100,
		},
	}}
}

// LimitsFor looks up the limits for a tier. Unknown tiers are a programmer
// or configuration error, never silently defaulted.
func (c *Catalog) LimitsFor(tier Tier) (TierLimits, error) {
	limits, ok := c.limits[tier]
	if !ok {
		return TierLimits{}, fmt.Errorf("unknown tier %q", tier)
	}
	return limits, nil
}

// Tiers returns the catalog as a name → limits map for the public endpoint.
func (c *Catalog) Tiers() map[Tier]TierLimits {
	out := make(map[Tier]TierLimits, len(c.limits))
	for t, l := range c.limits {
		out[t] = l
	}
	return out
}

// Validate checks that all three tiers exist and that every numeric field is
// positive and strictly increasing from FREE through ENTERPRISE.
func (c *Catalog) Validate() error {
	order := []Tier{TierFree, TierPro, TierEnterprise}
	for _, t := range order {
		if _, ok := c.limits[t]; !ok {
			return fmt.Errorf("catalog missing tier %s", t)
		}
	}
	for i := 1; i < len(order); i++ {
		lo, hi := c.limits[order[i-1]], c.limits[order[i]]
		if hi.RequestsPerHour <= lo.RequestsPerHour ||
			hi.RequestsPerDay <= lo.RequestsPerDay ||
			hi.RequestsPerMonth <= lo.RequestsPerMonth ||
			hi.ConcurrentRequests <= lo.ConcurrentRequests ||
			hi.StorageGB.LessThanOrEqual(lo.StorageGB) {
			return fmt.Errorf("catalog not strictly ordered between %s and %s", order[i-1], order[i])
		}
	}
	free := c.limits[TierFree]
	if free.RequestsPerHour <= 0 || free.RequestsPerDay <= 0 || free.RequestsPerMonth <= 0 ||
		free.ConcurrentRequests <= 0 || !free.StorageGB.IsPositive() {
		return fmt.Errorf("catalog tier %s has non-positive limits", TierFree)
	}
	return nil
}
