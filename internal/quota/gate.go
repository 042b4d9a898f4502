package quota

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ledgerly-hq/ledgerly/internal/metrics"
)

// Gate bounds the number of simultaneously in-flight requests per user.
// State is process-local; each user gets an independent atomic counter so
// unrelated users never contend on a shared lock. Acquire never blocks: it
// either takes a slot immediately or reports the gate as full.
type Gate struct {
	inflight sync.Map // uuid.UUID -> *atomic.Int64
}

// NewGate creates an empty concurrency gate.
func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) counter(userID uuid.UUID) *atomic.Int64 {
	if c, ok := g.inflight.Load(userID); ok {
		return c.(*atomic.Int64)
	}
	c, _ := g.inflight.LoadOrStore(userID, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// Acquire takes an in-flight slot for the user if fewer than limit are held.
// The returned release must be called exactly once on every exit path of an
// admitted request; calling it more than once is a no-op. On denial the
// returned release is already spent.
func (g *Gate) Acquire(userID uuid.UUID, limit int) (bool, func()) {
	c := g.counter(userID)
	for {
		cur := c.Load()
		if cur >= int64(limit) {
			return false, func() {}
		}
		if c.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	metrics.QuotaInFlight.Inc()

	var released atomic.Bool
	return true, func() {
		if released.CompareAndSwap(false, true) {
			c.Add(-1)
			metrics.QuotaInFlight.Dec()
		}
	}
}

// InFlight reports the user's current in-flight count. A count that stays
// above zero after sustained idle traffic means a caller is leaking releases.
func (g *Gate) InFlight(userID uuid.UUID) int {
	if c, ok := g.inflight.Load(userID); ok {
		return int(c.(*atomic.Int64).Load())
	}
	return 0
}
