package quota

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AcquireRelease(t *testing.T) {
	g := NewGate()
	userID := uuid.New()

	ok, release := g.Acquire(userID, 2)
	require.True(t, ok)
	assert.Equal(t, 1, g.InFlight(userID))

	release()
	assert.Equal(t, 0, g.InFlight(userID))
}

func TestGate_DeniesAtLimit(t *testing.T) {
	g := NewGate()
	userID := uuid.New()

	releases := make([]func(), 0, 5)
	for i := 0; i < 5; i++ {
		ok, release := g.Acquire(userID, 5)
		require.True(t, ok, "slot %d should be granted", i+1)
		releases = append(releases, release)
	}

	ok, _ := g.Acquire(userID, 5)
	assert.False(t, ok, "sixth concurrent request must be rejected")
	assert.Equal(t, 5, g.InFlight(userID))

	// Freeing one slot admits the next caller.
	releases[0]()
	ok, release := g.Acquire(userID, 5)
	assert.True(t, ok)
	release()

	for _, r := range releases[1:] {
		r()
	}
	assert.Equal(t, 0, g.InFlight(userID))
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := NewGate()
	userID := uuid.New()

	ok, release := g.Acquire(userID, 1)
	require.True(t, ok)

	release()
	release()
	release()

	assert.Equal(t, 0, g.InFlight(userID), "repeated release must not drive the count negative")

	// The slot is usable again.
	ok, release = g.Acquire(userID, 1)
	assert.True(t, ok)
	release()
}

func TestGate_UsersAreIndependent(t *testing.T) {
	g := NewGate()
	alice, bob := uuid.New(), uuid.New()

	ok, releaseAlice := g.Acquire(alice, 1)
	require.True(t, ok)

	ok, releaseBob := g.Acquire(bob, 1)
	assert.True(t, ok, "one user saturating their gate must not affect another")

	releaseAlice()
	releaseBob()
}

func TestGate_NeverExceedsLimitUnderContention(t *testing.T) {
	g := NewGate()
	userID := uuid.New()
	const limit = 10

	var granted, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, release := g.Acquire(userID, limit)
			if !ok {
				return
			}
			granted.Add(1)
			if cur := int64(g.InFlight(userID)); cur > peak.Load() {
				peak.Store(cur)
			}
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(limit))
	assert.Positive(t, granted.Load())
	assert.Equal(t, 0, g.InFlight(userID))
}

func TestGate_InFlightUnknownUser(t *testing.T) {
	assert.Equal(t, 0, NewGate().InFlight(uuid.New()))
}
