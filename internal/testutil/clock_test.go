package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockClock_StartsAtStart(t *testing.T) {
	clock := NewBlockClock(1000, 10)
	assert.Equal(t, uint64(1000), clock.Current())
}

func TestBlockClock_NextAdvancesByStep(t *testing.T) {
	clock := NewBlockClock(1000, 10)

	assert.Equal(t, uint64(1010), clock.Next())
	assert.Equal(t, uint64(1020), clock.Next())
	assert.Equal(t, uint64(1020), clock.Current())
}

func TestBlockClock_SetAndReset(t *testing.T) {
	clock := NewBlockClock(5, 0)
	assert.Equal(t, uint64(6), clock.Next(), "zero step defaults to 1")

	clock.Set(500)
	assert.Equal(t, uint64(500), clock.Current())

	clock.Reset()
	assert.Equal(t, uint64(5), clock.Current())
}

func TestBlockClock_ThreadSafe(t *testing.T) {
	clock := NewBlockClock(0, 1)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	seen := make(chan uint64, numGoroutines*callsPerGoroutine)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seen <- clock.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for v := range seen {
		require.False(t, unique[v], "duplicate block time %d", v)
		unique[v] = true
	}
	assert.Len(t, unique, numGoroutines*callsPerGoroutine)
	assert.Equal(t, uint64(numGoroutines*callsPerGoroutine), clock.Current())
}

func TestIDGenerator_Deterministic(t *testing.T) {
	a := NewIDGenerator("scenario")
	b := NewIDGenerator("scenario")
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Generate(), b.Generate())
	}

	other := NewIDGenerator("other")
	assert.NotEqual(t, NamedID("scenario", 1), other.Generate())
	assert.Equal(t, NamedID("default", 1), NewIDGenerator("").Generate())
}

func TestRepeatedID(t *testing.T) {
	id := RepeatedID(0x01)
	assert.Equal(t, "4vJ9JU1bJJE96FWSJKvHsmmFADCg4gpZQff4P3bkLKi", id.String())
	assert.Negative(t, RepeatedID(1).Compare(RepeatedID(2)))
}
