package throttle

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_FirstCallAlwaysAllowed(t *testing.T) {
	th := New(time.Minute)
	assert.True(t, th.Allow("w-1"))
	assert.False(t, th.Allow("w-1"), "second call inside the interval is throttled")
	assert.True(t, th.Allow("w-2"), "other keys are independent")
}

func TestAllow_AfterInterval(t *testing.T) {
	th := New(time.Minute)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return current }

	assert.True(t, th.Allow("w-1"))
	current = current.Add(30 * time.Second)
	assert.False(t, th.Allow("w-1"))
	current = current.Add(31 * time.Second)
	assert.True(t, th.Allow("w-1"))
}

func TestForget(t *testing.T) {
	th := New(time.Minute)
	assert.True(t, th.Allow("w-1"))
	th.Forget("w-1")
	assert.True(t, th.Allow("w-1"), "forgotten key refreshes immediately")
}

func TestLRUEviction(t *testing.T) {
	th := NewWithCapacity(time.Minute, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, th.Allow(fmt.Sprintf("w-%d", i)))
	}
	assert.Equal(t, 3, th.Len())

	// Adding a fourth key evicts the least recently used (w-0).
	assert.True(t, th.Allow("w-3"))
	assert.Equal(t, 3, th.Len())
	assert.True(t, th.Allow("w-0"), "evicted key behaves like a new one")
}
