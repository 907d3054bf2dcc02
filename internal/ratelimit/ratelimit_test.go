package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm2bridge/tm2bridge/internal/config"
)

func newTestClass(max int) *Class {
	return NewClass("test", config.RateLimitClassConfig{WindowMS: 60_000, MaxRequests: max, Message: "slow down"})
}

func TestClass_AllowsUpToLimit(t *testing.T) {
	c := newTestClass(3)

	for i := 0; i < 3; i++ {
		r := c.Allow("caller-a")
		assert.True(t, r.Allowed, "request %d should be allowed", i+1)
	}

	r := c.Allow("caller-a")
	assert.False(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)
}

func TestClass_TracksCallersIndependently(t *testing.T) {
	c := newTestClass(1)

	r1 := c.Allow("caller-a")
	r2 := c.Allow("caller-b")
	require.True(t, r1.Allowed)
	require.True(t, r2.Allowed)

	assert.False(t, c.Allow("caller-a").Allowed)
	assert.False(t, c.Allow("caller-b").Allowed)
}

func TestClass_RemainingDecrements(t *testing.T) {
	c := newTestClass(5)

	r := c.Allow("caller-a")
	assert.Equal(t, 4, r.Remaining)
	r = c.Allow("caller-a")
	assert.Equal(t, 3, r.Remaining)
}

func TestClass_SweepRemovesIdleBuckets(t *testing.T) {
	c := newTestClass(1)
	c.Allow("caller-a")
	require.Equal(t, 1, c.Snapshot())

	c.sweep(0)
	assert.Equal(t, 0, c.Snapshot())
}

func TestLimiter_SnapshotReportsAllClasses(t *testing.T) {
	l := New(config.RateLimitConfig{
		Standard: config.RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 10},
		Mapping:  config.RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 10},
		Batch:    config.RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 10},
		Search:   config.RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 10},
		Health:   config.RateLimitClassConfig{WindowMS: 60_000, MaxRequests: 10},
	})
	defer l.Stop()

	l.Mapping.Allow("someone")

	snapshot := l.Snapshot()
	assert.Equal(t, 1, snapshot["mapping"])
	assert.Equal(t, 0, snapshot["standard"])
}
