package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterThresholdFailures(t *testing.T) {
	b := NewBreaker("submit_order")
	now := time.Now()

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow(now))
		b.RecordFailure(now)
	}
	require.Equal(t, Closed, b.State())

	require.True(t, b.Allow(now))
	b.RecordFailure(now)
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow(now))
}

func TestBreaker_HalfOpenAfterRecoveryWindow(t *testing.T) {
	b := NewBreaker("cancel_order")
	opened := time.Now()
	for i := 0; i < 5; i++ {
		b.RecordFailure(opened)
	}
	require.Equal(t, Open, b.State())

	// Still within the 60s recovery window: no probe allowed.
	require.False(t, b.Allow(opened.Add(30*time.Second)))

	// Past the window: exactly one HALF_OPEN probe is allowed.
	probeTime := opened.Add(61 * time.Second)
	require.True(t, b.Allow(probeTime))
	require.Equal(t, HalfOpen, b.State())
	require.False(t, b.Allow(probeTime))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := NewBreaker("get_order")
	opened := time.Now()
	for i := 0; i < 5; i++ {
		b.RecordFailure(opened)
	}
	probeTime := opened.Add(61 * time.Second)
	require.True(t, b.Allow(probeTime))
	b.RecordFailure(probeTime)
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow(probeTime))
}

func TestBreaker_SuccessfulProbeCloses(t *testing.T) {
	b := NewBreaker("list_orders")
	opened := time.Now()
	for i := 0; i < 5; i++ {
		b.RecordFailure(opened)
	}
	probeTime := opened.Add(61 * time.Second)
	require.True(t, b.Allow(probeTime))
	b.RecordSuccess()
	require.Equal(t, Closed, b.State())
	require.True(t, b.Allow(probeTime))
}

func TestBreakerRegistry_AnyOpenAndSnapshot(t *testing.T) {
	r := NewBreakerRegistry()
	now := time.Now()

	require.False(t, r.AnyOpen())

	tripped := r.Get("submit_order")
	for i := 0; i < 5; i++ {
		tripped.RecordFailure(now)
	}
	require.True(t, r.AnyOpen())

	snap := r.Snapshot()
	require.Equal(t, "OPEN", snap["submit_order"])

	tripped.RecordSuccess()
	require.False(t, r.AnyOpen())
}
