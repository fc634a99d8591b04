package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecoveryGate_EnterExitTransitions(t *testing.T) {
	g := NewRecoveryGate()
	require.Equal(t, ModeNormal, g.Mode())
	require.True(t, g.AdmitsEntries())

	g.EnterRecovery()
	require.Equal(t, ModeRecovery, g.Mode())
	require.False(t, g.AdmitsEntries())

	g.ExitRecovery()
	require.Equal(t, ModeNormal, g.Mode())
	require.True(t, g.AdmitsEntries())
}

func TestSyncGateWithBreakers_TripsAndReleases(t *testing.T) {
	breakers := NewBreakerRegistry()
	gate := NewRecoveryGate()
	now := time.Now()

	syncGateWithBreakers(breakers, gate)
	require.Equal(t, ModeNormal, gate.Mode())

	b := breakers.Get("submit_order")
	for i := 0; i < 5; i++ {
		b.RecordFailure(now)
	}
	syncGateWithBreakers(breakers, gate)
	require.Equal(t, ModeRecovery, gate.Mode())

	b.RecordSuccess()
	syncGateWithBreakers(breakers, gate)
	require.Equal(t, ModeNormal, gate.Mode())
}

func TestWatchBreakers_StopsOnContextCancel(t *testing.T) {
	breakers := NewBreakerRegistry()
	gate := NewRecoveryGate()
	b := breakers.Get("submit_order")
	for i := 0; i < 5; i++ {
		b.RecordFailure(time.Now())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchBreakers(ctx, breakers, gate, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return gate.Mode() == ModeRecovery }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchBreakers did not stop after context cancellation")
	}
}
