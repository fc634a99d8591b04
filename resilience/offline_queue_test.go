package resilience

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfflineQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewOfflineQueue(3, nil)

	for i := 0; i < 5; i++ {
		ok := q.Push(DeferredOp{Symbol: "AAPL", Kind: "stop_update", Payload: i})
		require.True(t, ok)
	}

	require.Equal(t, 3, q.Len())
	drained := q.Drain()
	require.Len(t, drained, 3)
	require.Equal(t, 2, drained[0].Payload)
	require.Equal(t, 3, drained[1].Payload)
	require.Equal(t, 4, drained[2].Payload)
	require.Equal(t, 0, q.Len())
}

func TestOfflineQueue_RejectsPushDuringRecovery(t *testing.T) {
	gate := NewRecoveryGate()
	q := NewOfflineQueue(10, gate)

	require.True(t, q.Push(DeferredOp{Symbol: "MSFT", Kind: "partial_exit"}))

	gate.EnterRecovery()
	require.False(t, q.Push(DeferredOp{Symbol: "MSFT", Kind: "partial_exit"}))
	require.Equal(t, 1, q.Len())

	gate.ExitRecovery()
	require.True(t, q.Push(DeferredOp{Symbol: "MSFT", Kind: "partial_exit"}))
	require.Equal(t, 2, q.Len())
}

func TestOfflineQueue_DrainEmptiesInFIFOOrder(t *testing.T) {
	q := NewOfflineQueue(0, nil) // 0 falls back to the default cap
	q.Push(DeferredOp{Symbol: "A"})
	q.Push(DeferredOp{Symbol: "B"})
	q.Push(DeferredOp{Symbol: "C"})

	out := q.Drain()
	require.Equal(t, []string{"A", "B", "C"}, []string{out[0].Symbol, out[1].Symbol, out[2].Symbol})
	require.Empty(t, q.Drain())
}
