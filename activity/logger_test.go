package activity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLogger_SessionLifecycleAndPersistence(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)

	require.NoError(t, l.StartSession(decimal.NewFromInt(100000)))

	l.LogDecision("strategy", "AAPL", "rejected:rr_floor", map[string]any{"confidence": 70.0})
	l.LogPositionOpened(PositionEvent{Symbol: "AAPL", Side: "long", Quantity: decimal.NewFromInt(100), EntryPrice: decimal.NewFromFloat(100.00)})
	l.LogPositionClosed(PositionEvent{Symbol: "AAPL", Side: "long", PnL: decimal.NewFromFloat(250.00)})

	cur, err := l.CurrentLog()
	require.NoError(t, err)
	require.Len(t, cur.Entries, 1)
	require.Equal(t, 1, cur.Summary.PositionsOpened)
	require.Equal(t, 1, cur.Summary.WinningTrades)

	require.NoError(t, l.EndSession(decimal.NewFromInt(100250)))

	loaded, err := l.LogForDate(cur.Date)
	require.NoError(t, err)
	require.Equal(t, cur.Date, loaded.Date)
	require.Len(t, loaded.Entries, 1)
	require.True(t, loaded.Summary.TotalPnL.Equal(decimal.NewFromInt(250)))
}

func TestLogger_LogDecisionWithoutSessionDoesNotPanic(t *testing.T) {
	l := New(t.TempDir(), nil)
	require.NotPanics(t, func() {
		l.LogDecision("tracker", "AAPL", "no_session_yet", nil)
	})
}
