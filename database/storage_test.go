package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dayrunner/interfaces"
	"dayrunner/models"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGormStore_PositionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	pos := &models.Position{
		Symbol: "AAPL", Side: models.SideLong,
		EntryPrice: decimal.NewFromFloat(100), InitialStop: decimal.NewFromFloat(98),
		StopLoss: decimal.NewFromFloat(98), CurrentPrice: decimal.NewFromFloat(102),
		Allocation: models.ShareAllocation{
			OriginalQuantity: decimal.NewFromInt(100), RemainingQuantity: decimal.NewFromInt(100),
		},
		EntryTime: time.Now(),
	}
	require.NoError(t, store.UpsertPosition(pos))

	pos.CurrentPrice = decimal.NewFromFloat(105)
	require.NoError(t, store.UpsertPosition(pos))

	rows, err := store.LoadOpenPositions()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "AAPL", rows[0].Symbol)
	require.True(t, parseDecimal(rows[0].CurrentPrice).Equal(decimal.NewFromFloat(105)))

	require.NoError(t, store.DeletePosition("AAPL"))
	rows, err = store.LoadOpenPositions()
	require.NoError(t, err)
	require.Len(t, rows, 0)
}

func TestGormStore_TradeAndMetrics(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveTrade(interfaces.TradeRecord{
		Symbol: "TSLA", Kind: interfaces.TradeEntry, OccurredAt: time.Now(), RMultiple: 0,
		Metadata: map[string]any{"qty": "10"},
	}))
	trades, err := store.GetTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "TSLA", trades[0].Symbol)

	require.NoError(t, store.SaveMetricsSnapshot(interfaces.MetricsSnapshot{
		Equity: decimal.NewFromInt(100000), Cash: decimal.NewFromInt(50000),
		BuyingPower: decimal.NewFromInt(200000), OpenPositions: 3, SnapshotTime: time.Now(),
	}))
}

func TestGormStore_OrderRecordIdempotentUpsert(t *testing.T) {
	store := newTestStore(t)

	order := &models.Order{
		ID: "broker-1", Symbol: "MSFT", Side: "buy", OrderType: models.OrderTypeMarket,
		Qty: decimal.NewFromInt(10), Status: models.OrderAccepted,
	}
	require.NoError(t, store.SaveOrderRecord(order, "client-abc"))

	order.Status = models.OrderFilled
	order.FilledQty = decimal.NewFromInt(10)
	require.NoError(t, store.SaveOrderRecord(order, "client-abc"))
}
