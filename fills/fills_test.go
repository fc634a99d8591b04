package fills

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dayrunner/interfaces"
	"dayrunner/models"
)

type scriptedBroker struct {
	getOrderCalls int
	statuses      []models.OrderStatus
	cancelErr     error
	filledAfterCancel bool
	qty           decimal.Decimal
}

func (b *scriptedBroker) GetClock(context.Context) (bool, time.Time, time.Time, error) { return true, time.Time{}, time.Time{}, nil }
func (b *scriptedBroker) GetAccount(context.Context) (*interfaces.AccountInfo, error)   { return nil, nil }
func (b *scriptedBroker) ListPositions(context.Context) ([]*interfaces.BrokerPosition, error) {
	return nil, nil
}
func (b *scriptedBroker) GetPosition(context.Context, string) (*interfaces.BrokerPosition, error) {
	return &interfaces.BrokerPosition{Symbol: "TSLA", Qty: b.qty}, nil
}
func (b *scriptedBroker) ListOrders(context.Context, string, []string) ([]*models.Order, error) {
	return nil, nil
}
func (b *scriptedBroker) GetOrder(_ context.Context, id string) (*models.Order, error) {
	idx := b.getOrderCalls
	if idx >= len(b.statuses) {
		idx = len(b.statuses) - 1
	}
	status := b.statuses[idx]
	b.getOrderCalls++

	o := &models.Order{ID: id, Symbol: "TSLA", Status: status, Qty: b.qty}
	if status == models.OrderFilled || (b.filledAfterCancel && b.getOrderCalls > len(b.statuses)) {
		o.Status = models.OrderFilled
		o.FilledQty = b.qty
		o.FilledAvgPrice = decimal.RequireFromString("250.00")
		now := time.Now()
		o.FilledAt = &now
	}
	return o, nil
}
func (b *scriptedBroker) SubmitOrder(context.Context, models.OrderRequest) (*models.Order, error) {
	return nil, nil
}
func (b *scriptedBroker) CancelOrder(context.Context, string) error { return b.cancelErr }
func (b *scriptedBroker) GetLatestBars(context.Context, []string) (map[string]interfaces.Bar, error) {
	return nil, nil
}
func (b *scriptedBroker) GetLatestTradePrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// P6: cancel-race scenario from §8 scenario 3 — accepted four times,
// then cancel fails with "already in filled state"; must return FILLED
// with CANCEL_RACE_DETECTION.
func TestMonitor_CancelRaceDetection(t *testing.T) {
	broker := &scriptedBroker{
		qty:               decimal.RequireFromString("10"),
		statuses:          []models.OrderStatus{models.OrderAccepted, models.OrderAccepted, models.OrderAccepted, models.OrderAccepted},
		cancelErr:         fmt.Errorf("error 42210000: already in filled state"),
		filledAfterCancel: true,
	}
	engine := New(broker, DefaultVerificationConfig(), nil, nil)

	result := engine.Monitor(context.Background(), "ord-1", 50*time.Millisecond)

	require.True(t, result.Filled)
	require.Equal(t, models.FillStatusFilled, result.Status)
	require.Equal(t, models.MethodCancelRaceDetection, result.DetectionMethod)
	require.True(t, result.FillQuantity.Equal(decimal.RequireFromString("10")))
}

func TestMonitor_ImmediateFill(t *testing.T) {
	broker := &scriptedBroker{
		qty:      decimal.RequireFromString("5"),
		statuses: []models.OrderStatus{models.OrderFilled},
	}
	engine := New(broker, DefaultVerificationConfig(), nil, nil)

	result := engine.Monitor(context.Background(), "ord-2", time.Second)
	require.True(t, result.Filled)
	require.Equal(t, models.MethodStatusField, result.DetectionMethod)
	require.InDelta(t, 1.0, result.Confidence, 1e-9)
}

func TestMonitor_RejectedTerminatesFast(t *testing.T) {
	broker := &scriptedBroker{
		qty:      decimal.RequireFromString("5"),
		statuses: []models.OrderStatus{models.OrderRejected},
	}
	engine := New(broker, DefaultVerificationConfig(), nil, nil)

	result := engine.Monitor(context.Background(), "ord-3", time.Second)
	require.False(t, result.Filled)
	require.Equal(t, models.FillStatusRejected, result.Status)
}
