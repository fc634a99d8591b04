package sequencer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dayrunner/interfaces"
	"dayrunner/models"
)

// fakeBroker is a minimal in-memory interfaces.Broker for sequencer tests.
type fakeBroker struct {
	mu       sync.Mutex
	position *interfaces.BrokerPosition
	orders   map[string]*models.Order
	nextID   int
	onSubmit func(req models.OrderRequest) error
	onCancel func(id string) error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{orders: make(map[string]*models.Order)}
}

func (f *fakeBroker) GetClock(context.Context) (bool, time.Time, time.Time, error) { return true, time.Time{}, time.Time{}, nil }
func (f *fakeBroker) GetAccount(context.Context) (*interfaces.AccountInfo, error)  { return &interfaces.AccountInfo{}, nil }
func (f *fakeBroker) ListPositions(context.Context) ([]*interfaces.BrokerPosition, error) {
	return nil, nil
}
func (f *fakeBroker) GetPosition(_ context.Context, symbol string) (*interfaces.BrokerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position == nil || f.position.Symbol != symbol {
		return nil, nil
	}
	cp := *f.position
	return &cp, nil
}
func (f *fakeBroker) ListOrders(_ context.Context, status string, symbols []string) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, o := range f.orders {
		if status == "open" && !o.Status.IsActive() {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}
func (f *fakeBroker) GetOrder(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order not found")
	}
	cp := *o
	return &cp, nil
}
func (f *fakeBroker) SubmitOrder(_ context.Context, req models.OrderRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onSubmit != nil {
		if err := f.onSubmit(req); err != nil {
			return nil, err
		}
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	o := &models.Order{
		ID: id, Symbol: req.Symbol, Side: req.Side, OrderType: req.Type,
		Qty: req.Qty, StopPrice: req.StopPrice, LimitPrice: req.LimitPrice,
		Status: models.OrderAccepted, SubmittedAt: time.Now(),
	}
	f.orders[id] = o
	cp := *o
	return &cp, nil
}
func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onCancel != nil {
		if err := f.onCancel(id); err != nil {
			return err
		}
	}
	if o, ok := f.orders[id]; ok {
		o.Status = models.OrderCanceled
	}
	return nil
}
func (f *fakeBroker) GetLatestBars(context.Context, []string) (map[string]interfaces.Bar, error) {
	return nil, nil
}
func (f *fakeBroker) GetLatestTradePrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeFillWaiter struct {
	result *models.Order
	err    error
}

func (w *fakeFillWaiter) WaitForTerminal(context.Context, string, time.Duration) (*models.Order, error) {
	return w.result, w.err
}

func TestExecuteStopUpdate_Success(t *testing.T) {
	broker := newFakeBroker()
	broker.position = &interfaces.BrokerPosition{Symbol: "AAPL", Qty: decimal.RequireFromString("100")}

	seq := New(broker, &fakeFillWaiter{}, nil)
	res := seq.ExecuteStopUpdate(context.Background(), "AAPL", "sell", decimal.RequireFromString("101.00"), decimal.RequireFromString("100"))

	require.True(t, res.Success)
	require.False(t, res.RollbackPerformed)
	require.Contains(t, res.OperationsCompleted, "submit_new_stop")
}

func TestExecuteStopUpdate_NoPositionAborts(t *testing.T) {
	broker := newFakeBroker()
	seq := New(broker, &fakeFillWaiter{}, nil)

	res := seq.ExecuteStopUpdate(context.Background(), "MSFT", "sell", decimal.RequireFromString("100"), decimal.RequireFromString("10"))
	require.False(t, res.Success)
	require.Contains(t, res.ConflictsDetected, models.ConflictInsufficientShares)
}

// §4.2.1: DUPLICATE_ORDER must cancel every resting stop before a fresh
// one is submitted, not just the first match.
func TestExecuteStopUpdate_CancelsAllDuplicateStops(t *testing.T) {
	broker := newFakeBroker()
	broker.position = &interfaces.BrokerPosition{Symbol: "AAPL", Qty: decimal.RequireFromString("100")}
	_, _ = broker.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol: "AAPL", Side: "sell", Type: models.OrderTypeStop, Qty: decimal.RequireFromString("100"), StopPrice: decimal.RequireFromString("95.00"),
	})
	_, _ = broker.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol: "AAPL", Side: "sell", Type: models.OrderTypeStop, Qty: decimal.RequireFromString("100"), StopPrice: decimal.RequireFromString("94.00"),
	})

	seq := New(broker, &fakeFillWaiter{}, nil)
	res := seq.ExecuteStopUpdate(context.Background(), "AAPL", "sell", decimal.RequireFromString("96.00"), decimal.RequireFromString("100"))

	require.True(t, res.Success)
	require.Contains(t, res.ConflictsDetected, models.ConflictDuplicateOrder)
	require.Contains(t, res.OperationsCompleted, "cancel_duplicate_stops")

	broker.mu.Lock()
	defer broker.mu.Unlock()
	activeStops := 0
	for _, o := range broker.orders {
		if o.OrderType == models.OrderTypeStop && o.Status.IsActive() {
			activeStops++
		}
	}
	require.Equal(t, 1, activeStops)
}

// P9: concurrent stop-update calls for the same symbol serialize;
// all return, none interleave broker calls.
func TestExecuteStopUpdate_ConcurrencySerialized(t *testing.T) {
	broker := newFakeBroker()
	broker.position = &interfaces.BrokerPosition{Symbol: "IBM", Qty: decimal.RequireFromString("50")}

	var concurrent int32
	var maxConcurrent int32
	var mu sync.Mutex
	broker.onSubmit = func(models.OrderRequest) error {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		concurrent--
		mu.Unlock()
		return nil
	}

	seq := New(broker, &fakeFillWaiter{}, nil)
	var wg sync.WaitGroup
	results := make([]*models.SequenceResult, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = seq.ExecuteStopUpdate(context.Background(), "IBM", "sell", decimal.RequireFromString("99"), decimal.RequireFromString("50"))
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
	}
	require.LessOrEqual(t, maxConcurrent, int32(1))
}

func TestExecutePartialExitWithStopUpdate_Success(t *testing.T) {
	broker := newFakeBroker()
	broker.position = &interfaces.BrokerPosition{Symbol: "TSLA", Qty: decimal.RequireFromString("50")}

	waiter := &fakeFillWaiter{result: &models.Order{Status: models.OrderFilled}}
	seq := New(broker, waiter, nil)

	res := seq.ExecutePartialExitWithStopUpdate(context.Background(), "TSLA", "sell", decimal.RequireFromString("50"), decimal.RequireFromString("200.00"))
	require.True(t, res.Success)
	require.Contains(t, res.OperationsCompleted, "confirm_exit_fill")
}

// P8: if the exit fill never confirms, rollback must restore prior
// exit orders and report failure with rollback_performed=true.
func TestExecutePartialExitWithStopUpdate_RollbackOnExitTimeout(t *testing.T) {
	broker := newFakeBroker()
	broker.position = &interfaces.BrokerPosition{Symbol: "IBM", Qty: decimal.RequireFromString("100")}
	_, _ = broker.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol: "IBM", Side: "sell", Type: models.OrderTypeStop, Qty: decimal.RequireFromString("100"), StopPrice: decimal.RequireFromString("95.00"),
	})

	waiter := &fakeFillWaiter{result: &models.Order{Status: models.OrderCanceled}}
	seq := New(broker, waiter, nil)

	res := seq.ExecutePartialExitWithStopUpdate(context.Background(), "IBM", "sell", decimal.RequireFromString("50"), decimal.RequireFromString("100.00"))
	require.False(t, res.Success)
	require.True(t, res.RollbackPerformed)
}
