// Package sequencer implements the Order Sequencer (C2): atomic,
// per-symbol broker-side order mutations with conflict detection,
// bounded retry, and rollback (§4.2).
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dayrunner/interfaces"
	"dayrunner/models"
	"dayrunner/resilience"
)

// Sequencer executes the two public atomic operations of §4.2, holding a
// per-symbol mutex for the duration of each sequence.
type Sequencer struct {
	broker   interfaces.Broker
	fills    FillWaiter
	locks    sync.Map // symbol -> *sync.Mutex
	log      *logrus.Logger
}

// FillWaiter is the narrow slice of fills.Engine the sequencer needs: a
// bounded wait for an order to reach a terminal state. Declared here as
// an interface, so the sequencer does not import package fills and its
// tests can supply a fake waiter.
type FillWaiter interface {
	WaitForTerminal(ctx context.Context, orderID string, timeout time.Duration) (*models.Order, error)
}

// New constructs a Sequencer.
func New(broker interfaces.Broker, fills FillWaiter, log *logrus.Logger) *Sequencer {
	if log == nil {
		log = logrus.New()
	}
	return &Sequencer{broker: broker, fills: fills, log: log}
}

func (s *Sequencer) lockFor(symbol string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(symbol, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func newSequenceID() string { return uuid.NewString() }

// result accumulates a SequenceResult as steps complete.
type result struct {
	id         string
	started    time.Time
	operations []string
	conflicts  []models.OrderConflict
	rollback   bool
}

func (r *result) step(name string) { r.operations = append(r.operations, name) }

func (r *result) finish(success bool, message string) *models.SequenceResult {
	return &models.SequenceResult{
		Success:             success,
		SequenceID:          r.id,
		OperationsCompleted: r.operations,
		ConflictsDetected:   r.conflicts,
		RollbackPerformed:   r.rollback,
		ExecutionTimeMS:     time.Since(r.started).Milliseconds(),
		Message:             message,
	}
}

// isExitOrder reports whether an order is a live exit order (stop, limit
// or trailing stop) on exitSide — the orders §4.2's "exit orders" and "locking orders"
// refer to. For a short position the exit side is "buy"; callers pass
// the position's ExitBrokerSide so this stays symbol-position aware.
func isExitOrder(o *models.Order, exitSide string) bool {
	return o.Side == exitSide && o.Status.IsActive() &&
		(o.OrderType == models.OrderTypeStop || o.OrderType == models.OrderTypeLimit || o.OrderType == models.OrderTypeTrailingStop)
}

// DetectConflicts enumerates the conflict set for symbol per §4.2.1.
func (s *Sequencer) DetectConflicts(ctx context.Context, symbol, exitSide string, requiredQty decimal.Decimal) ([]models.OrderConflict, error) {
	var conflicts []models.OrderConflict

	pos, err := s.broker.GetPosition(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("sequencer: get position: %w", err)
	}
	if pos == nil {
		conflicts = append(conflicts, models.ConflictInsufficientShares)
		return conflicts, nil
	}

	orders, err := s.broker.ListOrders(ctx, "open", []string{symbol})
	if err != nil {
		return nil, fmt.Errorf("sequencer: list orders: %w", err)
	}

	stopCount := 0
	lockedQty := decimal.Zero
	for _, o := range orders {
		if o.OrderType == models.OrderTypeStop || o.OrderType == models.OrderTypeTrailingStop {
			stopCount++
		}
		if isExitOrder(o, exitSide) {
			lockedQty = lockedQty.Add(o.Qty.Sub(o.FilledQty))
		}
	}
	if stopCount > 1 {
		conflicts = append(conflicts, models.ConflictDuplicateOrder)
	}

	available := pos.Qty.Sub(lockedQty)
	if available.LessThan(requiredQty) {
		conflicts = append(conflicts, models.ConflictSharesLocked)
	}
	return conflicts, nil
}

// AvailabilityReport is the result of VerifySharesAvailable (§4.2).
type AvailabilityReport struct {
	Available   decimal.Decimal
	Locked      decimal.Decimal
	IsAvailable bool
}

// VerifySharesAvailable computes available = |position.qty| − Σ|locked
// exit qty| and compares against requiredQty.
func (s *Sequencer) VerifySharesAvailable(ctx context.Context, symbol, exitSide string, requiredQty decimal.Decimal) (AvailabilityReport, error) {
	pos, err := s.broker.GetPosition(ctx, symbol)
	if err != nil {
		return AvailabilityReport{}, err
	}
	if pos == nil {
		return AvailabilityReport{}, nil
	}
	orders, err := s.broker.ListOrders(ctx, "open", []string{symbol})
	if err != nil {
		return AvailabilityReport{}, err
	}
	locked := decimal.Zero
	for _, o := range orders {
		if isExitOrder(o, exitSide) {
			locked = locked.Add(o.Qty.Sub(o.FilledQty))
		}
	}
	available := pos.Qty.Abs().Sub(locked)
	return AvailabilityReport{
		Available:   available,
		Locked:      locked,
		IsAvailable: available.GreaterThanOrEqual(requiredQty),
	}, nil
}

// pollUntil polls fn every interval until it reports done or the
// deadline passes.
func pollUntil(ctx context.Context, deadline time.Time, interval time.Duration, fn func() (done bool, err error)) error {
	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sequencer: poll deadline exceeded")
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ExecuteStopUpdate runs §4.2's stop-update sequence for symbol.
func (s *Sequencer) ExecuteStopUpdate(ctx context.Context, symbol, exitSide string, newStop, currentQty decimal.Decimal) *models.SequenceResult {
	lock := s.lockFor(symbol)
	if !lock.TryLock() {
		r := &result{id: newSequenceID(), started: time.Now(), conflicts: []models.OrderConflict{models.ConflictConcurrentModification}}
		lock.Lock() // wait our turn, no retry storm (§4.2.1)
		defer lock.Unlock()
		return s.doExecuteStopUpdate(ctx, symbol, exitSide, newStop, currentQty, r)
	}
	defer lock.Unlock()
	r := &result{id: newSequenceID(), started: time.Now()}
	return s.doExecuteStopUpdate(ctx, symbol, exitSide, newStop, currentQty, r)
}

func (s *Sequencer) doExecuteStopUpdate(ctx context.Context, symbol, exitSide string, newStop, currentQty decimal.Decimal, r *result) *models.SequenceResult {
	r.step("acquire_lock")

	conflicts, err := s.DetectConflicts(ctx, symbol, exitSide, currentQty)
	if err != nil {
		return r.finish(false, err.Error())
	}
	r.conflicts = append(r.conflicts, conflicts...)
	for _, c := range conflicts {
		if c == models.ConflictInsufficientShares {
			return r.finish(false, "no position found for symbol")
		}
	}
	r.step("detect_conflicts")

	backoff := resilience.Sequencer()

	for _, c := range conflicts {
		if c == models.ConflictDuplicateOrder {
			if err := s.cancelDuplicateStops(ctx, symbol, exitSide, backoff); err != nil {
				r.conflicts = append(r.conflicts, models.ConflictBrokerRejection)
				return r.finish(false, fmt.Sprintf("cancel duplicate stops: %v", err))
			}
			r.step("cancel_duplicate_stops")
			break
		}
	}

	orders, err := s.broker.ListOrders(ctx, "open", []string{symbol})
	if err != nil {
		return r.finish(false, err.Error())
	}
	var existingStop *models.Order
	for _, o := range orders {
		if o.Side == exitSide && (o.OrderType == models.OrderTypeStop || o.OrderType == models.OrderTypeTrailingStop) {
			existingStop = o
			break
		}
	}

	if existingStop != nil {
		r.step("cancel_existing_stop")
		cancelErr := backoff.Retry(ctx, 3, func(int) error {
			return s.broker.CancelOrder(ctx, existingStop.ID)
		})
		if cancelErr != nil {
			r.conflicts = append(r.conflicts, models.ConflictBrokerRejection)
			return r.finish(false, fmt.Sprintf("cancel existing stop: %v", cancelErr))
		}
		deadline := time.Now().Add(2 * time.Second)
		waitErr := pollUntil(ctx, deadline, 100*time.Millisecond, func() (bool, error) {
			o, err := s.broker.GetOrder(ctx, existingStop.ID)
			if err != nil {
				return false, err
			}
			return o.Status.IsTerminalNonFill(), nil
		})
		if waitErr != nil {
			return r.finish(false, fmt.Sprintf("waiting for stop cancel: %v", waitErr))
		}
	}

	pos, err := s.broker.GetPosition(ctx, symbol)
	if err != nil || pos == nil {
		s.rollbackStop(ctx, symbol, exitSide, existingStop, r)
		return r.finish(false, "position disappeared before new stop submission")
	}
	r.step("fetch_current_size")

	newOrder, err := s.broker.SubmitOrder(ctx, models.OrderRequest{
		Symbol: symbol, Qty: pos.Qty.Abs(), Side: exitSide,
		Type: models.OrderTypeStop, TIF: models.TIFGTC, StopPrice: newStop,
	})
	if err != nil {
		s.rollbackStop(ctx, symbol, exitSide, existingStop, r)
		return r.finish(false, fmt.Sprintf("submit new stop: %v", err))
	}
	r.step("submit_new_stop")

	deadline := time.Now().Add(2 * time.Second)
	activeErr := pollUntil(ctx, deadline, 100*time.Millisecond, func() (bool, error) {
		o, err := s.broker.GetOrder(ctx, newOrder.ID)
		if err != nil {
			return false, err
		}
		if o.Status == models.OrderRejected {
			return false, fmt.Errorf("new stop rejected")
		}
		return o.Status.IsActive(), nil
	})
	if activeErr != nil {
		s.rollbackStop(ctx, symbol, exitSide, existingStop, r)
		return r.finish(false, fmt.Sprintf("new stop never became active: %v", activeErr))
	}
	r.step("confirm_new_stop_active")

	return r.finish(true, "stop updated")
}

// cancelDuplicateStops cancels every resting stop/trailing-stop order on
// exitSide for symbol and waits for each to reach a terminal state,
// implementing §4.2.1's "DUPLICATE_ORDER → cancel all duplicates before
// proceeding" — the sequencer then re-lists and submits a single fresh
// stop rather than trying to decide which duplicate to keep.
func (s *Sequencer) cancelDuplicateStops(ctx context.Context, symbol, exitSide string, backoff resilience.Backoff) error {
	orders, err := s.broker.ListOrders(ctx, "open", []string{symbol})
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}

	var dupes []*models.Order
	for _, o := range orders {
		if o.Side == exitSide && (o.OrderType == models.OrderTypeStop || o.OrderType == models.OrderTypeTrailingStop) {
			dupes = append(dupes, o)
		}
	}
	for _, o := range dupes {
		o := o
		if err := backoff.Retry(ctx, 3, func(int) error { return s.broker.CancelOrder(ctx, o.ID) }); err != nil {
			return fmt.Errorf("cancel %s: %w", o.ID, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	return pollUntil(ctx, deadline, 100*time.Millisecond, func() (bool, error) {
		for _, o := range dupes {
			fresh, err := s.broker.GetOrder(ctx, o.ID)
			if err != nil {
				return false, nil
			}
			if !fresh.Status.IsTerminalNonFill() {
				return false, nil
			}
		}
		return true, nil
	})
}

func (s *Sequencer) rollbackStop(ctx context.Context, symbol, exitSide string, priorStop *models.Order, r *result) {
	if priorStop == nil {
		return
	}
	r.rollback = true
	r.step("rollback_restore_prior_stop")
	_, _ = s.broker.SubmitOrder(ctx, models.OrderRequest{
		Symbol: symbol, Qty: priorStop.Qty, Side: exitSide,
		Type: models.OrderTypeStop, TIF: models.TIFGTC, StopPrice: priorStop.StopPrice,
	})
}

// ExecutePartialExitWithStopUpdate runs §4.2's exit+stop sequence.
func (s *Sequencer) ExecutePartialExitWithStopUpdate(ctx context.Context, symbol, exitSide string, exitQty, newStop decimal.Decimal) *models.SequenceResult {
	lock := s.lockFor(symbol)
	lock.Lock()
	defer lock.Unlock()

	r := &result{id: newSequenceID(), started: time.Now()}
	r.step("acquire_lock")

	orders, err := s.broker.ListOrders(ctx, "open", []string{symbol})
	if err != nil {
		return r.finish(false, err.Error())
	}
	var priorExitOrders []*models.Order
	for _, o := range orders {
		if isExitOrder(o, exitSide) {
			priorExitOrders = append(priorExitOrders, o)
		}
	}
	r.step("snapshot_prestate")

	backoff := resilience.Sequencer()
	for _, o := range priorExitOrders {
		o := o
		_ = backoff.Retry(ctx, 3, func(int) error { return s.broker.CancelOrder(ctx, o.ID) })
	}
	r.step("cancel_existing_exit_orders")

	deadline := time.Now().Add(2 * time.Second)
	_ = pollUntil(ctx, deadline, 100*time.Millisecond, func() (bool, error) {
		for _, o := range priorExitOrders {
			fresh, err := s.broker.GetOrder(ctx, o.ID)
			if err != nil {
				return false, nil
			}
			if !fresh.Status.IsTerminalNonFill() {
				return false, nil
			}
		}
		return true, nil
	})

	exitOrder, err := s.broker.SubmitOrder(ctx, models.OrderRequest{
		Symbol: symbol, Qty: exitQty, Side: exitSide, Type: models.OrderTypeMarket, TIF: models.TIFDay,
	})
	if err != nil {
		s.restoreExitOrders(ctx, symbol, exitSide, priorExitOrders, r)
		return r.finish(false, fmt.Sprintf("submit exit market order: %v", err))
	}
	r.step("submit_exit_market_order")

	filled, err := s.fills.WaitForTerminal(ctx, exitOrder.ID, 5*time.Second)
	if err != nil || filled == nil || filled.Status != models.OrderFilled {
		s.restoreExitOrders(ctx, symbol, exitSide, priorExitOrders, r)
		return r.finish(false, "exit order did not reach a filled terminal state")
	}
	r.step("confirm_exit_fill")

	pos, err := s.broker.GetPosition(ctx, symbol)
	if err == nil && pos != nil && pos.Qty.Sign() != 0 {
		newStopOrder, err := s.broker.SubmitOrder(ctx, models.OrderRequest{
			Symbol: symbol, Qty: pos.Qty.Abs(), Side: exitSide,
			Type: models.OrderTypeStop, TIF: models.TIFGTC, StopPrice: newStop,
		})
		if err != nil {
			return r.finish(false, fmt.Sprintf("exit filled but replacement stop failed: %v", err))
		}
		r.step("submit_replacement_stop")
		_ = pollUntil(ctx, time.Now().Add(2*time.Second), 100*time.Millisecond, func() (bool, error) {
			o, err := s.broker.GetOrder(ctx, newStopOrder.ID)
			if err != nil {
				return false, err
			}
			return o.Status.IsActive(), nil
		})
		r.step("confirm_replacement_stop_active")
	}

	return r.finish(true, "partial exit executed")
}

func (s *Sequencer) restoreExitOrders(ctx context.Context, symbol, exitSide string, prior []*models.Order, r *result) {
	if len(prior) == 0 {
		return
	}
	r.rollback = true
	r.step("rollback_restore_exit_orders")
	for _, o := range prior {
		req := models.OrderRequest{Symbol: symbol, Qty: o.Qty, Side: exitSide, Type: o.OrderType, TIF: models.TIFGTC}
		if o.OrderType == models.OrderTypeLimit {
			req.LimitPrice = o.LimitPrice
		} else {
			req.StopPrice = o.StopPrice
		}
		_, _ = s.broker.SubmitOrder(ctx, req)
	}
}
