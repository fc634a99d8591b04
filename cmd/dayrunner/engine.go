package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dayrunner/activity"
	"dayrunner/database"
	"dayrunner/interfaces"
	"dayrunner/models"
	"dayrunner/resilience"
	"dayrunner/strategy"
	"dayrunner/tracker"
)

// Engine wires the core components together and implements
// interfaces.ControlAPI for the HTTP control surface.
type Engine struct {
	broker   interfaces.Broker
	tracker  *tracker.Tracker
	pipeline *strategy.Pipeline
	store    *database.GormStore
	actlog   *activity.Logger
	gate     *resilience.RecoveryGate
	queue    *resilience.OfflineQueue
	breakers *resilience.BreakerRegistry
	log      *logrus.Logger

	tradingEnabled bool
	lastSyncAt     time.Time
}

func (e *Engine) EnableTrading() {
	e.tradingEnabled = true
	e.actlog.LogDecision("control", "", "trading_enabled", nil)
}

func (e *Engine) DisableTrading() {
	e.tradingEnabled = false
	e.actlog.LogDecision("control", "", "trading_disabled", nil)
}

// FlattenAll submits a market exit for every tracked position. Per-symbol
// failures are logged and aggregated; the call only returns an error if
// every flatten attempt failed.
func (e *Engine) FlattenAll() error {
	positions := e.tracker.GetAll()
	var failures int
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, pos := range positions {
		_, err := e.broker.SubmitOrder(ctx, models.OrderRequest{
			Symbol: pos.Symbol, Qty: pos.Quantity(), Side: pos.Side.ExitBrokerSide(),
			Type: models.OrderTypeMarket, TIF: models.TIFDay,
		})
		if err != nil {
			failures++
			e.log.WithError(err).WithField("symbol", pos.Symbol).Error("engine: flatten failed")
		}
	}
	if len(positions) > 0 && failures == len(positions) {
		return fmt.Errorf("engine: flatten failed for all %d positions", len(positions))
	}
	return nil
}

func (e *Engine) GetEngineStatus() interfaces.EngineStatus {
	mode := interfaces.ModeNormal
	if e.gate.Mode() == resilience.ModeRecovery {
		mode = interfaces.ModeRecovery
	}
	return interfaces.EngineStatus{
		Mode: mode, TradingEnabled: e.tradingEnabled,
		OpenPositions: len(e.tracker.GetAll()), OfflineQueueLen: e.queue.Len(),
		LastSyncAt: e.lastSyncAt,
	}
}

// SyncState adopts every broker position the tracker does not already
// hold, with entry, initial stop and stop all set to the broker's average
// entry price; tracked positions are left unchanged, and no stop orders
// are consulted. It runs at startup and on demand via POST /control/sync;
// the stop-order-aware startup reconstruction of §4.4.4 is
// protection.Manager.SyncOnStartup.
func (e *Engine) SyncState() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	brokerPositions, err := e.broker.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine: sync: list positions: %w", err)
	}

	for _, bp := range brokerPositions {
		if e.tracker.Get(bp.Symbol) != nil {
			continue
		}
		pos := &models.Position{
			Symbol: bp.Symbol, Side: bp.Side, EntryPrice: bp.AvgEntryPrice,
			InitialStop: bp.AvgEntryPrice, StopLoss: bp.AvgEntryPrice, CurrentPrice: bp.CurrentPrice,
			Allocation: models.ShareAllocation{OriginalQuantity: bp.Qty, RemainingQuantity: bp.Qty},
			EntryTime:  time.Now(), LastUpdated: time.Now(),
		}
		e.tracker.Restore(pos)
		e.log.WithField("symbol", bp.Symbol).Warn("engine: adopted untracked broker position on sync")
	}

	e.lastSyncAt = time.Now()
	return nil
}

func (e *Engine) GetPositions() []*models.Position { return e.tracker.GetAll() }

func (e *Engine) GetOrders() ([]*models.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.broker.ListOrders(ctx, "", nil)
}

func (e *Engine) GetMetrics() interfaces.MetricsSnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap := interfaces.MetricsSnapshot{
		OpenPositions: len(e.tracker.GetAll()),
		RecoveryMode:  e.gate.Mode() == resilience.ModeRecovery,
		SnapshotTime:  time.Now(),
	}
	if acct, err := e.broker.GetAccount(ctx); err == nil {
		snap.Equity = acct.PortfolioValue
		snap.Cash = acct.Cash
		snap.BuyingPower = acct.BuyingPower
	}

	if err := e.store.SaveMetricsSnapshot(snap); err != nil {
		e.log.WithError(err).Warn("engine: failed to persist metrics snapshot")
	}
	return snap
}

func (e *Engine) GetPositionSummary(symbol string) (*interfaces.PositionSummary, error) {
	pos := e.tracker.Get(symbol)
	if pos == nil {
		return nil, fmt.Errorf("engine: no open position for %s", symbol)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orders, err := e.broker.ListOrders(ctx, "open", []string{symbol})
	if err != nil {
		orders = nil
	}

	return &interfaces.PositionSummary{
		Position: pos, OpenOrders: orders, RecentExits: pos.Allocation.PartialExits,
	}, nil
}

func (e *Engine) BuildSnapshot() interfaces.Snapshot {
	orders, _ := e.GetOrders()
	metrics := e.GetMetrics()
	return interfaces.Snapshot{
		Status: e.GetEngineStatus(), Positions: e.tracker.GetAll(), OpenOrders: orders,
		Equity: metrics.Equity,
	}
}

// evaluateWatchlist runs one C5 pass over every symbol in watchlist.
func (e *Engine) evaluateWatchlist(ctx context.Context, watchlist []string) {
	if !e.tradingEnabled {
		return
	}

	acctCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	acct, err := e.broker.GetAccount(acctCtx)
	cancel()
	if err != nil {
		e.log.WithError(err).Error("engine: failed to fetch account for sizing")
		return
	}

	for _, symbol := range watchlist {
		hasPosition := e.tracker.Get(symbol) != nil
		evalCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := e.pipeline.Evaluate(evalCtx, symbol, hasPosition, acct.PortfolioValue, acct.BuyingPower)
		cancel()
		if err != nil {
			e.log.WithError(err).WithField("symbol", symbol).Warn("engine: strategy evaluation failed")
		}
	}
}
