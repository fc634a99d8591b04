// Package protection implements the Profit Protection Manager (C4): a
// long-running tick loop that drives C1 from live prices and triggers
// trailing-stop updates and milestone partial exits through C2 (§4.4).
package protection

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dayrunner/interfaces"
	"dayrunner/models"
	"dayrunner/resilience"
	"dayrunner/tracker"
)

// Milestone is one partial-exit schedule entry (§4.4.2).
type Milestone struct {
	RMultiple float64
	Fraction  decimal.Decimal // fraction of original_quantity, e.g. 0.5
}

// ScheduleConfig carries the configurable defaults §9 open question 1
// resolves in favor of (1R/2R/3R at 50/25/25), exposed as configuration
// rather than hardcoded.
type ScheduleConfig struct {
	Milestones []Milestone
}

// DefaultSchedule is §4.4.2's default partial-exit schedule.
func DefaultSchedule() ScheduleConfig {
	return ScheduleConfig{Milestones: []Milestone{
		{RMultiple: 1.0, Fraction: decimal.NewFromFloat(0.50)},
		{RMultiple: 2.0, Fraction: decimal.NewFromFloat(0.25)},
		{RMultiple: 3.0, Fraction: decimal.NewFromFloat(0.25)},
	}}
}

// trailingStopTarget implements §4.4.1's table for a long; shorts mirror
// the formula via the side-aware sign below.
func trailingStopTarget(side models.Side, entry, riskDollars decimal.Decimal, r float64) (decimal.Decimal, bool) {
	var multiplier decimal.Decimal
	switch {
	case r < 1.0:
		return decimal.Zero, false
	case r < 1.5:
		multiplier = decimal.Zero // breakeven
	case r < 2.0:
		multiplier = decimal.NewFromFloat(0.5)
	case r < 3.0:
		multiplier = decimal.NewFromFloat(1.0)
	case r < 4.0:
		multiplier = decimal.NewFromFloat(1.5)
	default:
		multiplier = decimal.NewFromFloat(2.0)
	}

	offset := riskDollars.Mul(multiplier)
	if side == models.SideShort {
		return entry.Sub(offset), true
	}
	return entry.Add(offset), true
}

// Sequencer is the narrow slice of sequencer.Sequencer C4 depends on.
type Sequencer interface {
	ExecuteStopUpdate(ctx context.Context, symbol, exitSide string, newStop, currentQty decimal.Decimal) *models.SequenceResult
	ExecutePartialExitWithStopUpdate(ctx context.Context, symbol, exitSide string, exitQty, newStop decimal.Decimal) *models.SequenceResult
}

// ActivityLogger is the narrow slice of activity.Logger C4 depends on.
type ActivityLogger interface {
	LogDecision(component, symbol, message string, context map[string]any)
}

// Manager is the Profit Protection Manager (C4).
type Manager struct {
	tracker  *tracker.Tracker
	features interfaces.FeatureSource
	seq      Sequencer
	broker   interfaces.Broker
	activity ActivityLogger
	queue    *resilience.OfflineQueue
	schedule ScheduleConfig
	log      *logrus.Logger

	tickInterval time.Duration
}

// New constructs a Manager with the spec's ~1s tick interval and default
// partial-exit schedule. queue may be nil, in which case failed stop
// updates and partial exits are simply retried on the next tick against
// live state instead of being deferred for replay.
func New(tr *tracker.Tracker, fs interfaces.FeatureSource, seq Sequencer, broker interfaces.Broker, activity ActivityLogger, queue *resilience.OfflineQueue, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		tracker: tr, features: fs, seq: seq, broker: broker, activity: activity, queue: queue,
		schedule: DefaultSchedule(), log: log, tickInterval: time.Second,
	}
}

// stopUpdatePayload is a deferred ExecuteStopUpdate call (§9's "stop_update" kind).
type stopUpdatePayload struct {
	ExitSide   string
	NewStop    decimal.Decimal
	CurrentQty decimal.Decimal
}

// partialExitPayload is a deferred ExecutePartialExitWithStopUpdate call
// (§9's "partial_exit" kind).
type partialExitPayload struct {
	ExitSide string
	ExitQty  decimal.Decimal
	NewStop  decimal.Decimal
}

// Run drives the tick loop until ctx is canceled. Per-iteration errors
// are logged and swallowed — the loop must not die (§7 propagation policy).
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	m.replayDeferred(ctx)
	for _, pos := range m.tracker.GetAll() {
		m.tickOne(ctx, pos)
	}
}

// replayDeferred drains any ops queued by a prior tick's failed stop
// update or partial exit and retries each once (§5/§9: "bounded FIFO of
// deferred mutations to replay when the broker becomes reachable
// again"). An op that fails again is re-queued rather than dropped,
// unless the symbol's position has since closed.
func (m *Manager) replayDeferred(ctx context.Context) {
	if m.queue == nil {
		return
	}
	for _, op := range m.queue.Drain() {
		pos := m.tracker.Get(op.Symbol)
		if pos == nil {
			continue // position closed since the op was queued
		}
		switch op.Kind {
		case "stop_update":
			p := op.Payload.(stopUpdatePayload)
			res := m.seq.ExecuteStopUpdate(ctx, op.Symbol, p.ExitSide, p.NewStop, p.CurrentQty)
			if res.Success {
				m.tracker.UpdateStopLoss(op.Symbol, p.NewStop)
			} else {
				m.queue.Push(op)
			}
			m.logAction("deferred_stop_update", op.Symbol, res)
		case "partial_exit":
			p := op.Payload.(partialExitPayload)
			res := m.seq.ExecutePartialExitWithStopUpdate(ctx, op.Symbol, p.ExitSide, p.ExitQty, p.NewStop)
			if res.Success {
				profit := pos.CurrentPrice.Sub(pos.EntryPrice).Mul(p.ExitQty)
				if pos.Side == models.SideShort {
					profit = pos.EntryPrice.Sub(pos.CurrentPrice).Mul(p.ExitQty)
				}
				m.tracker.RecordPartialExit(op.Symbol, p.ExitQty, pos.CurrentPrice, profit)
			} else {
				m.queue.Push(op)
			}
			m.logAction("deferred_partial_exit", op.Symbol, res)
		}
	}
}

func (m *Manager) tickOne(ctx context.Context, pos *models.Position) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("symbol", pos.Symbol).WithField("panic", r).Error("protection: tick panic recovered")
		}
	}()

	bars, err := m.broker.GetLatestBars(ctx, []string{pos.Symbol})
	if err != nil {
		m.log.WithError(err).WithField("symbol", pos.Symbol).Warn("protection: failed to refresh price")
		return
	}
	bar, ok := bars[pos.Symbol]
	if !ok {
		return
	}
	updated := m.tracker.UpdatePrice(pos.Symbol, bar.Close)
	if updated == nil {
		return
	}

	exitSide := updated.Side.ExitBrokerSide()

	if target, ok := trailingStopTarget(updated.Side, updated.EntryPrice, updated.InitialRiskDollars(), updated.RMultiple); ok {
		isImprovement := target.GreaterThan(updated.StopLoss)
		if updated.Side == models.SideShort {
			isImprovement = target.LessThan(updated.StopLoss)
		}
		if isImprovement {
			res := m.seq.ExecuteStopUpdate(ctx, pos.Symbol, exitSide, target, updated.Quantity())
			if res.Success {
				m.tracker.UpdateStopLoss(pos.Symbol, target)
			} else {
				m.deferStopUpdate(pos.Symbol, exitSide, target, updated.Quantity())
			}
			m.logAction("stop_update", pos.Symbol, res)
		}
	}

	m.checkPartialExits(ctx, updated, exitSide)
	m.checkExitSignals(ctx, updated, exitSide)
}

func (m *Manager) checkPartialExits(ctx context.Context, pos *models.Position, exitSide string) {
	exitsSoFar := len(pos.Allocation.PartialExits)
	if exitsSoFar >= len(m.schedule.Milestones) {
		return
	}
	milestone := m.schedule.Milestones[exitsSoFar]
	if pos.RMultiple < milestone.RMultiple {
		return
	}

	var qty decimal.Decimal
	isFinal := exitsSoFar == len(m.schedule.Milestones)-1
	if isFinal {
		qty = pos.Allocation.RemainingQuantity
	} else {
		qty = pos.Allocation.OriginalQuantity().Mul(milestone.Fraction).Truncate(0)
	}
	if qty.Sign() <= 0 || qty.GreaterThan(pos.Allocation.RemainingQuantity) {
		qty = pos.Allocation.RemainingQuantity
	}
	if qty.Sign() <= 0 {
		return
	}

	newStop, _ := trailingStopTarget(pos.Side, pos.EntryPrice, pos.InitialRiskDollars(), pos.RMultiple)
	res := m.seq.ExecutePartialExitWithStopUpdate(ctx, pos.Symbol, exitSide, qty, newStop)
	if res.Success {
		profit := pos.CurrentPrice.Sub(pos.EntryPrice).Mul(qty)
		if pos.Side == models.SideShort {
			profit = pos.EntryPrice.Sub(pos.CurrentPrice).Mul(qty)
		}
		m.tracker.RecordPartialExit(pos.Symbol, qty, pos.CurrentPrice, profit)
	} else {
		m.deferPartialExit(pos.Symbol, exitSide, qty, newStop)
	}
	m.logAction("partial_exit", pos.Symbol, res)
}

// deferStopUpdate queues a failed stop update for replay on the next
// tick (§5/§9). A no-op if no queue was configured or the gate is
// already in RECOVERY, where the queue refuses the op and it is not kept.
func (m *Manager) deferStopUpdate(symbol, exitSide string, newStop, currentQty decimal.Decimal) {
	if m.queue == nil {
		return
	}
	m.queue.Push(resilience.DeferredOp{
		Symbol: symbol, Kind: "stop_update",
		Payload: stopUpdatePayload{ExitSide: exitSide, NewStop: newStop, CurrentQty: currentQty},
	})
}

// deferPartialExit queues a failed partial exit + stop replacement for
// replay on the next tick.
func (m *Manager) deferPartialExit(symbol, exitSide string, exitQty, newStop decimal.Decimal) {
	if m.queue == nil {
		return
	}
	m.queue.Push(resilience.DeferredOp{
		Symbol: symbol, Kind: "partial_exit",
		Payload: partialExitPayload{ExitSide: exitSide, ExitQty: exitQty, NewStop: newStop},
	})
}

// checkExitSignals implements §4.4.3's two auxiliary exit triggers.
func (m *Manager) checkExitSignals(ctx context.Context, pos *models.Position, exitSide string) {
	if pos.Protection.State < models.BreakevenProtected {
		return
	}

	feat, err := m.features.GetLatestFeatures(ctx, pos.Symbol)
	if err != nil {
		return
	}

	if bearishRSIDivergence(feat) && pos.Side == models.SideLong {
		res := m.seq.ExecutePartialExitWithStopUpdate(ctx, pos.Symbol, exitSide, pos.Allocation.RemainingQuantity, pos.StopLoss)
		if res.Success {
			m.tracker.RecordPartialExit(pos.Symbol, pos.Allocation.RemainingQuantity, pos.CurrentPrice, pos.UnrealizedPL)
		} else {
			m.deferPartialExit(pos.Symbol, exitSide, pos.Allocation.RemainingQuantity, pos.StopLoss)
		}
		m.logAction("exit_signal_rsi_divergence", pos.Symbol, res)
		return
	}

	if feat.ADX < 20 && pos.Protection.State >= models.PartialProfitTaken {
		res := m.seq.ExecutePartialExitWithStopUpdate(ctx, pos.Symbol, exitSide, pos.Allocation.RemainingQuantity, pos.StopLoss)
		if res.Success {
			m.tracker.RecordPartialExit(pos.Symbol, pos.Allocation.RemainingQuantity, pos.CurrentPrice, pos.UnrealizedPL)
		} else {
			m.deferPartialExit(pos.Symbol, exitSide, pos.Allocation.RemainingQuantity, pos.StopLoss)
		}
		m.logAction("exit_signal_adx_weak", pos.Symbol, res)
	}
}

// bearishRSIDivergence detects price making a higher high while RSI
// makes a lower high over the last 5 bars (§4.4.3a): the latest bar's
// high must exceed the highest high of the preceding bars in the
// window, while its RSI fails to exceed the highest RSI of those same
// preceding bars.
func bearishRSIDivergence(f interfaces.Features) bool {
	n := len(f.RecentHighs)
	if n < 3 || len(f.RecentRSI) != n {
		return false
	}

	const window = 5
	if n > window {
		n = window
	}
	highs := f.RecentHighs[len(f.RecentHighs)-n:]
	rsis := f.RecentRSI[len(f.RecentRSI)-n:]

	lastHigh, priorHighs := highs[len(highs)-1], highs[:len(highs)-1]
	lastRSI, priorRSIs := rsis[len(rsis)-1], rsis[:len(rsis)-1]

	maxPriorHigh, maxPriorRSI := priorHighs[0], priorRSIs[0]
	for i := 1; i < len(priorHighs); i++ {
		if priorHighs[i].GreaterThan(maxPriorHigh) {
			maxPriorHigh = priorHighs[i]
		}
		if priorRSIs[i] > maxPriorRSI {
			maxPriorRSI = priorRSIs[i]
		}
	}

	return lastHigh.GreaterThan(maxPriorHigh) && lastRSI < maxPriorRSI
}

func (m *Manager) logAction(action, symbol string, res *models.SequenceResult) {
	if m.activity == nil {
		return
	}
	m.activity.LogDecision("protection", symbol, action, map[string]any{
		"success":            res.Success,
		"rollback_performed": res.RollbackPerformed,
		"conflicts":          res.ConflictsDetected,
		"execution_time_ms":  res.ExecutionTimeMS,
	})
}

// SyncOnStartup implements §4.4.4: list broker positions and reconstruct
// a Position for each, using any existing stop order's price, falling
// back to entry ± 2% if none exists.
func (m *Manager) SyncOnStartup(ctx context.Context, orders func(ctx context.Context, status string, symbols []string) ([]*models.Order, error)) error {
	positions, err := m.broker.ListPositions(ctx)
	if err != nil {
		return err
	}
	for _, bp := range positions {
		stop := fallbackStop(bp)
		if orders != nil {
			if existing, err := orders(ctx, "open", []string{bp.Symbol}); err == nil {
				for _, o := range existing {
					if o.OrderType == models.OrderTypeStop || o.OrderType == models.OrderTypeTrailingStop {
						stop = o.StopPrice
						break
					}
				}
			}
		}

		pos := &models.Position{
			Symbol:       bp.Symbol,
			EntryPrice:   bp.AvgEntryPrice,
			InitialStop:  stop,
			StopLoss:     stop,
			Side:         bp.Side,
			CurrentPrice: bp.CurrentPrice,
			UnrealizedPL: bp.UnrealizedPL,
			Allocation: models.ShareAllocation{
				OriginalQuantity:  bp.Qty.Abs(),
				RemainingQuantity: bp.Qty.Abs(),
			},
			Protection:  models.Protection{State: models.InitialRisk, StopLossPrice: stop},
			EntryTime:   time.Now(),
			LastUpdated: time.Now(),
		}
		pos.RMultiple = computeRMultipleForSync(pos)
		pos.Protection.State = stateForR(pos.RMultiple)
		m.tracker.Restore(pos)
	}
	return nil
}

func fallbackStop(bp *interfaces.BrokerPosition) decimal.Decimal {
	pct := decimal.NewFromFloat(0.02)
	if bp.Side == models.SideShort {
		return bp.AvgEntryPrice.Mul(decimal.NewFromInt(1).Add(pct))
	}
	return bp.AvgEntryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
}

func computeRMultipleForSync(pos *models.Position) float64 {
	var risk, gain decimal.Decimal
	if pos.Side == models.SideShort {
		risk = pos.InitialStop.Sub(pos.EntryPrice)
		gain = pos.EntryPrice.Sub(pos.CurrentPrice)
	} else {
		risk = pos.EntryPrice.Sub(pos.InitialStop)
		gain = pos.CurrentPrice.Sub(pos.EntryPrice)
	}
	if risk.Sign() <= 0 {
		return 0
	}
	r, _ := gain.Div(risk).Float64()
	return r
}

// stateForR reconstructs only what's decidable from r_multiple alone: the
// higher states also require a PartialExit history (§4.1.1) that a
// freshly-synced broker position cannot supply.
func stateForR(r float64) models.ProtectionState {
	if r >= 1.0 {
		return models.BreakevenProtected
	}
	return models.InitialRisk
}
