// Package tracker implements the Position State Tracker (C1): the
// in-memory, symbol-keyed ground truth for every open position. All
// operations are synchronous and intended to complete in microseconds —
// no broker I/O happens here.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dayrunner/models"
)

// Tracker owns the position map. Reads may be concurrent; each write
// takes a per-symbol lock so two writers to the same symbol never
// proceed concurrently (§5).
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
	locks     map[string]*sync.Mutex
	locksMu   sync.Mutex
	log       *logrus.Logger
}

// New constructs an empty Tracker.
func New(log *logrus.Logger) *Tracker {
	if log == nil {
		log = logrus.New()
	}
	return &Tracker{
		positions: make(map[string]*models.Position),
		locks:     make(map[string]*sync.Mutex),
		log:       log,
	}
}

func (t *Tracker) symbolLock(symbol string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	l, ok := t.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		t.locks[symbol] = l
	}
	return l
}

// Track creates a fresh Position for symbol. Fails if one already exists.
func (t *Tracker) Track(symbol string, entryPrice, stopLoss, quantity decimal.Decimal, side models.Side) (*models.Position, error) {
	lock := t.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.positions[symbol]; exists {
		return nil, fmt.Errorf("tracker: position already exists for %s", symbol)
	}

	now := time.Now()
	pos := &models.Position{
		Symbol:       symbol,
		EntryPrice:   entryPrice,
		InitialStop:  stopLoss,
		StopLoss:     stopLoss,
		Side:         side,
		CurrentPrice: entryPrice,
		UnrealizedPL: decimal.Zero,
		RMultiple:    0,
		Allocation: models.ShareAllocation{
			OriginalQuantity:  quantity,
			RemainingQuantity: quantity,
		},
		Protection: models.Protection{
			State:         models.InitialRisk,
			StopLossPrice: stopLoss,
		},
		EntryTime:   now,
		LastUpdated: now,
	}
	t.positions[symbol] = pos
	t.log.WithFields(logrus.Fields{
		"symbol": symbol, "entry": entryPrice, "stop": stopLoss, "qty": quantity, "side": side,
	}).Info("tracker: position opened")

	cp := *pos
	return &cp, nil
}

// computeRMultiple implements invariant 1 (§3): undefined risk (≤0) yields 0.
func computeRMultiple(side models.Side, current, entry, initialStop decimal.Decimal) float64 {
	var risk, gain decimal.Decimal
	if side == models.SideShort {
		risk = initialStop.Sub(entry)
		gain = entry.Sub(current)
	} else {
		risk = entry.Sub(initialStop)
		gain = current.Sub(entry)
	}
	if risk.Sign() <= 0 {
		return 0
	}
	r, _ := gain.Div(risk).Float64()
	return r
}

// UpdatePrice updates current_price, recomputes P/L and R, then advances
// ProtectionState per §4.1.1 if warranted. Returns nil if no Position is
// tracked for symbol.
func (t *Tracker) UpdatePrice(symbol string, price decimal.Decimal) *models.Position {
	lock := t.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return nil
	}

	pos.CurrentPrice = price
	qty := pos.Quantity()
	var pl decimal.Decimal
	if pos.Side == models.SideShort {
		pl = pos.EntryPrice.Sub(price).Mul(qty)
	} else {
		pl = price.Sub(pos.EntryPrice).Mul(qty)
	}
	pos.UnrealizedPL = pl
	if !pos.EntryPrice.IsZero() {
		pct, _ := pl.Div(pos.EntryPrice.Mul(pos.OriginalQuantity())).Float64()
		pos.UnrealizedPLPct = pct * 100
	}
	pos.RMultiple = computeRMultiple(pos.Side, price, pos.EntryPrice, pos.InitialStop)
	pos.LastUpdated = time.Now()

	t.advanceProtectionState(pos)

	cp := *pos
	return &cp
}

// advanceProtectionState applies §4.1.1's predicates. Transitions are
// observations only — a late-arriving price update that would not
// advance the state is a no-op (§5).
func (t *Tracker) advanceProtectionState(pos *models.Position) {
	r := pos.RMultiple
	exits := len(pos.Allocation.PartialExits)
	state := pos.Protection.State

	next := state
	switch {
	case state == models.InitialRisk && r >= 1.0:
		next = models.BreakevenProtected
	case state == models.BreakevenProtected && r >= 2.0 && exits >= 1:
		next = models.PartialProfitTaken
	case state == models.PartialProfitTaken && r >= 3.0 && exits >= 2:
		next = models.AdvancedProfitTaken
	case state == models.AdvancedProfitTaken && (r >= 4.0 || pos.Allocation.RemainingQuantity.IsZero()):
		next = models.FinalProfitTaken
	}

	if next != state && next > state {
		pos.Protection.State = next
		t.log.WithFields(logrus.Fields{
			"symbol": pos.Symbol, "from": state.String(), "to": next.String(), "r_multiple": r,
		}).Info("tracker: protection state advanced")
	}
}

// UpdateStopLoss writes new_stop unless it would violate stop
// monotonicity (never looser than the current stop) — invariant 2.
func (t *Tracker) UpdateStopLoss(symbol string, newStop decimal.Decimal) bool {
	lock := t.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return false
	}

	if pos.Side == models.SideShort {
		if newStop.GreaterThan(pos.StopLoss) {
			return false
		}
	} else {
		if newStop.LessThan(pos.StopLoss) {
			return false
		}
	}

	pos.StopLoss = newStop
	pos.Protection.StopLossPrice = newStop
	pos.Protection.LastStopUpdate = time.Now()
	t.log.WithFields(logrus.Fields{"symbol": symbol, "new_stop": newStop}).Info("tracker: stop updated")
	return true
}

// RecordPartialExit decrements remaining_quantity and appends a
// PartialExit. Rejects if sharesSold is non-positive or exceeds
// remaining_quantity (invariant 5).
func (t *Tracker) RecordPartialExit(symbol string, sharesSold, price, profit decimal.Decimal) bool {
	lock := t.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return false
	}
	if sharesSold.Sign() <= 0 || sharesSold.GreaterThan(pos.Allocation.RemainingQuantity) {
		return false
	}

	pos.Allocation.RemainingQuantity = pos.Allocation.RemainingQuantity.Sub(sharesSold)
	pos.Allocation.PartialExits = append(pos.Allocation.PartialExits, models.PartialExit{
		SharesSold: sharesSold,
		ExitPrice:  price,
		ProfitAmt:  profit,
		RAtExit:    pos.RMultiple,
		Timestamp:  time.Now(),
	})
	t.log.WithFields(logrus.Fields{
		"symbol": symbol, "shares_sold": sharesSold, "price": price, "remaining": pos.Allocation.RemainingQuantity,
	}).Info("tracker: partial exit recorded")

	t.advanceProtectionState(pos)
	return true
}

// Remove deletes the tracked Position for symbol (full exit or flatten).
func (t *Tracker) Remove(symbol string) {
	lock := t.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, symbol)
}

// Get returns a copy of the tracked Position, or nil if none exists.
func (t *Tracker) Get(symbol string) *models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// GetAll returns a copy of every tracked Position.
func (t *Tracker) GetAll() []*models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out
}

// Restore inserts a Position reconstructed from broker state without
// re-validating "already exists" — used by the startup broker sync
// (§4.4.4) and the on-demand sync, bypassing Track's duplicate check.
func (t *Tracker) Restore(pos *models.Position) {
	lock := t.symbolLock(pos.Symbol)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[pos.Symbol] = pos
}
