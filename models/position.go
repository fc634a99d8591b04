// Package models holds the data types shared by every core component:
// positions, protection state, orders, fills, and sequence results.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position or order.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// BrokerSide converts a position Side into the order side the broker expects.
func (s Side) BrokerSide() string {
	if s == SideShort {
		return "sell"
	}
	return "buy"
}

// ExitBrokerSide is the order side that closes (part of) a position of this Side.
func (s Side) ExitBrokerSide() string {
	if s == SideShort {
		return "buy"
	}
	return "sell"
}

// ProtectionState is the ordered, monotonic lifecycle of profit protection
// for a Position. Index order matters: a Position's state index only ever
// increases (P3).
type ProtectionState int

const (
	InitialRisk ProtectionState = iota
	BreakevenProtected
	PartialProfitTaken
	AdvancedProfitTaken
	FinalProfitTaken
)

func (s ProtectionState) String() string {
	switch s {
	case InitialRisk:
		return "INITIAL_RISK"
	case BreakevenProtected:
		return "BREAKEVEN_PROTECTED"
	case PartialProfitTaken:
		return "PARTIAL_PROFIT_TAKEN"
	case AdvancedProfitTaken:
		return "ADVANCED_PROFIT_TAKEN"
	case FinalProfitTaken:
		return "FINAL_PROFIT_TAKEN"
	default:
		return "UNKNOWN"
	}
}

// PartialExit is an append-only record of one partial profit-taking fill.
type PartialExit struct {
	SharesSold  decimal.Decimal `json:"shares_sold"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	ProfitAmt   decimal.Decimal `json:"profit_amount"`
	RAtExit     float64         `json:"r_multiple_at_exit"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ShareAllocation tracks how much of a position's original size remains
// after zero or more partial exits. Invariant: RemainingQuantity =
// OriginalQuantity - sum(exit.SharesSold), and RemainingQuantity >= 0 (P5).
type ShareAllocation struct {
	OriginalQuantity  decimal.Decimal `json:"original_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	PartialExits      []PartialExit   `json:"partial_exits"`
}

// SharesSold returns the cumulative shares sold across all partial exits.
func (a *ShareAllocation) SharesSold() decimal.Decimal {
	total := decimal.Zero
	for _, e := range a.PartialExits {
		total = total.Add(e.SharesSold)
	}
	return total
}

// Protection carries the profit-protection bookkeeping attached to a Position.
type Protection struct {
	State           ProtectionState `json:"state"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TrailingActive  bool            `json:"trailing_active"`
	LastStopUpdate  time.Time       `json:"last_stop_update"`
}

// Position is the single source of truth for one open, symbol-keyed
// position. It is mutated only through tracker.Tracker's narrow
// operations — never directly.
type Position struct {
	Symbol          string          `json:"symbol"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	InitialStop     decimal.Decimal `json:"initial_stop_loss"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TakeProfit      decimal.Decimal `json:"take_profit,omitempty"`
	Side            Side            `json:"side"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	UnrealizedPL    decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPct float64         `json:"unrealized_pl_pct"`
	RMultiple       float64         `json:"r_multiple"`

	Allocation ShareAllocation `json:"allocation"`
	Protection Protection      `json:"protection"`

	EntryTime   time.Time `json:"entry_time"`
	LastUpdated time.Time `json:"last_updated"`
}

// Quantity is the current remaining share count (mirrors Allocation.RemainingQuantity).
func (p *Position) Quantity() decimal.Decimal {
	return p.Allocation.RemainingQuantity
}

// OriginalQuantity is the immutable size the position was opened with.
func (p *Position) OriginalQuantity() decimal.Decimal {
	return p.Allocation.OriginalQuantity
}

// InitialRiskDollars is |entry - initial_stop|, fixed at entry (glossary:
// "Initial risk"). It never changes even as the stop is trailed.
func (p *Position) InitialRiskDollars() decimal.Decimal {
	return p.EntryPrice.Sub(p.InitialStop).Abs()
}
