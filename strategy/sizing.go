package strategy

import (
	"github.com/shopspring/decimal"

	"dayrunner/models"
)

// confidenceLadderMultiplier implements §4.5.5's sizing ladder:
// 70→1.0x, 75→1.2x, 80→1.5x, 85→1.8x, 90+→2.0x; never exceeds 2.0x.
func confidenceLadderMultiplier(confidence float64) decimal.Decimal {
	switch {
	case confidence >= 90:
		return decimal.NewFromFloat(2.0)
	case confidence >= 85:
		return decimal.NewFromFloat(1.8)
	case confidence >= 80:
		return decimal.NewFromFloat(1.5)
	case confidence >= 75:
		return decimal.NewFromFloat(1.2)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

// sessionMultiplier implements §4.5.5's session-based size scaling.
func sessionMultiplier(session Session) decimal.Decimal {
	switch session {
	case SessionMidday:
		return decimal.NewFromFloat(0.7)
	case SessionClosing:
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

// SizingInput bundles the inputs to ComputeSize (§4.5.5).
type SizingInput struct {
	Equity         decimal.Decimal
	BuyingPower    decimal.Decimal
	Price          decimal.Decimal
	EntryPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	Confidence     float64
	Session        Session
	BaseRiskPct    decimal.Decimal // e.g. 0.01 for 1%
	MaxPositionPct decimal.Decimal // cap as fraction of equity
}

// SizingResult is ComputeSize's output.
type SizingResult struct {
	Shares         decimal.Decimal
	RiskPctApplied decimal.Decimal
}

// ComputeSize implements §4.5.5's position sizing: risk-per-trade base
// R% scaled by the confidence ladder and session multiplier, capped at
// 2% and by max_position_pct/buying-power.
func ComputeSize(in SizingInput) SizingResult {
	riskPct := in.BaseRiskPct.Mul(confidenceLadderMultiplier(in.Confidence)).Mul(sessionMultiplier(in.Session))
	capPct := decimal.NewFromFloat(0.02)
	if riskPct.GreaterThan(capPct) {
		riskPct = capPct
	}

	perShareRisk := in.EntryPrice.Sub(in.StopPrice).Abs()
	if perShareRisk.Sign() <= 0 {
		return SizingResult{Shares: decimal.Zero, RiskPctApplied: riskPct}
	}

	riskDollars := in.Equity.Mul(riskPct)
	shares := riskDollars.Div(perShareRisk).Floor()

	if !in.MaxPositionPct.IsZero() && in.Price.Sign() > 0 {
		maxByEquity := in.MaxPositionPct.Mul(in.Equity).Div(in.Price).Floor()
		if shares.GreaterThan(maxByEquity) {
			shares = maxByEquity
		}
	}
	if in.Price.Sign() > 0 {
		maxByBuyingPower := in.BuyingPower.Div(in.Price).Floor()
		if shares.GreaterThan(maxByBuyingPower) {
			shares = maxByBuyingPower
		}
	}
	if shares.Sign() < 0 {
		shares = decimal.Zero
	}

	return SizingResult{Shares: shares, RiskPctApplied: riskPct}
}

// SlippageAdjustedBracket implements §4.5.5's expected-fill-price
// computation and the forced-2:1 widening rule: a 0.3% slippage buffer
// is applied in the direction of trade, the ATR stop/target are
// recomputed from that expected price, and if the resulting R/R is
// below 2.0 the target is widened to exactly 2.0x risk.
func SlippageAdjustedBracket(side models.Side, realtimePrice, atr, kStop, kTarget decimal.Decimal) (expectedFill, stop, target decimal.Decimal) {
	slippage := decimal.NewFromFloat(0.003)
	if side == models.SideShort {
		expectedFill = realtimePrice.Mul(decimal.NewFromInt(1).Sub(slippage))
		stop = expectedFill.Add(atr.Mul(kStop))
		target = expectedFill.Sub(atr.Mul(kTarget))
	} else {
		expectedFill = realtimePrice.Mul(decimal.NewFromInt(1).Add(slippage))
		stop = expectedFill.Sub(atr.Mul(kStop))
		target = expectedFill.Add(atr.Mul(kTarget))
	}

	risk := expectedFill.Sub(stop).Abs()
	reward := expectedFill.Sub(target).Abs()
	if risk.Sign() > 0 {
		rr, _ := reward.Div(risk).Float64()
		if rr < 2.0 {
			if side == models.SideShort {
				target = expectedFill.Sub(risk.Mul(decimal.NewFromFloat(2.0)))
			} else {
				target = expectedFill.Add(risk.Mul(decimal.NewFromFloat(2.0)))
			}
		}
	}
	return expectedFill, stop, target
}
