package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dayrunner/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// §8 scenario 4: bracket R/R floor.
func TestSlippageAdjustedBracket_RRFloor(t *testing.T) {
	entry := dec("50.00")
	atr := dec("0.40")

	// naive stop 49.40 (risk 0.60), naive target 50.80 (reward 0.80) -> R/R 1.33
	_, stop, target := SlippageAdjustedBracket(models.SideLong, entry, atr, dec("1.5"), dec("2.0"))
	// forcing kicks in immediately since SlippageAdjustedBracket always widens
	// below-floor R/R to exactly 2:1 — verify that widened result directly.
	expectedFill := entry.Mul(dec("1.003"))
	risk := expectedFill.Sub(stop).Abs()
	reward := expectedFill.Sub(target).Abs()
	rr, _ := reward.Div(risk).Float64()
	require.InDelta(t, 2.0, rr, 1e-6)

	// raising k_target to 2.5 still produces the same forced-2:1 outcome.
	_, stop2, target2 := SlippageAdjustedBracket(models.SideLong, entry, atr, dec("1.5"), dec("2.5"))
	risk2 := expectedFill.Sub(stop2).Abs()
	reward2 := expectedFill.Sub(target2).Abs()
	rr2, _ := reward2.Div(risk2).Float64()
	require.GreaterOrEqual(t, rr2, 1.95)
}

// Exercises the raw rr_floor filter in isolation against the naive
// (unwidened) risk/reward from §8 scenario 4's first two variants.
func TestAdmit_RRFloor_RejectsNaiveBracket(t *testing.T) {
	sig := Signal{Symbol: "TEST", Direction: DirectionBuy, Confidence: 80, Confirmations: 3}
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC) // inside the morning window

	// naive: risk 0.60, reward 0.80 -> R/R 1.33
	res := Admit(AdmissionInput{
		Signal: sig, Now: now, Risk: dec("0.60"), Reward: dec("0.80"),
		Price: dec("50.00"), ConfidenceThresh: 60, VolumeRatio: 1.5, RSI: 35,
	})
	require.False(t, res.Admitted)
	require.Equal(t, "rr_floor", res.Reason)

	// raised k_target to 2.5: risk 0.60, reward 1.00 -> R/R 1.67, still below floor
	res2 := Admit(AdmissionInput{
		Signal: sig, Now: now, Risk: dec("0.60"), Reward: dec("1.00"),
		Price: dec("50.00"), ConfidenceThresh: 60, VolumeRatio: 1.5, RSI: 35,
	})
	require.False(t, res2.Admitted)
	require.Equal(t, "rr_floor", res2.Reason)

	// forced 2:1 after slippage adjustment: risk 1.20, reward 2.40 -> admitted
	res3 := Admit(AdmissionInput{
		Signal: sig, Now: now, Risk: dec("1.20"), Reward: dec("2.40"),
		Price: dec("50.00"), ConfidenceThresh: 60, VolumeRatio: 1.5, RSI: 35,
	})
	require.True(t, res3.Admitted)
}

func TestComputeSize_ConfidenceLadderAndCaps(t *testing.T) {
	in := SizingInput{
		Equity: dec("100000"), BuyingPower: dec("400000"), Price: dec("50.15"),
		EntryPrice: dec("50.15"), StopPrice: dec("48.95"), Confidence: 90, Session: SessionMorning,
		BaseRiskPct: dec("0.01"), MaxPositionPct: dec("0.1"),
	}
	res := ComputeSize(in)
	// riskPct = 0.01 * 2.0 (90+ ladder) * 1.0 (morning) = 0.02, equals the cap.
	require.True(t, res.RiskPctApplied.Equal(dec("0.02")))
	// risk-based sizing (2000/1.20 -> 1666 shares) is overridden by the
	// max_position_pct cap: 0.1*100000/50.15 -> 199 shares.
	require.True(t, res.Shares.Equal(dec("199")))
}

func TestComputeSize_BuyingPowerCapBinds(t *testing.T) {
	res := ComputeSize(SizingInput{
		Equity: dec("100000"), BuyingPower: dec("1000"), Price: dec("50.15"),
		EntryPrice: dec("50.15"), StopPrice: dec("48.95"), Confidence: 70, Session: SessionMorning,
		BaseRiskPct: dec("0.01"), MaxPositionPct: dec("0.5"),
	})
	// buying power 1000 / price 50.15 -> 19 shares, binds below both the
	// risk-based and max_position_pct figures.
	require.True(t, res.Shares.Equal(dec("19")))
}

func TestComputeSize_ZeroRiskYieldsZeroShares(t *testing.T) {
	res := ComputeSize(SizingInput{
		Equity: dec("100000"), BuyingPower: dec("50000"), Price: dec("50"),
		EntryPrice: dec("50"), StopPrice: dec("50"), Confidence: 80, Session: SessionMorning,
		BaseRiskPct: dec("0.01"),
	})
	require.True(t, res.Shares.IsZero())
}
