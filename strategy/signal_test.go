package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dayrunner/interfaces"
)

func TestBuildSignal_DirectionFromEMACross(t *testing.T) {
	bullish := interfaces.Features{
		EMAShort: dec("101"), EMALong: dec("100"), RSI: 35, MACD: 1, MACDSignal: 0.5,
		ADX: 25, VolumeRatio: 1.5, RegimeMultiplier: 1.0,
	}
	sig := BuildSignal("AAPL", bullish)
	require.Equal(t, DirectionBuy, sig.Direction)
	require.Equal(t, 4, sig.Confirmations)
	require.InDelta(t, 100.0, sig.Confidence, 1e-9)
}

func TestBuildSignal_FlatEMANoDirection(t *testing.T) {
	sig := BuildSignal("AAPL", interfaces.Features{EMAShort: dec("100"), EMALong: dec("100")})
	require.Equal(t, DirectionNone, sig.Direction)
	require.Zero(t, sig.Confirmations)
}

func TestBuildSignal_RegimeMultiplierScalesConfidence(t *testing.T) {
	weak := interfaces.Features{
		EMAShort: dec("99"), EMALong: dec("100"), RSI: 65, MACD: -1, MACDSignal: 0,
		ADX: 25, VolumeRatio: 1.5, RegimeMultiplier: 0.5,
	}
	sig := BuildSignal("AAPL", weak)
	require.Equal(t, DirectionSell, sig.Direction)
	require.InDelta(t, 50.0, sig.Confidence, 1e-9)
}
