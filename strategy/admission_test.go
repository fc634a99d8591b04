package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dayrunner/interfaces"
)

func TestClassifySession(t *testing.T) {
	day := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	require.Equal(t, SessionClosed, ClassifySession(day.Add(9*time.Hour+0*time.Minute)))
	require.Equal(t, SessionMorning, ClassifySession(day.Add(9*time.Hour+30*time.Minute)))
	require.Equal(t, SessionMidday, ClassifySession(day.Add(12*time.Hour)))
	require.Equal(t, SessionClosing, ClassifySession(day.Add(14*time.Hour+30*time.Minute)))
	require.Equal(t, SessionClosed, ClassifySession(day.Add(16*time.Hour)))
}

func TestAdmit_OpenPositionGuard(t *testing.T) {
	res := Admit(AdmissionInput{HasOpenPosition: true})
	require.False(t, res.Admitted)
	require.Equal(t, "open_position_guard", res.Reason)
}

func TestAdmit_Cooldown(t *testing.T) {
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	res := Admit(AdmissionInput{
		Now: now, LastOrderAt: now.Add(-30 * time.Second),
		Risk: dec("1"), Reward: dec("2"), ConfidenceThresh: 60,
		Signal: Signal{Direction: DirectionBuy, Confidence: 80, Confirmations: 3},
	})
	require.False(t, res.Admitted)
	require.Equal(t, "per_symbol_cooldown", res.Reason)
}

// §8 scenario 5: short-admission gauntlet (MSFT).
func TestShortAdmissionGauntlet_Scenario5(t *testing.T) {
	signal := Signal{Symbol: "MSFT", Direction: DirectionSell, Confidence: 70, Confirmations: 3}
	sentiment := interfaces.SentimentReading{Score: 48, Classification: "neutral"}

	// price 310.00 vs EMA(short) 311.00 is 0.32% away, below the 0.5% cap
	// that only binds at confidence >= 60 -- so it does NOT reject here.
	pct, ok := PriceProximity(dec("310.00"), dec("311.00"), 0.5)
	require.True(t, ok)
	require.InDelta(t, 0.32, pct, 0.01)

	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	res := Admit(AdmissionInput{
		Signal: signal, Now: now, Risk: dec("1.20"), Reward: dec("2.40"),
		Price: dec("310.00"), EMAShort: dec("311.00"), Sentiment: sentiment,
		ConfidenceThresh: 60, VolumeRatio: 1.4, RSI: 45,
	})
	require.True(t, res.Admitted)
}

func TestShortAdmissionGauntlet_BullishSentimentRejects(t *testing.T) {
	signal := Signal{Symbol: "MSFT", Direction: DirectionSell, Confidence: 70, Confirmations: 3}
	res := Admit(AdmissionInput{
		Signal: signal, Now: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC), Risk: dec("1.20"), Reward: dec("2.40"), Price: dec("310.00"), EMAShort: dec("311.00"),
		Sentiment: interfaces.SentimentReading{Score: 60}, ConfidenceThresh: 60, VolumeRatio: 1.4, RSI: 45,
	})
	require.False(t, res.Admitted)
	require.Equal(t, "short_sentiment_bullish", res.Reason)
}

func TestShortAdmissionGauntlet_FearConfidenceFloor(t *testing.T) {
	signal := Signal{Symbol: "MSFT", Direction: DirectionSell, Confidence: 62, Confirmations: 3}
	res := Admit(AdmissionInput{
		Signal: signal, Now: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC), Risk: dec("1.20"), Reward: dec("2.40"), Price: dec("310.00"), EMAShort: dec("311.00"),
		Sentiment: interfaces.SentimentReading{Score: 15}, ConfidenceThresh: 60, VolumeRatio: 2.0, RSI: 45,
	})
	require.False(t, res.Admitted)
	require.Equal(t, "short_sentiment_fear_confidence_floor", res.Reason)
}

func TestShortAdmissionGauntlet_VolumeFloorScalesWithFear(t *testing.T) {
	signal := Signal{Symbol: "MSFT", Direction: DirectionSell, Confidence: 75, Confirmations: 3}
	res := Admit(AdmissionInput{
		Signal: signal, Now: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC), Risk: dec("1.20"), Reward: dec("2.40"), Price: dec("310.00"), EMAShort: dec("311.00"),
		Sentiment: interfaces.SentimentReading{Score: 25}, ConfidenceThresh: 60, VolumeRatio: 1.3, RSI: 45,
	})
	require.False(t, res.Admitted)
	require.Equal(t, "short_volume_floor", res.Reason)
}
