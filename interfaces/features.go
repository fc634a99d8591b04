package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Features is the per-symbol feature dictionary C5 consumes (§4.5.1). C5
// never computes these values; they arrive fully formed from a
// FeatureSource implementation.
type Features struct {
	Symbol string

	Price decimal.Decimal // real-time last trade preferred, bar close fallback
	AsOf  time.Time       // staleness is the caller's responsibility to check

	EMAShort decimal.Decimal
	EMALong  decimal.Decimal
	RSI      float64
	MACD     float64
	MACDSignal float64
	ADX      float64
	ATR      decimal.Decimal

	Volume      int64
	VolumeAvg   float64
	VolumeRatio float64

	RegimeLabel      string
	RegimeMultiplier float64 // in [0,1]

	// RecentRSI/RecentHighs feed the bearish-divergence exit trigger
	// (§4.4.3); populated for the last 5 bars, most recent last.
	RecentRSI   []float64
	RecentHighs []decimal.Decimal
}

// Stale reports whether the feature snapshot is older than maxAge as of now.
func (f Features) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(f.AsOf) > maxAge
}

// FeatureSource supplies the market-feature contract consumed by C5 and C4's
// exit-signal check. Implementations must not block indefinitely; ctx
// bounds the call.
type FeatureSource interface {
	GetLatestFeatures(ctx context.Context, symbol string) (Features, error)
}

// SentimentReading is the market-wide sentiment snapshot (§6).
type SentimentReading struct {
	Score          float64 // 0..100
	Classification string
	AsOf           time.Time
}

// SentimentSource may be slow or async; C5 never blocks the evaluation
// path on it directly — see CachedSentimentSource in package features.
type SentimentSource interface {
	GetSentiment(ctx context.Context) (SentimentReading, error)
}

// Predictor is the shadow-mode ML observer (§4.5.7, §9 open question 3).
// It must never be used to reject a trade or alter sizing; Observe is
// fire-and-forget and must never perform synchronous persistence.
type Predictor interface {
	// Predict returns a blended confidence; in shadow mode the
	// implementation's weight is 0 and it must return strategyConfidence
	// unchanged.
	Predict(ctx context.Context, symbol string, features Features, strategyConfidence float64) (blended float64, err error)
	// Observe records the prediction/outcome for later evaluation. Must
	// not block the caller or perform synchronous DB writes.
	Observe(symbol string, features Features, strategyConfidence, blended float64)
}
