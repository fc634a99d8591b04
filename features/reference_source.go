// Package features provides a reference interfaces.FeatureSource and a
// cache-wrapping interfaces.SentimentSource. These exist so the repo is
// runnable end-to-end without a live feature engine; C5 depends only on
// interfaces.FeatureSource, never on this package's internals (§6).
// Grounded on the teacher's technical_analysis.go / stock_analysis_service.go
// SMA/RSI/MACD/momentum/volume computations, generalized to decimal and
// extended with ADX/ATR per §4.5.1's feature contract.
package features

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dayrunner/interfaces"
)

const ringCapacity = 60

// ReferenceSource maintains a rolling per-symbol bar buffer, fed by
// Ingest, and computes §4.5.1's feature dictionary on demand.
type ReferenceSource struct {
	mu   sync.RWMutex
	bars map[string][]interfaces.Bar
}

// NewReferenceSource constructs an empty ReferenceSource.
func NewReferenceSource() *ReferenceSource {
	return &ReferenceSource{bars: make(map[string][]interfaces.Bar)}
}

// Ingest appends a new bar for symbol, keeping only the most recent
// ringCapacity bars.
func (r *ReferenceSource) Ingest(bar interfaces.Bar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	series := append(r.bars[bar.Symbol], bar)
	if len(series) > ringCapacity {
		series = series[len(series)-ringCapacity:]
	}
	r.bars[bar.Symbol] = series
}

func closesOf(bars []interfaces.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

func ema(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < period {
		period = len(values)
	}
	k := 2.0 / float64(period+1)
	e := values[0]
	for _, v := range values[1:] {
		e = v*k + e*(1-k)
	}
	return e
}

func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}
	var gains, losses float64
	start := len(closes) - period - 1
	for i := start; i < len(closes)-1; i++ {
		change := closes[i+1] - closes[i]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func atr(bars []interfaces.Bar, period int) decimal.Decimal {
	if len(bars) < 2 {
		return decimal.Zero
	}
	if period > len(bars)-1 {
		period = len(bars) - 1
	}
	start := len(bars) - period
	sum := decimal.Zero
	for i := start; i < len(bars); i++ {
		h, l, pc := bars[i].High, bars[i].Low, bars[i-1].Close
		tr := h.Sub(l)
		if hc := h.Sub(pc).Abs(); hc.GreaterThan(tr) {
			tr = hc
		}
		if lc := l.Sub(pc).Abs(); lc.GreaterThan(tr) {
			tr = lc
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// adx is a simplified Average Directional Index over the buffer —
// sufficient for §4.4.3's "ADX falling below 20" exit trigger and
// §4.5.2's confirmation score without a full Wilder smoothing
// implementation.
func adx(bars []interfaces.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 20.0
	}
	var plusDM, minusDM, trSum float64
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		upMove, _ := bars[i].High.Sub(bars[i-1].High).Float64()
		downMove, _ := bars[i-1].Low.Sub(bars[i].Low).Float64()
		if upMove > downMove && upMove > 0 {
			plusDM += upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM += downMove
		}
		tr, _ := bars[i].High.Sub(bars[i].Low).Float64()
		trSum += math.Abs(tr)
	}
	if trSum == 0 {
		return 20.0
	}
	plusDI := 100 * plusDM / trSum
	minusDI := 100 * minusDM / trSum
	sum := plusDI + minusDI
	if sum == 0 {
		return 20.0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

func regime(closes []float64) (string, float64) {
	if len(closes) < 2 {
		return "neutral", 0.5
	}
	first, last := closes[0], closes[len(closes)-1]
	change := (last - first) / first
	switch {
	case change > 0.02:
		return "bullish", 1.0
	case change < -0.02:
		return "bearish", 0.3
	default:
		return "neutral", 0.7
	}
}

// GetLatestFeatures computes §4.5.1's feature dictionary from the
// ingested bar buffer for symbol.
func (r *ReferenceSource) GetLatestFeatures(ctx context.Context, symbol string) (interfaces.Features, error) {
	r.mu.RLock()
	bars := append([]interfaces.Bar(nil), r.bars[symbol]...)
	r.mu.RUnlock()

	if len(bars) == 0 {
		return interfaces.Features{}, fmt.Errorf("features: no bars ingested for %s", symbol)
	}

	closes := closesOf(bars)
	last := bars[len(bars)-1]

	var volSum int64
	for _, b := range bars {
		volSum += b.Volume
	}
	volAvg := float64(volSum) / float64(len(bars))
	volRatio := 1.0
	if volAvg > 0 {
		volRatio = float64(last.Volume) / volAvg
	}

	macdLine := ema(closes, 12) - ema(closes, 26)
	signalSeries := make([]float64, 0, len(closes))
	for i := range closes {
		signalSeries = append(signalSeries, ema(closes[:i+1], 12)-ema(closes[:i+1], 26))
	}
	macdSignal := ema(signalSeries, 9)

	regimeLabel, regimeMult := regime(closes)

	recentN := 5
	if recentN > len(bars) {
		recentN = len(bars)
	}
	recentBars := bars[len(bars)-recentN:]
	recentRSI := make([]float64, 0, recentN)
	recentHighs := make([]decimal.Decimal, 0, recentN)
	for i := range recentBars {
		idx := len(bars) - recentN + i + 1
		if idx > len(bars) {
			idx = len(bars)
		}
		recentRSI = append(recentRSI, rsi(closes[:idx], 14))
		recentHighs = append(recentHighs, recentBars[i].High)
	}

	return interfaces.Features{
		Symbol:           symbol,
		Price:            last.Close,
		AsOf:             last.Timestamp,
		EMAShort:         decimal.NewFromFloat(ema(closes, 12)),
		EMALong:          decimal.NewFromFloat(ema(closes, 26)),
		RSI:              rsi(closes, 14),
		MACD:             macdLine,
		MACDSignal:       macdSignal,
		ADX:              adx(bars, 14),
		ATR:              atr(bars, 14),
		Volume:           last.Volume,
		VolumeAvg:        volAvg,
		VolumeRatio:      volRatio,
		RegimeLabel:      regimeLabel,
		RegimeMultiplier: regimeMult,
		RecentRSI:        recentRSI,
		RecentHighs:      recentHighs,
	}, nil
}

// CachedSentimentSource wraps any interfaces.SentimentSource with "cache
// last value, never block evaluation" behavior (§6). A failed or slow
// refresh simply leaves the prior cached reading in place.
type CachedSentimentSource struct {
	mu       sync.RWMutex
	upstream interfaces.SentimentSource
	last     interfaces.SentimentReading
	fetching bool
}

// NewCachedSentimentSource wraps upstream, starting with a neutral
// default reading until the first successful refresh.
func NewCachedSentimentSource(upstream interfaces.SentimentSource) *CachedSentimentSource {
	return &CachedSentimentSource{
		upstream: upstream,
		last:     interfaces.SentimentReading{Score: 50, Classification: "neutral", AsOf: time.Time{}},
	}
}

// GetSentiment returns the cached reading immediately and kicks off an
// async refresh if one is not already in flight.
func (c *CachedSentimentSource) GetSentiment(ctx context.Context) (interfaces.SentimentReading, error) {
	c.mu.Lock()
	cached := c.last
	alreadyFetching := c.fetching
	if !alreadyFetching {
		c.fetching = true
	}
	c.mu.Unlock()

	if !alreadyFetching {
		go c.refresh()
	}
	return cached, nil
}

func (c *CachedSentimentSource) refresh() {
	defer func() {
		c.mu.Lock()
		c.fetching = false
		c.mu.Unlock()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reading, err := c.upstream.GetSentiment(ctx)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.last = reading
	c.mu.Unlock()
}
