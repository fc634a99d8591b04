package strategy

// ThresholdConfig carries the base per-direction confidence thresholds
// modulated by regime and sentiment (§4.5.4).
type ThresholdConfig struct {
	BaseBuyThreshold  float64
	BaseSellThreshold float64
	SellCap           float64
}

// DefaultThresholdConfig matches §4.5.4's description: a sell threshold
// capped at 0.75-of-scale (here expressed on the 0..100 confidence
// scale as 75) "to avoid being unreachable in persistent fear regimes".
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{BaseBuyThreshold: 60, BaseSellThreshold: 65, SellCap: 75}
}

// AdaptiveThreshold computes the effective confidence threshold for dir,
// modulated by the market regime multiplier and sentiment score.
func (c ThresholdConfig) AdaptiveThreshold(dir Direction, regimeMultiplier, sentimentScore float64) float64 {
	base := c.BaseBuyThreshold
	if dir == DirectionSell {
		base = c.BaseSellThreshold
	}

	// Regime modulation: a weaker regime (lower multiplier) raises the bar
	// by up to 15 points; a multiplier of 1.0 leaves the base unchanged.
	adjusted := base + (1-regimeMultiplier)*15

	// Sentiment modulation: extreme sentiment against the direction
	// raises the bar further.
	if dir == DirectionSell && sentimentScore > 50 {
		adjusted += (sentimentScore - 50) * 0.3
	}
	if dir == DirectionBuy && sentimentScore < 50 {
		adjusted += (50 - sentimentScore) * 0.3
	}

	if dir == DirectionSell && adjusted > c.SellCap {
		adjusted = c.SellCap
	}
	if adjusted > 100 {
		adjusted = 100
	}
	return adjusted
}
