// Package strategy implements the Strategy & Entry Pipeline (C5): signal
// construction, admission filtering, adaptive sizing, and bracket
// submission (§4.5). It does not manage open positions — that is C4.
package strategy

import (
	"dayrunner/interfaces"
)

// Direction is a raw trade direction (§4.5.2).
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionNone Direction = "none"
)

// Signal is the output of signal construction (§4.5.2).
type Signal struct {
	Symbol        string
	Direction     Direction
	Confidence    float64 // 0..100
	Confirmations int     // 0..4
}

// rsiZoneConfirms reports whether RSI confirms the given direction:
// RSI below 40 confirms a buy, RSI above 60 confirms a sell.
func rsiZoneConfirms(dir Direction, rsi float64) bool {
	switch dir {
	case DirectionBuy:
		return rsi < 40
	case DirectionSell:
		return rsi > 60
	}
	return false
}

func macdConfirms(dir Direction, macd, signal float64) bool {
	hist := macd - signal
	switch dir {
	case DirectionBuy:
		return hist > 0
	case DirectionSell:
		return hist < 0
	}
	return false
}

func adxConfirms(adx float64) bool { return adx >= 20 }

func volumeConfirms(volumeRatio float64) bool { return volumeRatio >= 1.2 }

// BuildSignal constructs a raw Signal from a Features snapshot (§4.5.2):
// direction from the EMA(short)/EMA(long) relationship, confidence and
// confirmation count from a weighted score across four confirming checks.
func BuildSignal(symbol string, f interfaces.Features) Signal {
	var dir Direction
	switch {
	case f.EMAShort.GreaterThan(f.EMALong):
		dir = DirectionBuy
	case f.EMAShort.LessThan(f.EMALong):
		dir = DirectionSell
	default:
		dir = DirectionNone
	}
	if dir == DirectionNone {
		return Signal{Symbol: symbol, Direction: DirectionNone}
	}

	confirmations := 0
	weights := 0.0
	if rsiZoneConfirms(dir, f.RSI) {
		confirmations++
		weights += 25
	}
	if macdConfirms(dir, f.MACD, f.MACDSignal) {
		confirmations++
		weights += 25
	}
	if adxConfirms(f.ADX) {
		confirmations++
		weights += 25
	}
	if volumeConfirms(f.VolumeRatio) {
		confirmations++
		weights += 25
	}

	confidence := weights * f.RegimeMultiplier
	if confidence > 100 {
		confidence = 100
	}

	return Signal{Symbol: symbol, Direction: dir, Confidence: confidence, Confirmations: confirmations}
}
