package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"dayrunner/interfaces"
)

// Session is the time-of-day trading window tag (§4.5.3 step 2).
type Session string

const (
	SessionMorning Session = "morning"
	SessionMidday  Session = "midday"
	SessionClosing Session = "closing"
	SessionClosed  Session = "closed"
)

// ClassifySession tags local exchange time into §4.5.3's three windows,
// or "closed" outside 09:30–15:30.
func ClassifySession(localTime time.Time) Session {
	minutes := localTime.Hour()*60 + localTime.Minute()
	switch {
	case minutes < 9*60+30 || minutes >= 15*60+30:
		return SessionClosed
	case minutes < 11*60:
		return SessionMorning
	case minutes < 14*60:
		return SessionMidday
	default:
		return SessionClosing
	}
}

// AdmissionInput bundles everything the filter chain of §4.5.3 consults.
// Risk and Reward are the per-share distances of the ALREADY
// slippage-adjusted, forced-2:1 bracket (see SlippageAdjustedBracket) —
// the floor below is checked against what the broker would actually see,
// not a pre-adjustment estimate.
type AdmissionInput struct {
	Signal           Signal
	HasOpenPosition  bool
	Now              time.Time
	LastOrderAt      time.Time // zero value means never
	Risk             decimal.Decimal
	Reward           decimal.Decimal
	Price            decimal.Decimal
	EMAShort         decimal.Decimal
	Sentiment        interfaces.SentimentReading
	ConfidenceThresh float64 // from AdaptiveThreshold
	VolumeRatio      float64
	RSI              float64
}

// AdmissionResult is the outcome of running the filter chain.
type AdmissionResult struct {
	Admitted bool
	Session  Session
	Reason   string
}

const cooldownWindow = 180 * time.Second

// Admit runs §4.5.3's ordered, short-circuiting admission filters.
func Admit(in AdmissionInput) AdmissionResult {
	if in.HasOpenPosition {
		return AdmissionResult{Admitted: false, Reason: "open_position_guard"}
	}

	session := ClassifySession(in.Now)
	if session == SessionClosed {
		return AdmissionResult{Admitted: false, Session: session, Reason: "time_of_day_window"}
	}

	if !in.LastOrderAt.IsZero() && in.Now.Sub(in.LastOrderAt) < cooldownWindow {
		return AdmissionResult{Admitted: false, Session: session, Reason: "per_symbol_cooldown"}
	}

	if in.Risk.Sign() > 0 {
		rr, _ := in.Reward.Div(in.Risk).Float64()
		if rr < 1.95 {
			return AdmissionResult{Admitted: false, Session: session, Reason: "rr_floor"}
		}
	}

	if in.Signal.Confidence < in.ConfidenceThresh {
		return AdmissionResult{Admitted: false, Session: session, Reason: "adaptive_confidence_threshold"}
	}

	minConfirmations := 3
	if in.Signal.Confidence >= 65 {
		minConfirmations = 2
	}
	if in.Signal.Confirmations < minConfirmations {
		return AdmissionResult{Admitted: false, Session: session, Reason: "confirmation_minimum"}
	}

	if in.Signal.Direction == DirectionSell {
		if reason, ok := shortAdmissionGauntlet(in); !ok {
			return AdmissionResult{Admitted: false, Session: session, Reason: reason}
		}
	} else {
		floor := volumeFloorForBuy(in.Sentiment.Score)
		if in.VolumeRatio < floor {
			return AdmissionResult{Admitted: false, Session: session, Reason: "buy_volume_floor"}
		}
	}

	return AdmissionResult{Admitted: true, Session: session}
}

// shortAdmissionGauntlet implements §4.5.3 step 7's short-specific filters.
func shortAdmissionGauntlet(in AdmissionInput) (string, bool) {
	sentiment := in.Sentiment.Score

	if sentiment > 55 {
		return "short_sentiment_bullish", false
	}
	if sentiment < 20 && in.Signal.Confidence < 65 {
		return "short_sentiment_fear_confidence_floor", false
	}
	if sentiment < 35 && in.Signal.Confirmations < 3 {
		return "short_sentiment_fear_confirmation_floor", false
	}

	// EMA(short) < EMA(long) is already implied by Direction==sell from
	// BuildSignal. The 0.5% price-proximity cap only binds above the 60
	// confidence line (§8 scenario 5).
	if in.Signal.Confidence >= 60 {
		if _, ok := PriceProximity(in.Price, in.EMAShort, 0.5); !ok {
			return "short_ema_proximity", false
		}
	}

	floor := volumeFloorForShort(sentiment)
	if in.VolumeRatio < floor {
		return "short_volume_floor", false
	}

	if in.RSI < 30 {
		return "short_oversold_bounce_risk", false
	}

	return "", true
}

func volumeFloorForShort(sentiment float64) float64 {
	switch {
	case sentiment < 20:
		return 1.8
	case sentiment < 35:
		return 1.4
	default:
		return 0.3
	}
}

func volumeFloorForBuy(sentiment float64) float64 {
	switch {
	case sentiment < 20:
		return 0.9
	case sentiment < 35:
		return 0.6
	default:
		return 0.3
	}
}

// PriceProximity validates §4.5.3 step 7(d)'s "price within 0.5% of
// EMA(short)" constraint, checked separately from shortAdmissionGauntlet
// so unit tests can exercise it directly against §8 scenario 5.
func PriceProximity(price, emaShort decimal.Decimal, capPct float64) (float64, bool) {
	if emaShort.IsZero() {
		return 0, false
	}
	diff := price.Sub(emaShort).Div(emaShort).Abs()
	pct, _ := diff.Float64()
	pct *= 100
	return pct, pct <= capPct
}

// PauseCondition implements §4.5.4's global pause: sentiment < 10 with
// an adverse (bearish) regime short-circuits all entries.
func PauseCondition(sentiment interfaces.SentimentReading, regimeLabel string) bool {
	return sentiment.Score < 10 && regimeLabel == "bearish"
}

func (s Session) String() string { return string(s) }
