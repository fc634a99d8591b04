package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dayrunner/interfaces"
	"dayrunner/models"
	"dayrunner/resilience"
)

// FillWaiter is the narrow slice of fills.Engine C5 needs to confirm an
// entry fill before handing the position to C4. Entry submission itself
// goes straight to the broker: C2's sequencing (per-symbol mutex, stop
// rollback) exists to serialize exit-order replacement against a resting
// position, which an entry bracket — the first order on the symbol —
// never conflicts with.
type FillWaiter interface {
	WaitForTerminal(ctx context.Context, orderID string, timeout time.Duration) (*models.Order, error)
}

// ActivityLogger is the narrow slice of activity.Logger C5 depends on.
type ActivityLogger interface {
	LogDecision(component, symbol, message string, context map[string]any)
}

// EntryHook receives a confirmed entry fill so the caller can start C1
// tracking and hand management to C4 — kept as a callback so package
// strategy never imports tracker/protection directly.
type EntryHook func(symbol string, entry *models.Order, side models.Side, stop, target decimal.Decimal)

// Pipeline is the Strategy & Entry Pipeline (C5).
type Pipeline struct {
	features  interfaces.FeatureSource
	sentiment interfaces.SentimentSource
	broker    interfaces.Broker
	fills     FillWaiter
	activity  ActivityLogger
	gate      *resilience.RecoveryGate
	predictor interfaces.Predictor

	threshold ThresholdConfig
	onEntry   EntryHook

	mu          sync.Mutex
	lastOrderAt map[string]time.Time

	log *logrus.Logger
}

// Config bundles Pipeline construction parameters.
type Config struct {
	Features  interfaces.FeatureSource
	Sentiment interfaces.SentimentSource
	Broker    interfaces.Broker
	Fills     FillWaiter
	Activity  ActivityLogger
	Gate      *resilience.RecoveryGate
	Predictor interfaces.Predictor
	OnEntry   EntryHook
	Log       *logrus.Logger
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	return &Pipeline{
		features: cfg.Features, sentiment: cfg.Sentiment, broker: cfg.Broker,
		fills: cfg.Fills, activity: cfg.Activity, gate: cfg.Gate, predictor: cfg.Predictor,
		threshold: DefaultThresholdConfig(), onEntry: cfg.OnEntry,
		lastOrderAt: make(map[string]time.Time), log: log,
	}
}

// clientOrderID derives a deterministic id over (symbol, side, qty,
// price_hint, timestamp floored to the minute) so retries of the same
// logical entry within the same minute are idempotent at the broker (§9,
// P7).
func clientOrderID(symbol, side string, qty, priceHint decimal.Decimal, at time.Time) string {
	floored := at.Truncate(time.Minute).Unix()
	raw := fmt.Sprintf("%s|%s|%s|%s|%d", symbol, side, qty.String(), priceHint.String(), floored)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}

// Evaluate runs one full entry-pipeline pass for symbol: builds a
// signal, admits or rejects it, sizes and submits a bracket entry on
// acceptance. hasOpenPosition is supplied by the caller (C1 is the
// source of truth; package strategy never imports tracker directly to
// avoid import cycles with protection).
func (p *Pipeline) Evaluate(ctx context.Context, symbol string, hasOpenPosition bool, equity, buyingPower decimal.Decimal) error {
	if !p.gate.AdmitsEntries() {
		return nil
	}

	feat, err := p.features.GetLatestFeatures(ctx, symbol)
	if err != nil {
		return fmt.Errorf("strategy: features unavailable for %s: %w", symbol, err)
	}
	if feat.Stale(time.Now(), 5*time.Second) {
		p.log.WithField("symbol", symbol).Warn("strategy: stale feature snapshot, skipping evaluation")
		return nil
	}

	sentiment, err := p.sentiment.GetSentiment(ctx)
	if err != nil {
		sentiment = interfaces.SentimentReading{Score: 50, Classification: "neutral"}
	}

	if PauseCondition(sentiment, feat.RegimeLabel) {
		p.logDecision(symbol, "global_pause", false, nil)
		return nil
	}

	signal := BuildSignal(symbol, feat)
	if signal.Direction == DirectionNone {
		return nil
	}

	realtimePrice, err := p.broker.GetLatestTradePrice(ctx, symbol)
	if err != nil || realtimePrice.IsZero() {
		realtimePrice = feat.Price
	} else if diff := realtimePrice.Sub(feat.Price).Div(feat.Price).Abs(); diff.GreaterThan(decimal.NewFromFloat(0.005)) {
		p.log.WithFields(logrus.Fields{"symbol": symbol, "realtime": realtimePrice, "bar_price": feat.Price}).
			Warn("strategy: real-time price diverges from bar price by >0.5%")
	}

	side := models.SideLong
	if signal.Direction == DirectionSell {
		side = models.SideShort
	}

	kStop := decimal.NewFromFloat(1.5)
	kTarget := decimal.NewFromFloat(2.0)
	threshold := p.threshold.AdaptiveThreshold(signal.Direction, feat.RegimeMultiplier, sentiment.Score)

	expectedFill, stop, target := SlippageAdjustedBracket(side, realtimePrice, feat.ATR, kStop, kTarget)
	risk := expectedFill.Sub(stop).Abs()
	reward := expectedFill.Sub(target).Abs()

	p.mu.Lock()
	lastOrder := p.lastOrderAt[symbol]
	p.mu.Unlock()

	admission := Admit(AdmissionInput{
		Signal: signal, HasOpenPosition: hasOpenPosition, Now: time.Now(), LastOrderAt: lastOrder,
		Risk: risk, Reward: reward, Price: realtimePrice, EMAShort: feat.EMAShort, Sentiment: sentiment,
		ConfidenceThresh: threshold, VolumeRatio: feat.VolumeRatio, RSI: feat.RSI,
	})
	if !admission.Admitted {
		p.logDecision(symbol, "rejected:"+admission.Reason, false, map[string]any{"confidence": signal.Confidence})
		return nil
	}

	blendedConfidence := signal.Confidence
	if p.predictor != nil {
		predictCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		blended, perr := p.predictor.Predict(predictCtx, symbol, feat, signal.Confidence)
		cancel()
		if perr == nil {
			blendedConfidence = blended
		}
		p.predictor.Observe(symbol, feat, signal.Confidence, blendedConfidence)
	}

	sizing := ComputeSize(SizingInput{
		Equity: equity, BuyingPower: buyingPower, Price: expectedFill, EntryPrice: expectedFill, StopPrice: stop,
		Confidence: blendedConfidence, Session: admission.Session,
		BaseRiskPct: decimal.NewFromFloat(0.01), MaxPositionPct: decimal.NewFromFloat(0.1),
	})
	if sizing.Shares.Sign() <= 0 {
		p.logDecision(symbol, "rejected:zero_size", false, nil)
		return nil
	}

	clientID := clientOrderID(symbol, side.BrokerSide(), sizing.Shares, expectedFill, time.Now())

	order, err := p.broker.SubmitOrder(ctx, models.OrderRequest{
		ClientOrderID: clientID,
		Symbol:        symbol,
		Qty:           sizing.Shares,
		Side:          side.BrokerSide(),
		Type:          models.OrderTypeMarket,
		TIF:           models.TIFDay,
		BracketLegs: []models.OrderLeg{
			{Type: models.OrderTypeStop, Price: stop},
			{Type: models.OrderTypeLimit, Price: target},
		},
	})
	if err != nil {
		p.logDecision(symbol, "submit_failed", false, map[string]any{"error": err.Error()})
		return fmt.Errorf("strategy: submit entry: %w", err)
	}

	p.mu.Lock()
	p.lastOrderAt[symbol] = time.Now()
	p.mu.Unlock()

	filled, err := p.fills.WaitForTerminal(ctx, order.ID, 30*time.Second)
	if err != nil || filled == nil || filled.Status != models.OrderFilled {
		p.logDecision(symbol, "entry_not_filled", false, nil)
		return nil
	}

	p.logDecision(symbol, "entry_filled", true, map[string]any{
		"side": side, "qty": sizing.Shares.String(), "stop": stop.String(), "target": target.String(),
	})

	if p.onEntry != nil {
		p.onEntry(symbol, filled, side, stop, target)
	}
	return nil
}

func (p *Pipeline) logDecision(symbol, action string, success bool, ctx map[string]any) {
	if p.activity == nil {
		return
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	ctx["success"] = success
	p.activity.LogDecision("strategy", symbol, action, ctx)
}
