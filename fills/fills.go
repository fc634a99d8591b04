// Package fills implements the Fill Detection Engine (C3): it monitors a
// submitted order to a definitive terminal FillResult, using
// multi-method verification and cancel-race detection (§4.3). It must
// never report "not filled" when the broker has actually filled the
// order (P6).
package fills

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dayrunner/interfaces"
	"dayrunner/models"
	"dayrunner/resilience"
)

// VerificationConfig carries the independently configurable weights for
// §4.3.2's four checks, following original_source/backend/orders/
// multi_method_verifier.py's configurable-weights shape (§4.6) rather
// than a hardcoded table, so tests can exercise degraded verification.
type VerificationConfig struct {
	StatusFieldConfidence   float64
	QuantityMatchConfidence float64
	QuantityPartialConfidence float64
	FillPriceConfidence     float64
	TimestampConfidence     float64
}

// DefaultVerificationConfig matches §4.3.2's table exactly.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		StatusFieldConfidence:     1.0,
		QuantityMatchConfidence:   1.0,
		QuantityPartialConfidence: 0.5,
		FillPriceConfidence:       0.9,
		TimestampConfidence:       0.8,
	}
}

// Engine monitors submitted orders to a terminal FillResult.
type Engine struct {
	broker   interfaces.Broker
	cfg      VerificationConfig
	breakers *resilience.BreakerRegistry
	log      *logrus.Logger
}

// New constructs a fill-detection Engine.
func New(broker interfaces.Broker, cfg VerificationConfig, breakers *resilience.BreakerRegistry, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{broker: broker, cfg: cfg, breakers: breakers, log: log}
}

var fillStatusStrings = map[models.OrderStatus]bool{
	models.OrderFilled: true,
}

// bulletproofCheck runs the four independent fill-verification methods
// of §4.3.2. Any positive check means filled; overall confidence rises
// with method count (1→0.7, 2→0.85, 3→0.95, 4→1.0), and the reported
// detection_method is the highest-confidence method that confirmed.
func (e *Engine) bulletproofCheck(o *models.Order) (filled bool, method models.DetectionMethod, confidence float64, checks []models.DetectionMethod) {
	type hit struct {
		method     models.DetectionMethod
		confidence float64
	}
	var hits []hit

	if fillStatusStrings[o.Status] {
		hits = append(hits, hit{models.MethodStatusField, e.cfg.StatusFieldConfidence})
		checks = append(checks, models.MethodStatusField)
	}
	if o.FilledQty.Sign() > 0 {
		checks = append(checks, models.MethodQuantityMatch)
		if o.FilledQty.GreaterThanOrEqual(o.Qty) {
			hits = append(hits, hit{models.MethodQuantityMatch, e.cfg.QuantityMatchConfidence})
		} else {
			hits = append(hits, hit{models.MethodQuantityMatch, e.cfg.QuantityPartialConfidence})
		}
	}
	if o.FilledAvgPrice.Sign() > 0 {
		hits = append(hits, hit{models.MethodFillPrice, e.cfg.FillPriceConfidence})
		checks = append(checks, models.MethodFillPrice)
	}
	if o.FilledAt != nil {
		hits = append(hits, hit{models.MethodTimestampCheck, e.cfg.TimestampConfidence})
		checks = append(checks, models.MethodTimestampCheck)
	}

	if len(hits) == 0 {
		return false, "", 0, checks
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if h.confidence > best.confidence {
			best = h
		}
	}

	overall := 0.7
	switch len(hits) {
	case 2:
		overall = 0.85
	case 3:
		overall = 0.95
	default:
		if len(hits) >= 4 {
			overall = 1.0
		}
	}

	return true, best.method, overall, checks
}

func adaptiveInterval(iteration int) time.Duration {
	interval := 200*time.Millisecond + time.Duration(iteration)*50*time.Millisecond
	if interval > time.Second {
		interval = time.Second
	}
	return interval
}

// Monitor runs §4.3.1's primary loop against orderID until a terminal
// FillResult is produced or the deadline (default 30s) passes, in which
// case timeout handling (§4.3.3) runs.
func (e *Engine) Monitor(ctx context.Context, orderID string, deadline time.Duration) *models.FillResult {
	start := time.Now()
	hardDeadline := start.Add(deadline)
	result := &models.FillResult{}
	backoff := resilience.Monitor()

	iteration := 0
	for {
		order, err := e.broker.GetOrder(ctx, orderID)
		result.APICallsMade++
		if err != nil {
			class, _ := resilience.DefaultClassifier.Classify(err.Error())
			switch class {
			case resilience.ClassPermanent:
				result.Status = models.FillStatusError
				result.Err = err
				result.ElapsedTime = time.Since(start)
				return result
			default:
				result.RetriesAttempted++
				if sleepErr := backoff.Sleep(ctx, result.RetriesAttempted-1); sleepErr != nil {
					result.Status = models.FillStatusError
					result.Err = sleepErr
					return result
				}
				if time.Now().After(hardDeadline) {
					return e.handleTimeout(ctx, orderID, result, start)
				}
				iteration++
				continue
			}
		}

		result.StatusHistory = append(result.StatusHistory, models.StatusSnapshot{Status: order.Status, Observed: time.Now()})
		result.LastKnownStatus = order.Status

		if filled, method, confidence, checks := e.bulletproofCheck(order); filled {
			result.Filled = true
			result.Status = models.FillStatusFilled
			result.FillPrice = order.FilledAvgPrice
			result.FillQuantity = order.FilledQty
			if order.FilledAt != nil {
				result.FillTimestamp = *order.FilledAt
			}
			result.DetectionMethod = method
			result.Confidence = confidence
			result.ChecksPerformed = checks
			result.ElapsedTime = time.Since(start)
			return result
		}

		if order.FilledQty.Sign() > 0 && order.FilledQty.LessThan(order.Qty) {
			result.Status = models.FillStatusPartial
			result.Filled = false
			result.FillQuantity = order.FilledQty
			result.ElapsedTime = time.Since(start)
			return result
		}

		if order.Status.IsTerminalNonFill() {
			result.Status = models.FillStatusRejected
			result.ElapsedTime = time.Since(start)
			return result
		}

		if time.Now().After(hardDeadline) {
			return e.handleTimeout(ctx, orderID, result, start)
		}

		select {
		case <-time.After(adaptiveInterval(iteration)):
		case <-ctx.Done():
			result.Status = models.FillStatusError
			result.Err = ctx.Err()
			result.ElapsedTime = time.Since(start)
			return result
		}
		iteration++
	}
}

// handleTimeout implements §4.3.3's timeout handling and cancel-race
// detection. It must never return non-filled if the broker actually
// filled the order (P6).
func (e *Engine) handleTimeout(ctx context.Context, orderID string, result *models.FillResult, start time.Time) *models.FillResult {
	order, err := e.broker.GetOrder(ctx, orderID)
	result.APICallsMade++
	if err == nil {
		if filled, _, confidence, checks := e.bulletproofCheck(order); filled {
			return e.finalVerified(result, order, confidence, checks, start)
		}
	}

	cancelErr := e.broker.CancelOrder(ctx, orderID)
	if cancelErr != nil {
		if resilience.IsCancelRace(cancelErr.Error()) {
			refreshed, gerr := e.broker.GetOrder(ctx, orderID)
			result.APICallsMade++
			if gerr == nil {
				if filled, _, confidence, checks := e.bulletproofCheck(refreshed); filled {
					result.Filled = true
					result.Status = models.FillStatusFilled
					result.FillPrice = refreshed.FilledAvgPrice
					result.FillQuantity = refreshed.FilledQty
					result.DetectionMethod = models.MethodCancelRaceDetection
					result.Confidence = confidence
					result.ChecksPerformed = checks
					result.ElapsedTime = time.Since(start)
					return result
				}
			}
			// retry once more after ~200ms (§4.3.3 step 3)
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
			}
			refreshed, gerr = e.broker.GetOrder(ctx, orderID)
			result.APICallsMade++
			if gerr == nil {
				if filled, _, confidence, checks := e.bulletproofCheck(refreshed); filled {
					result.Filled = true
					result.Status = models.FillStatusFilled
					result.FillPrice = refreshed.FilledAvgPrice
					result.FillQuantity = refreshed.FilledQty
					result.DetectionMethod = models.MethodCancelRaceDetection
					result.Confidence = confidence
					result.ChecksPerformed = checks
					result.ElapsedTime = time.Since(start)
					return result
				}
			}
		}
	} else {
		// cancel succeeded: mark TIMEOUT; the safety net below still
		// re-polls the order for a late fill.
		result.Status = models.FillStatusTimeout
		result.ElapsedTime = time.Since(start)
	}

	return e.ultimateSafetyNet(ctx, orderID, result, start)
}

func (e *Engine) finalVerified(result *models.FillResult, order *models.Order, confidence float64, checks []models.DetectionMethod, start time.Time) *models.FillResult {
	result.Filled = true
	result.Status = models.FillStatusFilled
	result.FillPrice = order.FilledAvgPrice
	result.FillQuantity = order.FilledQty
	if order.FilledAt != nil {
		result.FillTimestamp = *order.FilledAt
	}
	result.DetectionMethod = models.MethodFinalVerification
	result.Confidence = confidence
	result.ChecksPerformed = checks
	result.ElapsedTime = time.Since(start)
	return result
}

// ultimateSafetyNet is §4.3.3 step 5: three more polls ~0.5s apart, and
// if a broker position exists for the order's symbol, one more
// bulletproof re-verification before finally giving up (§9 open
// question 2 notes this heuristic should be tightened to order-id
// matching where the broker exposes execution events).
func (e *Engine) ultimateSafetyNet(ctx context.Context, orderID string, result *models.FillResult, start time.Time) *models.FillResult {
	for i := 0; i < 3; i++ {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return result
		}
		order, err := e.broker.GetOrder(ctx, orderID)
		result.APICallsMade++
		if err != nil {
			continue
		}
		if filled, _, confidence, checks := e.bulletproofCheck(order); filled {
			res := e.finalVerified(result, order, confidence, checks, start)
			res.DetectionMethod = models.MethodUltimateSafetyNet
			return res
		}
	}

	order, err := e.broker.GetOrder(ctx, orderID)
	if err == nil {
		pos, perr := e.broker.GetPosition(ctx, order.Symbol)
		if perr == nil && pos != nil && pos.Qty.Sign() != 0 {
			if filled, _, confidence, checks := e.bulletproofCheck(order); filled {
				res := e.finalVerified(result, order, confidence, checks, start)
				res.DetectionMethod = models.MethodUltimateSafetyNet
				return res
			}
		}
	}

	if result.Status == "" {
		result.Status = models.FillStatusTimeout
	}
	result.ElapsedTime = time.Since(start)
	return result
}

// WaitForTerminal is the narrow entry point sequencer.FillWaiter needs:
// monitor an order with an explicit timeout and return its terminal
// broker Order (or the monitoring error).
func (e *Engine) WaitForTerminal(ctx context.Context, orderID string, timeout time.Duration) (*models.Order, error) {
	result := e.Monitor(ctx, orderID, timeout)
	if result.Err != nil {
		return nil, result.Err
	}
	order, err := e.broker.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}
