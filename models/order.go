package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the broker's normalized, lower-cased order status (§3).
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderAccepted        OrderStatus = "accepted"
	OrderHeld            OrderStatus = "held"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
	OrderNew             OrderStatus = "new"
	OrderPendingNew      OrderStatus = "pending_new"
)

// IsActive reports whether an order is still live at the broker (neither
// filled nor in a terminal non-fill state).
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderNew, OrderPendingNew, OrderAccepted, OrderPending, OrderHeld, OrderPartiallyFilled:
		return true
	default:
		return false
	}
}

// IsTerminalNonFill reports a status that ends the order's life without a fill.
func (s OrderStatus) IsTerminalNonFill() bool {
	switch s {
	case OrderCanceled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// OrderType enumerates the broker order types the core submits.
type OrderType string

const (
	OrderTypeMarket        OrderType = "market"
	OrderTypeLimit         OrderType = "limit"
	OrderTypeStop          OrderType = "stop"
	OrderTypeTrailingStop  OrderType = "trailing_stop"
)

// TimeInForce enumerates supported order durations.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// OrderLeg describes one child order of a bracket (stop-loss or take-profit).
type OrderLeg struct {
	Type  OrderType       `json:"type"`
	Price decimal.Decimal `json:"price"`
}

// OrderRequest is what the core submits to the broker interface.
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Side          string          `json:"side"` // "buy" | "sell"
	Type          OrderType       `json:"type"`
	TIF           TimeInForce     `json:"tif"`
	LimitPrice    decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     decimal.Decimal `json:"stop_price,omitempty"`
	BracketLegs   []OrderLeg      `json:"bracket_legs,omitempty"`
}

// Order is the observable broker view of a submitted order (§3).
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Status         OrderStatus     `json:"status"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
	OrderType      OrderType       `json:"order_type"`
	Side           string          `json:"side"`
	Qty            decimal.Decimal `json:"qty"`
	StopPrice      decimal.Decimal `json:"stop_price,omitempty"`
	LimitPrice     decimal.Decimal `json:"limit_price,omitempty"`
	Legs           []*Order        `json:"legs,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	RawMessage     string          `json:"raw_message,omitempty"`
}

// DetectionMethod names the check that confirmed a fill (§4.3.2).
type DetectionMethod string

const (
	MethodStatusField     DetectionMethod = "status_field"
	MethodQuantityMatch   DetectionMethod = "quantity_match"
	MethodFillPrice        DetectionMethod = "fill_price"
	MethodTimestampCheck   DetectionMethod = "timestamp_check"
	MethodFinalVerification DetectionMethod = "FINAL_VERIFICATION"
	MethodCancelRaceDetection DetectionMethod = "CANCEL_RACE_DETECTION"
	MethodUltimateSafetyNet DetectionMethod = "ULTIMATE_SAFETY_NET"
)

// FillStatus is the terminal classification returned by the Fill Detection Engine.
type FillStatus string

const (
	FillStatusFilled   FillStatus = "FILLED"
	FillStatusPartial  FillStatus = "PARTIAL"
	FillStatusRejected FillStatus = "REJECTED"
	FillStatusTimeout  FillStatus = "TIMEOUT"
	FillStatusError    FillStatus = "ERROR"
)

// StatusSnapshot records one observed status transition during monitoring.
type StatusSnapshot struct {
	Status    OrderStatus `json:"status"`
	Observed  time.Time   `json:"observed"`
}

// FillResult is the definitive outcome of monitoring a submitted order (§3).
type FillResult struct {
	Filled           bool              `json:"filled"`
	Status           FillStatus        `json:"status"`
	FillPrice        decimal.Decimal   `json:"fill_price"`
	FillQuantity     decimal.Decimal   `json:"fill_quantity"`
	FillTimestamp    time.Time         `json:"fill_timestamp"`
	DetectionMethod  DetectionMethod   `json:"detection_method,omitempty"`
	Confidence       float64           `json:"confidence"`
	ChecksPerformed  []DetectionMethod `json:"checks_performed"`
	ElapsedTime      time.Duration     `json:"elapsed_time"`
	APICallsMade     int               `json:"api_calls_made"`
	RetriesAttempted int               `json:"retries_attempted"`
	StatusHistory    []StatusSnapshot  `json:"status_history"`
	LastKnownStatus  OrderStatus       `json:"last_known_status"`
	Err              error             `json:"-"`
}

// OrderConflict is one entry in a SequenceResult's conflicts list (§4.2.1).
type OrderConflict string

const (
	ConflictConcurrentModification OrderConflict = "CONCURRENT_MODIFICATION"
	ConflictDuplicateOrder         OrderConflict = "DUPLICATE_ORDER"
	ConflictInsufficientShares     OrderConflict = "INSUFFICIENT_SHARES"
	ConflictSharesLocked           OrderConflict = "SHARES_LOCKED"
	ConflictInvalidPrice           OrderConflict = "INVALID_PRICE"
	ConflictBrokerRejection        OrderConflict = "BROKER_REJECTION"
)

// SequenceResult is the outcome of one atomic C2 order-mutation sequence (§3).
type SequenceResult struct {
	Success             bool            `json:"success"`
	SequenceID           string          `json:"sequence_id"`
	OperationsCompleted  []string        `json:"operations_completed"`
	ConflictsDetected    []OrderConflict `json:"conflicts_detected"`
	RollbackPerformed    bool            `json:"rollback_performed"`
	ExecutionTimeMS      int64           `json:"execution_time_ms"`
	Message              string          `json:"message"`
}
