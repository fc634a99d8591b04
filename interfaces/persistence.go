package interfaces

import (
	"time"

	"github.com/shopspring/decimal"

	"dayrunner/models"
)

// TradeKind distinguishes the trade records Persistence stores.
type TradeKind string

const (
	TradeEntry   TradeKind = "entry"
	TradeExit    TradeKind = "exit"
	TradePartial TradeKind = "partial"
)

// TradeRecord is an append-only write describing one fill event.
type TradeRecord struct {
	Symbol     string
	Kind       TradeKind
	Position   *models.Position
	RMultiple  float64
	OccurredAt time.Time
	Metadata   map[string]any
}

// LogSeverity mirrors §7's business-impact severities.
type LogSeverity string

const (
	SeverityLow      LogSeverity = "LOW"
	SeverityMedium   LogSeverity = "MEDIUM"
	SeverityHigh     LogSeverity = "HIGH"
	SeverityCritical LogSeverity = "CRITICAL"
)

// LogRecord is an append-only structured activity-log entry.
type LogRecord struct {
	Severity   LogSeverity
	Component  string
	Symbol     string
	Message    string
	Context    map[string]any
	OccurredAt time.Time
}

// AdvisoryRecord is an append-only alert (email/webhook callback payload).
type AdvisoryRecord struct {
	Severity   LogSeverity
	Symbol     string
	Summary    string
	Detail     string
	OccurredAt time.Time
}

// MetricsSnapshot is a periodic persisted engine-health record.
type MetricsSnapshot struct {
	Equity        decimal.Decimal
	Cash          decimal.Decimal
	BuyingPower   decimal.Decimal
	OpenPositions int
	RecoveryMode  bool
	SnapshotTime  time.Time
}

// Persistence is the append-only store the core writes through. The core
// never reads back its own recent writes (§6) — reads exist only for
// bootstrap/backfill.
type Persistence interface {
	SaveTrade(rec TradeRecord) error
	SaveOrderRecord(order *models.Order, clientOrderID string) error
	SaveLog(rec LogRecord) error
	SaveAdvisory(rec AdvisoryRecord) error
	UpsertPosition(pos *models.Position) error
	DeletePosition(symbol string) error
	SaveMetricsSnapshot(snap MetricsSnapshot) error

	GetTrades(limit int) ([]TradeRecord, error)
}
