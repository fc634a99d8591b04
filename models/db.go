package models

import (
	"time"

	"gorm.io/gorm"
)

// DBPosition is the upserted, symbol-keyed row for an open position.
type DBPosition struct {
	gorm.Model
	Symbol            string `gorm:"uniqueIndex"`
	Side              string
	EntryPrice        string
	InitialStop       string
	StopLoss          string
	TakeProfit        string
	CurrentPrice      string
	UnrealizedPL      string
	UnrealizedPLPct   float64
	RMultiple         float64
	OriginalQuantity  string
	RemainingQuantity string
	ProtectionState   string
	TrailingActive    bool
	LastStopUpdate    time.Time
	EntryTime         time.Time
	PartialExits      string // JSON array of PartialExit
}

func (DBPosition) TableName() string { return "positions" }

// DBTrade is an append-only record of a completed entry/exit/partial exit.
type DBTrade struct {
	gorm.Model
	Symbol     string `gorm:"index"`
	Kind       string `gorm:"index"` // "entry", "exit", "partial"
	Side       string
	Qty        string
	Price      string
	PnL        string
	RMultiple  float64
	OccurredAt time.Time `gorm:"index"`
	Metadata   string
}

func (DBTrade) TableName() string { return "trades" }

// DBOrderRecord is an append-only order record keyed by a deterministic
// client order id (at-most-once semantics across retries, §6).
type DBOrderRecord struct {
	gorm.Model
	ClientOrderID  string `gorm:"uniqueIndex"`
	BrokerOrderID  string `gorm:"index"`
	Symbol         string `gorm:"index"`
	Side           string
	Type           string
	Qty            string
	Status         string `gorm:"index"`
	FilledQty      string
	FilledAvgPrice string
	SubmittedAt    time.Time
	FilledAt       *time.Time
}

func (DBOrderRecord) TableName() string { return "order_records" }

// DBLogEntry is an append-only structured log/activity entry.
type DBLogEntry struct {
	gorm.Model
	Level     string `gorm:"index"`
	Symbol    string `gorm:"index"`
	Component string `gorm:"index"`
	Message   string
	Context   string // JSON blob of decision context
	OccurredAt time.Time `gorm:"index"`
}

func (DBLogEntry) TableName() string { return "log_entries" }

// DBAdvisory is an append-only alert/advisory record (CRITICAL severity,
// exhausted retries, recovery-mode transitions).
type DBAdvisory struct {
	gorm.Model
	Severity   string `gorm:"index"`
	Symbol     string `gorm:"index"`
	Summary    string
	Detail     string
	OccurredAt time.Time `gorm:"index"`
}

func (DBAdvisory) TableName() string { return "advisories" }

// DBMetricsSnapshot is a periodic point-in-time snapshot of engine metrics.
type DBMetricsSnapshot struct {
	gorm.Model
	Equity          string
	Cash            string
	BuyingPower     string
	OpenPositions   int
	RecoveryMode    bool
	SnapshotTime    time.Time `gorm:"index"`
}

func (DBMetricsSnapshot) TableName() string { return "metrics_snapshots" }
