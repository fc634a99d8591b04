package interfaces

import (
	"time"

	"github.com/shopspring/decimal"

	"dayrunner/models"
)

// EngineMode is the circuit-breaker-driven operating mode (§7).
type EngineMode string

const (
	ModeNormal   EngineMode = "NORMAL"
	ModeRecovery EngineMode = "RECOVERY"
)

// EngineStatus answers get_engine_status (§6).
type EngineStatus struct {
	Mode            EngineMode `json:"mode"`
	TradingEnabled  bool       `json:"trading_enabled"`
	OpenPositions   int        `json:"open_positions"`
	OfflineQueueLen int        `json:"offline_queue_len"`
	LastSyncAt      time.Time  `json:"last_sync_at"`
}

// PositionSummary answers get_position_summary(symbol) (§6).
type PositionSummary struct {
	Position     *models.Position `json:"position"`
	OpenOrders   []*models.Order  `json:"open_orders"`
	RecentExits  []models.PartialExit `json:"recent_exits"`
}

// Snapshot is the streaming-snapshot payload (§6), assembled by
// control.BuildSnapshot; broadcasting it is out of scope.
type Snapshot struct {
	Status     EngineStatus      `json:"status"`
	Positions  []*models.Position `json:"positions"`
	OpenOrders []*models.Order   `json:"open_orders"`
	RecentLogs []LogRecord       `json:"recent_logs"`
	Equity     decimal.Decimal   `json:"equity"`
}

// ControlAPI is the narrow surface the core exposes to an HTTP transport
// (§6); control.Server implements this over gin but the contract itself
// has no HTTP dependency.
type ControlAPI interface {
	EnableTrading()
	DisableTrading()
	FlattenAll() error
	GetEngineStatus() EngineStatus
	SyncState() error
	GetPositions() []*models.Position
	GetOrders() ([]*models.Order, error)
	GetMetrics() MetricsSnapshot
	GetPositionSummary(symbol string) (*PositionSummary, error)
	BuildSnapshot() Snapshot
}
