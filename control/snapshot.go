package control

import (
	"github.com/shopspring/decimal"

	"dayrunner/interfaces"
	"dayrunner/models"
)

// BuildSnapshot assembles the streaming-snapshot payload (§6): metrics,
// positions, open orders, and the last-N activity-log entries. It is a
// pure function — the caller's ControlAPI implementation supplies every
// input; broadcasting the result is out of scope.
func BuildSnapshot(
	status interfaces.EngineStatus,
	positions []*models.Position,
	openOrders []*models.Order,
	recentLogs []interfaces.LogRecord,
	equity decimal.Decimal,
) interfaces.Snapshot {
	return interfaces.Snapshot{
		Status:     status,
		Positions:  positions,
		OpenOrders: openOrders,
		RecentLogs: recentLogs,
		Equity:     equity,
	}
}
