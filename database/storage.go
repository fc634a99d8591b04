// Package database implements interfaces.Persistence over SQLite via
// gorm, adapted from the teacher's LocalStorage. The core only ever
// writes through this store (§6); the read paths exist for bootstrap
// and operator inspection, never for the hot trading path.
package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dayrunner/interfaces"
	"dayrunner/models"
)

// GormStore implements interfaces.Persistence using SQLite.
type GormStore struct {
	db  *gorm.DB
	log *logrus.Logger
}

// New opens (creating if absent) a SQLite database at dbPath and
// auto-migrates the core's append-only schema.
func New(dbPath string, log *logrus.Logger) (*GormStore, error) {
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("database: create directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DBPosition{},
		&models.DBTrade{},
		&models.DBOrderRecord{},
		&models.DBLogEntry{},
		&models.DBAdvisory{},
		&models.DBMetricsSnapshot{},
	); err != nil {
		return nil, fmt.Errorf("database: migrate: %w", err)
	}

	return &GormStore{db: db, log: log}, nil
}

// SaveTrade appends a trade record.
func (s *GormStore) SaveTrade(rec interfaces.TradeRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("database: marshal trade metadata: %w", err)
	}

	row := &models.DBTrade{
		Symbol:     rec.Symbol,
		Kind:       string(rec.Kind),
		OccurredAt: rec.OccurredAt,
		RMultiple:  rec.RMultiple,
		Metadata:   string(meta),
	}
	if rec.Position != nil {
		row.Side = string(rec.Position.Side)
		row.Qty = rec.Position.Quantity().String()
		row.Price = rec.Position.CurrentPrice.String()
		row.PnL = rec.Position.UnrealizedPL.String()
	}

	if err := s.db.Create(row).Error; err != nil {
		return fmt.Errorf("database: save trade: %w", err)
	}
	return nil
}

// SaveOrderRecord appends an order record keyed by its client order id.
// A duplicate client order id updates the existing row in place, giving
// idempotent replay (P7) a durable backstop.
func (s *GormStore) SaveOrderRecord(order *models.Order, clientOrderID string) error {
	row := models.DBOrderRecord{
		ClientOrderID:  clientOrderID,
		BrokerOrderID:  order.ID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Type:           string(order.OrderType),
		Qty:            order.Qty.String(),
		Status:         string(order.Status),
		FilledQty:      order.FilledQty.String(),
		FilledAvgPrice: order.FilledAvgPrice.String(),
		SubmittedAt:    time.Now(),
		FilledAt:       order.FilledAt,
	}

	result := s.db.Where("client_order_id = ?", clientOrderID).Assign(row).FirstOrCreate(&row)
	if result.Error != nil {
		return fmt.Errorf("database: save order record: %w", result.Error)
	}
	return nil
}

// SaveLog appends a structured activity/log entry.
func (s *GormStore) SaveLog(rec interfaces.LogRecord) error {
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("database: marshal log context: %w", err)
	}

	row := &models.DBLogEntry{
		Level:      string(rec.Severity),
		Symbol:     rec.Symbol,
		Component:  rec.Component,
		Message:    rec.Message,
		Context:    string(ctxJSON),
		OccurredAt: rec.OccurredAt,
	}
	if err := s.db.Create(row).Error; err != nil {
		return fmt.Errorf("database: save log: %w", err)
	}
	return nil
}

// SaveAdvisory appends a CRITICAL-severity advisory record.
func (s *GormStore) SaveAdvisory(rec interfaces.AdvisoryRecord) error {
	row := &models.DBAdvisory{
		Severity:   string(rec.Severity),
		Symbol:     rec.Symbol,
		Summary:    rec.Summary,
		Detail:     rec.Detail,
		OccurredAt: rec.OccurredAt,
	}
	if err := s.db.Create(row).Error; err != nil {
		return fmt.Errorf("database: save advisory: %w", err)
	}
	return nil
}

// UpsertPosition writes the current snapshot of an open position,
// replacing any prior row for the same symbol.
func (s *GormStore) UpsertPosition(pos *models.Position) error {
	partials, err := json.Marshal(pos.Allocation.PartialExits)
	if err != nil {
		return fmt.Errorf("database: marshal partial exits: %w", err)
	}

	row := models.DBPosition{
		Symbol:            pos.Symbol,
		Side:              string(pos.Side),
		EntryPrice:        pos.EntryPrice.String(),
		InitialStop:       pos.InitialStop.String(),
		StopLoss:          pos.StopLoss.String(),
		TakeProfit:        pos.TakeProfit.String(),
		CurrentPrice:      pos.CurrentPrice.String(),
		UnrealizedPL:      pos.UnrealizedPL.String(),
		UnrealizedPLPct:   pos.UnrealizedPLPct,
		RMultiple:         pos.RMultiple,
		OriginalQuantity:  pos.Allocation.OriginalQuantity.String(),
		RemainingQuantity: pos.Allocation.RemainingQuantity.String(),
		ProtectionState:   pos.Protection.State.String(),
		TrailingActive:    pos.Protection.TrailingActive,
		LastStopUpdate:    pos.Protection.LastStopUpdate,
		EntryTime:         pos.EntryTime,
		PartialExits:      string(partials),
	}

	result := s.db.Where("symbol = ?", pos.Symbol).Assign(row).FirstOrCreate(&row)
	if result.Error != nil {
		return fmt.Errorf("database: upsert position: %w", result.Error)
	}
	return nil
}

// DeletePosition removes a symbol's position row once it is fully closed.
func (s *GormStore) DeletePosition(symbol string) error {
	if err := s.db.Where("symbol = ?", symbol).Delete(&models.DBPosition{}).Error; err != nil {
		return fmt.Errorf("database: delete position: %w", err)
	}
	return nil
}

// SaveMetricsSnapshot appends a periodic engine-health snapshot.
func (s *GormStore) SaveMetricsSnapshot(snap interfaces.MetricsSnapshot) error {
	row := &models.DBMetricsSnapshot{
		Equity:        snap.Equity.String(),
		Cash:          snap.Cash.String(),
		BuyingPower:   snap.BuyingPower.String(),
		OpenPositions: snap.OpenPositions,
		RecoveryMode:  snap.RecoveryMode,
		SnapshotTime:  snap.SnapshotTime,
	}
	if err := s.db.Create(row).Error; err != nil {
		return fmt.Errorf("database: save metrics snapshot: %w", err)
	}
	return nil
}

// GetTrades returns the most recent trade records, newest first.
func (s *GormStore) GetTrades(limit int) ([]interfaces.TradeRecord, error) {
	var rows []models.DBTrade
	query := s.db.Order("occurred_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("database: get trades: %w", err)
	}

	out := make([]interfaces.TradeRecord, 0, len(rows))
	for _, row := range rows {
		var meta map[string]any
		_ = json.Unmarshal([]byte(row.Metadata), &meta)

		rmul := row.RMultiple
		out = append(out, interfaces.TradeRecord{
			Symbol:     row.Symbol,
			Kind:       interfaces.TradeKind(row.Kind),
			RMultiple:  rmul,
			OccurredAt: row.OccurredAt,
			Metadata:   meta,
		})
	}
	return out, nil
}

// LoadOpenPositions reconstructs in-flight positions from their last
// persisted snapshot for the broker-sync-on-startup path (§4.4.4).
func (s *GormStore) LoadOpenPositions() ([]models.DBPosition, error) {
	var rows []models.DBPosition
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("database: load open positions: %w", err)
	}
	return rows, nil
}

// parseDecimal is a small helper for callers reconstructing domain types
// from the string-encoded decimal columns above.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Close releases the underlying database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
