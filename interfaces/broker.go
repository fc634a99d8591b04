// Package interfaces defines the narrow contracts every core component
// (tracker, sequencer, fills, protection, strategy) depends on. Concrete
// adapters live in brokerage/, features/, database/.
package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"dayrunner/models"
)

// Clock reports the market clock, so C5 and C4 never call time.Now
// directly and tests can substitute a fixed clock.
type Clock interface {
	Now() time.Time
	IsMarketOpen(ctx context.Context) (bool, error)
	NextOpen(ctx context.Context) (time.Time, error)
	NextClose(ctx context.Context) (time.Time, error)
}

// AccountInfo is the broker's normalized account snapshot.
type AccountInfo struct {
	ID               string
	Cash             decimal.Decimal
	PortfolioValue   decimal.Decimal
	BuyingPower      decimal.Decimal
	DayTradeCount    int
	PatternDayTrader bool
}

// BrokerPosition is the broker's own view of an open position, used by
// C4's broker-sync-on-startup (§4.4.4) to reconcile against local state.
type BrokerPosition struct {
	Symbol        string
	Qty           decimal.Decimal
	Side          models.Side
	AvgEntryPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPL  decimal.Decimal
}

// Broker is the external trading gateway contract (§6). Every method
// takes a context so callers can bound broker I/O with a timeout.
type Broker interface {
	GetClock(ctx context.Context) (open bool, nextOpen, nextClose time.Time, err error)
	GetAccount(ctx context.Context) (*AccountInfo, error)

	ListPositions(ctx context.Context) ([]*BrokerPosition, error)
	GetPosition(ctx context.Context, symbol string) (*BrokerPosition, error)

	ListOrders(ctx context.Context, status string, symbols []string) ([]*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	GetLatestBars(ctx context.Context, symbols []string) (map[string]Bar, error)
	GetLatestTradePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Bar is one OHLCV candle, the unit FeatureSource and Broker both deal in.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}
