// Package brokerage adapts the Alpaca trading API to interfaces.Broker.
// Every call is rate-limited ahead of the circuit breaker and its errors
// flow through resilience.DefaultClassifier exactly as §6/§7 require.
package brokerage

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"dayrunner/interfaces"
	"dayrunner/models"
	"dayrunner/resilience"
)

// AlpacaBroker wraps alpaca.Client to satisfy interfaces.Broker.
type AlpacaBroker struct {
	client    *alpaca.Client
	limiter   *rate.Limiter
	breakers  *resilience.BreakerRegistry
	log       *logrus.Logger
}

// Config carries the Alpaca credentials and base URL.
type Config struct {
	KeyID     string
	SecretKey string
	BaseURL   string
	// RequestsPerSecond bounds outbound broker calls ahead of the
	// circuit breaker (Alpaca's own limit is 200/min per key).
	RequestsPerSecond float64
}

// New constructs an AlpacaBroker from cfg.
func New(cfg Config, breakers *resilience.BreakerRegistry, log *logrus.Logger) *AlpacaBroker {
	if log == nil {
		log = logrus.New()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.KeyID,
		APISecret: cfg.SecretKey,
		BaseURL:   cfg.BaseURL,
	})
	return &AlpacaBroker{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breakers: breakers,
		log:      log,
	}
}

// call wraps a broker operation with the rate limiter and the named
// circuit breaker (§9: "breakers keyed by operation name").
func (b *AlpacaBroker) call(ctx context.Context, operation string, fn func() error) error {
	breaker := b.breakers.Get(operation)
	if !breaker.Allow(time.Now()) {
		return fmt.Errorf("brokerage: circuit breaker OPEN for %s", operation)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		breaker.RecordFailure(time.Now())
		_, severity := resilience.DefaultClassifier.Classify(err.Error())
		b.log.WithError(err).WithFields(logrus.Fields{"operation": operation, "severity": severity}).Warn("brokerage: call failed")
		return err
	}
	breaker.RecordSuccess()
	return nil
}

func decFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func decFromStr(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetClock reports the market clock (§6 get_clock).
func (b *AlpacaBroker) GetClock(ctx context.Context) (bool, time.Time, time.Time, error) {
	var clock *alpaca.Clock
	err := b.call(ctx, "get_clock", func() error {
		var e error
		clock, e = b.client.GetClock()
		return e
	})
	if err != nil {
		return false, time.Time{}, time.Time{}, err
	}
	return clock.IsOpen, clock.NextOpen, clock.NextClose, nil
}

// GetAccount returns the normalized account snapshot (§6 get_account).
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*interfaces.AccountInfo, error) {
	var acct *alpaca.Account
	err := b.call(ctx, "get_account", func() error {
		var e error
		acct, e = b.client.GetAccount()
		return e
	})
	if err != nil {
		return nil, err
	}
	return &interfaces.AccountInfo{
		ID:               acct.ID,
		Cash:             decFromStr(acct.Cash.String()),
		PortfolioValue:   decFromStr(acct.PortfolioValue.String()),
		BuyingPower:      decFromStr(acct.BuyingPower.String()),
		DayTradeCount:    int(acct.DaytradeCount),
		PatternDayTrader: acct.PatternDayTrader,
	}, nil
}

// ListPositions returns the broker's own view of open positions (§6
// list_positions), used by C4's broker-sync-on-startup.
func (b *AlpacaBroker) ListPositions(ctx context.Context) ([]*interfaces.BrokerPosition, error) {
	var raw []alpaca.Position
	err := b.call(ctx, "list_positions", func() error {
		var e error
		raw, e = b.client.GetPositions()
		return e
	})
	if err != nil {
		return nil, err
	}
	out := make([]*interfaces.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		side := models.SideLong
		if p.Side == "short" {
			side = models.SideShort
		}
		out = append(out, &interfaces.BrokerPosition{
			Symbol:        p.Symbol,
			Qty:           decFromStr(p.Qty.String()),
			Side:          side,
			AvgEntryPrice: decFromStr(p.AvgEntryPrice.String()),
			CurrentPrice:  decFromStr(p.CurrentPrice.String()),
			UnrealizedPL:  decFromStr(p.UnrealizedPL.String()),
		})
	}
	return out, nil
}

// GetPosition returns the broker position for one symbol, or nil.
func (b *AlpacaBroker) GetPosition(ctx context.Context, symbol string) (*interfaces.BrokerPosition, error) {
	var p *alpaca.Position
	err := b.call(ctx, "get_position", func() error {
		var e error
		p, e = b.client.GetPosition(symbol)
		return e
	})
	if err != nil {
		return nil, err
	}
	side := models.SideLong
	if p.Side == "short" {
		side = models.SideShort
	}
	return &interfaces.BrokerPosition{
		Symbol:        p.Symbol,
		Qty:           decFromStr(p.Qty.String()),
		Side:          side,
		AvgEntryPrice: decFromStr(p.AvgEntryPrice.String()),
		CurrentPrice:  decFromStr(p.CurrentPrice.String()),
		UnrealizedPL:  decFromStr(p.UnrealizedPL.String()),
	}, nil
}

func normalizeStatus(s alpaca.OrderStatus) models.OrderStatus {
	switch models.OrderStatus(s) {
	case models.OrderFilled, models.OrderCanceled, models.OrderRejected, models.OrderExpired,
		models.OrderPartiallyFilled, models.OrderAccepted, models.OrderHeld, models.OrderPending,
		models.OrderNew, models.OrderPendingNew:
		return models.OrderStatus(s)
	default:
		return models.OrderStatus(s)
	}
}

func toModelOrder(o *alpaca.Order) *models.Order {
	out := &models.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Status:        normalizeStatus(o.Status),
		FilledQty:     decFromStr(o.FilledQty.String()),
		OrderType:     models.OrderType(o.Type),
		Side:          string(o.Side),
		Qty:           decFromStr(o.Qty.String()),
		SubmittedAt:   o.SubmittedAt,
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = decFromStr(o.FilledAvgPrice.String())
	}
	if o.FilledAt != nil {
		out.FilledAt = o.FilledAt
	}
	if o.StopPrice != nil {
		out.StopPrice = decFromStr(o.StopPrice.String())
	}
	if o.LimitPrice != nil {
		out.LimitPrice = decFromStr(o.LimitPrice.String())
	}
	for _, leg := range o.Legs {
		legCopy := leg
		out.Legs = append(out.Legs, toModelOrder(&legCopy))
	}
	return out
}

// ListOrders returns orders filtered by status ("open"|"all") and
// optionally by symbol (§6 list_orders).
func (b *AlpacaBroker) ListOrders(ctx context.Context, status string, symbols []string) ([]*models.Order, error) {
	var raw []alpaca.Order
	err := b.call(ctx, "list_orders", func() error {
		var e error
		raw, e = b.client.GetOrders(alpaca.GetOrdersRequest{
			Status:   status,
			Symbols:  symbols,
			LimitSet: true,
			Limit:    500,
		})
		return e
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Order, 0, len(raw))
	for i := range raw {
		out = append(out, toModelOrder(&raw[i]))
	}
	return out, nil
}

// GetOrder fetches a single order by broker id (§6 get_order).
func (b *AlpacaBroker) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o *alpaca.Order
	err := b.call(ctx, "get_order", func() error {
		var e error
		o, e = b.client.GetOrder(orderID)
		return e
	})
	if err != nil {
		return nil, err
	}
	return toModelOrder(o), nil
}

// SubmitOrder submits a (possibly bracket) order (§6 submit_order).
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	qty := req.Qty
	areq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.TimeInForce(req.TIF),
		ClientOrderID: req.ClientOrderID,
	}
	if !req.LimitPrice.IsZero() {
		lp := req.LimitPrice
		areq.LimitPrice = &lp
	}
	if !req.StopPrice.IsZero() {
		sp := req.StopPrice
		areq.StopPrice = &sp
	}
	if len(req.BracketLegs) > 0 {
		areq.OrderClass = alpaca.Bracket
		for _, leg := range req.BracketLegs {
			switch leg.Type {
			case models.OrderTypeStop:
				sp := leg.Price
				areq.StopLoss = &alpaca.StopLoss{StopPrice: &sp}
			case models.OrderTypeLimit:
				lp := leg.Price
				areq.TakeProfit = &alpaca.TakeProfit{LimitPrice: &lp}
			}
		}
	}

	var o *alpaca.Order
	err := b.call(ctx, "submit_order", func() error {
		var e error
		o, e = b.client.PlaceOrder(areq)
		return e
	})
	if err != nil {
		return nil, err
	}
	return toModelOrder(o), nil
}

// CancelOrder cancels a broker order by id (§6 cancel_order).
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	return b.call(ctx, "cancel_order", func() error {
		return b.client.CancelOrder(orderID)
	})
}

// GetLatestBars returns the latest bar per symbol (§6 get_latest_bars).
func (b *AlpacaBroker) GetLatestBars(ctx context.Context, symbols []string) (map[string]interfaces.Bar, error) {
	var raw map[string]alpaca.Bar
	err := b.call(ctx, "get_latest_bars", func() error {
		var e error
		raw, e = b.client.GetLatestBars(symbols, alpaca.GetLatestBarRequest{})
		return e
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]interfaces.Bar, len(raw))
	for symbol, bar := range raw {
		out[symbol] = interfaces.Bar{
			Symbol:    symbol,
			Timestamp: bar.Timestamp,
			Open:      decFromFloat(bar.Open),
			High:      decFromFloat(bar.High),
			Low:       decFromFloat(bar.Low),
			Close:     decFromFloat(bar.Close),
			Volume:    int64(bar.Volume),
		}
	}
	return out, nil
}

// GetLatestTradePrice prefers the real-time last trade price, per §9's
// "avoid stale-price entries" design note.
func (b *AlpacaBroker) GetLatestTradePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var trade *alpaca.Trade
	err := b.call(ctx, "get_latest_trade", func() error {
		var e error
		trade, e = b.client.GetLatestTrade(symbol, alpaca.GetLatestTradeRequest{})
		return e
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decFromFloat(trade.Price), nil
}
