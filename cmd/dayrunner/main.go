// Command dayrunner is the automated equities day-trading control plane
// entrypoint: it wires the broker gateway, the five core components
// (C1-C5), persistence, the activity log, and the HTTP control surface,
// then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dayrunner/activity"
	"dayrunner/brokerage"
	"dayrunner/config"
	"dayrunner/control"
	"dayrunner/database"
	"dayrunner/features"
	"dayrunner/fills"
	"dayrunner/interfaces"
	"dayrunner/models"
	"dayrunner/protection"
	"dayrunner/resilience"
	"dayrunner/sequencer"
	"dayrunner/strategy"
	"dayrunner/tracker"
)

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

func watchlist() []string {
	if raw := os.Getenv("WATCHLIST"); raw != "" {
		return strings.Split(raw, ",")
	}
	return []string{"AAPL", "MSFT", "TSLA", "NVDA", "AMD"}
}

func main() {
	log := newLogger()

	cfg, err := config.Load(".env")
	if err != nil {
		log.WithError(err).Fatal("dayrunner: failed to load configuration")
	}

	store, err := database.New(cfg.DBPath, log)
	if err != nil {
		log.WithError(err).Fatal("dayrunner: failed to open database")
	}
	defer store.Close()

	actlog := activity.New(cfg.ActivityLogDir, log)

	breakers := resilience.NewBreakerRegistry()
	gate := resilience.NewRecoveryGate()
	offlineQueue := resilience.NewOfflineQueue(1000, gate)

	broker := brokerage.New(brokerage.Config{
		KeyID: cfg.AlpacaAPIKeyID, SecretKey: cfg.AlpacaAPISecretKey, BaseURL: cfg.AlpacaBaseURL,
		RequestsPerSecond: 3,
	}, breakers, log)

	tr := tracker.New(log)

	fillWaiter := fills.New(broker, fills.DefaultVerificationConfig(), breakers, log)
	seq := sequencer.New(broker, fillWaiter, log)

	featureSource := features.NewReferenceSource()
	sentimentSource := features.NewCachedSentimentSource(neutralSentimentSource{})

	protMgr := protection.New(tr, featureSource, seq, broker, actlog, offlineQueue, log)

	pipeline := strategy.New(strategy.Config{
		Features: featureSource, Sentiment: sentimentSource, Broker: broker, Fills: fillWaiter,
		Activity: actlog, Gate: gate, Log: log,
		OnEntry: func(symbol string, entry *models.Order, side models.Side, stop, target decimal.Decimal) {
			if _, err := tr.Track(symbol, entry.FilledAvgPrice, stop, entry.FilledQty, side); err != nil {
				log.WithError(err).WithField("symbol", symbol).Error("dayrunner: failed to begin tracking filled entry")
				return
			}
			actlog.LogPositionOpened(activity.PositionEvent{
				Symbol: symbol, Side: string(side), Quantity: entry.FilledQty,
				EntryPrice: entry.FilledAvgPrice, StopLoss: stop, TakeProfit: target,
			})
		},
	})

	engine := &Engine{
		broker: broker, tracker: tr, pipeline: pipeline, store: store, actlog: actlog,
		gate: gate, queue: offlineQueue, breakers: breakers, log: log, tradingEnabled: false,
	}

	if acct, err := broker.GetAccount(context.Background()); err == nil {
		if err := actlog.StartSession(acct.PortfolioValue); err != nil {
			log.WithError(err).Warn("dayrunner: failed to start activity session")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := engine.SyncState(); err != nil {
		log.WithError(err).Error("dayrunner: initial broker sync failed")
	}
	if err := protMgr.SyncOnStartup(ctx, broker.ListOrders); err != nil {
		log.WithError(err).Error("dayrunner: protection state sync failed")
	}

	go protMgr.Run(ctx)
	go runEvaluationLoop(ctx, engine, log)
	go resilience.WatchBreakers(ctx, breakers, gate, 5*time.Second)

	srv := control.New(engine, log)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler()}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("dayrunner: control surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("dayrunner: control surface exited unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info("dayrunner: shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("dayrunner: control surface did not shut down cleanly")
	}
}

// runEvaluationLoop ticks the strategy pipeline across the watchlist
// roughly once per second, matching C4's tick cadence (§4.4.5).
func runEvaluationLoop(ctx context.Context, engine *Engine, log *logrus.Logger) {
	symbols := watchlist()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.evaluateWatchlist(ctx, symbols)
		}
	}
}

// neutralSentimentSource is the default sentiment feed when no external
// sentiment provider is configured: always neutral, never blocking.
type neutralSentimentSource struct{}

func (neutralSentimentSource) GetSentiment(ctx context.Context) (interfaces.SentimentReading, error) {
	return interfaces.SentimentReading{Score: 50, Classification: "neutral"}, nil
}
