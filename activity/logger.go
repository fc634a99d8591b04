// Package activity persists a structured, human-readable record of every
// decision the engine makes — admissions, rejections, fills, protection
// transitions — to a daily JSON file plus structured logrus output.
// Adapted from the teacher's activity logger; money fields carry
// decimal.Decimal instead of float64.
package activity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Entry is one logged decision or event (§6's activity log contract).
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"` // tracker, sequencer, fills, protection, strategy
	Symbol    string         `json:"symbol,omitempty"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// PositionEvent records a position open or close for the daily summary.
type PositionEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price,omitempty"`
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`
	PnL        decimal.Decimal `json:"pnl,omitempty"`
	PnLPercent decimal.Decimal `json:"pnl_percent,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// Summary aggregates the day's session for quick review.
type Summary struct {
	TotalTrades     int             `json:"total_trades"`
	PositionsOpened int             `json:"positions_opened"`
	PositionsClosed int             `json:"positions_closed"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	LargestWin      decimal.Decimal `json:"largest_win"`
	LargestLoss     decimal.Decimal `json:"largest_loss"`
	StartingEquity  decimal.Decimal `json:"starting_equity"`
	EndingEquity    decimal.Decimal `json:"ending_equity,omitempty"`
}

// DailyLog is one day's full activity record, persisted as JSON.
type DailyLog struct {
	Date            string          `json:"date"`
	SessionStart    time.Time       `json:"session_start"`
	SessionEnd      time.Time       `json:"session_end,omitempty"`
	Summary         Summary         `json:"summary"`
	Entries         []Entry         `json:"entries"`
	PositionsOpened []PositionEvent `json:"positions_opened"`
	PositionsClosed []PositionEvent `json:"positions_closed"`
}

// Logger writes activity to a per-day JSON file and to structured logs.
// Safe for concurrent use by every component in the engine.
type Logger struct {
	mu         sync.Mutex
	log        *logrus.Logger
	logDir     string
	currentLog *DailyLog
}

// New constructs a Logger rooted at logDir, creating it if absent.
func New(logDir string, log *logrus.Logger) *Logger {
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.WithError(err).Error("activity: failed to create log directory")
	}
	return &Logger{log: log, logDir: logDir}
}

// StartSession opens a new daily log, persisting the starting equity.
func (l *Logger) StartSession(startingEquity decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentLog = &DailyLog{
		Date:         time.Now().Format("2006-01-02"),
		SessionStart: time.Now(),
		Summary:      Summary{StartingEquity: startingEquity},
	}
	l.log.WithField("starting_equity", startingEquity.String()).Info("activity: session started")
	return l.saveLocked()
}

// EndSession closes the current daily log, recording final equity.
func (l *Logger) EndSession(endingEquity decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentLog == nil {
		return fmt.Errorf("activity: no active session")
	}
	l.currentLog.SessionEnd = time.Now()
	l.currentLog.Summary.EndingEquity = endingEquity
	l.currentLog.Summary.TotalPnL = endingEquity.Sub(l.currentLog.Summary.StartingEquity)

	l.log.WithField("total_pnl", l.currentLog.Summary.TotalPnL.String()).Info("activity: session ended")
	return l.saveLocked()
}

// LogDecision records a component's decision or rejection. It satisfies
// the narrow ActivityLogger interfaces declared by protection and
// strategy. Errors are logged, never returned — callers on the trading
// hot path must never block or fail on a logging error.
func (l *Logger) LogDecision(component, symbol, message string, context map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{Timestamp: time.Now(), Component: component, Symbol: symbol, Message: message, Context: context}
	l.log.WithFields(logrus.Fields{"component": component, "symbol": symbol}).Info(message)

	if l.currentLog == nil {
		return
	}
	l.currentLog.Entries = append(l.currentLog.Entries, entry)
	if err := l.saveLocked(); err != nil {
		l.log.WithError(err).Warn("activity: failed to persist entry")
	}
}

// LogPositionOpened records a new position's entry.
func (l *Logger) LogPositionOpened(ev PositionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentLog == nil {
		return
	}
	ev.Timestamp = time.Now()
	l.currentLog.PositionsOpened = append(l.currentLog.PositionsOpened, ev)
	l.currentLog.Summary.PositionsOpened++
	l.currentLog.Summary.TotalTrades++

	if err := l.saveLocked(); err != nil {
		l.log.WithError(err).Warn("activity: failed to persist position-opened entry")
	}
}

// LogPositionClosed records a position's exit and updates win/loss stats.
func (l *Logger) LogPositionClosed(ev PositionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentLog == nil {
		return
	}
	ev.Timestamp = time.Now()
	l.currentLog.PositionsClosed = append(l.currentLog.PositionsClosed, ev)
	l.currentLog.Summary.PositionsClosed++

	if ev.PnL.Sign() > 0 {
		l.currentLog.Summary.WinningTrades++
		if ev.PnL.GreaterThan(l.currentLog.Summary.LargestWin) {
			l.currentLog.Summary.LargestWin = ev.PnL
		}
	} else {
		l.currentLog.Summary.LosingTrades++
		if ev.PnL.LessThan(l.currentLog.Summary.LargestLoss) {
			l.currentLog.Summary.LargestLoss = ev.PnL
		}
	}

	if err := l.saveLocked(); err != nil {
		l.log.WithError(err).Warn("activity: failed to persist position-closed entry")
	}
}

// CurrentLog returns a copy of the in-memory daily log, or an error if no
// session is active.
func (l *Logger) CurrentLog() (DailyLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentLog == nil {
		return DailyLog{}, fmt.Errorf("activity: no active session")
	}
	return *l.currentLog, nil
}

// LogForDate loads a previously persisted day's log from disk.
func (l *Logger) LogForDate(date string) (DailyLog, error) {
	filename := filepath.Join(l.logDir, fmt.Sprintf("activity_%s.json", date))
	data, err := os.ReadFile(filename)
	if err != nil {
		return DailyLog{}, fmt.Errorf("activity: no log for %s: %w", date, err)
	}
	var out DailyLog
	if err := json.Unmarshal(data, &out); err != nil {
		return DailyLog{}, fmt.Errorf("activity: failed to parse log for %s: %w", date, err)
	}
	return out, nil
}

// saveLocked persists the current log; caller must hold l.mu.
func (l *Logger) saveLocked() error {
	if l.currentLog == nil {
		return fmt.Errorf("activity: no active log to save")
	}
	filename := filepath.Join(l.logDir, fmt.Sprintf("activity_%s.json", l.currentLog.Date))
	data, err := json.MarshalIndent(l.currentLog, "", "  ")
	if err != nil {
		return fmt.Errorf("activity: failed to marshal log: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}
