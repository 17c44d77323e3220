package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"go_trading_bot/scheduler"
	"go_trading_bot/services/analysis"
	"go_trading_bot/services/datafetcher"
	"go_trading_bot/services/portfolio"
)

// Task names registered by the bot.
const (
	TaskMarketDataRefresh = "market_data_refresh"
	TaskRSIUpdate         = "rsi_update"
	TaskShortTermTrend    = "short_term_trend_analysis"
	TaskMarketAnalysis    = "market_analysis"
	TaskPositionCheck     = "position_check"
	TaskDataCleanup       = "data_cleanup"
)

// Registry is the part of the scheduler the bot needs.
type Registry interface {
	AddTask(name string, fn scheduler.Func, interval time.Duration, cond scheduler.Condition) error
	RunNow(ctx context.Context, name string) (scheduler.Outcome, error)
}

// Config holds the bot's cadence and signal settings
type Config struct {
	Symbols     []string
	RSIPeriod   int
	RSIOversold decimal.Decimal

	MarketDataInterval time.Duration
	AnalysisInterval   time.Duration
	CheckInterval      time.Duration
	CleanupInterval    time.Duration
	PriceRetention     time.Duration
}

// MarketState is the per-symbol signal state shared by the analysis tasks.
type MarketState struct {
	RSI       decimal.Decimal
	RSIAt     time.Time
	LastPrice decimal.Decimal

	// set by rsi_update when RSI drops below the oversold threshold
	SignalPending bool
	SignalPrice   decimal.Decimal
	SignalAt      time.Time
	// set by short_term_trend_analysis once price rebounds above SignalPrice
	Confirmed bool
}

// Stats tallies trades closed since start
type Stats struct {
	TradesTotal  int             `json:"trades_total"`
	TradesProfit int             `json:"trades_profit"`
	TradesLoss   int             `json:"trades_loss"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
}

// WinRate returns the share of winning trades in percent.
func (s Stats) WinRate() float64 {
	if s.TradesTotal == 0 {
		return 0
	}
	return float64(s.TradesProfit) / float64(s.TradesTotal) * 100
}

func (s *Stats) record(profit decimal.Decimal) {
	s.TradesTotal++
	if profit.IsPositive() {
		s.TradesProfit++
	} else {
		s.TradesLoss++
	}
	s.TotalProfit = s.TotalProfit.Add(profit)
}

// TradingBot handles automated trading
type TradingBot struct {
	cfg       Config
	fetcher   *datafetcher.DataFetcher
	analysis  *analysis.TechnicalAnalysis
	portfolio *portfolio.Manager
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	markets  map[string]*MarketState
	stats    Stats
	registry Registry
}

// NewTradingBot creates a new trading bot instance
func NewTradingBot(cfg Config, fetcher *datafetcher.DataFetcher, ta *analysis.TechnicalAnalysis, pm *portfolio.Manager, log zerolog.Logger) *TradingBot {
	markets := make(map[string]*MarketState, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		markets[s] = &MarketState{}
	}
	return &TradingBot{
		cfg:       cfg,
		fetcher:   fetcher,
		analysis:  ta,
		portfolio: pm,
		log:       log,
		now:       time.Now,
		markets:   markets,
	}
}

// Register adds the bot's recurring tasks to r.
func (bot *TradingBot) Register(r Registry) error {
	bot.mu.Lock()
	bot.registry = r
	bot.mu.Unlock()

	tasks := []struct {
		name     string
		fn       scheduler.Func
		interval time.Duration
		cond     scheduler.Condition
	}{
		{TaskMarketDataRefresh, bot.refreshMarketData, bot.cfg.MarketDataInterval, nil},
		{TaskRSIUpdate, bot.updateRSI, bot.cfg.AnalysisInterval, nil},
		{TaskShortTermTrend, bot.analyzeShortTermTrend, bot.cfg.AnalysisInterval, bot.NoActivePositions},
		{TaskMarketAnalysis, bot.analyzeMarket, bot.cfg.AnalysisInterval, bot.NoActivePositions},
		{TaskPositionCheck, bot.checkPositions, bot.cfg.CheckInterval, bot.HasActivePositions},
		{TaskDataCleanup, bot.cleanupData, bot.cfg.CleanupInterval, nil},
	}
	var errs []error
	for _, t := range tasks {
		if err := r.AddTask(t.name, t.fn, t.interval, t.cond); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

// NoActivePositions gates the entry tasks.
func (bot *TradingBot) NoActivePositions(ctx context.Context) bool {
	has, err := bot.portfolio.HasOpenPositions(ctx)
	if err != nil {
		bot.log.Warn().Err(err).Msg("position lookup failed, skipping tick")
		return false
	}
	return !has
}

// HasActivePositions gates position_check.
func (bot *TradingBot) HasActivePositions(ctx context.Context) bool {
	has, err := bot.portfolio.HasOpenPositions(ctx)
	if err != nil {
		bot.log.Warn().Err(err).Msg("position lookup failed, skipping tick")
		return false
	}
	return has
}

// Stats returns a copy of the trade tally
func (bot *TradingBot) Stats() Stats {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	return bot.stats
}

// LogStats writes the trade tally, as done at shutdown.
func (bot *TradingBot) LogStats() {
	s := bot.Stats()
	bot.log.Info().
		Int("trades_total", s.TradesTotal).
		Int("trades_profit", s.TradesProfit).
		Int("trades_loss", s.TradesLoss).
		Stringer("total_profit", s.TotalProfit).
		Float64("win_rate", s.WinRate()).
		Msg("trading statistics")
}

// market returns the state for symbol. Callers hold bot.mu.
func (bot *TradingBot) market(symbol string) *MarketState {
	m, ok := bot.markets[symbol]
	if !ok {
		m = &MarketState{}
		bot.markets[symbol] = m
	}
	return m
}

// MarketSnapshot copies the per-symbol signal state.
func (bot *TradingBot) MarketSnapshot() map[string]MarketState {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	out := make(map[string]MarketState, len(bot.markets))
	for k, v := range bot.markets {
		out[k] = *v
	}
	return out
}
