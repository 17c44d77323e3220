package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"go_trading_bot/models"
	"go_trading_bot/services/analysis"
	"go_trading_bot/services/portfolio"
)

// refreshMarketData pulls one quote per symbol.
func (bot *TradingBot) refreshMarketData(ctx context.Context) error {
	return bot.fetcher.RefreshPrices(ctx, bot.cfg.Symbols)
}

// updateRSI recomputes RSI for every symbol and raises a buy signal when a symbol turns
// oversold. Pending signals are handed to market_analysis right away.
func (bot *TradingBot) updateRSI(ctx context.Context) error {
	var (
		errs    []error
		pending bool
	)
	for _, symbol := range bot.cfg.Symbols {
		rsi, stockID, err := bot.analysis.CalculateRSI(ctx, symbol, bot.cfg.RSIPeriod)
		if errors.Is(err, analysis.ErrInsufficientData) {
			bot.log.Debug().Str("symbol", symbol).Err(err).Msg("waiting for more prices")
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rsi %s: %w", symbol, err))
			continue
		}
		now := bot.now()
		if err := bot.analysis.SaveIndicator(ctx, stockID, now, models.IndicatorRSI, bot.cfg.RSIPeriod, rsi); err != nil {
			errs = append(errs, err)
		}
		price, err := bot.fetcher.LatestPrice(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		bot.mu.Lock()
		m := bot.market(symbol)
		m.RSI, m.RSIAt, m.LastPrice = rsi, now, price
		if rsi.LessThan(bot.cfg.RSIOversold) && !m.SignalPending {
			m.SignalPending = true
			m.SignalPrice = price
			m.SignalAt = now
			m.Confirmed = false
			bot.log.Info().
				Str("symbol", symbol).
				Stringer("rsi", rsi).
				Stringer("price", price).
				Msg("rsi buy signal")
		}
		pending = pending || m.SignalPending
		bot.mu.Unlock()
	}

	if pending {
		bot.triggerMarketAnalysis(ctx)
	}
	return errors.Join(errs...)
}

// triggerMarketAnalysis runs market_analysis as its own task in the background, so its
// time is not charged to rsi_update's run.
func (bot *TradingBot) triggerMarketAnalysis(ctx context.Context) {
	bot.mu.Lock()
	r := bot.registry
	bot.mu.Unlock()
	if r == nil {
		return
	}
	go func() {
		out, err := r.RunNow(ctx, TaskMarketAnalysis)
		if err != nil {
			bot.log.Warn().Err(err).Msg("market analysis trigger failed")
			return
		}
		bot.log.Debug().Stringer("outcome", out).Msg("market analysis triggered")
	}()
}

// analyzeShortTermTrend confirms pending signals once price rebounds above the signal
// price. A lower low moves the signal price down with it.
func (bot *TradingBot) analyzeShortTermTrend(ctx context.Context) error {
	var errs []error
	for _, symbol := range bot.pendingSymbols(false) {
		price, err := bot.fetcher.LatestPrice(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		bot.mu.Lock()
		m := bot.market(symbol)
		m.LastPrice = price
		switch {
		case !m.SignalPending || m.Confirmed:
		case price.GreaterThan(m.SignalPrice):
			m.Confirmed = true
			bot.log.Info().
				Str("symbol", symbol).
				Stringer("signal_price", m.SignalPrice).
				Stringer("price", price).
				Msg("rebound confirmed")
		case price.LessThan(m.SignalPrice):
			m.SignalPrice = price
		}
		bot.mu.Unlock()
	}
	return errors.Join(errs...)
}

// analyzeMarket opens a position for each confirmed signal.
func (bot *TradingBot) analyzeMarket(ctx context.Context) error {
	var errs []error
	for _, symbol := range bot.pendingSymbols(true) {
		price, err := bot.fetcher.LatestPrice(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		_, err = bot.portfolio.OpenPosition(ctx, symbol, price)
		switch {
		case err == nil:
		case errors.Is(err, portfolio.ErrMaxPositions), errors.Is(err, portfolio.ErrPositionExists):
			bot.log.Debug().Str("symbol", symbol).Err(err).Msg("signal dropped")
		default:
			errs = append(errs, fmt.Errorf("open %s: %w", symbol, err))
			continue
		}
		bot.clearSignal(symbol)
	}
	return errors.Join(errs...)
}

// checkPositions closes positions at their stop or target and tallies the trades.
func (bot *TradingBot) checkPositions(ctx context.Context) error {
	trades, err := bot.portfolio.CheckPositions(ctx, bot.fetcher.LatestPrice)
	if len(trades) > 0 {
		bot.mu.Lock()
		for _, t := range trades {
			bot.stats.record(t.Profit)
		}
		bot.mu.Unlock()
	}
	return err
}

// cleanupData deletes prices older than the retention window.
func (bot *TradingBot) cleanupData(ctx context.Context) error {
	n, err := bot.fetcher.CleanupOldPrices(ctx, bot.now().Add(-bot.cfg.PriceRetention))
	if err != nil {
		return err
	}
	bot.log.Info().Int64("deleted", n).Msg("old prices cleaned up")
	return nil
}

// pendingSymbols lists symbols with a pending signal, restricted to confirmed ones when
// confirmed is true and to unconfirmed ones otherwise.
func (bot *TradingBot) pendingSymbols(confirmed bool) []string {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	var out []string
	for _, symbol := range bot.cfg.Symbols {
		m := bot.market(symbol)
		if m.SignalPending && m.Confirmed == confirmed {
			out = append(out, symbol)
		}
	}
	return out
}

func (bot *TradingBot) clearSignal(symbol string) {
	bot.mu.Lock()
	m := bot.market(symbol)
	m.SignalPending = false
	m.Confirmed = false
	m.SignalPrice = decimal.Zero
	bot.mu.Unlock()
}
