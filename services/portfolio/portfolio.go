// Package portfolio opens and closes long positions and records the resulting trades.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go_trading_bot/models"
)

var (
	ErrMaxPositions   = errors.New("maximum open positions reached")
	ErrPositionExists = errors.New("position already open for symbol")
	ErrInvalidPrice   = errors.New("price must be positive")
)

// Config holds the sizing and exit rules.
type Config struct {
	MaxPositions int
	Quantity     decimal.Decimal
	// StopLoss and TakeProfit are fractions of the entry price, e.g. 0.1 for 10%.
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	// TrailingStop keeps the stop at most this fraction below the highest price seen.
	// The stop only moves up. Zero disables trailing.
	TrailingStop decimal.Decimal
}

// QuoteFunc returns the current price of a symbol.
type QuoteFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// Manager handles position bookkeeping
type Manager struct {
	db  *gorm.DB
	cfg Config
	log zerolog.Logger
	now func() time.Time
}

// NewManager creates a position manager
func NewManager(db *gorm.DB, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{db: db, cfg: cfg, log: log, now: time.Now}
}

// HasOpenPositions reports whether any position is open
func (m *Manager) HasOpenPositions(ctx context.Context) (bool, error) {
	n, err := m.countOpen(m.db.WithContext(ctx))
	return n > 0, err
}

func (m *Manager) countOpen(tx *gorm.DB) (int64, error) {
	var n int64
	err := tx.Model(&models.Position{}).Where("status = ?", models.PositionOpen).Count(&n).Error
	return n, err
}

// OpenPositions lists open positions, oldest first
func (m *Manager) OpenPositions(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	err := m.db.WithContext(ctx).
		Where("status = ?", models.PositionOpen).
		Order("opened_at ASC").
		Find(&positions).Error
	return positions, err
}

// CanOpenPosition returns nil when a new position on symbol is allowed
func (m *Manager) CanOpenPosition(ctx context.Context, symbol string) error {
	return m.canOpen(m.db.WithContext(ctx), symbol)
}

func (m *Manager) canOpen(tx *gorm.DB, symbol string) error {
	n, err := m.countOpen(tx)
	if err != nil {
		return err
	}
	if m.cfg.MaxPositions > 0 && n >= int64(m.cfg.MaxPositions) {
		return ErrMaxPositions
	}
	var same int64
	err = tx.Model(&models.Position{}).
		Where("symbol = ? AND status = ?", symbol, models.PositionOpen).
		Count(&same).Error
	if err != nil {
		return err
	}
	if same > 0 {
		return fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}
	return nil
}

// OpenPosition buys the configured quantity of symbol at price
func (m *Manager) OpenPosition(ctx context.Context, symbol string, price decimal.Decimal) (*models.Position, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	one := decimal.NewFromInt(1)
	pos := models.Position{
		Symbol:     symbol,
		Status:     models.PositionOpen,
		EntryPrice: price,
		Quantity:   m.cfg.Quantity,
		TotalCost:  price.Mul(m.cfg.Quantity),
		StopLoss:     price.Mul(one.Sub(m.cfg.StopLoss)),
		TakeProfit:   price.Mul(one.Add(m.cfg.TakeProfit)),
		HighestPrice: price,
		OpenedAt:     m.now().UTC(),
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.canOpen(tx, symbol); err != nil {
			return err
		}
		return tx.Create(&pos).Error
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("symbol", symbol).
		Stringer("price", price).
		Stringer("quantity", pos.Quantity).
		Stringer("stop_loss", pos.StopLoss).
		Stringer("take_profit", pos.TakeProfit).
		Msg("position opened")
	return &pos, nil
}

// CheckPositions ratchets trailing stops on new highs, then closes every open position
// whose current price crosses its stop loss or take profit, and returns the resulting
// trades. Quote failures are joined into the error while the remaining positions are
// still checked.
func (m *Manager) CheckPositions(ctx context.Context, quote QuoteFunc) ([]models.Trade, error) {
	positions, err := m.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}

	var (
		trades []models.Trade
		errs   []error
	)
	for i := range positions {
		pos := &positions[i]
		price, err := quote(ctx, pos.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("quote %s: %w", pos.Symbol, err))
			continue
		}

		if err := m.trail(ctx, pos, price); err != nil {
			errs = append(errs, err)
		}

		var reason string
		switch {
		case price.LessThanOrEqual(pos.StopLoss):
			reason = models.ExitStopLoss
			if pos.StopLoss.GreaterThan(pos.EntryPrice.Mul(decimal.NewFromInt(1).Sub(m.cfg.StopLoss))) {
				reason = models.ExitTrailingStop
			}
		case price.GreaterThanOrEqual(pos.TakeProfit):
			reason = models.ExitTakeProfit
		default:
			continue
		}

		trade, err := m.closePosition(ctx, pos, price, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		trades = append(trades, *trade)
	}
	return trades, errors.Join(errs...)
}

// trail records a new high for pos and raises its stop behind it.
func (m *Manager) trail(ctx context.Context, pos *models.Position, price decimal.Decimal) error {
	if !price.GreaterThan(pos.HighestPrice) {
		return nil
	}
	stop := pos.StopLoss
	if m.cfg.TrailingStop.IsPositive() {
		if s := price.Mul(decimal.NewFromInt(1).Sub(m.cfg.TrailingStop)); s.GreaterThan(stop) {
			stop = s
		}
	}

	res := m.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ? AND status = ?", pos.ID, models.PositionOpen).
		Updates(map[string]any{"highest_price": price, "stop_loss": stop})
	if res.Error != nil {
		return fmt.Errorf("trail position %d: %w", pos.ID, res.Error)
	}

	if !stop.Equal(pos.StopLoss) {
		m.log.Info().
			Str("symbol", pos.Symbol).
			Stringer("high", price).
			Stringer("old_stop", pos.StopLoss).
			Stringer("stop", stop).
			Msg("trailing stop raised")
	}
	pos.HighestPrice = price
	pos.StopLoss = stop
	return nil
}

func (m *Manager) closePosition(ctx context.Context, pos *models.Position, price decimal.Decimal, reason string) (*models.Trade, error) {
	exitTime := m.now().UTC()
	profit := price.Sub(pos.EntryPrice).Mul(pos.Quantity)
	trade := models.Trade{
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       price,
		Quantity:        pos.Quantity,
		Profit:          profit,
		ProfitPercent:   price.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(decimal.NewFromInt(100)).Round(4),
		ExitReason:      reason,
		EntryTime:       pos.OpenedAt,
		ExitTime:        exitTime,
		DurationMinutes: exitTime.Sub(pos.OpenedAt).Minutes(),
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Position{}).
			Where("id = ? AND status = ?", pos.ID, models.PositionOpen).
			Updates(map[string]any{"status": models.PositionClosed, "closed_at": exitTime})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("position %d already closed", pos.ID)
		}
		return tx.Create(&trade).Error
	})
	if err != nil {
		return nil, fmt.Errorf("close position %d: %w", pos.ID, err)
	}

	pos.Status = models.PositionClosed
	pos.ClosedAt = &exitTime

	m.log.Info().
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Stringer("entry", pos.EntryPrice).
		Stringer("exit", price).
		Stringer("profit", profit).
		Stringer("profit_pct", trade.ProfitPercent).
		Msg("position closed")
	return &trade, nil
}

// Trades returns recorded trades, newest first
func (m *Manager) Trades(ctx context.Context, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	q := m.db.WithContext(ctx).Order("exit_time DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&trades).Error
	return trades, err
}
