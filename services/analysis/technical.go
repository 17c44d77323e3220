package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go_trading_bot/models"
)

// ErrInsufficientData is returned when there are fewer samples than the period needs.
var ErrInsufficientData = errors.New("insufficient data")

var hundred = decimal.NewFromInt(100)

// TechnicalAnalysis provides technical indicator calculations
type TechnicalAnalysis struct {
	db *gorm.DB
}

// NewTechnicalAnalysis creates a new technical analysis instance
func NewTechnicalAnalysis(db *gorm.DB) *TechnicalAnalysis {
	return &TechnicalAnalysis{db: db}
}

// RSI computes the Relative Strength Index over closes in chronological order, using
// simple averages of gains and losses across len(closes)-1 changes.
func RSI(closes []decimal.Decimal) (decimal.Decimal, error) {
	if len(closes) < 2 {
		return decimal.Zero, fmt.Errorf("%w for RSI: need at least 2 closes, got %d", ErrInsufficientData, len(closes))
	}
	period := decimal.NewFromInt(int64(len(closes) - 1))

	gains := decimal.Zero
	losses := decimal.Zero
	for i := 1; i < len(closes); i++ {
		change := closes[i].Sub(closes[i-1])
		if change.IsPositive() {
			gains = gains.Add(change)
		} else {
			losses = losses.Add(change.Abs())
		}
	}

	avgGain := gains.Div(period)
	avgLoss := losses.Div(period)

	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			// Flat market
			return decimal.NewFromInt(50), nil
		}
		return hundred, nil
	}

	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs))).Round(4), nil
}

// SMA computes the Simple Moving Average of values.
func SMA(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Zero, fmt.Errorf("%w for SMA", ErrInsufficientData)
	}
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values)))), nil
}

// RecentCloses returns the last n closes for symbol, oldest first
func (ta *TechnicalAnalysis) RecentCloses(ctx context.Context, symbol string, n int) ([]decimal.Decimal, uint, error) {
	var stock models.Stock
	if err := ta.db.WithContext(ctx).Where("symbol = ?", symbol).First(&stock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, fmt.Errorf("%w for %s: no prices yet", ErrInsufficientData, symbol)
		}
		return nil, 0, err
	}

	var prices []models.StockPrice
	err := ta.db.WithContext(ctx).
		Where("stock_id = ?", stock.ID).
		Order("date DESC").
		Order("id DESC").
		Limit(n).
		Find(&prices).Error
	if err != nil {
		return nil, 0, err
	}

	closes := make([]decimal.Decimal, len(prices))
	// Reverse for chronological order
	for i, p := range prices {
		closes[len(prices)-1-i] = p.Close
	}
	return closes, stock.ID, nil
}

// CalculateRSI calculates Relative Strength Index from the latest period+1 prices
func (ta *TechnicalAnalysis) CalculateRSI(ctx context.Context, symbol string, period int) (decimal.Decimal, uint, error) {
	if period < 1 {
		return decimal.Zero, 0, fmt.Errorf("invalid RSI period %d", period)
	}
	closes, stockID, err := ta.RecentCloses(ctx, symbol, period+1)
	if err != nil {
		return decimal.Zero, 0, err
	}
	if len(closes) < period+1 {
		return decimal.Zero, stockID, fmt.Errorf("%w for RSI%d on %s: have %d prices", ErrInsufficientData, period, symbol, len(closes))
	}
	rsi, err := RSI(closes)
	return rsi, stockID, err
}

// CalculateSMA calculates Simple Moving Average of the latest period prices
func (ta *TechnicalAnalysis) CalculateSMA(ctx context.Context, symbol string, period int) (decimal.Decimal, error) {
	closes, _, err := ta.RecentCloses(ctx, symbol, period)
	if err != nil {
		return decimal.Zero, err
	}
	if len(closes) < period {
		return decimal.Zero, fmt.Errorf("%w for SMA%d on %s", ErrInsufficientData, period, symbol)
	}
	return SMA(closes)
}

// SaveIndicator saves calculated indicator to database
func (ta *TechnicalAnalysis) SaveIndicator(ctx context.Context, stockID uint, date time.Time, indicatorType string, period int, value decimal.Decimal) error {
	indicator := models.TechnicalIndicator{
		StockID: stockID,
		Date:    date.UTC(),
		Type:    indicatorType,
		Period:  period,
		Value:   value,
	}
	if err := ta.db.WithContext(ctx).Create(&indicator).Error; err != nil {
		return fmt.Errorf("failed to save %s indicator: %w", indicatorType, err)
	}
	return nil
}

// LatestIndicator returns the most recent stored indicator of the given type for symbol
func (ta *TechnicalAnalysis) LatestIndicator(ctx context.Context, symbol, indicatorType string) (*models.TechnicalIndicator, error) {
	var indicator models.TechnicalIndicator
	err := ta.db.WithContext(ctx).
		Joins("JOIN stocks ON stocks.id = technical_indicators.stock_id").
		Where("stocks.symbol = ? AND technical_indicators.type = ?", symbol, indicatorType).
		Order("technical_indicators.date DESC").
		Order("technical_indicators.id DESC").
		First(&indicator).Error
	if err != nil {
		return nil, err
	}
	return &indicator, nil
}
