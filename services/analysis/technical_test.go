package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"go_trading_bot/internal/dbtest"
	"go_trading_bot/models"
)

func decimals(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []decimal.Decimal
		want   string
	}{
		{"balanced", decimals("10", "11", "10", "9", "10"), "50"},
		{"mostly up", decimals("100", "102", "101", "103", "104"), "83.3333"},
		{"only up", decimals("1", "2", "3"), "100"},
		{"only down", decimals("3", "2", "1"), "0"},
		{"flat", decimals("5", "5", "5"), "50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RSI(tt.closes)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}

	_, err := RSI(decimals("1"))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestSMA(t *testing.T) {
	got, err := SMA(decimals("1", "2", "3", "4"))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("2.5")))

	_, err = SMA(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func seedPrices(t *testing.T, db *gorm.DB, symbol string, closes ...string) uint {
	t.Helper()
	stock := models.Stock{Symbol: symbol, Status: models.StockStatusActive}
	require.NoError(t, db.Create(&stock).Error)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, c := range closes {
		require.NoError(t, db.Create(&models.StockPrice{
			StockID: stock.ID,
			Date:    base.Add(time.Duration(i) * time.Second),
			Close:   decimal.RequireFromString(c),
		}).Error)
	}
	return stock.ID
}

func TestCalculateRSIUsesLatestPrices(t *testing.T) {
	db := dbtest.Open(t)
	ta := NewTechnicalAnalysis(db)
	// Older samples outside the window must not count.
	id := seedPrices(t, db, "BTC/USDC", "500", "1", "100", "102", "101", "103", "104")

	rsi, stockID, err := ta.CalculateRSI(context.Background(), "BTC/USDC", 4)
	require.NoError(t, err)
	assert.Equal(t, id, stockID)
	assert.True(t, rsi.Equal(decimal.RequireFromString("83.3333")), "got %s", rsi)
}

func TestCalculateRSIInsufficientData(t *testing.T) {
	db := dbtest.Open(t)
	ta := NewTechnicalAnalysis(db)
	ctx := context.Background()

	_, _, err := ta.CalculateRSI(ctx, "ETH/USDC", 4)
	assert.ErrorIs(t, err, ErrInsufficientData)

	seedPrices(t, db, "ETH/USDC", "1", "2", "3")
	_, _, err = ta.CalculateRSI(ctx, "ETH/USDC", 4)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, _, err = ta.CalculateRSI(ctx, "ETH/USDC", 0)
	assert.Error(t, err)
}

func TestCalculateSMA(t *testing.T) {
	db := dbtest.Open(t)
	ta := NewTechnicalAnalysis(db)
	seedPrices(t, db, "BTC/USDC", "100", "10", "20", "30")

	sma, err := ta.CalculateSMA(context.Background(), "BTC/USDC", 3)
	require.NoError(t, err)
	assert.True(t, sma.Equal(decimal.NewFromInt(20)), "got %s", sma)
}

func TestSaveAndLoadIndicator(t *testing.T) {
	db := dbtest.Open(t)
	ta := NewTechnicalAnalysis(db)
	ctx := context.Background()
	id := seedPrices(t, db, "BTC/USDC", "1")
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, ta.SaveIndicator(ctx, id, at, models.IndicatorRSI, 4, decimal.NewFromInt(30)))
	require.NoError(t, ta.SaveIndicator(ctx, id, at.Add(time.Second), models.IndicatorRSI, 4, decimal.NewFromInt(22)))

	got, err := ta.LatestIndicator(ctx, "BTC/USDC", models.IndicatorRSI)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Period)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(22)))

	_, err = ta.LatestIndicator(ctx, "BTC/USDC", models.IndicatorSMA)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
