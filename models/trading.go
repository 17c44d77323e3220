package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PositionOpen   = "open"
	PositionClosed = "closed"

	ExitStopLoss     = "stop_loss"
	ExitTrailingStop = "trailing_stop"
	ExitTakeProfit   = "take_profit"
)

// Position is an open or closed long holding on one symbol
type Position struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Symbol     string          `gorm:"index:idx_symbol_status" json:"symbol"`
	Status     string          `gorm:"index:idx_symbol_status" json:"status"` // open, closed
	EntryPrice decimal.Decimal `gorm:"type:decimal(20,8)" json:"entry_price"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,8)" json:"quantity"`
	TotalCost  decimal.Decimal `gorm:"type:decimal(20,8)" json:"total_cost"`
	StopLoss   decimal.Decimal `gorm:"type:decimal(20,8)" json:"stop_loss"`
	TakeProfit decimal.Decimal `gorm:"type:decimal(20,8)" json:"take_profit"`
	// HighestPrice is the best price seen while open; the trailing stop follows it.
	HighestPrice decimal.Decimal `gorm:"type:decimal(20,8)" json:"highest_price"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Trade represents a completed round trip, recorded when a position closes
type Trade struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	PositionID      uint            `gorm:"index" json:"position_id"`
	Symbol          string          `gorm:"index" json:"symbol"`
	EntryPrice      decimal.Decimal `gorm:"type:decimal(20,8)" json:"entry_price"`
	ExitPrice       decimal.Decimal `gorm:"type:decimal(20,8)" json:"exit_price"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,8)" json:"quantity"`
	Profit          decimal.Decimal `gorm:"type:decimal(20,8)" json:"profit"`
	ProfitPercent   decimal.Decimal `gorm:"type:decimal(10,4)" json:"profit_percent"`
	ExitReason      string          `json:"exit_reason"` // stop_loss, trailing_stop, take_profit
	EntryTime       time.Time       `json:"entry_time"`
	ExitTime        time.Time       `json:"exit_time"`
	DurationMinutes float64         `json:"duration_minutes"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MigrateTradingModels runs database migrations for trading-related models
func MigrateTradingModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Position{},
		&Trade{},
	)
}
