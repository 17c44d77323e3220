package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock represents a tradable market symbol, e.g. BTC/USDC
type Stock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"uniqueIndex;not null" json:"symbol"`
	Name      string    `json:"name"`
	Exchange  string    `json:"exchange"`
	Status    string    `json:"status"` // active, suspended
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockPrice is one quote sample for a symbol
type StockPrice struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	StockID   uint            `gorm:"index:idx_stock_date" json:"stock_id"`
	Stock     Stock           `gorm:"foreignKey:StockID" json:"stock,omitempty"`
	Date      time.Time       `gorm:"index:idx_stock_date" json:"date"`
	Close     decimal.Decimal `gorm:"type:decimal(20,8)" json:"close"`
	CreatedAt time.Time       `json:"created_at"`
}

// TechnicalIndicator stores calculated technical indicators
type TechnicalIndicator struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	StockID   uint            `gorm:"index:idx_stock_date_type" json:"stock_id"`
	Stock     Stock           `gorm:"foreignKey:StockID" json:"stock,omitempty"`
	Date      time.Time       `gorm:"index:idx_stock_date_type" json:"date"`
	Type      string          `gorm:"index:idx_stock_date_type" json:"type"` // RSI, SMA
	Period    int             `json:"period"`
	Value     decimal.Decimal `gorm:"type:decimal(15,6)" json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	StockStatusActive    = "active"
	StockStatusSuspended = "suspended"

	IndicatorRSI = "RSI"
	IndicatorSMA = "SMA"
)

// MigrateStockModels runs database migrations for market data models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
		&StockPrice{},
		&TechnicalIndicator{},
	)
}
