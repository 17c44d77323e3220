package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go_trading_bot/models"
	"go_trading_bot/services/trading"
)

// PositionStore lists positions and trades
type PositionStore interface {
	OpenPositions(ctx context.Context) ([]models.Position, error)
	Trades(ctx context.Context, limit int) ([]models.Trade, error)
}

// PositionController handles portfolio requests
type PositionController struct {
	store PositionStore
	stats func() trading.Stats
}

// NewPositionController creates a new position controller. stats may be nil.
func NewPositionController(store PositionStore, stats func() trading.Stats) *PositionController {
	return &PositionController{store: store, stats: stats}
}

// GetPositions returns open positions
// GET /api/v1/positions
func (pc *PositionController) GetPositions(c *gin.Context) {
	positions, err := pc.store.OpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

// GetTrades returns closed trades with the session tally
// GET /api/v1/trades
func (pc *PositionController) GetTrades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	trades, err := pc.store.Trades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch trades"})
		return
	}

	resp := gin.H{
		"count":  len(trades),
		"trades": trades,
	}
	if pc.stats != nil {
		s := pc.stats()
		resp["stats"] = gin.H{
			"trades_total":  s.TradesTotal,
			"trades_profit": s.TradesProfit,
			"trades_loss":   s.TradesLoss,
			"total_profit":  s.TotalProfit,
			"win_rate":      s.WinRate(),
		}
	}
	c.JSON(http.StatusOK, resp)
}
