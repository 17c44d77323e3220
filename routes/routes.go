package routes

import (
	"github.com/gin-gonic/gin"

	"go_trading_bot/controllers"
	"go_trading_bot/middleware"
)

// Deps holds what the API routes serve
type Deps struct {
	Tasks     *controllers.TaskController
	Positions *controllers.PositionController
	JWTSecret string

	// RunLimiter throttles manual task runs per client; nil disables it.
	RunLimiter *middleware.RateLimiter
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	// API v1 group
	api := router.Group("/api/v1")
	{
		// Scheduled task routes
		tasks := api.Group("/tasks")
		{
			tasks.GET("", deps.Tasks.ListTasks)
			tasks.GET("/:name", deps.Tasks.GetTask)
			run := []gin.HandlerFunc{
				middleware.JWTAuthMiddleware(deps.JWTSecret),
				middleware.AdminRoleMiddleware(),
			}
			if deps.RunLimiter != nil {
				run = append(run, middleware.RateLimitMiddleware(deps.RunLimiter))
			}
			tasks.POST("/:name/run", append(run, deps.Tasks.RunTask)...)
		}

		// Portfolio routes
		api.GET("/positions", deps.Positions.GetPositions)
		api.GET("/trades", deps.Positions.GetTrades)
	}
}
