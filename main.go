package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go_trading_bot/config"
	"go_trading_bot/controllers"
	"go_trading_bot/logger"
	"go_trading_bot/middleware"
	"go_trading_bot/models"
	"go_trading_bot/routes"
	"go_trading_bot/scheduler"
	"go_trading_bot/services/analysis"
	"go_trading_bot/services/datafetcher"
	"go_trading_bot/services/portfolio"
	"go_trading_bot/services/trading"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config load failed")
	}

	log, closeLogs, err := logger.New(logger.Options{
		Level:    cfg.LogLevel,
		File:     cfg.LogFile,
		ErrorLog: cfg.ErrorLog,
		Console:  os.Stdout,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("logger setup failed")
	}
	defer closeLogs.Close()
	zlog.Logger = log

	log.Info().
		Strs("symbols", cfg.Symbols).
		Str("environment", cfg.Environment).
		Msg("trading bot starting")

	// Initialize database connection
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if err := runMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	fetcher := datafetcher.NewDataFetcher(db, cfg.QuoteEndpoint,
		datafetcher.WithLogger(log.With().Str("component", "datafetcher").Logger()))
	pm := portfolio.NewManager(db, portfolio.Config{
		MaxPositions: cfg.MaxPositions,
		Quantity:     decimal.NewFromFloat(cfg.TransactionQuantity),
		StopLoss:     decimal.NewFromFloat(cfg.InitialStopLoss),
		TakeProfit:   decimal.NewFromFloat(cfg.TakeProfit),
		TrailingStop: decimal.NewFromFloat(cfg.TrailingStop),
	}, log.With().Str("component", "portfolio").Logger())
	bot := trading.NewTradingBot(trading.Config{
		Symbols:            cfg.Symbols,
		RSIPeriod:          cfg.RSIPeriod,
		RSIOversold:        decimal.NewFromFloat(cfg.RSIOversold),
		MarketDataInterval: cfg.MarketDataInterval,
		AnalysisInterval:   cfg.AnalysisInterval,
		CheckInterval:      cfg.CheckInterval,
		CleanupInterval:    cfg.CleanupInterval,
		PriceRetention:     cfg.PriceRetention,
	}, fetcher, analysis.NewTechnicalAnalysis(db), pm, log.With().Str("component", "bot").Logger())

	jobScheduler := scheduler.New(
		scheduler.WithLogger(log.With().Str("component", "scheduler").Logger()),
		scheduler.WithMaxTaskDuration(cfg.MaxTaskDuration),
		scheduler.WithQuietTasks(cfg.QuietTasks...),
		scheduler.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
		scheduler.WithLocation(cfg.Location),
	)
	if err := bot.Register(jobScheduler); err != nil {
		log.Fatal().Err(err).Msg("task registration failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := jobScheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("scheduler start failed")
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	setupHealthEndpoints(router, db)
	runLimiter := middleware.NewRateLimiter(10, time.Minute)
	runLimiter.StartCleanup(ctx, 5*time.Minute)
	routes.SetupRoutes(router, routes.Deps{
		Tasks:      controllers.NewTaskController(jobScheduler, log),
		Positions:  controllers.NewPositionController(pm, bot.Stats),
		JWTSecret:  cfg.JWTSecret,
		RunLimiter: runLimiter,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	gracefulShutdown(log, server, jobScheduler, bot, db)
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := models.MigrateStockModels(db); err != nil {
		return err
	}
	return models.MigrateTradingModels(db)
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, db *gorm.DB) {
	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks the database is reachable
	router.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// requestLogger logs failed or slow requests
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Warn().
				Str("method", c.Request.Method).
				Str("path", path).
				Int("status", c.Writer.Status()).
				Dur("duration", duration).
				Msg("request")
		}
	}
}

// gracefulShutdown stops the scheduler first, then the HTTP server and the database
func gracefulShutdown(log zerolog.Logger, server *http.Server, jobScheduler *scheduler.Scheduler, bot *trading.TradingBot, db *gorm.DB) {
	log.Info().Msg("shutting down gracefully")

	jobScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
		log.Info().Msg("database connection closed")
	}

	bot.LogStats()
	log.Info().Msg("shutdown completed")
}
