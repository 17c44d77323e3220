package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string
	JWTSecret   string

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string

	// Market
	Symbols       []string
	QuoteEndpoint string

	// Task intervals and watchdog
	AnalysisInterval   time.Duration
	CheckInterval      time.Duration
	MarketDataInterval time.Duration
	CleanupInterval    time.Duration
	MaxTaskDuration    time.Duration
	QuietTasks         []string
	MaxConcurrentJobs  int
	Location           *time.Location

	// Trading
	RSIPeriod           int
	RSIOversold         float64
	InitialStopLoss     float64
	TakeProfit          float64
	TrailingStop        float64
	MaxPositions        int
	TransactionQuantity float64
	PriceRetention      time.Duration

	// Logging
	LogLevel string
	LogFile  string
	ErrorLog string
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	var errs []string
	dur := func(key, def string) time.Duration {
		d, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	num := func(key, def string) float64 {
		f, err := getFloat(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return f
	}
	integer := func(key, def string) int {
		n, err := strconv.Atoi(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			n, _ = strconv.Atoi(def)
		}
		return n
	}
	location := func(key, def string) *time.Location {
		loc, err := time.LoadLocation(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return time.UTC
		}
		return loc
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "trading_bot"),
		DBPath:     getEnv("DB_PATH", "data/trading.db"),

		Symbols:       getList("SYMBOLS", "BTC/USDC"),
		QuoteEndpoint: getEnv("QUOTE_ENDPOINT", "http://localhost:9090/quote"),

		AnalysisInterval:   dur("ANALYSIS_INTERVAL", "1s"),
		CheckInterval:      dur("CHECK_INTERVAL", "1s"),
		MarketDataInterval: dur("MARKET_DATA_INTERVAL", "1s"),
		CleanupInterval:    dur("CLEANUP_INTERVAL", "24h"),
		MaxTaskDuration:    dur("MAX_TASK_DURATION", "60s"),
		QuietTasks:         getExplicitList("QUIET_TASKS", "rsi_update,short_term_trend_analysis"),
		MaxConcurrentJobs:  integer("MAX_CONCURRENT_JOBS", "0"),
		Location:           location("SCHEDULER_TIMEZONE", "UTC"),

		RSIPeriod:           integer("RSI_PERIOD", "4"),
		RSIOversold:         num("RSI_OVERSOLD", "25"),
		InitialStopLoss:     num("INITIAL_STOP_LOSS", "0.1"),
		TakeProfit:          num("TAKE_PROFIT", "0.12"),
		TrailingStop:        num("TRAILING_STOP", "0.03"),
		MaxPositions:        integer("MAX_POSITIONS", "1"),
		TransactionQuantity: num("TRANSACTION_QUANTITY", "0.001"),
		PriceRetention:      dur("PRICE_RETENTION", "720h"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", filepath.Join("logs", "trading.log")),
		ErrorLog: getEnv("ERROR_LOG", filepath.Join("logs", "error.log")),
	}

	if len(errs) > 0 {
		return config, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return config, nil
}

// InitDB initializes database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		// Log connection info (masked for security)
		log.Info().
			Str("host", maskHost(cfg.DBHost)).
			Str("port", cfg.DBPort).
			Str("user", cfg.DBUser).
			Str("dbname", cfg.DBName).
			Msg("connecting to database")

		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
		)
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		log.Info().Str("path", cfg.DBPath).Msg("opening sqlite database")
		dialector = sqlite.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("driver", cfg.DBDriver).Msg("database connection verified")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getDuration accepts Go duration strings ("1500ms", "2m") or bare seconds ("5", "1.5").
func getDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnv(key, defaultValue)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 {
			return parseDefaultDuration(defaultValue), fmt.Errorf("%s: must be > 0, got %q", key, raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return parseDefaultDuration(defaultValue), fmt.Errorf("%s: %v", key, err)
	}
	if d <= 0 {
		return parseDefaultDuration(defaultValue), fmt.Errorf("%s: must be > 0, got %q", key, raw)
	}
	return d, nil
}

func parseDefaultDuration(def string) time.Duration {
	d, _ := time.ParseDuration(def)
	return d
}

func getFloat(key, defaultValue string) (float64, error) {
	raw := getEnv(key, defaultValue)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		def, _ := strconv.ParseFloat(defaultValue, 64)
		return def, fmt.Errorf("%s: %v", key, err)
	}
	return f, nil
}

// getList splits a comma separated variable, dropping blanks.
func getList(key, defaultValue string) []string {
	return splitList(getEnv(key, defaultValue))
}

// getExplicitList is getList for keys where a set but empty variable means an empty list.
func getExplicitList(key, defaultValue string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		value = defaultValue
	}
	return splitList(value)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
