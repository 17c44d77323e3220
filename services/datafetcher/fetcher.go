package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go_trading_bot/models"
)

var (
	ErrStockNotFound = errors.New("stock not found")
	ErrNoPriceData   = errors.New("no price data found")
)

// DataFetcher pulls quotes from the quote endpoint and stores them
type DataFetcher struct {
	db         *gorm.DB
	httpClient *http.Client
	endpoint   string
	log        zerolog.Logger
	now        func() time.Time
}

// Option customizes a DataFetcher.
type Option func(*DataFetcher)

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(df *DataFetcher) { df.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(df *DataFetcher) { df.log = l }
}

// WithClock overrides the timestamp source for stored prices.
func WithClock(now func() time.Time) Option {
	return func(df *DataFetcher) { df.now = now }
}

// NewDataFetcher creates a new data fetcher instance
func NewDataFetcher(db *gorm.DB, endpoint string, opts ...Option) *DataFetcher {
	df := &DataFetcher{
		db: db,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		endpoint: endpoint,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(df)
	}
	return df
}

// QuoteResponse is the quote endpoint's payload
type QuoteResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// FetchQuote fetches the last traded price for symbol
func (df *DataFetcher) FetchQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u, err := url.Parse(df.endpoint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid quote endpoint: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := df.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("quote API error for %s: status %d: %s",
			symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var quote QuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse quote for %s: %w", symbol, err)
	}
	if quote.Symbol != "" && !strings.EqualFold(quote.Symbol, symbol) {
		return decimal.Zero, fmt.Errorf("quote symbol mismatch: asked %s, got %s", symbol, quote.Symbol)
	}
	if !quote.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price %s for %s", quote.Price, symbol)
	}
	return quote.Price, nil
}

// RefreshPrices fetches and stores one quote per symbol. A failing symbol does not stop
// the others; all failures are returned joined.
func (df *DataFetcher) RefreshPrices(ctx context.Context, symbols []string) error {
	var errs []error
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		price, err := df.FetchQuote(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := df.StorePrice(ctx, symbol, price); err != nil {
			errs = append(errs, err)
			continue
		}
		df.log.Debug().Str("symbol", symbol).Stringer("price", price).Msg("price refreshed")
	}
	return errors.Join(errs...)
}

// StorePrice records price for symbol at the current time, creating the stock on first sight
func (df *DataFetcher) StorePrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	stock, err := df.ensureStock(ctx, symbol)
	if err != nil {
		return err
	}
	row := models.StockPrice{
		StockID: stock.ID,
		Date:    df.now().UTC(),
		Close:   price,
	}
	if err := df.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create price for %s: %w", symbol, err)
	}
	return nil
}

func (df *DataFetcher) ensureStock(ctx context.Context, symbol string) (*models.Stock, error) {
	var stock models.Stock
	err := df.db.WithContext(ctx).Where("symbol = ?", symbol).First(&stock).Error
	if err == nil {
		return &stock, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	stock = models.Stock{Symbol: symbol, Name: symbol, Status: models.StockStatusActive}
	if err := df.db.WithContext(ctx).Create(&stock).Error; err != nil {
		return nil, fmt.Errorf("failed to create stock %s: %w", symbol, err)
	}
	df.log.Info().Str("symbol", symbol).Msg("stock created")
	return &stock, nil
}

// LatestPrice returns the most recent stored price for symbol
func (df *DataFetcher) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var stock models.Stock
	if err := df.db.WithContext(ctx).Where("symbol = ?", symbol).First(&stock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrStockNotFound, symbol)
		}
		return decimal.Zero, err
	}

	var price models.StockPrice
	err := df.db.WithContext(ctx).
		Where("stock_id = ?", stock.ID).
		Order("date DESC").
		Order("id DESC").
		First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPriceData, symbol)
		}
		return decimal.Zero, err
	}
	return price.Close, nil
}

// CleanupOldPrices deletes price samples older than before and returns how many went
func (df *DataFetcher) CleanupOldPrices(ctx context.Context, before time.Time) (int64, error) {
	res := df.db.WithContext(ctx).Where("date < ?", before.UTC()).Delete(&models.StockPrice{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up prices: %w", res.Error)
	}
	return res.RowsAffected, nil
}
