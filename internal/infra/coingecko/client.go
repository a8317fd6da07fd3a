package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/internal/infra"

	"github.com/shopspring/decimal"
)

const (
	DefaultRestURL = "https://api.coingecko.com/api/v3"

	// DefaultBatchSize and DefaultBatchCooldown match the public API
	// quota window: at most 250 ids per simple/price call, with a pause
	// between consecutive calls. Both are config-tunable.
	DefaultBatchSize     = 250
	DefaultBatchCooldown = 25 * time.Second

	maxAttempts = 3
)

// Coin is one entry of the /coins/list response.
type Coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Client is the CoinGecko REST client (boundary layer). It batches price
// lookups, spaces batches to respect the external rate limit, and retries
// transient failures with exponential backoff.
type Client struct {
	baseURL    string
	apiKey     string
	batchSize  int
	cooldown   time.Duration
	httpClient *http.Client
	metrics    *infra.Metrics
	logger     *slog.Logger
}

// NewClient creates a new CoinGecko API client from config.
func NewClient(cfg *infra.Config, metrics *infra.Metrics) *Client {
	baseURL := cfg.API.CoinGecko.RestURL
	if baseURL == "" {
		baseURL = DefaultRestURL
	}
	batchSize := cfg.API.CoinGecko.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	timeout := time.Duration(cfg.API.CoinGecko.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    cfg.API.CoinGecko.APIKey,
		batchSize: batchSize,
		cooldown:  cfg.BatchCooldown(),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		metrics: metrics,
		logger:  slog.Default().With("module", "coingecko"),
	}
}

// GetPrices returns current USD prices for the given coin ids. Ids are
// partitioned into batches of at most batchSize, one request per batch,
// with a cooldown between batches when more than one is needed. A coin
// the API does not price (delisted, typo) is simply absent from the
// result; callers must treat absence as "skip this pass", never as zero.
// A batch that keeps failing is logged and skipped, so the result may be
// partial; an error is returned only when every batch failed.
func (c *Client) GetPrices(ctx context.Context, coinIDs []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(coinIDs))
	if len(coinIDs) == 0 {
		return result, nil
	}

	batches := partition(coinIDs, c.batchSize)
	var lastErr error
	succeeded := 0

	for i, batch := range batches {
		if i > 0 && c.cooldown > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(c.cooldown):
			}
		}

		prices, err := c.fetchBatch(ctx, batch)
		if err != nil {
			lastErr = err
			c.logger.Warn("price batch failed",
				slog.Int("batch", i), slog.Int("ids", len(batch)), slog.Any("error", err))
			if c.metrics != nil {
				c.metrics.RecordError()
			}
			continue
		}
		succeeded++
		for id, p := range prices {
			result[id] = p
		}
	}

	if succeeded == 0 && lastErr != nil {
		return nil, fmt.Errorf("all %d price batches failed: %w", len(batches), lastErr)
	}
	return result, nil
}

// GetPrice returns the current USD price of one coin.
func (c *Client) GetPrice(ctx context.Context, coinID string) (decimal.Decimal, error) {
	prices, err := c.GetPrices(ctx, []string{coinID})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[coinID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, coinID)
	}
	return price, nil
}

// ListCoins returns the full id/symbol/name coin universe.
func (c *Client) ListCoins(ctx context.Context) ([]Coin, error) {
	body, err := c.getWithRetry(ctx, c.baseURL+"/coins/list")
	if err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}

	var coins []Coin
	if err := json.Unmarshal(body, &coins); err != nil {
		return nil, fmt.Errorf("list coins: parse response: %w", err)
	}
	return coins, nil
}

// fetchBatch issues one simple/price request for up to batchSize ids.
func (c *Client) fetchBatch(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	body, err := c.getWithRetry(ctx, c.baseURL+"/simple/price?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordPriceFetch()
	}

	var raw map[string]struct {
		USD decimal.Decimal `json:"usd"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse price response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(raw))
	for id, entry := range raw {
		prices[id] = entry.USD
	}
	return prices, nil
}

// getWithRetry performs a GET with exponential backoff on retriable
// failures. Client errors other than 429 are not retried.
func (c *Client) getWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := infra.CalculateBackoff(attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.doGet(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.NewFatalNetworkError("get", err)
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("get", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError("read", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.NewNetworkError("get",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	default:
		return nil, domain.NewFatalNetworkError("get",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}
}

func partition(ids []string, size int) [][]string {
	var batches [][]string
	for len(ids) > size {
		batches = append(batches, ids[:size])
		ids = ids[size:]
	}
	return append(batches, ids)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
