// Package market implements the market data client: a rate-limited,
// cache-fronted reader of the external ranked-assets API.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coinspree/ath-notifier/internal/config"
	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/coinspree/ath-notifier/internal/retry"
	"github.com/coinspree/ath-notifier/internal/storage"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	pipelineerrors "github.com/coinspree/ath-notifier/internal/errors"
)

// Snapshot is the result of a ranked-assets fetch. Stale marks a response
// served from the last good cached value because the upstream was
// unavailable; consumers must not create notifications from a stale read.
type Snapshot struct {
	Assets    []models.CryptoAsset `json:"assets"`
	FetchedAt time.Time            `json:"fetchedAt"`
	Stale     bool                 `json:"stale"`
}

// Client fetches ranked assets from the market data source with a short TTL
// read-through cache in Redis, keyed by the requested range, to stay inside
// the upstream rate limit.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	redis      *storage.RedisStore
	cacheTTL   time.Duration
	limiter    *rate.Limiter
	retryCfg   *retry.Config
}

// NewClient creates a market data client.
func NewClient(cfg *config.MarketConfig, redisStore *storage.RedisStore) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 0.5
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		redis:      redisStore,
		cacheTTL:   cfg.CacheTTL,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		retryCfg:   retry.DefaultConfig(),
	}
}

// rawAsset mirrors the upstream snake_case payload. Optional numeric fields
// are pointers so a missing field defaults to 0 instead of failing the fetch.
type rawAsset struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	CurrentPrice             *float64 `json:"current_price"`
	MarketCap                *float64 `json:"market_cap"`
	MarketCapRank            *int     `json:"market_cap_rank"`
	TotalVolume              *float64 `json:"total_volume"`
	ATH                      *float64 `json:"ath"`
	ATHDate                  string   `json:"ath_date"`
	LastUpdated              string   `json:"last_updated"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
}

func (r *rawAsset) normalize() models.CryptoAsset {
	asset := models.CryptoAsset{
		ID:     r.ID,
		Symbol: r.Symbol,
		Name:   r.Name,
	}
	if r.CurrentPrice != nil {
		asset.CurrentPrice = *r.CurrentPrice
	}
	if r.MarketCap != nil {
		asset.MarketCap = *r.MarketCap
	}
	if r.MarketCapRank != nil {
		asset.MarketCapRank = *r.MarketCapRank
	}
	if r.TotalVolume != nil {
		asset.TotalVolume = *r.TotalVolume
	}
	if r.ATH != nil {
		asset.ATH = *r.ATH
	}
	if r.PriceChangePercentage24h != nil {
		asset.PriceChangePercentage24h = *r.PriceChangePercentage24h
	}
	if t, err := time.Parse(time.RFC3339, r.ATHDate); err == nil {
		asset.ATHDate = t
	}
	if t, err := time.Parse(time.RFC3339, r.LastUpdated); err == nil {
		asset.LastUpdated = t
	}
	return asset
}

func cacheKey(offset, count int) string {
	return fmt.Sprintf("market:ranked:%d:%d", offset, count)
}

func staleKey(offset, count int) string {
	return cacheKey(offset, count) + ":stale"
}

// FetchRanked returns count ranked assets starting at offset. Within the
// cache TTL repeated calls are served from Redis without touching the
// upstream. When the upstream is unavailable the last good value is returned
// with Stale set; with no fallback available the upstream error surfaces.
func (c *Client) FetchRanked(ctx context.Context, offset, count int) (*Snapshot, error) {
	logger := logging.FromContext(ctx)

	if cached, err := c.readCache(ctx, cacheKey(offset, count)); err == nil && cached != nil {
		return cached, nil
	}

	var assets []models.CryptoAsset
	fetchErr := retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		var err error
		assets, err = c.fetchUpstream(ctx, offset, count)
		return err
	})
	if fetchErr != nil {
		if pipelineerrors.IsUpstreamUnavailable(fetchErr) {
			if stale, err := c.readCache(ctx, staleKey(offset, count)); err == nil && stale != nil {
				logger.WithField("offset", offset).Warn("Market data unavailable, serving stale snapshot")
				stale.Stale = true
				return stale, nil
			}
		}
		return nil, fetchErr
	}

	snapshot := &Snapshot{Assets: assets, FetchedAt: time.Now().UTC()}
	c.writeCache(ctx, offset, count, snapshot)
	return snapshot, nil
}

func (c *Client) readCache(ctx context.Context, key string) (*Snapshot, error) {
	raw, err := c.redis.Get(ctx, key)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *Client) writeCache(ctx context.Context, offset, count int, snapshot *Snapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	// Cache failures only cost an extra upstream call, so log and move on.
	if err := c.redis.Set(ctx, cacheKey(offset, count), raw, c.cacheTTL); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to cache market snapshot")
	}
	if err := c.redis.Set(ctx, staleKey(offset, count), raw, 0); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to store fallback market snapshot")
	}
}

func (c *Client) fetchUpstream(ctx context.Context, offset, count int) ([]models.CryptoAsset, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	page := offset/count + 1
	url := fmt.Sprintf(
		"%s/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=%d&page=%d&price_change_percentage=24h",
		c.baseURL, count, page,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build market request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipelineerrors.NewNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerrors.NewNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(body))
		if len(message) > 200 {
			message = message[:200]
		}
		return nil, pipelineerrors.NewUpstreamDataError(resp.StatusCode, message)
	}

	var raws []rawAsset
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode market response: %w", err)
	}

	assets := make([]models.CryptoAsset, 0, len(raws))
	for i := range raws {
		assets = append(assets, raws[i].normalize())
	}
	return assets, nil
}
