package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Client fetches token prices from the upstream price API, caching results
// briefly and rate limiting outbound calls. Safe for concurrent use.
type Client struct {
	http    *resty.Client
	limiter *TokenBucket
	cache   *priceCache
	stopCh  chan struct{}
}

// Options tune the client. Zero values fall back to defaults.
type Options struct {
	BaseURL     string
	APIKey      string
	CacheTTL    time.Duration // default 10s
	CacheMax    int           // default 1000
	BurstLimit  float64       // default 30
	RatePerSec  float64       // default 10
	HTTPTimeout time.Duration // default 5s
}

// NewClient creates the oracle client and starts the cache sweeper.
func NewClient(opts Options) *Client {
	if opts.BurstLimit <= 0 {
		opts.BurstLimit = 30
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 5 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.HTTPTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	if opts.APIKey != "" {
		httpClient.SetHeader("x-api-key", opts.APIKey)
	}

	c := &Client{
		http:    httpClient,
		limiter: NewTokenBucket(opts.BurstLimit, opts.RatePerSec),
		cache:   newPriceCache(opts.CacheMax, opts.CacheTTL),
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the cache sweeper.
func (c *Client) Close() {
	close(c.stopCh)
}

type priceResponse struct {
	Data map[string]struct {
		Price     string  `json:"price"`
		McapSol   float64 `json:"mcapSol"`
		LiqSol    float64 `json:"liquiditySol"`
	} `json:"data"`
}

// Price returns the token's price in SOL, from cache when fresh.
func (c *Client) Price(ctx context.Context, mint string) (PricePoint, error) {
	if point, ok := c.cache.get(mint); ok {
		return point, nil
	}
	return c.PriceFresh(ctx, mint)
}

// PriceFresh bypasses the cache. Activity hints use it: the point of a hint
// is that the cached price just went stale.
func (c *Client) PriceFresh(ctx context.Context, mint string) (PricePoint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return PricePoint{}, err
	}

	var out priceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ids", mint).
		SetResult(&out).
		Get("/price")
	if err != nil {
		return PricePoint{}, fmt.Errorf("price fetch %s: %w", mint, err)
	}
	if resp.IsError() {
		return PricePoint{}, fmt.Errorf("price fetch %s: status %d", mint, resp.StatusCode())
	}

	entry, ok := out.Data[mint]
	if !ok {
		return PricePoint{}, fmt.Errorf("price fetch %s: not in response", mint)
	}
	price, err := strconv.ParseFloat(entry.Price, 64)
	if err != nil {
		return PricePoint{}, fmt.Errorf("price fetch %s: bad price %q", mint, entry.Price)
	}

	point := PricePoint{
		Mint:       mint,
		PriceSOL:   price,
		McapSol:    entry.McapSol,
		LiqSol:     entry.LiqSol,
		ObservedAt: time.Now(),
	}
	c.cache.put(point)
	return point, nil
}

// Observe stores an externally derived price (e.g. computed from bonding
// curve reserves) so subsequent reads hit the cache.
func (c *Client) Observe(point PricePoint) {
	if point.ObservedAt.IsZero() {
		point.ObservedAt = time.Now()
	}
	c.cache.put(point)
}

// CacheSize reports cached entries. Exposed for metrics.
func (c *Client) CacheSize() int {
	return c.cache.len()
}

func (c *Client) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			before := c.cache.len()
			c.cache.sweep()
			if dropped := before - c.cache.len(); dropped > 0 {
				log.Debug().Int("dropped", dropped).Msg("price cache swept")
			}
		}
	}
}
