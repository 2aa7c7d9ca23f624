// Package provider wraps the external market-data REST API behind bounded
// concurrency, retry with backoff and response caching.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/solpulse/solpulse/domain"
	"github.com/solpulse/solpulse/infrastructure/cache"
	apperrors "github.com/solpulse/solpulse/infrastructure/errors"
	"github.com/solpulse/solpulse/infrastructure/logging"
	"github.com/solpulse/solpulse/infrastructure/metrics"
	"github.com/solpulse/solpulse/infrastructure/resilience"
)

const (
	requestTimeout = 20 * time.Second
	tradesLimit    = 1000
)

// Config holds the gateway construction parameters.
type Config struct {
	BaseURL        string
	APIKey         string
	MaxConcurrency int
	CacheTTL       time.Duration
}

// Client is the market-data gateway. At most MaxConcurrency upstream
// requests run at once; successful responses are cached by (path, query).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cache      *cache.Cache
	retryCfg   resilience.RetryConfig
	limiter    *rate.Limiter
	log        *logging.Logger
	metrics    *metrics.Metrics

	mu       sync.RWMutex
	sem      chan struct{}
	cacheTTL time.Duration

	upstreamCalls atomic.Int64
}

// New creates a gateway client.
func New(cfg Config, log *logging.Logger, m *metrics.Metrics) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider base url required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		cache:      cache.New(cfg.CacheTTL),
		retryCfg:   resilience.DefaultRetryConfig(),
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		log:        log,
		metrics:    m,
		sem:        make(chan struct{}, cfg.MaxConcurrency),
		cacheTTL:   cfg.CacheTTL,
	}, nil
}

// UpdateLimits applies runtime configuration changes to the semaphore size
// and cache TTL. Holders of the previous semaphore release into the channel
// they acquired from, so resizing never strands a slot.
func (c *Client) UpdateLimits(maxConcurrency int, cacheTTL time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxConcurrency > 0 && maxConcurrency != cap(c.sem) {
		c.sem = make(chan struct{}, maxConcurrency)
	}
	if cacheTTL > 0 {
		c.cacheTTL = cacheTTL
	}
}

// UpstreamCalls returns the number of HTTP requests actually sent upstream.
func (c *Client) UpstreamCalls() int64 {
	return c.upstreamCalls.Load()
}

func cacheKey(path string, query url.Values) string {
	// url.Values.Encode sorts by key, so the key is deterministic.
	return path + "?" + query.Encode()
}

// Fetch retrieves path?query from the provider. The cache is consulted
// before the semaphore; a hit consumes no in-flight slot. Rate-limit,
// server and transport errors are retried with backoff; everything else is
// surfaced immediately.
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	key := cacheKey(path, query)
	if cached, ok := c.cache.Get(key); ok {
		c.metrics.ProviderCacheHits.Inc()
		return cached.(gjson.Result), nil
	}

	c.mu.RLock()
	sem := c.sem
	ttl := c.cacheTTL
	c.mu.RUnlock()

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	}
	c.metrics.ProviderInFlight.Inc()
	defer c.metrics.ProviderInFlight.Dec()

	var result gjson.Result
	err := resilience.Retry(ctx, c.retryCfg, func() error {
		fetched, err := c.doRequest(ctx, path, query)
		if err != nil {
			return err
		}
		result = fetched
		return nil
	})
	if err != nil {
		return gjson.Result{}, err
	}

	c.cache.Set(key, result, ttl)
	return result, nil
}

// doRequest performs one upstream round trip and classifies the outcome.
// Retryable failures are returned bare; permanent ones are wrapped so the
// retry loop stops.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, resilience.Permanent(err)
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return gjson.Result{}, resilience.Permanent(apperrors.Transport(err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	start := time.Now()
	c.upstreamCalls.Add(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(path, "transport_error", time.Since(start))
		return gjson.Result{}, apperrors.Transport(err)
	}
	defer resp.Body.Close()

	c.metrics.RecordProviderRequest(path, strconv.Itoa(resp.StatusCode), time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return gjson.Result{}, apperrors.Transport(err)
		}
		if !gjson.ValidBytes(body) {
			return gjson.Result{}, resilience.Permanent(
				apperrors.Decode(fmt.Errorf("invalid JSON body (%d bytes)", len(body))))
		}
		return gjson.ParseBytes(body), nil

	case resp.StatusCode == http.StatusTooManyRequests:
		err := apperrors.RateLimited(fmt.Errorf("status %d", resp.StatusCode))
		if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			return gjson.Result{}, resilience.WithDelayHint(err, delay)
		}
		return gjson.Result{}, err

	case resp.StatusCode >= 500:
		return gjson.Result{}, apperrors.Upstream(resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode))

	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, resilience.Permanent(apperrors.NotFound("endpoint", path))

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gjson.Result{}, resilience.Permanent(apperrors.AuthRejected(resp.StatusCode))

	default:
		return gjson.Result{}, resilience.Permanent(apperrors.UpstreamClient(resp.StatusCode))
	}
}

func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// Overview fetches defi/token_overview for the address.
func (c *Client) Overview(ctx context.Context, address string) (*TokenOverview, error) {
	query := url.Values{}
	query.Set("address", address)

	doc, err := c.Fetch(ctx, "defi/token_overview", query)
	if err != nil {
		return nil, fmt.Errorf("overview %s: %w", address, err)
	}

	data := doc.Get("data")
	if !data.Exists() {
		return nil, apperrors.Decode(fmt.Errorf("overview envelope missing data field"))
	}
	return overviewFromEnvelope(address, data), nil
}

// Trades fetches recent trades for the address and aggregates them into the
// 5 minute and 1 hour windows.
func (c *Client) Trades(ctx context.Context, address string) (*TokenTrades, error) {
	query := url.Values{}
	query.Set("address", address)
	query.Set("limit", strconv.Itoa(tradesLimit))
	query.Set("offset", "0")
	query.Set("sort_type", "desc")

	doc, err := c.Fetch(ctx, "defi/txs/token", query)
	if err != nil {
		return nil, fmt.Errorf("trades %s: %w", address, err)
	}

	items := doc.Get("data.items")
	if !items.Exists() {
		return nil, apperrors.Decode(fmt.Errorf("trades envelope missing data.items field"))
	}
	return tradesFromItems(address, items.Array(), time.Now()), nil
}

// Metrics fetches overview and trades for the address and combines them
// into one snapshot. The holders_1h_ago field is left unset; the store
// fills it by joining against snapshot history.
func (c *Client) Metrics(ctx context.Context, address string) (*domain.MetricSnapshot, error) {
	overview, err := c.Overview(ctx, address)
	if err != nil {
		return nil, err
	}
	trades, err := c.Trades(ctx, address)
	if err != nil {
		return nil, err
	}

	return &domain.MetricSnapshot{
		TokenAddress:  address,
		TS:            time.Now().UTC(),
		TxCount5m:     trades.TxCount5m,
		TxCount1h:     trades.TxCount1h,
		Volume5m:      trades.Volume5m,
		Volume1h:      trades.Volume1h,
		BuysVolume5m:  trades.BuysVolume5m,
		SellsVolume5m: trades.SellsVolume5m,
		HoldersNow:    overview.Holders,
		Liquidity:     overview.Liquidity,
	}, nil
}
