// Package oracle prices reference tokens in SOL and USD using the Jupiter
// quote/price API and CoinGecko.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"overunder/internal/domain"
	"overunder/internal/solana"
)

// ErrCacheMiss is returned by a PriceCache that holds no value for an asset.
var ErrCacheMiss = errors.New("price cache miss")

// solUSDKey is the cache asset id of the SOL/USD price.
const solUSDKey = "solana:usd"

// PriceCache stores the latest price of an asset.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
}

// Price of a token.
type Price struct {
	Sol float64 `json:"sol"`
	Usd float64 `json:"usd"`
}

// Config configures the Client.
type Config struct {
	JupiterHost  string
	CoinGeckoURL string
	// USDTTL is how long a SOL/USD value is reused.
	USDTTL     time.Duration
	Timeout    time.Duration
	Cache      PriceCache
	HTTPClient *http.Client
	Logger     *log.Logger
}

// DefaultCoinGeckoURL returns SOL/USD.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"

// Client is the price oracle.
type Client struct {
	jupiterHost  string
	coinGeckoURL string
	ttl          time.Duration
	cache        PriceCache
	httpClient   *http.Client
	logger       *log.Logger
	group        singleflight.Group
}

// New creates an oracle client. A nil cache keeps SOL/USD in memory.
func New(cfg Config) *Client {
	if cfg.CoinGeckoURL == "" {
		cfg.CoinGeckoURL = DefaultCoinGeckoURL
	}
	if cfg.USDTTL <= 0 {
		cfg.USDTTL = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Client{
		jupiterHost:  strings.TrimRight(cfg.JupiterHost, "/"),
		coinGeckoURL: cfg.CoinGeckoURL,
		ttl:          cfg.USDTTL,
		cache:        cfg.Cache,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
	}
}

// TokenPrice returns the price of one whole token of mint in SOL and USD.
// The SOL price comes from the Jupiter price service, falling back to a
// quote of one whole token into SOL.
func (c *Client) TokenPrice(ctx context.Context, mint string, decimals int) (*Price, error) {
	sol, err := c.tokenPriceInSol(ctx, mint, decimals)
	if err != nil {
		return nil, err
	}

	usd, err := c.SolUSD(ctx)
	if err != nil {
		return nil, err
	}

	return &Price{Sol: roundTo9(sol), Usd: roundTo9(sol * usd)}, nil
}

func (c *Client) tokenPriceInSol(ctx context.Context, mint string, decimals int) (float64, error) {
	native := solana.NativeMint.String()
	if mint == native {
		return 1, nil
	}

	prices, err := c.Prices(ctx, []string{mint}, native)
	if err == nil {
		if p, ok := prices[mint]; ok && p > 0 {
			return p, nil
		}
	} else {
		c.logger.Printf("[oracle] price service for %s: %v, falling back to quote", mint, err)
	}

	one := uint64(1)
	for i := 0; i < decimals; i++ {
		one *= 10
	}
	q, err := c.Quote(ctx, mint, native, one)
	if err != nil {
		return 0, err
	}
	out, _ := strconv.ParseFloat(q.OutAmount, 64)
	if out <= 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrRouteNotFound, mint)
	}
	return out / 1e9, nil
}

// SolUSD returns the SOL/USD price, cached for the configured TTL. Concurrent
// refreshes share one request. A zero price is ErrFailedGetPriceInUsd.
func (c *Client) SolUSD(ctx context.Context) (float64, error) {
	if p, ts, err := c.cache.GetPrice(ctx, solUSDKey); err == nil && p > 0 && time.Since(ts) < c.ttl {
		return p, nil
	}

	v, err, _ := c.group.Do(solUSDKey, func() (interface{}, error) {
		p, err := c.fetchSolUSD(ctx)
		if err != nil {
			return 0.0, err
		}
		if err := c.cache.SetPrice(ctx, solUSDKey, p, time.Now()); err != nil {
			c.logger.Printf("[oracle] cache sol/usd: %v", err)
		}
		return p, nil
	})
	if err != nil {
		// A stale value beats no value.
		if p, _, cerr := c.cache.GetPrice(ctx, solUSDKey); cerr == nil && p > 0 {
			c.logger.Printf("[oracle] sol/usd refresh failed, using cached value: %v", err)
			return p, nil
		}
		return 0, err
	}
	return v.(float64), nil
}

func (c *Client) fetchSolUSD(ctx context.Context) (float64, error) {
	body, _, err := c.doGet(ctx, c.coinGeckoURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrFailedGetPriceInUsd, err)
	}

	var resp struct {
		Solana struct {
			USD float64 `json:"usd"`
		} `json:"solana"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Solana.USD <= 0 {
		return 0, domain.ErrFailedGetPriceInUsd
	}
	return resp.Solana.USD, nil
}

// doGet performs a GET and returns the body and status code.
func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func roundTo9(v float64) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 9, 64), 64)
	return f
}

// MemoryCache is an in-process PriceCache.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
}

type cachedPrice struct {
	price float64
	ts    time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[string]cachedPrice)}
}

// SetPrice stores price for assetID.
func (m *MemoryCache) SetPrice(_ context.Context, assetID string, price float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[assetID] = cachedPrice{price: price, ts: ts}
	return nil
}

// GetPrice returns the stored price or ErrCacheMiss.
func (m *MemoryCache) GetPrice(_ context.Context, assetID string) (float64, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[assetID]
	if !ok {
		return 0, time.Time{}, ErrCacheMiss
	}
	return p.price, p.ts, nil
}
