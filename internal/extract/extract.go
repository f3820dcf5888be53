// Package extract implements the price-extractor external collaborator:
// an offline deterministic generator and a rate-limited CoinGecko HTTP
// client with backoff, grounded on this lineage's pooled/rate-limited
// HTTP client idiom and the reference extractor's retry policy.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"marketledger/internal/logger"
	"marketledger/internal/market"
)

const cacheKey = "marketledger:extract:last_price"

// Result is a single successfully-extracted (and validated) observation.
type Result struct {
	Price     float64
	Timestamp int64
	Source    string
}

type coinGeckoResponse struct {
	Bitcoin struct {
		USD float64 `json:"usd"`
	} `json:"bitcoin"`
}

// Extractor fetches BTC/USD prices, offline or from CoinGecko.
type Extractor struct {
	client     *http.Client
	limiter    *rate.Limiter
	validator  *market.Validator
	baseURL    string
	maxRetries int

	cache    *redis.Client
	cacheTTL time.Duration
}

// New constructs an Extractor against baseURL (CoinGecko's simple-price
// endpoint by default), rate-limited to one request per second with a
// burst of 2 to stay well under CoinGecko's free-tier ceiling.
func New(baseURL string, maxRetries int) *Extractor {
	return &Extractor{
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 2),
		validator:  market.NewValidator(),
		baseURL:    baseURL,
		maxRetries: maxRetries,
	}
}

// WithValidator overrides the extractor's validator.
func (e *Extractor) WithValidator(v *market.Validator) *Extractor {
	e.validator = v
	return e
}

// WithCache wires a short-TTL Redis cache of the last extracted price,
// avoiding redundant CoinGecko calls within a benchmark round. A blank
// addr leaves caching disabled.
func (e *Extractor) WithCache(addr string, ttl time.Duration) *Extractor {
	if addr == "" {
		return e
	}
	e.cache = redis.NewClient(&redis.Options{Addr: addr})
	e.cacheTTL = ttl
	return e
}

// ExtractOffline returns a deterministic synthetic price derived from the
// current time, for use without network access.
func (e *Extractor) ExtractOffline(ctx context.Context) (*Result, error) {
	timestamp := time.Now().Unix()
	basePrice := 50000.0
	variation := float64(timestamp%1000) / 10.0
	price := basePrice + variation

	if err := e.validator.ValidatePrice(price); err != nil {
		return nil, err
	}
	if err := e.validator.ValidateTimestamp(timestamp); err != nil {
		return nil, err
	}

	return &Result{Price: price, Timestamp: timestamp, Source: "MockData"}, nil
}

// ExtractFromAPI fetches the current BTC/USD price from CoinGecko, making
// up to maxRetries attempts in all. HTTP 429/403 use exponential backoff
// (1000ms * 2^(attempt-1)); any other failure uses linear backoff
// (500ms * attempt).
func (e *Extractor) ExtractFromAPI(ctx context.Context) (*Result, error) {
	if cached := e.readCache(ctx); cached != nil {
		return cached, nil
	}

	url := e.baseURL + "?ids=bitcoin&vs_currencies=usd"

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("extract: rate limiter: %w", err)
		}

		result, retryable, err := e.attempt(ctx, url)
		if err == nil {
			e.writeCache(ctx, result)
			return result, nil
		}
		lastErr = err

		if !retryable || attempt == e.maxRetries {
			break
		}

		delay := linearBackoff(attempt)
		if isThrottled(err) {
			delay = exponentialBackoff(attempt)
		}
		logger.Warn("extract: retrying CoinGecko request", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err.Error())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("extract: failed after %d attempts: %w", e.maxRetries, lastErr)
}

// readCache returns the cached price if caching is enabled and a live
// entry exists. Any Redis error is treated as a cache miss: caching is a
// latency optimization, never a hard dependency.
func (e *Extractor) readCache(ctx context.Context) *Result {
	if e.cache == nil {
		return nil
	}
	data, err := e.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return &result
}

func (e *Extractor) writeCache(ctx context.Context, result *Result) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, cacheKey, data, e.cacheTTL).Err(); err != nil {
		logger.Warn("extract: cache write failed", "error", err.Error())
	}
}

// throttledError marks a response as HTTP 429/403, triggering exponential
// rather than linear backoff.
type throttledError struct{ status int }

func (e *throttledError) Error() string { return fmt.Sprintf("extract: throttled (HTTP %d)", e.status) }

func isThrottled(err error) bool {
	_, ok := err.(*throttledError)
	return ok
}

func linearBackoff(attempt int) time.Duration {
	return time.Duration(500*attempt) * time.Millisecond
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1000*(1<<uint(attempt-1))) * time.Millisecond
}

func (e *Extractor) attempt(ctx context.Context, url string) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("extract: build request: %w", err)
	}
	req.Header.Set("User-Agent", "marketledger/0.1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("extract: request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
			return nil, true, &throttledError{status: resp.StatusCode}
		}
		return nil, true, fmt.Errorf("extract: API returned status %d", resp.StatusCode)
	}

	var decoded coinGeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, true, fmt.Errorf("extract: decode response: %w", err)
	}

	timestamp := time.Now().Unix()
	if err := e.validator.ValidatePrice(decoded.Bitcoin.USD); err != nil {
		return nil, false, err
	}
	if err := e.validator.ValidateTimestamp(timestamp); err != nil {
		return nil, false, err
	}

	return &Result{Price: decoded.Bitcoin.USD, Timestamp: timestamp, Source: "CoinGecko"}, false, nil
}
