// Copyright 2025 Certen Protocol
//
// Resilient HTTP client shared by all source adapters. Wraps one
// keep-alive http.Client per source with rate limiting, retries with
// exponential backoff and jitter for transient failures, Retry-After
// handling for 429 responses, and a consecutive-failure circuit breaker.

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tee-oracle/neo-price-feed/pkg/ratelimit"
)

const (
	defaultMaxAttempts     = 3
	defaultBackoffBase     = 1 * time.Second
	defaultBackoffMult     = 2
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second

	// Upper bound for very large Retry-After values so a hostile or
	// misconfigured upstream cannot stall a cycle.
	maxRetryAfter = 30 * time.Second
)

// HTTPClient performs rate-limited, retrying JSON GET requests against
// one provider.
type HTTPClient struct {
	source      string
	client      *http.Client
	limiter     *ratelimit.Limiter
	maxAttempts int
	backoffBase time.Duration
	breaker     *circuitBreaker
	logger      *log.Logger
}

// HTTPClientConfig holds client construction options.
type HTTPClientConfig struct {
	Source          string
	Timeout         time.Duration
	Limiter         *ratelimit.Limiter
	MaxAttempts     int
	BackoffBase     time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	Logger          *log.Logger
}

// NewHTTPClient creates a client for one source.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[HTTPClient] ", log.LstdFlags)
	}

	return &HTTPClient{
		source:      cfg.Source,
		client:      &http.Client{Timeout: cfg.Timeout},
		limiter:     cfg.Limiter,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		breaker: &circuitBreaker{
			threshold: cfg.BreakerFailures,
			cooldown:  cfg.BreakerCooldown,
		},
		logger: cfg.Logger,
	}
}

// GetJSON fetches url and decodes the response body into out. Transient
// failures are retried with exponential backoff and jitter up to the
// configured attempt budget.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	if !c.breaker.allow() {
		return &UpstreamError{Source: c.source, Transient: true, Err: ErrCircuitOpen}
	}

	var lastErr error
	var retryAfter time.Duration
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			if retryAfter > 0 {
				// 429 with Retry-After overrides the computed backoff.
				delay = retryAfter
			}
			c.logger.Printf("Warning: retrying %s request (attempt %d/%d) after %s: %v",
				c.source, attempt+1, c.maxAttempts, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &UpstreamError{Source: c.source, Transient: true, Err: ctx.Err()}
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx, c.source); err != nil {
				return &UpstreamError{Source: c.source, Transient: true, Err: err}
			}
		}

		err := c.doOnce(ctx, url, headers, out)
		if err == nil {
			c.breaker.success()
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			c.breaker.failure()
			return err
		}
		c.breaker.failure()

		retryAfter = 0
		var ue *UpstreamError
		if asUpstream(err, &ue) {
			retryAfter = ue.retryAfter
		}
	}
	return lastErr
}

func (c *HTTPClient) doOnce(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &UpstreamError{Source: c.source, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &UpstreamError{Source: c.source, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &UpstreamError{Source: c.source, Transient: true, Err: err}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return &UpstreamError{Source: c.source, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("malformed response body: %w", err)}
		}
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return &UpstreamError{
			Source: c.source, StatusCode: resp.StatusCode, Transient: true,
			Err:        fmt.Errorf("rate limited by upstream"),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode >= 500:
		return &UpstreamError{Source: c.source, StatusCode: resp.StatusCode, Transient: true,
			Err: fmt.Errorf("server error")}

	default:
		return &UpstreamError{Source: c.source, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("client error")}
	}
}

func (c *HTTPClient) backoffDelay(attempt int) time.Duration {
	delay := c.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= defaultBackoffMult
	}
	jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	return delay + jitter
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		d := time.Duration(secs) * time.Second
		if d > maxRetryAfter {
			return maxRetryAfter
		}
		return d
	}
	return 0
}

func asUpstream(err error, out **UpstreamError) bool {
	ue, ok := err.(*UpstreamError)
	if ok {
		*out = ue
	}
	return ok
}

// circuitBreaker opens after a run of consecutive failures and stays
// open for the cooldown interval.
type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
}

func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

func (b *circuitBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

func (b *circuitBreaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		b.failures = 0
	}
}
