package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts         = 3
	defaultBaseDelay           = 2 * time.Second
	defaultRateLimitMultiplier = 3
	defaultHTTPTimeout         = 30 * time.Second
)

// RequestFunc builds the HTTP request for one attempt. It is invoked fresh on
// every attempt so a rotated key is always applied; key is empty for
// providers without a credential pool.
type RequestFunc func(key string) (*http.Request, error)

// DecodeFunc consumes a successful response body. It may return a Classified
// error to report API-level failures delivered with a 200 status (e.g. an
// etherscan-style rate-limit notice), which then follows the normal retry
// policy.
type DecodeFunc func(body []byte) error

// Client executes provider requests with classification-driven retry,
// per-provider pacing, credential rotation, and a circuit breaker.
type Client struct {
	name       string
	httpClient *http.Client
	limiter    *rate.Limiter
	keys       *KeyPool
	breaker    *Breaker
	logger     *slog.Logger

	maxAttempts         int
	baseDelay           time.Duration
	rateLimitMultiplier int
	sleepFn             func(ctx context.Context, d time.Duration) error
}

// Config configures a Client. Zero values resolve to the documented defaults.
type Config struct {
	Name                string        // provider label for logs, errors and metrics
	HTTPTimeout         time.Duration // per-request timeout (default: 30s)
	RPS                 float64       // sustained request rate, 0 disables pacing
	Burst               int           // limiter burst (default: 1 when RPS set)
	Keys                *KeyPool      // nil for unkeyed providers
	Breaker             *Breaker      // nil disables the breaker
	MaxAttempts         int           // retry budget for transient failures (default: 3)
	BaseDelay           time.Duration // fixed delay before generic retries (default: 2s)
	RateLimitMultiplier int           // rate-limit delay = base * multiplier (default: 3)
}

// NewClient creates a resilient provider client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.RateLimitMultiplier <= 0 {
		cfg.RateLimitMultiplier = defaultRateLimitMultiplier
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		name:                cfg.Name,
		httpClient:          &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:             limiter,
		keys:                cfg.Keys,
		breaker:             cfg.Breaker,
		logger:              logger.With("component", "fetch", "provider", cfg.Name),
		maxAttempts:         cfg.MaxAttempts,
		baseDelay:           cfg.BaseDelay,
		rateLimitMultiplier: cfg.RateLimitMultiplier,
	}
}

// Name returns the provider label.
func (c *Client) Name() string { return c.name }

// Do executes one logical provider request. Transient failures are retried up
// to the configured budget; credential rejections rotate the key pool without
// consuming the budget; a fully rotated pool fails with KindAuthExhausted and
// is never retried.
func (c *Client) Do(ctx context.Context, build RequestFunc, decode DecodeFunc) error {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			metrics.FetchBreakerRejections.WithLabelValues(c.name).Inc()
			return &Error{Kind: KindRateLimited, Provider: c.name, Err: err}
		}
	}

	attempt := 1
	rotations := 0
	for {
		key := ""
		keyIndex := -1
		if c.keys != nil {
			current, idx, ok := c.keys.Current()
			if !ok {
				return &Error{Kind: KindAuthExhausted, Provider: c.name, Attempts: attempt,
					Err: fmt.Errorf("key pool exhausted (%d keys)", c.keys.Size())}
			}
			key, keyIndex = current, idx
		}

		err := c.attempt(ctx, key, build, decode)
		kind := KindOf(err)
		metrics.FetchAttemptsTotal.WithLabelValues(c.name, attemptStatus(err, kind)).Inc()
		if err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case kind == KindNotFound:
			// Absence, not failure: terminal and non-retried.
			return &Error{Kind: KindNotFound, Provider: c.name, Attempts: attempt, Err: err}

		case kind == KindUnauthorized && c.keys != nil:
			rotations++
			if rotations >= c.keys.Size() {
				// Rotation wrapped back without success: no further request
				// can succeed with any credential in the pool.
				c.keys.MarkExhausted()
				return &Error{Kind: KindAuthExhausted, Provider: c.name, Attempts: attempt,
					Err: fmt.Errorf("all %d keys rejected: %w", c.keys.Size(), err)}
			}
			c.keys.Rotate(keyIndex)
			metrics.KeyRotationsTotal.WithLabelValues(c.name).Inc()
			c.logger.Warn("credential rejected; rotated key",
				"rotation", rotations,
				"pool_size", c.keys.Size(),
				"error", err,
			)
			continue // rotation does not consume the retry budget

		case kind == KindUnauthorized:
			return &Error{Kind: KindAuthExhausted, Provider: c.name, Attempts: attempt, Err: err}

		case !kind.Retryable():
			return &Error{Kind: KindTerminal, Provider: c.name, Attempts: attempt, Err: err}
		}

		if c.breaker != nil {
			c.breaker.RecordFailure(kind)
		}
		if attempt >= c.maxAttempts {
			return &Error{Kind: kind, Provider: c.name, Attempts: attempt, Err: err}
		}

		delay := c.baseDelay
		if kind == KindRateLimited {
			delay *= time.Duration(c.rateLimitMultiplier)
		}
		metrics.FetchRetriesTotal.WithLabelValues(c.name, string(kind)).Inc()
		c.logger.Warn("provider call failed; retrying",
			"kind", kind,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		attempt++
	}
}

func (c *Client) attempt(ctx context.Context, key string, build RequestFunc, decode DecodeFunc) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := build(key)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req = req.WithContext(ctx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classified(KindNetworkError, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classified(KindNetworkError, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode)
		return Classified(kind, fmt.Errorf("http status %d: %s", resp.StatusCode, truncate(body, 256)))
	}
	if decode == nil {
		return nil
	}
	return decode(body)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if c.sleepFn != nil {
		return c.sleepFn(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func attemptStatus(err error, kind Kind) string {
	if err == nil {
		return "ok"
	}
	return string(kind)
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
