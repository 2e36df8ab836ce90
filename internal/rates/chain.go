// Package rates resolves exchange rates through an ordered list of public providers.
package rates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrRateMissing is returned by a provider whose payload has no usable rate for the
// target currency.
var ErrRateMissing = errors.New("rate missing from provider response")

// SourceIdentity tags the rate returned when both currencies are equal.
const SourceIdentity = "identity"

// DefaultAttemptTimeout bounds a single provider request.
const DefaultAttemptTimeout = 5 * time.Second

const maxBodyBytes = 1 << 20

// Rate is one resolved exchange rate, rounded to 4 decimals.
type Rate struct {
	From   string
	To     string
	Value  float64
	Source string
}

// Resolver is the contract the materializer depends on.
type Resolver interface {
	Resolve(ctx context.Context, from, to string) (Rate, bool)
}

// Chain tries each provider in order and returns the first valid rate.
type Chain struct {
	providers []Provider
	client    *http.Client
	timeout   time.Duration
	logger    zerolog.Logger
}

// Option customises a Chain.
type Option func(*Chain)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Chain) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAttemptTimeout sets the per-provider timeout.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(c *Chain) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger attaches a logger for provider failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// NewChain constructs a chain over providers in priority order.
func NewChain(providers []Provider, opts ...Option) *Chain {
	c := &Chain{
		providers: providers,
		client:    &http.Client{},
		timeout:   DefaultAttemptTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the first valid rate for from→to. It reports false when every
// provider failed; it never returns an error.
func (c *Chain) Resolve(ctx context.Context, from, to string) (Rate, bool) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return Rate{From: from, To: to, Value: 1, Source: SourceIdentity}, true
	}

	for _, provider := range c.providers {
		if ctx.Err() != nil {
			break
		}
		value, err := c.attempt(ctx, provider, from, to)
		if err != nil {
			providerAttempts.WithLabelValues(provider.Name(), "failure").Inc()
			c.logger.Warn().
				Err(err).
				Str("provider", provider.Name()).
				Str("from", from).
				Str("to", to).
				Msg("exchange rate provider failed")
			continue
		}
		providerAttempts.WithLabelValues(provider.Name(), "success").Inc()
		return Rate{From: from, To: to, Value: value, Source: provider.Name()}, true
	}

	c.logger.Error().Str("from", from).Str("to", to).Msg("all exchange rate providers failed")
	return Rate{}, false
}

func (c *Chain) attempt(ctx context.Context, provider Provider, from, to string) (float64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := provider.BuildRequest(attemptCtx, from, to)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	value, err := provider.ParseRate(body, to)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: non-finite rate %v", ErrRateMissing, value)
	}
	rounded := Round(value)
	if rounded <= 0 {
		return 0, fmt.Errorf("%w: rate %v is not positive at 4 decimals", ErrRateMissing, value)
	}
	return rounded, nil
}

// Round rounds a rate to 4 decimal places.
func Round(value float64) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(4).Float64()
	return rounded
}

// RunCache memoizes successful lookups for the duration of one run. Failures are
// not cached so later occurrences retry the providers.
type RunCache struct {
	next Resolver

	mu    sync.Mutex
	rates map[string]Rate
}

// NewRunCache wraps next with a per-run memo.
func NewRunCache(next Resolver) *RunCache {
	return &RunCache{next: next, rates: make(map[string]Rate)}
}

// Resolve implements Resolver.
func (c *RunCache) Resolve(ctx context.Context, from, to string) (Rate, bool) {
	key := strings.ToUpper(from) + "/" + strings.ToUpper(to)

	c.mu.Lock()
	rate, ok := c.rates[key]
	c.mu.Unlock()
	if ok {
		return rate, true
	}

	rate, ok = c.next.Resolve(ctx, from, to)
	if !ok {
		return Rate{}, false
	}

	c.mu.Lock()
	c.rates[key] = rate
	c.mu.Unlock()
	return rate, true
}
