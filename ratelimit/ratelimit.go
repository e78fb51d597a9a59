// Package ratelimit paces outbound calls to the upstream task API.
//
// The pacer never retries on its own: callers surface every failure. A
// throttling response only slows the calls that follow it, and the next
// successful call restores the configured pace.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces requests and backs off after the upstream throttles us.
type Pacer struct {
	limiter   *rate.Limiter
	mu        sync.Mutex
	throttled int
	delay     time.Duration
	config    *Config
}

// Config holds pacer configuration
type Config struct {
	APIDelay          time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultConfig returns default pacer configuration
func DefaultConfig() *Config {
	return &Config{
		APIDelay:          200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// NewPacer creates a new pacer. A nil config uses DefaultConfig.
func NewPacer(cfg *Config) *Pacer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.APIDelay <= 0 {
		cfg.APIDelay = DefaultConfig().APIDelay
	}

	return &Pacer{
		limiter: rate.NewLimiter(limitFor(cfg.APIDelay), 1),
		delay:   cfg.APIDelay,
		config:  cfg,
	}
}

// Wait blocks until the next request may be sent or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Throttled records a 429 from upstream and widens the spacing between
// subsequent requests. It returns the new spacing.
func (p *Pacer) Throttled() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.throttled++
	next := time.Duration(math.Min(
		float64(p.config.APIDelay)*math.Pow(p.config.BackoffMultiplier, float64(p.throttled)),
		float64(p.config.MaxDelay),
	))
	if next > p.delay {
		p.delay = next
		p.limiter.SetLimit(limitFor(next))
	}
	return p.delay
}

// Success restores the configured pace after a throttled period.
func (p *Pacer) Success() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.throttled == 0 {
		return
	}
	p.throttled = 0
	p.delay = p.config.APIDelay
	p.limiter.SetLimit(limitFor(p.config.APIDelay))
}

// Delay returns the current spacing between requests.
func (p *Pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

func limitFor(delay time.Duration) rate.Limit {
	return rate.Limit(float64(time.Second) / float64(delay))
}
