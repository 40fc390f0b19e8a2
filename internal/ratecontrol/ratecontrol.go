// Package ratecontrol paces outbound LLM calls per provider.
package ratecontrol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RateLimit struct {
	RPM int
}

// built-in limits for providers the config does not mention
var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 60},
	"anthropic": {RPM: 50},
	"gemini":    {RPM: 60},
}

// Limiters hands out one token bucket per provider. A provider with a
// non-positive RPM is unlimited.
type Limiters struct {
	mu       sync.RWMutex
	limits   map[string]RateLimit
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// New builds limiters from provider -> requests per minute, layered over
// the built-in limits.
func New(rpm map[string]int, logger *zap.Logger) *Limiters {
	if logger == nil {
		logger = zap.NewNop()
	}
	limits := make(map[string]RateLimit, len(builtInProviderLimits)+len(rpm))
	for k, v := range builtInProviderLimits {
		limits[k] = v
	}
	for k, v := range rpm {
		limits[normalize(k)] = RateLimit{RPM: v}
	}
	return &Limiters{
		limits:   limits,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// LimitForProvider returns the configured limit, zero when unlimited.
func (l *Limiters) LimitForProvider(provider string) RateLimit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits[normalize(provider)]
}

func (l *Limiters) limiter(provider string) *rate.Limiter {
	key := normalize(provider)
	l.mu.RLock()
	lim, ok := l.limiters[key]
	limit := l.limits[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	if limit.RPM <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	// burst of one request per ten allowed per minute, at least one
	burst := limit.RPM / 10
	if burst < 1 {
		burst = 1
	}
	lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit.RPM)), burst)
	l.limiters[key] = lim
	return lim
}

// Wait blocks until provider may issue a request or ctx ends.
func (l *Limiters) Wait(ctx context.Context, provider string) error {
	lim := l.limiter(provider)
	if lim == nil {
		return nil
	}
	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", provider, err)
	}
	if waited := time.Since(start); waited > time.Second {
		l.logger.Debug("Rate limited LLM call",
			zap.String("provider", provider),
			zap.Duration("waited", waited),
		)
	}
	return nil
}

// Allow reports whether a request may be issued right now.
func (l *Limiters) Allow(provider string) bool {
	lim := l.limiter(provider)
	return lim == nil || lim.Allow()
}

// DelayFor is the steady-state spacing between requests for provider.
func (l *Limiters) DelayFor(provider string) time.Duration {
	return delayForLimit(l.LimitForProvider(provider))
}

func delayForLimit(limit RateLimit) time.Duration {
	if limit.RPM <= 0 {
		return 0
	}
	return time.Minute / time.Duration(limit.RPM)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
