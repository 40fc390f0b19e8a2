package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	ometrics "github.com/cgs-mvp/cgs/go/engine/internal/metrics"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/pricing"
	"github.com/cgs-mvp/cgs/go/engine/internal/ratecontrol"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
)

const defaultCallTimeout = 120 * time.Second

// Registry maps providers to gateways that share pricing, rate limits and
// the per-call timeout.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[models.Provider]Adapter
	pricing     *pricing.Table
	limiters    *ratecontrol.Limiters
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewRegistry returns an empty registry. A nil table uses built-in prices,
// nil limiters disable rate limiting.
func NewRegistry(table *pricing.Table, limiters *ratecontrol.Limiters, callTimeout time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == nil {
		table = pricing.NewTable(logger)
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Registry{
		adapters:    make(map[models.Provider]Adapter),
		pricing:     table,
		limiters:    limiters,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// NewRegistryFromConfig registers an adapter for every provider that has
// an API key.
func NewRegistryFromConfig(cfg config.LLMConfig, table *pricing.Table, logger *zap.Logger) *Registry {
	r := NewRegistry(table, ratecontrol.New(cfg.RateLimitsRPM, logger), cfg.CallTimeout, logger)
	// the per-call context deadline bounds requests; the client timeout is a backstop
	httpClient := &http.Client{Timeout: r.callTimeout + 5*time.Second}

	if cfg.OpenAIAPIKey != "" {
		r.Register(models.ProviderOpenAI, NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, httpClient, logger))
	}
	if cfg.AnthropicAPIKey != "" {
		r.Register(models.ProviderAnthropic, NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, httpClient, logger))
	}
	if cfg.GoogleAPIKey != "" {
		r.Register(models.ProviderGemini, NewGeminiAdapter(cfg.GoogleAPIKey, cfg.GeminiBaseURL, httpClient, logger))
	}
	return r
}

func (r *Registry) Register(p models.Provider, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[p] = a
}

// Pricing returns the table used to cost calls.
func (r *Registry) Pricing() *pricing.Table { return r.pricing }

// For returns the gateway of provider.
func (r *Registry) For(p models.Provider) (Gateway, error) {
	r.mu.RLock()
	a, ok := r.adapters[p]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.LLM(string(p), errors.New("provider not configured"))
	}
	return &gateway{provider: p, adapter: a, registry: r}, nil
}

type gateway struct {
	provider models.Provider
	adapter  Adapter
	registry *Registry
}

func (g *gateway) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error) {
	req := Request{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: DefaultTemperature,
		MaxTokens:   opts.MaxTokens,
	}
	if req.Model == "" {
		req.Model = g.provider.DefaultModel()
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	provider := string(g.provider)
	logger := g.registry.logger.With(zap.String("provider", provider), zap.String("model", req.Model))

	if g.registry.limiters != nil {
		if err := g.registry.limiters.Wait(ctx, provider); err != nil {
			return nil, apperrors.LLM(provider, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.registry.callTimeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "llm.generate",
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", req.Model),
	)

	start := time.Now()
	completion, err := g.adapter.Complete(ctx, req)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("call timed out after %s: %w", g.registry.callTimeout, err)
		}
		tracing.EndSpan(span, err)
		ometrics.RecordLLMMetrics(provider, req.Model, "error", latency.Seconds(), 0, 0, 0)
		logger.Warn("LLM call failed", zap.Error(err), zap.Duration("latency", latency))
		return nil, apperrors.LLM(provider, err)
	}

	cost := g.registry.pricing.Cost(g.provider, req.Model, completion.TokensIn, completion.TokensOut)
	span.SetAttributes(
		attribute.Int("llm.tokens_in", completion.TokensIn),
		attribute.Int("llm.tokens_out", completion.TokensOut),
	)
	tracing.EndSpan(span, nil)
	ometrics.RecordLLMMetrics(provider, req.Model, "ok", latency.Seconds(), completion.TokensIn, completion.TokensOut, cost)
	logger.Debug("LLM call completed",
		zap.Int("tokens_in", completion.TokensIn),
		zap.Int("tokens_out", completion.TokensOut),
		zap.Float64("cost_usd", cost),
		zap.Duration("latency", latency),
	)

	return &Response{
		Content:   completion.Content,
		Model:     req.Model,
		TokensIn:  completion.TokensIn,
		TokensOut: completion.TokensOut,
		CostUSD:   cost,
	}, nil
}
