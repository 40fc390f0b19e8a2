// Package embeddings turns archive search queries into vectors through the
// OpenAI embeddings API, with an in-process LRU in front of an optional
// Redis cache.
package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	ometrics "github.com/cgs-mvp/cgs/go/engine/internal/metrics"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
)

const lruTTL = 30 * time.Minute

// Service provides embedding generation with caching
type Service struct {
	client openai.Client
	cfg    config.EmbeddingsConfig
	cache  Cache
	lru    *LocalLRU
	logger *zap.Logger
}

// NewService builds the embedder. cache may be nil.
func NewService(cfg config.EmbeddingsConfig, llm config.LLMConfig, cache Cache, logger *zap.Logger) *Service {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(llm.OpenAIAPIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(1),
	}
	if llm.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(llm.OpenAIBaseURL))
	}

	return &Service{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		cache:  cache,
		lru:    NewLocalLRU(cfg.MaxLRU),
		logger: logger,
	}
}

// Embed returns the vector for text, consulting the LRU then Redis first.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	m := s.cfg.Model
	key := MakeKey(m, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		ometrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, lruTTL)
			ometrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
			return v, nil
		}
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "embeddings.create")
	resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(m),
	})
	tracing.EndSpan(span, err)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, apperrors.ExternalService("embeddings", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		ometrics.RecordEmbeddingMetrics(m, "empty", time.Since(start).Seconds())
		return nil, apperrors.ExternalService("embeddings", fmt.Errorf("no embeddings returned"))
	}

	out := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		out[i] = float32(f)
	}
	ometrics.RecordEmbeddingMetrics(m, "ok", time.Since(start).Seconds())
	s.logger.Debug("Embedding generated",
		zap.String("model", m),
		zap.Int("dimensions", len(out)),
		zap.Duration("duration", time.Since(start)),
	)

	s.lru.Set(ctx, key, out, lruTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
	}
	return out, nil
}
