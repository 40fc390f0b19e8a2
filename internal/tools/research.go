package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/circuitbreaker"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
	"github.com/cgs-mvp/cgs/go/engine/internal/util"
)

const researchMaxTokens = 2000

// PerplexityClient runs web research through Perplexity's chat completions
// endpoint.
type PerplexityClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

func NewPerplexityClient(cfg config.ToolsConfig, logger *zap.Logger) *PerplexityClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ResearchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.PerplexityBaseURL
	if base == "" {
		base = "https://api.perplexity.ai"
	}
	model := cfg.PerplexityModel
	if model == "" {
		model = "sonar"
	}
	return &PerplexityClient{
		apiKey:  cfg.PerplexityAPIKey,
		baseURL: strings.TrimRight(base, "/"),
		model:   model,
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "perplexity", "tools", logger),
		logger:  logger,
	}
}

// Search returns the answer text for query. Any non-200 status or a body
// without choices[0].message.content is an ExternalService error.
func (c *PerplexityClient) Search(ctx context.Context, query string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"model":      c.model,
		"messages":   []map[string]string{{"role": "user", "content": query}},
		"max_tokens": researchMaxTokens,
	})
	if err != nil {
		return "", apperrors.ExternalService("web research", err)
	}

	url := c.baseURL + "/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		tracing.EndSpan(span, err)
		return "", apperrors.ExternalService("web research", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	text, err := c.send(req)
	tracing.EndSpan(span, err)
	if err != nil {
		c.logger.Warn("Web research failed", zap.Error(err))
		return "", apperrors.ExternalService("web research", err)
	}
	return text, nil
}

func (c *PerplexityClient) send(req *http.Request) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, util.Head(string(body), 300))
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("malformed response body")
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if content.Type != gjson.String {
		return "", errors.New("response has no choices[0].message.content")
	}
	return content.String(), nil
}
