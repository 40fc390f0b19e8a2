package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/circuitbreaker"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
	"github.com/cgs-mvp/cgs/go/engine/internal/util"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter calls generateContent with the whole conversation
// flattened into one user turn.
type GeminiAdapter struct {
	apiKey  string
	baseURL string
	http    *circuitbreaker.HTTPWrapper
}

func NewGeminiAdapter(apiKey, baseURL string, httpClient *http.Client, logger *zap.Logger) *GeminiAdapter {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiAdapter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    circuitbreaker.NewHTTPWrapper(httpClient, "llm-gemini", "llm", logger),
	}
}

func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Completion, error) {
	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]string{{"text": flatten(req.Messages)}}},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     req.Temperature,
			"maxOutputTokens": req.MaxTokens,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, url.PathEscape(req.Model))
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, endpoint)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, util.Head(string(raw), 500))
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("malformed response body")
	}

	parsed := gjson.ParseBytes(raw)
	parts := parsed.Get("candidates.0.content.parts")
	if !parts.Exists() {
		reason := parsed.Get("promptFeedback.blockReason").String()
		if reason != "" {
			return nil, fmt.Errorf("prompt blocked: %s", reason)
		}
		return nil, errors.New("no candidates returned")
	}
	var text strings.Builder
	parts.ForEach(func(_, p gjson.Result) bool {
		text.WriteString(p.Get("text").String())
		return true
	})

	return &Completion{
		Content:   text.String(),
		Model:     req.Model,
		TokensIn:  int(parsed.Get("usageMetadata.promptTokenCount").Int()),
		TokensOut: int(parsed.Get("usageMetadata.candidatesTokenCount").Int()),
	}, nil
}
