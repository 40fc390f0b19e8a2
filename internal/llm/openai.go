package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/circuitbreaker"
)

// OpenAIAdapter calls the chat completions API.
type OpenAIAdapter struct {
	client openai.Client
	cb     *circuitbreaker.CircuitBreaker
}

func NewOpenAIAdapter(apiKey, baseURL string, httpClient *http.Client, logger *zap.Logger) *OpenAIAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	cb := circuitbreaker.New("llm-openai", circuitbreaker.HTTPSettings(), logger)
	circuitbreaker.GlobalMetricsCollector.Register("llm-openai", "llm", cb)
	return &OpenAIAdapter{client: openai.NewClient(opts...), cb: cb}
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Completion, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	var resp *openai.ChatCompletion
	err := a.cb.Execute(ctx, func() error {
		var err error
		resp, err = a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:       openai.ChatModel(req.Model),
			Messages:    msgs,
			Temperature: openai.Float(req.Temperature),
			MaxTokens:   openai.Int(int64(req.MaxTokens)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices returned")
	}
	return &Completion{
		Content:   resp.Choices[0].Message.Content,
		Model:     resp.Model,
		TokensIn:  int(resp.Usage.PromptTokens),
		TokensOut: int(resp.Usage.CompletionTokens),
	}, nil
}
