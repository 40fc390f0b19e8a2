package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
)

// GeneratedImage is one decoded image and the prompt the model actually used.
type GeneratedImage struct {
	Data          []byte
	RevisedPrompt string
}

// DalleGenerator creates images through the OpenAI Images API.
type DalleGenerator struct {
	client openai.Client
	model  string
	size   string
	style  string
	logger *zap.Logger
}

func NewDalleGenerator(tools config.ToolsConfig, llm config.LLMConfig, httpClient *http.Client, logger *zap.Logger) *DalleGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{option.WithAPIKey(llm.OpenAIAPIKey), option.WithMaxRetries(1)}
	if llm.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(llm.OpenAIBaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	g := &DalleGenerator{
		client: openai.NewClient(opts...),
		model:  tools.ImageModel,
		size:   tools.ImageSize,
		style:  tools.ImageStyle,
		logger: logger,
	}
	if g.model == "" {
		g.model = string(openai.ImageModelDallE3)
	}
	if g.size == "" {
		g.size = "1024x1024"
	}
	if g.style == "" {
		g.style = "vivid"
	}
	return g
}

// Generate renders one image for prompt.
func (g *DalleGenerator) Generate(ctx context.Context, prompt string) (*GeneratedImage, error) {
	ctx, span := tracing.StartSpan(ctx, "tools.image_generation")
	img, err := g.generate(ctx, prompt)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, apperrors.ExternalService("image generation", err)
	}
	return img, nil
}

func (g *DalleGenerator) generate(ctx context.Context, prompt string) (*GeneratedImage, error) {
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(g.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(g.size),
		Style:          openai.ImageGenerateParamsStyle(g.style),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("no image returned")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	g.logger.Debug("Image generated", zap.Int("bytes", len(data)))
	return &GeneratedImage{Data: data, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}
