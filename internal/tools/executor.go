// Package tools runs the pre-generation tools an agent may declare.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	ometrics "github.com/cgs-mvp/cgs/go/engine/internal/metrics"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
)

type Researcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*GeneratedImage, error)
}

// BlobStore uploads into a bucket; an empty bucket selects the output bucket.
type BlobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, bucket, path string) error
}

type OutputStore interface {
	InsertOutput(ctx context.Context, o *models.Output) error
}

// Executor dispatches tool names to their implementations.
type Executor struct {
	research Researcher
	images   ImageGenerator
	blobs    BlobStore
	outputs  OutputStore
	logger   *zap.Logger
}

var errNotConfigured = errors.New("not configured")

// NewExecutor builds the executor. A nil collaborator makes its tool fail
// when an agent declares it.
func NewExecutor(research Researcher, images ImageGenerator, blobs BlobStore, outputs OutputStore, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{research: research, images: images, blobs: blobs, outputs: outputs, logger: logger}
}

// Execute runs toolName for topic. Unknown tools yield "" and no error.
func (e *Executor) Execute(ctx context.Context, toolName, topic string, userID, runID uuid.UUID) (string, error) {
	kind := models.ToolKind(toolName)
	if !kind.IsKnown() {
		e.logger.Debug("Ignoring unknown tool", zap.String("tool", toolName))
		ometrics.ToolCalls.WithLabelValues("unknown", "skipped").Inc()
		return "", nil
	}

	ctx, span := tracing.StartSpan(ctx, "tools.execute", attribute.String("tool", toolName))
	start := time.Now()
	var (
		out string
		err error
	)
	switch kind {
	case models.ToolPerplexitySearch:
		if e.research == nil {
			err = apperrors.ExternalService("web research", errNotConfigured)
			break
		}
		out, err = e.research.Search(ctx, topic+" - in-depth research")
	case models.ToolImageGeneration:
		if e.images == nil || e.blobs == nil || e.outputs == nil {
			err = apperrors.ExternalService("image generation", errNotConfigured)
			break
		}
		out, err = e.generateImage(ctx, topic, userID, runID)
	}
	tracing.EndSpan(span, err)

	status := "ok"
	if err != nil {
		status = "error"
	}
	ometrics.ToolCalls.WithLabelValues(toolName, status).Inc()
	e.logger.Info("Tool executed",
		zap.String("tool", toolName),
		zap.String("run_id", runID.String()),
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	return out, err
}

func (e *Executor) generateImage(ctx context.Context, topic string, userID, runID uuid.UUID) (string, error) {
	img, err := e.images.Generate(ctx, topic)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s/%s_image.png", userID, runID)
	path, err := e.blobs.Upload(ctx, "", name, img.Data, "image/png")
	if err != nil {
		return "", err
	}

	size := int64(len(img.Data))
	title := img.RevisedPrompt
	output := &models.Output{
		RunID:         runID,
		UserID:        userID,
		OutputType:    models.OutputImage,
		MimeType:      "image/png",
		FilePath:      &path,
		FileSizeBytes: &size,
		Title:         &title,
		Status:        models.OutputPendingReview,
		IsNew:         true,
	}
	if err := e.outputs.InsertOutput(ctx, output); err != nil {
		// no output row references the file
		if derr := e.blobs.Delete(context.WithoutCancel(ctx), "", path); derr != nil {
			e.logger.Warn("Failed to remove orphaned image", zap.String("path", path), zap.Error(derr))
		}
		return "", err
	}
	return fmt.Sprintf("[Generated image: %s]", img.RevisedPrompt), nil
}
