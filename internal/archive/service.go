package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/metrics"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/util"
)

// Embedder converts a search query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StructValidator checks request structs.
type StructValidator interface {
	Struct(s interface{}) error
}

// ReviewRequest records a reviewer's decision on an output.
type ReviewRequest struct {
	Status             models.ReviewStatus `json:"status" validate:"required,oneof=approved rejected"`
	Feedback           *string             `json:"feedback,omitempty" validate:"omitempty,max=5000"`
	FeedbackCategories []string            `json:"feedback_categories,omitempty" validate:"omitempty,dive,required"`
	IsReference        bool                `json:"is_reference"`
	ReferenceNotes     *string             `json:"reference_notes,omitempty" validate:"omitempty,max=2000"`
}

// Stats summarizes review state.
type Stats struct {
	Total      int `db:"total" json:"total"`
	Approved   int `db:"approved" json:"approved"`
	Rejected   int `db:"rejected" json:"rejected"`
	Pending    int `db:"pending_count" json:"pending_count"`
	References int `db:"references_count" json:"references_count"`
}

// Service adds search, statistics and review on top of the repository.
type Service struct {
	db        Querier
	repo      *Repository
	embedder  Embedder
	validator StructValidator
	logger    *zap.Logger
}

func NewService(db Querier, repo *Repository, embedder Embedder, v StructValidator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, repo: repo, embedder: embedder, validator: v, logger: logger}
}

// Search embeds query and ranks the archive of contextID by similarity.
func (s *Service) Search(ctx context.Context, query string, contextID uuid.UUID, briefID *uuid.UUID) ([]models.ArchiveItem, error) {
	if s.embedder == nil {
		return nil, apperrors.Validation("semantic search is not configured", nil)
	}
	s.logger.Info("Generating search embedding",
		zap.String("query", util.Head(query, 50)),
		zap.String("context_id", contextID.String()),
	)
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.SemanticSearch(ctx, vec, contextID, briefID, DefaultLimit)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Semantic search completed", zap.Int("results", len(items)))
	return items, nil
}

// Stats counts the user's archive items, optionally narrowed to a context
// and a brief.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID, contextID, briefID *uuid.UUID) (*Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE review_status = 'approved') AS approved,
			COUNT(*) FILTER (WHERE review_status = 'rejected') AS rejected,
			COUNT(*) FILTER (WHERE review_status = 'pending') AS pending_count,
			COUNT(*) FILTER (WHERE is_reference) AS references_count
		FROM archive
		WHERE user_id = $1
			AND ($2::uuid IS NULL OR context_id = $2)
			AND ($3::uuid IS NULL OR brief_id = $3)`,
		userID, contextID, briefID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute archive stats: %w", err)
	}
	return &st, nil
}

// Review stores the decision on the archive row of outputID and moves the
// output to completed (approved) or rejected.
func (s *Service) Review(ctx context.Context, outputID, userID uuid.UUID, req ReviewRequest) error {
	if s.validator != nil {
		if err := s.validator.Struct(req); err != nil {
			return err
		}
	}
	categories := req.FeedbackCategories
	if categories == nil {
		categories = []string{}
	}

	query := `UPDATE archive SET review_status = $3, feedback = $4, feedback_categories = $5,
		is_reference = $6, reviewed_at = $7`
	args := []interface{}{outputID, userID, string(req.Status), req.Feedback,
		pq.StringArray(categories), req.IsReference, time.Now().UTC()}
	if req.ReferenceNotes != nil && *req.ReferenceNotes != "" {
		args = append(args, *req.ReferenceNotes)
		query += fmt.Sprintf(", reference_notes = $%d", len(args))
	}
	query += " WHERE output_id = $1 AND user_id = $2"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update archive review: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("archive item for output", outputID.String())
	}

	outputStatus := models.OutputCompleted
	if req.Status == models.ReviewRejected {
		outputStatus = models.OutputRejected
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE outputs SET status = $2 WHERE id = $1`, outputID, outputStatus); err != nil {
		return fmt.Errorf("failed to update output status: %w", err)
	}

	metrics.ArchiveReviews.WithLabelValues(string(req.Status)).Inc()
	s.logger.Info("Reviewed output",
		zap.String("output_id", outputID.String()),
		zap.String("status", string(req.Status)),
		zap.Bool("is_reference", req.IsReference),
	)
	return nil
}
