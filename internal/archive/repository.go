// Package archive reads and reviews the archive of generated outputs. Runs
// read it back as references (exemplars) and guardrails (rejections with
// feedback).
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/metrics"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

// DefaultLimit applies when a caller passes a non-positive limit.
const DefaultLimit = 5

// Querier is the subset of the guarded database handle the archive needs.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const itemColumns = `a.id, a.output_id, a.run_id, a.context_id, a.brief_id, a.user_id, a.topic,
	a.content_type, a.review_status, a.feedback, a.feedback_categories, a.is_reference,
	a.reference_notes, o.text_content AS output_text, a.created_at`

const (
	predicateReference = "a.is_reference = true"
	predicateGuardrail = "a.review_status = 'rejected'"
)

// Repository implements brief-first, context-fallback retrieval.
type Repository struct {
	db     Querier
	logger *zap.Logger
}

func NewRepository(db Querier, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

// GetReferences returns items marked as references, newest first.
func (r *Repository) GetReferences(ctx context.Context, contextID uuid.UUID, briefID *uuid.UUID, limit int) ([]models.ArchiveItem, error) {
	return r.briefFirst(ctx, "references", briefID, func(bid *uuid.UUID) ([]models.ArchiveItem, error) {
		return r.selectItems(ctx, predicateReference, contextID, bid, limit)
	})
}

// GetGuardrails returns rejected items, newest first.
func (r *Repository) GetGuardrails(ctx context.Context, contextID uuid.UUID, briefID *uuid.UUID, limit int) ([]models.ArchiveItem, error) {
	return r.briefFirst(ctx, "guardrails", briefID, func(bid *uuid.UUID) ([]models.ArchiveItem, error) {
		return r.selectItems(ctx, predicateGuardrail, contextID, bid, limit)
	})
}

// SemanticSearch ranks archive items by embedding similarity through the
// search_archive_by_embedding database function.
func (r *Repository) SemanticSearch(ctx context.Context, embedding []float32, contextID uuid.UUID, briefID *uuid.UUID, limit int) ([]models.ArchiveItem, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	vec := VectorLiteral(embedding)
	return r.briefFirst(ctx, "semantic", briefID, func(bid *uuid.UUID) ([]models.ArchiveItem, error) {
		var items []models.ArchiveItem
		err := r.db.SelectContext(ctx, &items, `
			SELECT id, output_id, run_id, context_id, brief_id, user_id, topic, content_type,
				review_status, feedback, feedback_categories, is_reference, reference_notes,
				output_text, created_at
			FROM search_archive_by_embedding($1::vector, $2, $3, $4)`,
			vec, contextID, limit, bid)
		if err != nil {
			return nil, fmt.Errorf("failed to search archive: %w", err)
		}
		return items, nil
	})
}

// briefFirst runs query scoped to the brief and, only when that yields
// nothing, again scoped to the context alone. Results are never merged.
func (r *Repository) briefFirst(ctx context.Context, kind string, briefID *uuid.UUID, query func(*uuid.UUID) ([]models.ArchiveItem, error)) ([]models.ArchiveItem, error) {
	if briefID == nil {
		items, err := query(nil)
		if err == nil {
			metrics.ArchiveQueries.WithLabelValues(kind, "context").Inc()
		}
		return items, err
	}

	items, err := query(briefID)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		metrics.ArchiveQueries.WithLabelValues(kind, "brief").Inc()
		return items, nil
	}

	r.logger.Info("Brief-scoped archive query empty, falling back to context",
		zap.String("kind", kind),
		zap.String("brief_id", briefID.String()),
	)
	items, err = query(nil)
	if err == nil {
		metrics.ArchiveQueries.WithLabelValues(kind, "context_fallback").Inc()
	}
	return items, err
}

func (r *Repository) selectItems(ctx context.Context, predicate string, contextID uuid.UUID, briefID *uuid.UUID, limit int) ([]models.ArchiveItem, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	args := []interface{}{contextID, limit}
	where := "a.context_id = $1 AND " + predicate
	if briefID != nil {
		args = append(args, *briefID)
		where += " AND a.brief_id = $3"
	}

	query := `SELECT ` + itemColumns + `
		FROM archive a
		LEFT JOIN outputs o ON o.id = a.output_id
		WHERE ` + where + `
		ORDER BY a.created_at DESC
		LIMIT $2`

	items := []models.ArchiveItem{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	return items, nil
}

// VectorLiteral formats an embedding as a pgvector text literal.
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
