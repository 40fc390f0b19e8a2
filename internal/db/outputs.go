package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

const outputColumns = `id, run_id, brief_id, user_id, output_type, mime_type, text_content, file_path,
	file_size_bytes, title, metadata, version, parent_output_id, status, is_new, number, author, created_at`

const insertOutputSQL = `
	INSERT INTO outputs (
		id, run_id, brief_id, user_id, output_type, mime_type, text_content, file_path,
		file_size_bytes, title, metadata, version, parent_output_id, status, is_new, number, author
	) VALUES (
		:id, :run_id, :brief_id, :user_id, :output_type, :mime_type, :text_content, :file_path,
		:file_size_bytes, :title, :metadata, :version, :parent_output_id, :status, :is_new, :number, :author
	)`

const insertArchiveSQL = `
	INSERT INTO archive (
		id, output_id, run_id, context_id, brief_id, user_id, topic, content_type,
		review_status, feedback_categories, is_reference
	) VALUES (
		:id, :output_id, :run_id, :context_id, :brief_id, :user_id, :topic, :content_type,
		:review_status, :feedback_categories, :is_reference
	)`

// NextOutputNumber returns max(number)+1 over the brief's root outputs, or
// 1 when the brief has none.
func (c *Client) NextOutputNumber(ctx context.Context, briefID uuid.UUID) (int, error) {
	var max sql.NullInt64
	err := c.db.GetContext(ctx, &max,
		`SELECT MAX(number) FROM outputs WHERE brief_id = $1 AND parent_output_id IS NULL`, briefID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next output number: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

func prepareOutput(o *models.Output) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Version == 0 {
		o.Version = 1
	}
	if o.Metadata == nil {
		o.Metadata = models.JSONB{}
	}
}

// InsertOutput persists a standalone output such as a generated image.
func (c *Client) InsertOutput(ctx context.Context, o *models.Output) error {
	prepareOutput(o)
	if _, err := c.db.NamedExecContext(ctx, insertOutputSQL, o); err != nil {
		return fmt.Errorf("failed to insert output: %w", err)
	}
	return nil
}

// InsertOutputWithArchive persists a root output and its pending archive
// entry in one transaction.
func (c *Client) InsertOutputWithArchive(ctx context.Context, o *models.Output, a *models.ArchiveItem) error {
	prepareOutput(o)
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.OutputID = o.ID
	if a.ReviewStatus == "" {
		a.ReviewStatus = models.ReviewPending
	}
	if a.FeedbackCategories == nil {
		a.FeedbackCategories = []string{}
	}

	return c.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertOutputSQL, o); err != nil {
			return fmt.Errorf("failed to insert output: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, insertArchiveSQL, a); err != nil {
			return fmt.Errorf("failed to insert archive item: %w", err)
		}
		return nil
	})
}

// GetOutput loads one output.
func (c *Client) GetOutput(ctx context.Context, id uuid.UUID) (*models.Output, error) {
	var o models.Output
	if err := c.getOne(ctx, &o, "output", id, `SELECT `+outputColumns+` FROM outputs WHERE id = $1`); err != nil {
		return nil, err
	}
	return &o, nil
}

// LatestOutputVersion follows the parent_output_id chain from id, taking
// the highest version child at each level, and returns the last output.
func (c *Client) LatestOutputVersion(ctx context.Context, id uuid.UUID) (*models.Output, error) {
	current, err := c.GetOutput(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := map[uuid.UUID]bool{current.ID: true}
	for {
		var child models.Output
		err := c.db.GetContext(ctx, &child,
			`SELECT `+outputColumns+` FROM outputs WHERE parent_output_id = $1 ORDER BY version DESC LIMIT 1`,
			current.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return current, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk output versions: %w", err)
		}
		if seen[child.ID] {
			return nil, fmt.Errorf("output version chain of %s contains a cycle", id)
		}
		seen[child.ID] = true
		current = &child
	}
}
