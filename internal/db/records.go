package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

const (
	runColumns = `id, brief_id, user_id, topic, input_data, status, COALESCE(progress, 0) AS progress,
		current_step, COALESCE(total_tokens, 0) AS total_tokens, COALESCE(total_cost_usd, 0) AS total_cost_usd,
		duration_seconds, error_message, started_at, completed_at, created_at`
	briefColumns = `id, context_id, pack_id, user_id, name, slug, description, answers,
		compiled_brief, settings, COALESCE(status, '') AS status`
	contextColumns = `id, user_id, COALESCE(name, '') AS name, brand_name, website, industry, company_info,
		audience_info, voice_info, goals_info, COALESCE(status, '') AS status`
	packColumns = `id, slug, name, agents_config, prompt_templates,
		COALESCE(default_llm_provider, '') AS default_llm_provider, default_llm_model, is_active`
	cardColumns = `id, context_id, card_type, COALESCE(title, '') AS title, subtitle, content,
		COALESCE(sort_order, 0) AS sort_order, is_visible`
	contextItemColumns = `id, context_id, parent_id, name, content, level, sort_order`
)

// getOne fetches a single row, mapping sql.ErrNoRows to a NotFound error.
func (c *Client) getOne(ctx context.Context, dest interface{}, resource string, id uuid.UUID, query string) error {
	err := c.db.GetContext(ctx, dest, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, id.String())
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", resource, id, err)
	}
	return nil
}

func (c *Client) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var r models.Run
	if err := c.getOne(ctx, &r, "run", id, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetBrief(ctx context.Context, id uuid.UUID) (*models.Brief, error) {
	var b models.Brief
	if err := c.getOne(ctx, &b, "brief", id, `SELECT `+briefColumns+` FROM briefs WHERE id = $1`); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetContext(ctx context.Context, id uuid.UUID) (*models.Context, error) {
	var x models.Context
	if err := c.getOne(ctx, &x, "context", id, `SELECT `+contextColumns+` FROM contexts WHERE id = $1`); err != nil {
		return nil, err
	}
	return &x, nil
}

func (c *Client) GetPack(ctx context.Context, id uuid.UUID) (*models.AgentPack, error) {
	var p models.AgentPack
	if err := c.getOne(ctx, &p, "agent pack", id, `SELECT `+packColumns+` FROM agent_packs WHERE id = $1`); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListCards returns every card of a context ordered by sort_order.
func (c *Client) ListCards(ctx context.Context, contextID uuid.UUID) ([]models.Card, error) {
	var cards []models.Card
	err := c.db.SelectContext(ctx, &cards,
		`SELECT `+cardColumns+` FROM cards WHERE context_id = $1 ORDER BY sort_order, id`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// ListContextItems returns the flat hierarchical items of a context ordered
// by level then sort_order.
func (c *Client) ListContextItems(ctx context.Context, contextID uuid.UUID) ([]models.ContextItem, error) {
	var items []models.ContextItem
	err := c.db.SelectContext(ctx, &items,
		`SELECT `+contextItemColumns+` FROM context_items WHERE context_id = $1 ORDER BY level, sort_order`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list context items: %w", err)
	}
	return items, nil
}
