package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

// RunUpdate lists the workflow_runs columns to change. Nil fields are left
// untouched. When From is set the update applies only to a run currently in
// that status.
type RunUpdate struct {
	From *models.RunStatus

	Status          *models.RunStatus
	Progress        *int
	CurrentStep     *string
	TaskOutputs     map[string]string
	FinalOutput     *string
	TotalTokens     *int
	TotalCostUSD    *float64
	DurationSeconds *float64
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// assignments returns the SET clauses and their arguments in a fixed column
// order; placeholders start at $2 since $1 is the run id.
func (u RunUpdate) assignments() ([]string, []interface{}, error) {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)+1))
	}

	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.CurrentStep != nil {
		add("current_step", *u.CurrentStep)
	}
	if u.TaskOutputs != nil {
		raw, err := json.Marshal(u.TaskOutputs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode task outputs: %w", err)
		}
		add("task_outputs", raw)
	}
	if u.FinalOutput != nil {
		add("final_output", *u.FinalOutput)
	}
	if u.TotalTokens != nil {
		add("total_tokens", *u.TotalTokens)
	}
	if u.TotalCostUSD != nil {
		add("total_cost_usd", *u.TotalCostUSD)
	}
	if u.DurationSeconds != nil {
		add("duration_seconds", *u.DurationSeconds)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.StartedAt != nil {
		add("started_at", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		add("completed_at", *u.CompletedAt)
	}
	return sets, args, nil
}

// UpdateRun applies u to the run. An empty update is a no-op.
func (c *Client) UpdateRun(ctx context.Context, runID uuid.UUID, u RunUpdate) error {
	sets, args, err := u.assignments()
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	query := "UPDATE workflow_runs SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	if u.From != nil {
		args = append(args, string(*u.From))
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
	}
	res, err := c.db.ExecContext(ctx, query, append([]interface{}{runID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if u.From != nil {
			return apperrors.Conflict(fmt.Sprintf("run %s is not %s", runID, *u.From))
		}
		return apperrors.NotFound("run", runID.String())
	}
	return nil
}

const insertRunLogSQL = `
	INSERT INTO run_logs (
		run_id, level, message, agent_name, step_number, tokens_used, cost_usd, duration_ms, metadata
	) VALUES (
		:run_id, :level, :message, :agent_name, :step_number, :tokens_used, :cost_usd, :duration_ms, :metadata
	)`

// InsertRunLog appends one row synchronously.
func (c *Client) InsertRunLog(ctx context.Context, log models.RunLog) error {
	return c.InsertRunLogs(ctx, []models.RunLog{log})
}

// InsertRunLogs appends rows with a single multi-row insert.
func (c *Client) InsertRunLogs(ctx context.Context, logs []models.RunLog) error {
	if len(logs) == 0 {
		return nil
	}
	for i := range logs {
		if logs[i].Metadata == nil {
			logs[i].Metadata = models.JSONB{}
		}
	}
	var err error
	if len(logs) == 1 {
		_, err = c.db.NamedExecContext(ctx, insertRunLogSQL, logs[0])
	} else {
		_, err = c.db.NamedExecContext(ctx, insertRunLogSQL, logs)
	}
	if err != nil {
		return fmt.Errorf("failed to insert run logs: %w", err)
	}
	return nil
}
