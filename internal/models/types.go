package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	// RunCancelled is set by an external actor only.
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Output types
const (
	OutputText  = "text"
	OutputImage = "image"
	OutputAudio = "audio"
	OutputVideo = "video"
)

// Output review statuses
const (
	OutputPendingReview = "pending_review"
	OutputCompleted     = "completed"
	OutputAdapted       = "adapted"
	OutputRejected      = "rejected"
)

// ReviewStatus is the archive review decision.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Run is one execution of a brief's agent pack.
type Run struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	BriefID         uuid.UUID  `db:"brief_id" json:"brief_id"`
	UserID          uuid.UUID  `db:"user_id" json:"user_id"`
	Topic           string     `db:"topic" json:"topic"`
	InputData       JSONB      `db:"input_data" json:"input_data"`
	Status          RunStatus  `db:"status" json:"status"`
	Progress        int        `db:"progress" json:"progress"`
	CurrentStep     *string    `db:"current_step" json:"current_step,omitempty"`
	TotalTokens     int        `db:"total_tokens" json:"total_tokens"`
	TotalCostUSD    float64    `db:"total_cost_usd" json:"total_cost_usd"`
	DurationSeconds *float64   `db:"duration_seconds" json:"duration_seconds,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Output is a generated artifact tied to a run.
type Output struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RunID          uuid.UUID  `db:"run_id" json:"run_id"`
	BriefID        *uuid.UUID `db:"brief_id" json:"brief_id,omitempty"`
	UserID         uuid.UUID  `db:"user_id" json:"user_id"`
	OutputType     string     `db:"output_type" json:"output_type"`
	MimeType       string     `db:"mime_type" json:"mime_type"`
	TextContent    *string    `db:"text_content" json:"text_content,omitempty"`
	FilePath       *string    `db:"file_path" json:"file_path,omitempty"`
	FileSizeBytes  *int64     `db:"file_size_bytes" json:"file_size_bytes,omitempty"`
	Title          *string    `db:"title" json:"title,omitempty"`
	Metadata       JSONB      `db:"metadata" json:"metadata"`
	Version        int        `db:"version" json:"version"`
	ParentOutputID *uuid.UUID `db:"parent_output_id" json:"parent_output_id,omitempty"`
	Status         string     `db:"status" json:"status"`
	IsNew          bool       `db:"is_new" json:"is_new"`
	Number         *int       `db:"number" json:"number,omitempty"`
	Author         *string    `db:"author" json:"author,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// ArchiveItem is the review record of a root output. OutputText carries the
// joined text of the linked output when the query selects it.
type ArchiveItem struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	OutputID           uuid.UUID      `db:"output_id" json:"output_id"`
	RunID              uuid.UUID      `db:"run_id" json:"run_id"`
	ContextID          uuid.UUID      `db:"context_id" json:"context_id"`
	BriefID            uuid.UUID      `db:"brief_id" json:"brief_id"`
	UserID             uuid.UUID      `db:"user_id" json:"user_id"`
	Topic              string         `db:"topic" json:"topic"`
	ContentType        string         `db:"content_type" json:"content_type"`
	ReviewStatus       ReviewStatus   `db:"review_status" json:"review_status"`
	Feedback           *string        `db:"feedback" json:"feedback,omitempty"`
	FeedbackCategories pq.StringArray `db:"feedback_categories" json:"feedback_categories"`
	IsReference        bool           `db:"is_reference" json:"is_reference"`
	ReferenceNotes     *string        `db:"reference_notes" json:"reference_notes,omitempty"`
	OutputText         *string        `db:"output_text" json:"output_text,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
}

// RunLog is one append-only telemetry row.
type RunLog struct {
	RunID      uuid.UUID `db:"run_id"`
	Level      string    `db:"level"`
	Message    string    `db:"message"`
	AgentName  *string   `db:"agent_name"`
	StepNumber *int      `db:"step_number"`
	TokensUsed *int      `db:"tokens_used"`
	CostUSD    *float64  `db:"cost_usd"`
	DurationMs *int64    `db:"duration_ms"`
	Metadata   JSONB     `db:"metadata"`
}
