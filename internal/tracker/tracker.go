// Package tracker records the append-only log of a workflow run and
// applies changes to its run record.
package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/db"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Store persists run logs and run record updates.
type Store interface {
	InsertRunLog(ctx context.Context, log models.RunLog) error
	UpdateRun(ctx context.Context, runID uuid.UUID, u db.RunUpdate) error
}

// Queue accepts run logs for background insertion.
type Queue interface {
	QueueRunLog(log models.RunLog, callback func(error))
}

// Fields are the optional columns of a log row. Zero values are stored as
// NULL.
type Fields struct {
	AgentName string
	Step      int
	Tokens    int
	CostUSD   float64
	Duration  time.Duration
	Metadata  models.JSONB
}

// Tracker is bound to one run.
type Tracker struct {
	runID  uuid.UUID
	store  Store
	queue  Queue
	logger *zap.Logger
}

type Option func(*Tracker)

// WithQueue makes log writes asynchronous through q.
func WithQueue(q Queue) Option {
	return func(t *Tracker) { t.queue = q }
}

func New(runID uuid.UUID, store Store, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		runID:  runID,
		store:  store,
		logger: logger.With(zap.String("run_id", runID.String())),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) RunID() uuid.UUID { return t.runID }

func (t *Tracker) Info(ctx context.Context, message string, f Fields) {
	t.log(ctx, LevelInfo, message, f)
}

func (t *Tracker) Warn(ctx context.Context, message string, f Fields) {
	t.log(ctx, LevelWarn, message, f)
}

func (t *Tracker) Error(ctx context.Context, message string, f Fields) {
	t.log(ctx, LevelError, message, f)
}

// log writes one row. Failures are reported to the process log only; a
// telemetry outage never fails the run.
func (t *Tracker) log(ctx context.Context, level, message string, f Fields) {
	row := t.row(level, message, f)
	if t.queue != nil {
		t.queue.QueueRunLog(row, func(err error) {
			if err != nil {
				t.logger.Warn("Failed to write run log", zap.String("level", level), zap.Error(err))
			}
		})
		return
	}
	if err := t.store.InsertRunLog(ctx, row); err != nil {
		t.logger.Warn("Failed to write run log", zap.String("level", level), zap.Error(err))
	}
}

func (t *Tracker) row(level, message string, f Fields) models.RunLog {
	row := models.RunLog{
		RunID:    t.runID,
		Level:    level,
		Message:  message,
		Metadata: f.Metadata,
	}
	if row.Metadata == nil {
		row.Metadata = models.JSONB{}
	}
	if f.AgentName != "" {
		name := f.AgentName
		row.AgentName = &name
	}
	if f.Step > 0 {
		step := f.Step
		row.StepNumber = &step
	}
	if f.Tokens > 0 {
		tokens := f.Tokens
		row.TokensUsed = &tokens
	}
	if f.CostUSD > 0 {
		cost := f.CostUSD
		row.CostUSD = &cost
	}
	if f.Duration > 0 {
		ms := f.Duration.Milliseconds()
		row.DurationMs = &ms
	}
	return row
}

// UpdateRun changes the run record. Errors are returned so the caller can
// decide whether the transition must succeed.
func (t *Tracker) UpdateRun(ctx context.Context, u db.RunUpdate) error {
	if err := t.store.UpdateRun(ctx, t.runID, u); err != nil {
		t.logger.Error("Failed to update run", zap.Error(err))
		return err
	}
	return nil
}
