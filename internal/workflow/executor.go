// Package workflow executes a run: it walks the pack's agents in order,
// streams progress events and persists the final output for review.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	"github.com/cgs-mvp/cgs/go/engine/internal/db"
	"github.com/cgs-mvp/cgs/go/engine/internal/llm"
	ometrics "github.com/cgs-mvp/cgs/go/engine/internal/metrics"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracker"
	"github.com/cgs-mvp/cgs/go/engine/internal/util"
)

// Store is the record store a run reads from and writes to.
type Store interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	GetBrief(ctx context.Context, id uuid.UUID) (*models.Brief, error)
	GetContext(ctx context.Context, id uuid.UUID) (*models.Context, error)
	GetPack(ctx context.Context, id uuid.UUID) (*models.AgentPack, error)
	ListCards(ctx context.Context, contextID uuid.UUID) ([]models.Card, error)
	ListContextItems(ctx context.Context, contextID uuid.UUID) ([]models.ContextItem, error)
	NextOutputNumber(ctx context.Context, briefID uuid.UUID) (int, error)
	InsertOutputWithArchive(ctx context.Context, o *models.Output, a *models.ArchiveItem) error
	InsertRunLog(ctx context.Context, log models.RunLog) error
	UpdateRun(ctx context.Context, runID uuid.UUID, u db.RunUpdate) error
}

// ArchiveSource supplies the feedback loop for a context and brief.
type ArchiveSource interface {
	GetReferences(ctx context.Context, contextID uuid.UUID, briefID *uuid.UUID, limit int) ([]models.ArchiveItem, error)
	GetGuardrails(ctx context.Context, contextID uuid.UUID, briefID *uuid.UUID, limit int) ([]models.ArchiveItem, error)
}

type ToolRunner interface {
	Execute(ctx context.Context, toolName, topic string, userID, runID uuid.UUID) (string, error)
}

// Gateways resolves the LLM gateway of a provider.
type Gateways interface {
	For(p models.Provider) (llm.Gateway, error)
}

// Publisher fans events out to subscribers other than the caller.
type Publisher interface {
	Publish(ctx context.Context, runID string, evt streaming.Event) streaming.Event
}

// Executor runs workflows. It holds no per-run state; concurrent Execute
// calls are independent.
type Executor struct {
	store     Store
	archive   ArchiveSource
	tools     ToolRunner
	gateways  Gateways
	publisher Publisher
	logQueue  tracker.Queue
	cfg       config.WorkflowConfig
	logger    *zap.Logger
}

type Option func(*Executor)

// WithPublisher mirrors every event to p.
func WithPublisher(p Publisher) Option {
	return func(e *Executor) { e.publisher = p }
}

// WithLogQueue writes run logs through q instead of synchronously.
func WithLogQueue(q tracker.Queue) Option {
	return func(e *Executor) { e.logQueue = q }
}

func NewExecutor(store Store, archive ArchiveSource, tools ToolRunner, gateways Gateways, cfg config.WorkflowConfig, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		store:    store,
		archive:  archive,
		tools:    tools,
		gateways: gateways,
		cfg:      cfg,
		logger:   logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute starts the run and returns its event stream. The channel is
// closed after exactly one completed or error event. The caller must drain
// it; a caller that stops listening early should keep draining in the
// background so the run can finish.
func (e *Executor) Execute(ctx context.Context, runID, userID uuid.UUID) <-chan streaming.Event {
	out := make(chan streaming.Event, 8)
	go func() {
		defer close(out)
		e.run(ctx, runID, userID, out)
	}()
	return out
}

// runState is owned by the goroutine of one run.
type runState struct {
	runID   uuid.UUID
	userID  uuid.UUID
	start   time.Time
	tracker *tracker.Tracker
	out     chan<- streaming.Event
	pack    string
	tokens  int
	costUSD float64
	// claimed is set once the run moved from pending to running under this
	// goroutine.
	claimed bool
}

func (e *Executor) run(ctx context.Context, runID, userID uuid.UUID, out chan<- streaming.Event) {
	var opts []tracker.Option
	if e.logQueue != nil {
		opts = append(opts, tracker.WithQueue(e.logQueue))
	}
	st := &runState{
		runID:   runID,
		userID:  userID,
		start:   time.Now(),
		tracker: tracker.New(runID, e.store, e.logger, opts...),
		out:     out,
		pack:    "unknown",
	}

	ctx, span := tracing.StartSpan(ctx, "workflow.execute", attribute.String("run_id", runID.String()))
	outputID, err := e.execute(ctx, st)
	tracing.EndSpan(span, err)

	duration := time.Since(st.start).Seconds()
	if err != nil {
		e.fail(ctx, st, err)
		if st.claimed || apperrors.KindOf(err) != apperrors.KindConflict {
			ometrics.RecordRunMetrics(st.pack, string(models.RunFailed), duration, st.tokens, st.costUSD)
		}
		return
	}

	ometrics.RecordRunMetrics(st.pack, string(models.RunCompleted), duration, st.tokens, st.costUSD)
	e.emit(ctx, st, streaming.TypeCompleted, map[string]interface{}{
		"output_id":        outputID.String(),
		"total_tokens":     st.tokens,
		"total_cost_usd":   util.Round(st.costUSD, 4),
		"duration_seconds": util.Round(duration, 1),
	})
}

// fail is the single failure handler of a run: log, mark failed, one error
// event. A run this goroutine never claimed belongs to someone else and is
// left untouched.
func (e *Executor) fail(ctx context.Context, st *runState, err error) {
	msg := err.Error()
	if !st.claimed && apperrors.KindOf(err) == apperrors.KindConflict {
		e.logger.Warn("Workflow run rejected",
			zap.String("run_id", st.runID.String()),
			zap.Error(err),
		)
		e.emit(ctx, st, streaming.TypeError, map[string]interface{}{"error": msg})
		return
	}

	e.logger.Error("Workflow run failed",
		zap.String("run_id", st.runID.String()),
		zap.String("kind", string(apperrors.KindOf(err))),
		zap.Error(err),
	)
	st.tracker.Error(ctx, msg, tracker.Fields{})

	from := models.RunPending
	if st.claimed {
		from = models.RunRunning
	}
	status := models.RunFailed
	update := db.RunUpdate{From: &from, Status: &status, ErrorMessage: &msg}
	if e.cfg.PersistPartialTelemetry {
		tokens, cost := st.tokens, st.costUSD
		update.TotalTokens = &tokens
		update.TotalCostUSD = &cost
	}
	if uerr := st.tracker.UpdateRun(ctx, update); uerr != nil {
		e.logger.Error("Failed to mark run failed", zap.String("run_id", st.runID.String()), zap.Error(uerr))
	}

	e.emit(ctx, st, streaming.TypeError, map[string]interface{}{"error": msg})
}

// emit publishes evt and hands it to the caller. It gives up only when ctx
// is done, so a run is never stuck on an abandoned consumer with a live
// context.
func (e *Executor) emit(ctx context.Context, st *runState, typ string, data map[string]interface{}) {
	evt := streaming.Event{RunID: st.runID.String(), Type: typ, Data: data, Timestamp: time.Now().UTC()}
	if e.publisher != nil {
		evt = e.publisher.Publish(ctx, st.runID.String(), evt)
	}
	select {
	case st.out <- evt:
	case <-ctx.Done():
	}
}

func (e *Executor) execute(ctx context.Context, st *runState) (uuid.UUID, error) {
	in, err := e.load(ctx, st.runID)
	if err != nil {
		return uuid.Nil, err
	}
	st.pack = in.pack.Slug

	if len(in.pack.AgentsConfig) == 0 {
		return uuid.Nil, apperrors.Validation("agent pack "+in.pack.Slug+" has no agents", nil)
	}
	if name, dup := in.pack.AgentsConfig.DuplicateName(); dup {
		return uuid.Nil, apperrors.Validation(fmt.Sprintf("agent pack %s lists agent %q more than once", in.pack.Slug, name), nil)
	}

	// Only one caller wins the pending -> running transition.
	from, status := models.RunPending, models.RunRunning
	startedAt := time.Now().UTC()
	if err := st.tracker.UpdateRun(ctx, db.RunUpdate{From: &from, Status: &status, StartedAt: &startedAt}); err != nil {
		return uuid.Nil, err
	}
	st.claimed = true
	ometrics.RunsStarted.WithLabelValues(st.pack).Inc()
	e.emit(ctx, st, streaming.TypeStatus, map[string]interface{}{"status": string(models.RunRunning)})

	outputs, err := e.runAgents(ctx, st, in)
	if err != nil {
		return uuid.Nil, err
	}
	return e.finalize(ctx, st, in, outputs)
}

// wrap maps unclassified errors to the workflow kind.
func wrap(message string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Workflow(message, err)
}
