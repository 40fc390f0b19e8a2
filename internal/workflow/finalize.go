package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cgs-mvp/cgs/go/engine/internal/db"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/prompts"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracker"
	"github.com/cgs-mvp/cgs/go/engine/internal/util"
)

const (
	finalOutputLimit = 10000
	taskOutputLimit  = 10000
	metadataExcerpt  = 500
)

// finalize stores the last agent's text as a pending output with its
// archive entry and completes the run.
func (e *Executor) finalize(ctx context.Context, st *runState, in *runInput, outputs *prompts.AgentOutputs) (uuid.UUID, error) {
	number, err := e.store.NextOutputNumber(ctx, in.brief.ID)
	if err != nil {
		return uuid.Nil, wrap("failed to assign output number", err)
	}

	last, _ := outputs.Last()
	text := last.Output
	author := last.Name
	title := in.run.Topic
	briefID := in.brief.ID

	excerpts := make(map[string]interface{}, outputs.Len())
	for _, o := range outputs.Ordered() {
		excerpts[o.Name] = util.Head(o.Output, metadataExcerpt)
	}

	output := &models.Output{
		ID:          uuid.New(),
		RunID:       st.runID,
		BriefID:     &briefID,
		UserID:      st.userID,
		OutputType:  models.OutputText,
		MimeType:    "text/markdown",
		TextContent: &text,
		Title:       &title,
		Metadata:    models.JSONB{"agent_outputs": excerpts},
		Version:     1,
		Status:      models.OutputPendingReview,
		IsNew:       true,
		Number:      &number,
		Author:      &author,
	}
	item := &models.ArchiveItem{
		RunID:        st.runID,
		ContextID:    in.brief.ContextID,
		BriefID:      in.brief.ID,
		UserID:       st.userID,
		Topic:        in.run.Topic,
		ContentType:  in.pack.Slug,
		ReviewStatus: models.ReviewPending,
	}
	if err := e.store.InsertOutputWithArchive(ctx, output, item); err != nil {
		return uuid.Nil, wrap("failed to store output", err)
	}

	taskOutputs := make(map[string]string, outputs.Len())
	for name, o := range outputs.Map() {
		taskOutputs[name] = util.Head(o, taskOutputLimit)
	}

	// The output row above stays in place if this update fails; the run is
	// marked failed and the orphan remains pending review.
	from, status := models.RunRunning, models.RunCompleted
	progress := 100
	final := util.Head(text, finalOutputLimit)
	tokens, cost := st.tokens, st.costUSD
	duration := util.Round(time.Since(st.start).Seconds(), 3)
	completedAt := time.Now().UTC()
	if err := st.tracker.UpdateRun(ctx, db.RunUpdate{
		From:            &from,
		Status:          &status,
		Progress:        &progress,
		TaskOutputs:     taskOutputs,
		FinalOutput:     &final,
		TotalTokens:     &tokens,
		TotalCostUSD:    &cost,
		DurationSeconds: &duration,
		CompletedAt:     &completedAt,
	}); err != nil {
		return uuid.Nil, err
	}

	st.tracker.Info(ctx, "Run completed", tracker.Fields{
		Tokens:   tokens,
		CostUSD:  cost,
		Duration: time.Since(st.start),
		Metadata: models.JSONB{"output_id": output.ID.String(), "number": number},
	})
	return output.ID, nil
}
