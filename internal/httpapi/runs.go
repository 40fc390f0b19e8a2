package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
)

// RunExecutor starts runs.
type RunExecutor interface {
	Execute(ctx context.Context, runID, userID uuid.UUID) <-chan streaming.Event
}

// RunsHandler serves run execution.
type RunsHandler struct {
	runs   RunReader
	exec   RunExecutor
	logger *zap.Logger
}

func NewRunsHandler(runs RunReader, exec RunExecutor, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, exec: exec, logger: logger}
}

// RegisterRoutes registers run routes; protect wraps handlers that need a
// caller.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/runs/{id}/execute", protect(http.HandlerFunc(h.handleExecute)))
}

// handleExecute starts the run and streams its events as SSE.
// POST /api/v1/runs/{id}/execute
func (h *RunsHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	user, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	run, err := authorizeRun(r.Context(), h.runs, user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	// Early rejection only; the executor's pending -> running claim settles
	// concurrent requests.
	if run.Status != models.RunPending {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run is already " + string(run.Status)})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// the run outlives the request
	events := h.exec.Execute(context.WithoutCancel(r.Context()), run.ID, user.UserID)
	h.logger.Info("Run execution started", zap.String("run_id", run.ID.String()), zap.String("user_id", user.UserID.String()))

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				go drain(events)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			h.logger.Info("Client left before run finished", zap.String("run_id", run.ID.String()))
			go drain(events)
			return
		}
	}
}

func drain(events <-chan streaming.Event) {
	for range events {
	}
}
