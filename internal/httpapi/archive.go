package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/archive"
	"github.com/cgs-mvp/cgs/go/engine/internal/auth"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

// ArchiveService is the review side of the feedback loop.
type ArchiveService interface {
	Search(ctx context.Context, query string, contextID uuid.UUID, briefID *uuid.UUID) ([]models.ArchiveItem, error)
	Stats(ctx context.Context, userID uuid.UUID, contextID, briefID *uuid.UUID) (*archive.Stats, error)
	Review(ctx context.Context, outputID, userID uuid.UUID, req archive.ReviewRequest) error
}

// ContextReader loads brand contexts for authorization.
type ContextReader interface {
	GetContext(ctx context.Context, id uuid.UUID) (*models.Context, error)
}

// ArchiveHandler serves archive search, statistics and output review.
type ArchiveHandler struct {
	svc      ArchiveService
	contexts ContextReader
	logger   *zap.Logger
}

func NewArchiveHandler(svc ArchiveService, contexts ContextReader, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{svc: svc, contexts: contexts, logger: logger}
}

func (h *ArchiveHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/archive/search", protect(http.HandlerFunc(h.handleSearch)))
	mux.Handle("GET /api/v1/archive/stats", protect(http.HandlerFunc(h.handleStats)))
	mux.Handle("POST /api/v1/outputs/{id}/review", protect(http.HandlerFunc(h.handleReview)))
}

// GET /api/v1/archive/search?q=<text>&context_id=<id>[&brief_id=<id>]
func (h *ArchiveHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	user, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, apperrors.Validation("q is required", nil))
		return
	}
	contextID, err := h.ownedContext(r.Context(), user, q.Get("context_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	briefID, err := optionalUUID("brief_id", q.Get("brief_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	items, err := h.svc.Search(r.Context(), query, contextID, briefID)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.ArchiveItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// GET /api/v1/archive/stats[?context_id=<id>][&brief_id=<id>]
func (h *ArchiveHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	user, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	contextID, err := optionalUUID("context_id", q.Get("context_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	briefID, err := optionalUUID("brief_id", q.Get("brief_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.svc.Stats(r.Context(), user.UserID, contextID, briefID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /api/v1/outputs/{id}/review
func (h *ArchiveHandler) handleReview(w http.ResponseWriter, r *http.Request) {
	user, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	outputID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperrors.Validation(fmt.Sprintf("invalid output id %q", r.PathValue("id")), err))
		return
	}
	var req archive.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("invalid JSON body", err))
		return
	}
	if err := h.svc.Review(r.Context(), outputID, user.UserID, req); err != nil {
		h.logger.Warn("Review failed", zap.String("output_id", outputID.String()), zap.Error(err))
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ArchiveHandler) ownedContext(ctx context.Context, user *auth.UserContext, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Validation(fmt.Sprintf("invalid context_id %q", raw), err)
	}
	c, err := h.contexts.GetContext(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if !owns(user, c.UserID) {
		return uuid.Nil, apperrors.NotFound("context", id.String())
	}
	return id, nil
}

func optionalUUID(name, raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("invalid %s %q", name, raw), err)
	}
	return &id, nil
}
