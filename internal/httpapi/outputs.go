package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

// OutputReader resolves the newest version of an output.
type OutputReader interface {
	LatestOutputVersion(ctx context.Context, id uuid.UUID) (*models.Output, error)
}

// URLSigner issues temporary download URLs for stored files.
type URLSigner interface {
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}

type OutputsHandler struct {
	outputs OutputReader
	signer  URLSigner
	logger  *zap.Logger
}

func NewOutputsHandler(outputs OutputReader, signer URLSigner, logger *zap.Logger) *OutputsHandler {
	return &OutputsHandler{outputs: outputs, signer: signer, logger: logger}
}

func (h *OutputsHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/outputs/{id}", protect(http.HandlerFunc(h.handleGet)))
}

// handleGet returns the latest version of the output and, for file outputs,
// a signed download URL.
// GET /api/v1/outputs/{id}
func (h *OutputsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperrors.Validation(fmt.Sprintf("invalid output id %q", r.PathValue("id")), err))
		return
	}
	out, err := h.outputs.LatestOutputVersion(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !owns(user, out.UserID) {
		writeError(w, apperrors.NotFound("output", id.String()))
		return
	}

	resp := map[string]interface{}{"output": out}
	if out.FilePath != nil && *out.FilePath != "" && h.signer != nil {
		url, err := h.signer.SignedURL(r.Context(), "", *out.FilePath, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["url"] = url
	}
	writeJSON(w, http.StatusOK, resp)
}
