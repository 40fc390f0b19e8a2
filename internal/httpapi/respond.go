package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/auth"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
)

// RunReader loads runs for authorization.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status and a {"error","kind"} body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
	}
	writeJSON(w, status, map[string]string{
		"error": sanitizeErr(err.Error()),
		"kind":  string(apperrors.KindOf(err)),
	})
}

// sanitizeErr trims error messages for client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}

// authorizeRun resolves rawID to a run owned by user. Runs of other users
// are reported as not found.
func authorizeRun(ctx context.Context, runs RunReader, user *auth.UserContext, rawID string) (*models.Run, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("invalid run id %q", rawID), err)
	}
	run, err := runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owns(user, run.UserID) {
		return nil, apperrors.NotFound("run", id.String())
	}
	return run, nil
}

// owns reports whether user may see a record of owner. The development
// caller sees everything.
func owns(user *auth.UserContext, owner uuid.UUID) bool {
	return user.UserID == owner || user.UserID == auth.DevUserID
}

// callerOrReject returns the authenticated caller or writes 401.
func callerOrReject(w http.ResponseWriter, r *http.Request) (*auth.UserContext, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
	}
	return user, ok
}

// writeSSE writes one event frame. The id line carries the sequence number
// for Last-Event-ID resumption.
func writeSSE(w http.ResponseWriter, evt streaming.Event) error {
	if evt.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", evt.Seq); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Wire())
	return err
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
