package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
)

const (
	subscriberBuffer  = 256
	sseHeartbeat      = 15 * time.Second
	wsPingInterval    = 20 * time.Second
	wsReadDeadline    = 60 * time.Second
	wsWriteDeadline   = 10 * time.Second
	wsClientReadLimit = 512
)

// StreamingHandler serves SSE and WebSocket subscriptions to run events.
type StreamingHandler struct {
	mgr    *streaming.Manager
	runs   RunReader
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, runs RunReader, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, runs: runs, logger: logger}
}

// RegisterRoutes registers stream routes behind protect.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /stream/sse", protect(http.HandlerFunc(h.handleSSE)))
	mux.Handle("GET /stream/ws", protect(http.HandlerFunc(h.handleWS)))
}

// subscription is the parsed query of a stream request.
type subscription struct {
	runID  string
	lastID uint64
	types  map[string]struct{}
}

func (s subscription) wants(evt streaming.Event) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[evt.Type]
	return ok
}

// parseSubscription authorizes the run and reads the resume point from the
// Last-Event-ID header or the last_event_id query parameter.
func (h *StreamingHandler) parseSubscription(w http.ResponseWriter, r *http.Request) (subscription, bool) {
	user, ok := callerOrReject(w, r)
	if !ok {
		return subscription{}, false
	}
	q := r.URL.Query()
	run, err := authorizeRun(r.Context(), h.runs, user, q.Get("run_id"))
	if err != nil {
		writeError(w, err)
		return subscription{}, false
	}

	sub := subscription{runID: run.ID.String(), types: map[string]struct{}{}}
	if s := q.Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				sub.types[t] = struct{}{}
			}
		}
	}
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = q.Get("last_event_id")
	}
	if raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			sub.lastID = n
		}
	}
	return sub, true
}

// backlog returns the events after sub.lastID that are already known.
func (h *StreamingHandler) backlog(r *http.Request, sub subscription) []streaming.Event {
	events, err := h.mgr.ReplaySince(r.Context(), sub.runID, sub.lastID)
	if err != nil {
		h.logger.Warn("Event replay failed", zap.String("run_id", sub.runID), zap.Error(err))
		return nil
	}
	return events
}

// handleSSE streams run events via Server-Sent Events. The stream ends after
// the run's terminal event.
// GET /stream/sse?run_id=<id>[&types=a,b][&last_event_id=n]
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.parseSubscription(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// subscribe before replay so nothing published in between is lost
	ch := h.mgr.Subscribe(sub.runID, subscriberBuffer)
	defer h.mgr.Unsubscribe(sub.runID, ch)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected to run %s\n\n", sub.runID)

	sent := sub.lastID
	send := func(evt streaming.Event) (done bool) {
		if evt.Seq != 0 && evt.Seq <= sent {
			return false
		}
		sent = evt.Seq
		if sub.wants(evt) {
			_ = writeSSE(w, evt)
		}
		return evt.Terminal()
	}

	for _, evt := range h.backlog(r, sub) {
		if send(evt) {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", sub.runID))
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			done := send(evt)
			flusher.Flush()
			if done {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
