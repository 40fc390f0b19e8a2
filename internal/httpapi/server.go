// Package httpapi is the thin HTTP surface of the engine: run execution,
// run event subscriptions, health and metrics.
package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/auth"
	"github.com/cgs-mvp/cgs/go/engine/internal/health"
	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
)

// Deps are the collaborators of the router. Archive, Outputs and Health are
// optional; their routes are registered only when set.
type Deps struct {
	Runs     RunReader
	Executor RunExecutor
	Streams  *streaming.Manager
	Archive  ArchiveService
	Contexts ContextReader
	Outputs  OutputReader
	Signer   URLSigner
	Auth     *auth.Middleware
	Health   *health.Manager
	Metrics  bool
	Logger   *zap.Logger
}

// NewRouter builds the engine's HTTP handler.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	protect := d.Auth.HTTPMiddleware

	NewRunsHandler(d.Runs, d.Executor, logger).RegisterRoutes(mux, protect)
	NewStreamingHandler(d.Streams, d.Runs, logger).RegisterRoutes(mux, protect)
	if d.Archive != nil && d.Contexts != nil {
		NewArchiveHandler(d.Archive, d.Contexts, logger).RegisterRoutes(mux, protect)
	}
	if d.Outputs != nil {
		NewOutputsHandler(d.Outputs, d.Signer, logger).RegisterRoutes(mux, protect)
	}
	if d.Health != nil {
		health.NewHTTPHandler(d.Health, logger).RegisterRoutes(mux)
	}
	if d.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return logRequests(mux, logger)
}

// statusRecorder captures the response status for the access log. It keeps
// Flush reachable for SSE and Hijack for WebSocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

func logRequests(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
