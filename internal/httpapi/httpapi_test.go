package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/auth"
	"github.com/cgs-mvp/cgs/go/engine/internal/health"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
)

type fakeRuns map[uuid.UUID]*models.Run

func (f fakeRuns) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	if r, ok := f[id]; ok {
		return r, nil
	}
	return nil, apperrors.NotFound("run", id.String())
}

// fakeExecutor publishes a fixed three-event run.
type fakeExecutor struct {
	mgr    *streaming.Manager
	userID uuid.UUID
}

func (f *fakeExecutor) Execute(ctx context.Context, runID, userID uuid.UUID) <-chan streaming.Event {
	f.userID = userID
	out := make(chan streaming.Event, 3)
	go func() {
		defer close(out)
		for _, evt := range runEvents() {
			out <- f.mgr.Publish(ctx, runID.String(), evt)
		}
	}()
	return out
}

func runEvents() []streaming.Event {
	return []streaming.Event{
		{Type: streaming.TypeStatus, Data: map[string]interface{}{"status": "running"}},
		{Type: streaming.TypeProgress, Data: map[string]interface{}{"progress": 0, "step": "Writer", "agent": "writer"}},
		{Type: streaming.TypeCompleted, Data: map[string]interface{}{"output_id": "out-1", "total_tokens": 10}},
	}
}

type env struct {
	runs    fakeRuns
	mgr     *streaming.Manager
	exec    *fakeExecutor
	jwt     *auth.JWTManager
	owner   uuid.UUID
	run     *models.Run
	handler http.Handler
}

func newEnv(t *testing.T, skipAuth bool) *env {
	mgr := streaming.NewManager(16, zaptest.NewLogger(t))
	owner := uuid.New()
	run := &models.Run{ID: uuid.New(), UserID: owner, Status: models.RunPending}
	e := &env{
		runs:  fakeRuns{run.ID: run},
		mgr:   mgr,
		exec:  &fakeExecutor{mgr: mgr},
		jwt:   auth.NewJWTManager("test-secret", time.Minute),
		owner: owner,
		run:   run,
	}
	hm := health.NewManager(time.Second, nil)
	hm.Register(health.NewPingChecker("db", true, func(context.Context) error { return nil }, nil))
	e.handler = NewRouter(Deps{
		Runs:     e.runs,
		Executor: e.exec,
		Streams:  mgr,
		Auth:     auth.NewMiddleware(e.jwt, skipAuth, zaptest.NewLogger(t)),
		Health:   hm,
		Metrics:  true,
		Logger:   zaptest.NewLogger(t),
	})
	return e
}

func (e *env) token(t *testing.T, user uuid.UUID) string {
	tok, err := e.jwt.GenerateAccessToken(user, "")
	require.NoError(t, err)
	return tok
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestExecuteStreamsSSE(t *testing.T) {
	e := newEnv(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+e.run.ID.String()+"/execute", nil)
	req.Header.Set("Authorization", "Bearer "+e.token(t, e.owner))

	rec := e.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, e.owner, e.exec.userID)

	body := rec.Body.String()
	assert.Contains(t, body, "id: 1\nevent: status\n")
	assert.Contains(t, body, "id: 3\nevent: completed\n")
	assert.Contains(t, body, `"output_id":"out-1"`)
	assert.Less(t, strings.Index(body, "event: progress"), strings.Index(body, "event: completed"))
}

func TestExecuteRejections(t *testing.T) {
	e := newEnv(t, false)
	finished := make(map[models.RunStatus]*models.Run)
	for _, st := range []models.RunStatus{models.RunRunning, models.RunCompleted, models.RunFailed, models.RunCancelled} {
		r := &models.Run{ID: uuid.New(), UserID: e.owner, Status: st}
		e.runs[r.ID] = r
		finished[st] = r
	}

	tests := []struct {
		name  string
		id    string
		token string
		code  int
	}{
		{"no token", e.run.ID.String(), "", http.StatusUnauthorized},
		{"other user", e.run.ID.String(), e.token(t, uuid.New()), http.StatusNotFound},
		{"unknown run", uuid.NewString(), e.token(t, e.owner), http.StatusNotFound},
		{"bad id", "not-a-uuid", e.token(t, e.owner), http.StatusUnprocessableEntity},
		{"already running", finished[models.RunRunning].ID.String(), e.token(t, e.owner), http.StatusConflict},
		{"already completed", finished[models.RunCompleted].ID.String(), e.token(t, e.owner), http.StatusConflict},
		{"already failed", finished[models.RunFailed].ID.String(), e.token(t, e.owner), http.StatusConflict},
		{"already cancelled", finished[models.RunCancelled].ID.String(), e.token(t, e.owner), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+tt.id+"/execute", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			assert.Equal(t, tt.code, e.do(req).Code)
		})
	}
}

func TestSSEReplaysAfterLastEventID(t *testing.T) {
	e := newEnv(t, true)
	for _, evt := range runEvents() {
		e.mgr.Publish(context.Background(), e.run.ID.String(), evt)
	}

	req := httptest.NewRequest(http.MethodGet, "/stream/sse?run_id="+e.run.ID.String(), nil)
	req.Header.Set("Last-Event-ID", "1")
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "event: status")
	assert.Contains(t, body, "id: 2\nevent: progress\n")
	assert.Contains(t, body, "id: 3\nevent: completed\n")
}

func TestSSETypeFilter(t *testing.T) {
	e := newEnv(t, true)
	for _, evt := range runEvents() {
		e.mgr.Publish(context.Background(), e.run.ID.String(), evt)
	}

	rec := e.do(httptest.NewRequest(http.MethodGet, "/stream/sse?types=completed&run_id="+e.run.ID.String(), nil))
	body := rec.Body.String()
	assert.NotContains(t, body, "event: progress")
	assert.Contains(t, body, "event: completed")
}

func TestSSELiveEvents(t *testing.T) {
	e := newEnv(t, true)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	done := make(chan string, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/stream/sse?run_id=" + e.run.ID.String())
		if err != nil {
			done <- err.Error()
			return
		}
		defer resp.Body.Close()
		var b strings.Builder
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			b.Write(buf[:n])
			if err != nil {
				break
			}
		}
		done <- b.String()
	}()

	// wait for the subscriber before publishing
	require.Eventually(t, func() bool {
		return e.mgr.SubscriberCount(e.run.ID.String()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	for _, evt := range runEvents() {
		e.mgr.Publish(context.Background(), e.run.ID.String(), evt)
	}

	select {
	case body := <-done:
		assert.Contains(t, body, "event: status")
		assert.Contains(t, body, "event: completed")
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after the terminal event")
	}
}

func TestWebSocketReplayAndClose(t *testing.T) {
	e := newEnv(t, false)
	for _, evt := range runEvents() {
		e.mgr.Publish(context.Background(), e.run.ID.String(), evt)
	}
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws?run_id=" + e.run.ID.String() +
		"&last_event_id=1&access_token=" + e.token(t, e.owner)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []map[string]interface{}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
			break
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(msg, &m))
		got = append(got, m)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "progress", got[0]["type"])
	assert.Equal(t, float64(2), got[0]["seq"])
	assert.Equal(t, "completed", got[1]["type"])
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, false)
	assert.Equal(t, http.StatusOK, e.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
