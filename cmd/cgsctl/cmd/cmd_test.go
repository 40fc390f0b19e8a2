package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sseServer(t *testing.T, runID uuid.UUID, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/runs/"+runID.String()+"/execute", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecuteRunPrintsEvents(t *testing.T) {
	runID := uuid.New()
	srv := sseServer(t, runID,
		"id: 1\nevent: status\ndata: {\"type\":\"status\",\"status\":\"running\"}\n\n",
		": keep-alive\n\n",
		"id: 2\nevent: completed\ndata: {\"type\":\"completed\",\"total_tokens\":300}\n\n",
	)

	var out bytes.Buffer
	failed, err := executeRun(context.Background(), srv.URL+"/", "tok", runID, &out, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, failed)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"type":"completed","total_tokens":300}`, lines[1])
}

func TestExecuteRunReportsFailure(t *testing.T) {
	runID := uuid.New()
	srv := sseServer(t, runID,
		"id: 1\nevent: error\ndata: {\"type\":\"error\",\"error\":\"openai generation failed\"}\n\n",
	)
	var out bytes.Buffer
	failed, err := executeRun(context.Background(), srv.URL, "tok", runID, &out, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestExecuteRunHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"run is already running"}`, http.StatusConflict)
	}))
	defer srv.Close()

	_, err := executeRun(context.Background(), srv.URL, "", uuid.New(), &bytes.Buffer{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestLoadPackFormats(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "blog.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
slug: blog-post
name: Blog Post
agents_config:
  - name: researcher
    role: Research Specialist
    tools: [perplexity_search]
  - name: writer
    role: Content Writer
`), 0o600))
	jsonPath := filepath.Join(dir, "blog.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"slug":"s","name":"n","agents_config":[{"name":"a","role":"r"}]}`), 0o600))

	p, err := loadPack(yamlPath)
	require.NoError(t, err)
	require.Len(t, p.AgentsConfig, 2)
	assert.Equal(t, "writer", p.AgentsConfig[1].Name)

	p, err = loadPack(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "s", p.Slug)
}

func TestValidatePackCommand(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("slug: x\nname: X\nagents_config: []\n"), 0o600))

	var out bytes.Buffer
	validatePackCmd.SetOut(&out)
	assert.Error(t, validatePackCmd.RunE(validatePackCmd, []string{bad}))

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("slug: x\nname: X\nagents_config:\n  - name: w\n    role: Writer\n"), 0o600))
	require.NoError(t, validatePackCmd.RunE(validatePackCmd, []string{good}))
	assert.Equal(t, "x: 1 agents ok\n", out.String())
}

func TestPriceCommand(t *testing.T) {
	var out bytes.Buffer
	priceCmd.SetOut(&out)
	require.NoError(t, priceCmd.RunE(priceCmd, []string{"gpt-4o-mini", "1000", "1000"}))
	assert.Equal(t, "0.000750\n", out.String())

	assert.Error(t, priceCmd.RunE(priceCmd, []string{"gpt-4o-mini", "lots", "1"}))
}
