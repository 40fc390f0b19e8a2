package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.StorageConfig{
		SupabaseURL:  srv.URL + "/",
		ServiceKey:   "service-key",
		OutputBucket: "outputs",
	}, zaptest.NewLogger(t))
}

func TestUpload(t *testing.T) {
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/outputs/u1/r1_image.png", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"Key":"outputs/u1/r1_image.png"}`)
	})

	path, err := c.Upload(context.Background(), "", "u1/r1_image.png", []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "u1/r1_image.png", path)
	assert.Equal(t, []byte{1, 2, 3}, gotBody)
}

func TestUploadFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":"Duplicate"}`)
	})

	_, err := c.Upload(context.Background(), "outputs", "a.png", nil, "image/png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
	assert.Contains(t, err.Error(), "409")
}

func TestSignedURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/sign/docs/u1/file%20one.pdf", r.URL.EscapedPath())
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 600, body["expiresIn"])
		_, _ = io.WriteString(w, `{"signedURL":"/object/sign/docs/u1/file%20one.pdf?token=abc"}`)
	})

	u, err := c.SignedURL(context.Background(), "docs", "u1/file one.pdf", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "/storage/v1/object/sign/docs/u1/file%20one.pdf?token=abc")
}

func TestSignedURLMissingField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	_, err := c.SignedURL(context.Background(), "", "x", 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))
}

func TestDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/storage/v1/object/outputs", r.URL.Path)
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"u1/a.png"}, body["prefixes"])
		_, _ = io.WriteString(w, `[]`)
	})
	require.NoError(t, c.Delete(context.Background(), "", "u1/a.png"))
}
