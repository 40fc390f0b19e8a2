// Package storage stores generated artifacts in Supabase Storage through
// its REST API.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/circuitbreaker"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
	"github.com/cgs-mvp/cgs/go/engine/internal/util"
)

const defaultSignedURLTTL = time.Hour

// Client talks to one Supabase project with the service role key.
type Client struct {
	baseURL      string
	serviceKey   string
	outputBucket string
	signedTTL    time.Duration
	http         *circuitbreaker.HTTPWrapper
	logger       *zap.Logger
}

func NewClient(cfg config.StorageConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	bucket := cfg.OutputBucket
	if bucket == "" {
		bucket = "outputs"
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.SupabaseURL, "/") + "/storage/v1",
		serviceKey:   cfg.ServiceKey,
		outputBucket: bucket,
		signedTTL:    ttl,
		http:         circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "supabase-storage", "storage", logger),
		logger:       logger,
	}
}

// Upload stores data at path and returns the path.
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	bucket = c.bucket(bucket)
	req, err := c.newRequest(ctx, http.MethodPost, "/object/"+bucket+"/"+escapePath(path), bytes.NewReader(data))
	if err != nil {
		return "", apperrors.Storage("upload failed", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	if _, err := c.do(req); err != nil {
		return "", apperrors.Storage("upload failed", err).WithDetail("path", path)
	}
	c.logger.Info("Stored artifact",
		zap.String("bucket", bucket),
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return path, nil
}

// SignedURL returns a time-limited download URL. A non-positive ttl uses
// the configured default.
func (c *Client) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	bucket = c.bucket(bucket)
	if ttl <= 0 {
		ttl = c.signedTTL
	}
	payload, _ := json.Marshal(map[string]int{"expiresIn": int(ttl.Seconds())})
	req, err := c.newRequest(ctx, http.MethodPost, "/object/sign/"+bucket+"/"+escapePath(path), bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Storage("signed url failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", apperrors.Storage("signed url failed", err).WithDetail("path", path)
	}
	signed := gjson.GetBytes(body, "signedURL").String()
	if signed == "" {
		return "", apperrors.Storage("signed url failed", fmt.Errorf("response has no signedURL"))
	}
	return c.baseURL + signed, nil
}

// Delete removes path from bucket.
func (c *Client) Delete(ctx context.Context, bucket, path string) error {
	bucket = c.bucket(bucket)
	payload, _ := json.Marshal(map[string][]string{"prefixes": {path}})
	req, err := c.newRequest(ctx, http.MethodDelete, "/object/"+bucket, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Storage("delete failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := c.do(req); err != nil {
		return apperrors.Storage("delete failed", err).WithDetail("path", path)
	}
	return nil
}

func (c *Client) bucket(b string) string {
	if b == "" {
		return c.outputBucket
	}
	return b
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	ctx, span := tracing.StartHTTPSpan(req.Context(), req.Method, req.URL.String())
	req = req.WithContext(ctx)
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		err = fmt.Errorf("status %d: %s", resp.StatusCode, util.Head(string(body), 300))
	}
	tracing.EndSpan(span, err)
	return body, err
}

// escapePath escapes each segment and keeps the separators.
func escapePath(p string) string {
	segs := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
