// Package db is the Postgres record store used by the workflow engine.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/circuitbreaker"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

const (
	logQueueSize  = 1000
	logBatchSize  = 100
	logFlushEvery = time.Second
)

// Client manages the connection pool and the asynchronous run log writer.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	logQueue chan *RunLogRequest
	workers  int
	stopCh   chan struct{}
	stopOnce sync.Once
	workerWg sync.WaitGroup
}

// RunLogRequest is a queued run_logs insert. Callback, when set, receives
// the insert result.
type RunLogRequest struct {
	Log      models.RunLog
	Callback func(error)
}

// NewClient opens and pings Postgres, then starts the log writers.
func NewClient(cfg config.PostgresConfig, logger *zap.Logger) (*Client, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}

	raw, err := sqlx.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	raw.SetMaxOpenConns(cfg.MaxConnections)
	raw.SetMaxIdleConns(cfg.IdleConnections)
	raw.SetConnMaxLifetime(cfg.MaxLifetime)

	c := newClient(raw, logger, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go c.healthCheck()

	logger.Info("Database client initialized",
		zap.String("host", cfg.Host),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Int("log_workers", c.workers),
	)
	return c, nil
}

// NewFromDB wraps an existing handle. It starts a single log writer and no
// health check; used by tests and the CLI.
func NewFromDB(raw *sqlx.DB, logger *zap.Logger) *Client {
	return newClient(raw, logger, 1)
}

func newClient(raw *sqlx.DB, logger *zap.Logger, workers int) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		db:       circuitbreaker.NewDatabaseWrapper(raw, logger),
		logger:   logger,
		logQueue: make(chan *RunLogRequest, logQueueSize),
		workers:  workers,
		stopCh:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		c.workerWg.Add(1)
		go c.logWorker(i)
	}
	return c
}

// QueueRunLog enqueues an insert. When the queue is full the row is written
// synchronously so that logs are never dropped.
func (c *Client) QueueRunLog(log models.RunLog, callback func(error)) {
	req := &RunLogRequest{Log: log, Callback: callback}
	select {
	case c.logQueue <- req:
	default:
		c.logger.Warn("Run log queue full, writing synchronously", zap.String("run_id", log.RunID.String()))
		c.processBatch([]*RunLogRequest{req})
	}
}

func (c *Client) logWorker(id int) {
	defer c.workerWg.Done()

	batch := make([]*RunLogRequest, 0, logBatchSize)
	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.drain(batch)
			c.logger.Debug("Run log worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.logQueue:
			batch = append(batch, req)
			if len(batch) >= logBatchSize {
				c.processBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				c.processBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (c *Client) processBatch(batch []*RunLogRequest) {
	if len(batch) == 0 {
		return
	}
	rows := make([]models.RunLog, len(batch))
	for i, r := range batch {
		rows[i] = r.Log
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.InsertRunLogs(ctx, rows)
	if err != nil {
		c.logger.Error("Failed to write run logs", zap.Int("count", len(rows)), zap.Error(err))
	}
	for _, r := range batch {
		if r.Callback != nil {
			r.Callback(err)
		}
	}
}

func (c *Client) drain(batch []*RunLogRequest) {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.logQueue:
			batch = append(batch, req)
		case <-timeout:
			c.logger.Warn("Timeout draining run log queue")
			c.processBatch(batch)
			return
		default:
			c.processBatch(batch)
			return
		}
	}
}

func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Ping checks connectivity through the breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close drains queued logs and closes the pool.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.workerWg.Wait()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	c.logger.Info("Database client closed")
	return nil
}

// Wrapper exposes the guarded handle to repositories in other packages.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
