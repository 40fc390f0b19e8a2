package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	dbBreakerName = "postgresql"
	dbService     = "record-store"
)

// DatabaseWrapper guards a *sqlx.DB. sql.ErrNoRows is a result, not a
// failure, and never trips the breaker.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *CircuitBreaker
}

func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	s := DatabaseSettings()
	s.IsFailure = func(err error) bool {
		return !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, context.Canceled)
	}
	cb := New(dbBreakerName, s, logger)
	GlobalMetricsCollector.Register(dbBreakerName, dbService, cb)
	return &DatabaseWrapper{db: db, cb: cb}
}

func (w *DatabaseWrapper) run(ctx context.Context, fn func() error) error {
	err := w.cb.Execute(ctx, fn)
	GlobalMetricsCollector.RecordRequest(dbBreakerName, dbService, w.cb.State(), err == nil || errors.Is(err, sql.ErrNoRows))
	return err
}

func (w *DatabaseWrapper) PingContext(ctx context.Context) error {
	return w.run(ctx, func() error { return w.db.PingContext(ctx) })
}

// GetContext scans a single row into dest.
func (w *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return w.run(ctx, func() error { return w.db.GetContext(ctx, dest, query, args...) })
}

// SelectContext scans all rows into the slice dest.
func (w *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return w.run(ctx, func() error { return w.db.SelectContext(ctx, dest, query, args...) })
}

func (w *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := w.run(ctx, func() error {
		var err error
		res, err = w.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// NamedExecContext binds :name parameters from a struct or map.
func (w *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	var res sql.Result
	err := w.run(ctx, func() error {
		var err error
		res, err = w.db.NamedExecContext(ctx, query, arg)
		return err
	})
	return res, err
}

// WithTx runs fn inside a transaction. The whole transaction counts as one
// breaker call; fn's error rolls back.
func (w *DatabaseWrapper) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return w.run(ctx, func() error {
		tx, err := w.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (w *DatabaseWrapper) SetMaxOpenConns(n int)              { w.db.SetMaxOpenConns(n) }
func (w *DatabaseWrapper) SetMaxIdleConns(n int)              { w.db.SetMaxIdleConns(n) }
func (w *DatabaseWrapper) SetConnMaxLifetime(d time.Duration) { w.db.SetConnMaxLifetime(d) }
func (w *DatabaseWrapper) Close() error                       { return w.db.Close() }

// DB returns the unguarded handle for migrations and tests.
func (w *DatabaseWrapper) DB() *sqlx.DB { return w.db }

func (w *DatabaseWrapper) IsOpen() bool { return w.cb.State() == StateOpen }
