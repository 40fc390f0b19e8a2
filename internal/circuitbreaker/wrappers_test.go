package circuitbreaker

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDatabaseWrapperOperations(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer raw.Close()

	w := NewDatabaseWrapper(sqlx.NewDb(raw, "postgres"), zaptest.NewLogger(t))
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, w.PingContext(ctx))

	mock.ExpectQuery("SELECT name FROM briefs").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Spring launch"))
	var name string
	require.NoError(t, w.GetContext(ctx, &name, "SELECT name FROM briefs WHERE id = $1", "b1"))
	assert.Equal(t, "Spring launch", name)

	mock.ExpectExec("UPDATE workflow_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := w.ExecContext(ctx, "UPDATE workflow_runs SET progress = $1", 50)
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(1), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapperNoRowsKeepsBreakerClosed(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	t.Setenv("CB_DB_FAILURE_THRESHOLD", "1")
	w := NewDatabaseWrapper(sqlx.NewDb(raw, "postgres"), zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT name").WillReturnRows(sqlmock.NewRows([]string{"name"}))
		var name string
		err := w.GetContext(context.Background(), &name, "SELECT name FROM briefs")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	}
	assert.False(t, w.IsOpen())
}

func TestDatabaseWrapperOpensOnFailures(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	t.Setenv("CB_DB_FAILURE_THRESHOLD", "2")
	t.Setenv("CB_DB_TIMEOUT", "1m")
	w := NewDatabaseWrapper(sqlx.NewDb(raw, "postgres"), zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT").WillReturnError(sql.ErrConnDone)
		_, err := w.ExecContext(context.Background(), "INSERT INTO run_logs VALUES ($1)", 1)
		assert.Error(t, err)
	}
	assert.True(t, w.IsOpen())

	_, err = w.ExecContext(context.Background(), "INSERT INTO run_logs VALUES ($1)", 1)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestDatabaseWrapperWithTxRollsBack(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	w := NewDatabaseWrapper(sqlx.NewDb(raw, "postgres"), zaptest.NewLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outputs").WillReturnError(sql.ErrTxDone)
	mock.ExpectRollback()

	err = w.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		_, err := tx.Exec("INSERT INTO outputs (id) VALUES ($1)", "x")
		return err
	})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHTTPWrapperFiveHundredsTripButReturnResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Setenv("CB_HTTP_FAILURE_THRESHOLD", "2")
	t.Setenv("CB_HTTP_TIMEOUT", "1m")
	w := NewHTTPWrapper(&http.Client{Timeout: time.Second}, "test-upstream", "test", zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := w.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, w.Breaker().State())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := w.Do(req)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestHTTPWrapperClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Setenv("CB_HTTP_FAILURE_THRESHOLD", "1")
	w := NewHTTPWrapper(nil, "test-4xx", "test", zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := w.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateClosed, w.Breaker().State())
}

func TestRedisWrapper(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	t.Setenv("CB_REDIS_FAILURE_THRESHOLD", "1")
	w := NewRedisWrapper(client, "test-cache", zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, w.Ping(ctx))
	require.NoError(t, w.Do(ctx, func(c redis.Cmdable) error {
		return c.Set(ctx, "k", "v", time.Minute).Err()
	}))

	var got string
	require.NoError(t, w.Do(ctx, func(c redis.Cmdable) error {
		var err error
		got, err = c.Get(ctx, "k").Result()
		return err
	}))
	assert.Equal(t, "v", got)

	err = w.Do(ctx, func(c redis.Cmdable) error { return c.Get(ctx, "missing").Err() })
	assert.ErrorIs(t, err, redis.Nil)
	assert.False(t, w.IsOpen(), "cache misses must not trip the breaker")
}
