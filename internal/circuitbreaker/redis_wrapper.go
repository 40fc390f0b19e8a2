package circuitbreaker

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards a go-redis v9 client used by the embedding cache and
// the event stream mirror. redis.Nil is a cache miss, not a failure.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
}

func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	s := RedisSettings()
	s.IsFailure = func(err error) bool {
		return !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled)
	}
	cb := New("redis-"+service, s, logger)
	GlobalMetricsCollector.Register(cb.Name(), service, cb)
	return &RedisWrapper{client: client, cb: cb, service: service}
}

// Do runs fn against the client through the breaker.
func (w *RedisWrapper) Do(ctx context.Context, fn func(c redis.Cmdable) error) error {
	err := w.cb.Execute(ctx, func() error { return fn(w.client) })
	GlobalMetricsCollector.RecordRequest(w.cb.Name(), w.service, w.cb.State(), err == nil || errors.Is(err, redis.Nil))
	return err
}

func (w *RedisWrapper) Ping(ctx context.Context) error {
	return w.Do(ctx, func(c redis.Cmdable) error { return c.Ping(ctx).Err() })
}

func (w *RedisWrapper) Client() *redis.Client { return w.client }

func (w *RedisWrapper) IsOpen() bool { return w.cb.State() == StateOpen }
