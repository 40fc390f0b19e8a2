package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// DatabaseSettings reads CB_DB_* overrides.
func DatabaseSettings() Settings {
	return fromEnv("CB_DB", Settings{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// RedisSettings reads CB_REDIS_* overrides.
func RedisSettings() Settings {
	return fromEnv("CB_REDIS", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// HTTPSettings reads CB_HTTP_* overrides. They apply to every provider
// client: LLM vendors, research, image generation and storage.
func HTTPSettings() Settings {
	return fromEnv("CB_HTTP", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func fromEnv(prefix string, def Settings) Settings {
	def.MaxRequests = envUint32(prefix+"_MAX_REQUESTS", def.MaxRequests)
	def.Interval = envDuration(prefix+"_INTERVAL", def.Interval)
	def.Timeout = envDuration(prefix+"_TIMEOUT", def.Timeout)
	def.FailureThreshold = envUint32(prefix+"_FAILURE_THRESHOLD", def.FailureThreshold)
	def.SuccessThreshold = envUint32(prefix+"_SUCCESS_THRESHOLD", def.SuccessThreshold)
	return def
}

func envUint32(key string, def uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
