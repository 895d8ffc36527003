package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/giilbert/radix/internal/v1/logging"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResultCache memoizes judge results so identical submissions (same
// language, code, and test cases) skip the sandbox entirely. This is
// additive to spec.md §4.4: a disabled or unreachable cache behaves
// exactly like no cache at all (fail-open), never changing the
// observable result of a judge run.
//
// Grounded on bus/redis.go's NewService/gobreaker-wrapped-client
// pattern, retargeted from Redis pub/sub + sets to a simple get/set
// cache.
type ResultCache interface {
	Get(ctx context.Context, key string) (domain.JudgingResult, bool)
	Set(ctx context.Context, key string, result domain.JudgingResult)
}

// CacheKey hashes the job's identity into a cache key.
func CacheKey(language, code string, testCases []domain.TestCase) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(code))
	for _, tc := range testCases {
		h.Write([]byte{0})
		h.Write([]byte(tc.Input))
		h.Write([]byte{0})
		h.Write([]byte(tc.Output))
	}
	return "judge:result:" + hex.EncodeToString(h.Sum(nil))
}

// noopCache is used when the cache is disabled (REDIS_ENABLED=false).
type noopCache struct{}

func (noopCache) Get(context.Context, string) (domain.JudgingResult, bool) { return domain.JudgingResult{}, false }
func (noopCache) Set(context.Context, string, domain.JudgingResult)       {}

// NewNoopCache returns a ResultCache that never caches anything.
func NewNoopCache() ResultCache { return noopCache{} }

// redisResultCache is a ResultCache backed by Redis, circuit-broken so
// a flapping Redis degrades to always-miss rather than blocking judge
// throughput.
type redisResultCache struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	ttl    time.Duration
}

// NewRedisResultCache connects to Redis at addr and returns a
// ResultCache. Ping failures are returned as an error so callers can
// fall back to NewNoopCache.
func NewRedisResultCache(ctx context.Context, addr, password string) (ResultCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "judge-cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			circuitBreakerState.WithLabelValues("judge-cache").Set(v)
		},
	}

	return &redisResultCache{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
		ttl:    1 * time.Hour,
	}, nil
}

func (c *redisResultCache) Get(ctx context.Context, key string) (domain.JudgingResult, bool) {
	val, err := c.cb.Execute(func() (any, error) {
		return c.client.Get(ctx, key).Result()
	})
	if err != nil {
		if err != redis.Nil && err != gobreaker.ErrOpenState {
			logging.Warn(ctx, "judge cache get failed", zap.Error(err))
		}
		cacheHits.WithLabelValues("miss").Inc()
		return domain.JudgingResult{}, false
	}

	var result domain.JudgingResult
	if err := json.Unmarshal([]byte(val.(string)), &result); err != nil {
		logging.Warn(ctx, "judge cache decode failed", zap.Error(err))
		cacheHits.WithLabelValues("miss").Inc()
		return domain.JudgingResult{}, false
	}
	cacheHits.WithLabelValues("hit").Inc()
	return result, true
}

func (c *redisResultCache) Set(ctx context.Context, key string, result domain.JudgingResult) {
	data, err := json.Marshal(result)
	if err != nil {
		logging.Warn(ctx, "judge cache encode failed", zap.Error(err))
		return
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil && err != gobreaker.ErrOpenState {
		logging.Warn(ctx, "judge cache set failed", zap.Error(err))
	}
}
