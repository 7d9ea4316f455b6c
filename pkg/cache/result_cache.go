// Package cache provides a Redis-backed cache for run outcomes. Final states
// never change once committed, so they are safe to serve from cache; state
// data can additionally be memoized under a caller-chosen cache key.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/runwell/runwell/pkg/models"
)

// DefaultFinalStateTTL bounds how long a final state is served from cache.
const DefaultFinalStateTTL = 24 * time.Hour

// ResultCache caches final run states and memoized state data in Redis.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache connects to Redis using the given URL, e.g.
// redis://localhost:6379/0.
func NewResultCache(ctx context.Context, redisURL string) (*ResultCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &ResultCache{client: client, ttl: DefaultFinalStateTTL}, nil
}

// Close releases the Redis connection.
func (c *ResultCache) Close() error {
	return c.client.Close()
}

func finalStateKey(runID string) string {
	return "runwell:final:" + runID
}

func resultKey(cacheKey string) string {
	return "runwell:result:" + cacheKey
}

// SetFinal stores the final state of a run. Non-final states are ignored.
func (c *ResultCache) SetFinal(ctx context.Context, runID string, state *models.State) error {
	if state == nil || !state.IsFinal() {
		return nil
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal final state: %w", err)
	}

	err = c.client.Set(ctx, finalStateKey(runID), payload, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache final state for run %s: %w", runID, err)
	}

	return nil
}

// Final returns the cached final state of a run, or nil on a cache miss.
func (c *ResultCache) Final(ctx context.Context, runID string) (*models.State, error) {
	payload, err := c.client.Get(ctx, finalStateKey(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read final state for run %s: %w", runID, err)
	}

	var state models.State

	err = json.Unmarshal(payload, &state)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal final state for run %s: %w", runID, err)
	}

	return &state, nil
}

// SetResult memoizes state data under the state's cache key. States without
// a cache key are ignored. The entry expires at the state's cache expiration
// when set, otherwise after the default TTL.
func (c *ResultCache) SetResult(ctx context.Context, state *models.State) error {
	if state == nil || state.Details.CacheKey == "" {
		return nil
	}

	ttl := c.ttl
	if state.Details.CacheExpiration != nil {
		ttl = time.Until(*state.Details.CacheExpiration)
		if ttl <= 0 {
			return nil
		}
	}

	payload, err := json.Marshal(state.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal state data: %w", err)
	}

	err = c.client.Set(ctx, resultKey(state.Details.CacheKey), payload, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache result %s: %w", state.Details.CacheKey, err)
	}

	return nil
}

// Result returns memoized state data for a cache key. The second return
// value reports whether the key was present.
func (c *ResultCache) Result(ctx context.Context, cacheKey string) (any, bool, error) {
	payload, err := c.client.Get(ctx, resultKey(cacheKey)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read result %s: %w", cacheKey, err)
	}

	var data any

	err = json.Unmarshal(payload, &data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal result %s: %w", cacheKey, err)
	}

	return data, true, nil
}
