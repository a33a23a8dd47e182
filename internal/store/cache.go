package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by CachedStore.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

const tierKeyPrefix = "tier:"

// CachedStore is a read-through Redis cache in front of GetTierRecord.
// Applied writes overwrite the cached entry; read fills only create a
// missing one, so a slow reader cannot put back a tier that a newer write
// replaced. Redis failures fall through to the underlying store.
type CachedStore struct {
	Store
	client RedisClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps s with a Redis cache. It pings Redis before returning.
func NewCached(ctx context.Context, s Store, client RedisClient, ttl time.Duration, logger *slog.Logger) (*CachedStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &CachedStore{
		Store:  s,
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "tier-cache"),
	}, nil
}

// NewRedisClient builds a go-redis client from connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (c *CachedStore) GetTierRecord(ctx context.Context, account string) (*TierRecord, error) {
	key := tierKeyPrefix + NormalizeAccount(account)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var rec TierRecord
		if jerr := json.Unmarshal([]byte(raw), &rec); jerr == nil {
			return &rec, nil
		}
		c.logger.Warn("discarding corrupt cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}

	rec, err := c.Store.GetTierRecord(ctx, account)
	if err != nil || rec == nil {
		return rec, err
	}
	if data, err := json.Marshal(rec); err == nil {
		if err := c.client.SetNX(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return rec, nil
}

func (c *CachedStore) ApplyTierRecord(ctx context.Context, rec *TierRecord) (bool, error) {
	applied, err := c.Store.ApplyTierRecord(ctx, rec)
	if err != nil || !applied {
		return applied, err
	}
	key := tierKeyPrefix + NormalizeAccount(rec.Account)
	if err := c.refresh(ctx, key, rec.Account); err != nil {
		c.logger.Warn("cache refresh failed, invalidating", "key", key, "error", err)
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("cache invalidation failed", "key", key, "error", err)
		}
	}
	return true, nil
}

// refresh overwrites the cached entry with the stored record.
func (c *CachedStore) refresh(ctx context.Context, key, account string) error {
	rec, err := c.Store.GetTierRecord(ctx, account)
	if err != nil {
		return err
	}
	if rec == nil {
		return c.client.Del(ctx, key).Err()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Close closes the Redis client and the underlying store.
func (c *CachedStore) Close() error {
	cerr := c.client.Close()
	if err := c.Store.Close(); err != nil {
		return err
	}
	return cerr
}
