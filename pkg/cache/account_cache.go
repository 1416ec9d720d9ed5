// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides a redis-backed read-through cache for account
// lookups. Account existence is checked on every upload create and
// object write; the identity data itself changes rarely.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tidegate/tidegate/pkg/logger"
	"github.com/tidegate/tidegate/pkg/metadata/db"
	"github.com/tidegate/tidegate/pkg/types"
)

// negativeEntry marks a cached "account does not exist" result.
const negativeEntry = "!"

// AccountCacheConfig configures the account cache.
type AccountCacheConfig struct {
	// Redis connection settings
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	KeyPrefix string `mapstructure:"key_prefix"`

	// TTL for positive entries; NegativeTTL for not-found entries,
	// kept short so new accounts become visible quickly.
	TTL         time.Duration `mapstructure:"ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`
}

// DefaultAccountCacheConfig returns sensible defaults.
func DefaultAccountCacheConfig() AccountCacheConfig {
	return AccountCacheConfig{
		Addr:        "localhost:6379",
		PoolSize:    10,
		KeyPrefix:   "tidegate:account:",
		TTL:         5 * time.Minute,
		NegativeTTL: 10 * time.Second,
	}
}

// AccountCache is a read-through cache over db.Store account lookups.
// Redis failures fall open to the store; the cache never turns an
// available store into an unavailable one.
type AccountCache struct {
	client *redis.Client
	store  db.Store
	config AccountCacheConfig
}

// NewAccountCache creates a cache and verifies redis connectivity.
func NewAccountCache(store db.Store, cfg AccountCacheConfig) (*AccountCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &AccountCache{client: client, store: store, config: cfg}, nil
}

// NewAccountCacheWithClient creates a cache with an existing client.
func NewAccountCacheWithClient(client *redis.Client, store db.Store, cfg AccountCacheConfig) *AccountCache {
	return &AccountCache{client: client, store: store, config: cfg}
}

// GetAccount returns the account, consulting redis first. A cached
// negative entry returns db.ErrAccountNotFound without touching the
// store.
func (c *AccountCache) GetAccount(ctx context.Context, id uuid.UUID) (*types.Account, error) {
	key := c.config.KeyPrefix + id.String()

	if val, err := c.client.Get(ctx, key).Result(); err == nil {
		if val == negativeEntry {
			return nil, db.ErrAccountNotFound
		}
		var acct types.Account
		if err := json.Unmarshal([]byte(val), &acct); err == nil {
			return &acct, nil
		}
		// Corrupt entry: fall through to the store and overwrite.
	} else if !errors.Is(err, redis.Nil) {
		logger.Ctx(ctx).Debug().Err(err).Msg("account cache read failed, falling through")
	}

	acct, err := c.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			c.set(ctx, key, negativeEntry, c.config.NegativeTTL)
		}
		return nil, err
	}

	if data, merr := json.Marshal(acct); merr == nil {
		c.set(ctx, key, string(data), c.config.TTL)
	}
	return acct, nil
}

// Invalidate drops a cached account, for use after identity changes.
func (c *AccountCache) Invalidate(ctx context.Context, id uuid.UUID) {
	if err := c.client.Del(ctx, c.config.KeyPrefix+id.String()).Err(); err != nil {
		logger.Ctx(ctx).Debug().Err(err).Msg("account cache invalidate failed")
	}
}

func (c *AccountCache) set(ctx context.Context, key, val string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		logger.Ctx(ctx).Debug().Err(err).Msg("account cache write failed")
	}
}

// Close releases the redis client.
func (c *AccountCache) Close() error {
	return c.client.Close()
}
