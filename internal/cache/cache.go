// Package cache keeps recent subscription rows in Redis so quota checks on
// the hot message path do not hit Postgres for every inbound update.
// The cache is strictly an accelerator. Entries are short-lived, invalidated
// on every subscription mutation, and any Redis failure falls through to the
// database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/laoshi/internal/domain"
)

const keyPrefix = "sub:"

// NewClient connects to Redis from a URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return rdb, nil
}

// SubscriptionCache is a read-through cache of user subscription rows.
// A nil Redis client disables it; all lookups then report a miss.
type SubscriptionCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *SubscriptionCache {
	return &SubscriptionCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *SubscriptionCache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Get returns the cached user row, or ok=false on a miss. Redis errors are
// logged and treated as misses so a cache outage never blocks reads.
func (c *SubscriptionCache) Get(ctx context.Context, userID int64) (domain.User, bool) {
	if !c.Enabled() {
		return domain.User{}, false
	}

	val, err := c.rdb.Get(ctx, key(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("cache get failed", "user_id", userID, "error", err)
		}
		return domain.User{}, false
	}

	var user domain.User
	if err := json.Unmarshal([]byte(val), &user); err != nil {
		c.logger.Debug("cache entry corrupt, dropping", "user_id", userID, "error", err)
		c.rdb.Del(ctx, key(userID))
		return domain.User{}, false
	}

	return user, true
}

// Set stores the user row for the configured TTL. Best effort.
func (c *SubscriptionCache) Set(ctx context.Context, user domain.User) {
	if !c.Enabled() {
		return
	}

	data, err := json.Marshal(user)
	if err != nil {
		c.logger.Debug("cache marshal failed", "user_id", user.ID, "error", err)
		return
	}

	if err := c.rdb.Set(ctx, key(user.ID), data, c.ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", "user_id", user.ID, "error", err)
	}
}

// Invalidate drops the entry after any mutation to the user's subscription.
func (c *SubscriptionCache) Invalidate(ctx context.Context, userID int64) {
	if !c.Enabled() {
		return
	}

	if err := c.rdb.Del(ctx, key(userID)).Err(); err != nil {
		c.logger.Debug("cache invalidate failed", "user_id", userID, "error", err)
	}
}

func key(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}
