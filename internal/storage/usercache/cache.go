// Package usercache puts a Redis read-through cache in front of a user lookup.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"studyhub/internal/presence"
)

const (
	keyPrefix  = "studyhub:user:"
	DefaultTTL = 10 * time.Minute
)

// Cache implements presence.UserLookup. Only found users are cached; a Redis
// failure falls through to the backing lookup.
type Cache struct {
	client *redis.Client
	next   presence.UserLookup
	ttl    time.Duration
	logger *zap.Logger
}

func New(client *redis.Client, next presence.UserLookup, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, next: next, ttl: ttl, logger: logger}
}

func key(id string) string {
	return keyPrefix + id
}

func (c *Cache) GetUserByID(ctx context.Context, id string) (*presence.User, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	switch {
	case err == nil:
		var user presence.User
		if err := json.Unmarshal(data, &user); err == nil {
			return &user, nil
		}
		c.logger.Warn("discarding corrupt cached user", zap.String("user_id", id))
		c.client.Del(ctx, key(id))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("user cache read failed", zap.String("user_id", id), zap.Error(err))
	}

	user, err := c.next.GetUserByID(ctx, id)
	if err != nil || user == nil {
		return user, err
	}
	if data, err := json.Marshal(user); err == nil {
		if err := c.client.Set(ctx, key(id), data, c.ttl).Err(); err != nil {
			c.logger.Warn("user cache write failed", zap.String("user_id", id), zap.Error(err))
		}
	}
	return user, nil
}

// Invalidate drops the cached entry for id.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, key(id)).Err()
}
