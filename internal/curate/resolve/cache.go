package resolve

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Cache is the optional shared lookup layer in front of the dimension
// tables. Only resolved keys are cached; misses always hit the database.
type Cache interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, val int64) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

const cacheTTL = 10 * time.Minute

// RedisCache implements Cache on a Redis instance, shared between
// concurrent curation runs.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis using a URL like redis://host:6379/0.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: parse redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "resolve: ping redis")
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, eris.Wrapf(err, "resolve: redis get %s", key)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, eris.Wrapf(err, "resolve: bad cached value for %s", key)
	}
	return n, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val int64) error {
	if err := c.client.Set(ctx, key, strconv.FormatInt(val, 10), cacheTTL).Err(); err != nil {
		return eris.Wrapf(err, "resolve: redis set %s", key)
	}
	return nil
}

// DeletePrefix removes every key under the given prefix via SCAN.
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return eris.Wrapf(err, "resolve: redis del prefix %s", prefix)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return eris.Wrapf(err, "resolve: redis scan prefix %s", prefix)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return eris.Wrapf(err, "resolve: redis del prefix %s", prefix)
		}
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
