package cachex

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"creator-sync/shared/config"
	"creator-sync/shared/lockx"
)

var errNotInitialized = errors.New("redis client not initialized")

type Client struct {
	redis *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{redis: rdb}, nil
}

// Wrap adapts an existing go-redis client; tests pass one pointed at miniredis.
func Wrap(rdb *redis.Client) *Client {
	return &Client{redis: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

// Get returns the raw value at key. A missing key is ("", false, nil).
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	if c == nil || c.redis == nil {
		return "", false, errNotInitialized
	}
	v, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Set stores value without expiry; mirrors live until overwritten or evicted.
func (c *Client) Set(ctx context.Context, key string, value string) error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return c.redis.Set(ctx, key, value, 0).Err()
}

func (c *Client) Del(ctx context.Context, key string) error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return c.redis.Del(ctx, key).Err()
}

func (c *Client) ListPush(ctx context.Context, key string, value string) error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return c.redis.RPush(ctx, key, value).Err()
}

// ListRange follows LRANGE semantics: stop is inclusive and -1 means the tail.
func (c *Client) ListRange(ctx context.Context, key string, start int64, stop int64) ([]string, error) {
	if c == nil || c.redis == nil {
		return nil, errNotInitialized
	}
	return c.redis.LRange(ctx, key, start, stop).Result()
}

// ListRemove drops the first occurrence of value. Removing an absent value is not an error.
func (c *Client) ListRemove(ctx context.Context, key string, value string) error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return c.redis.LRem(ctx, key, 1, value).Err()
}

func (c *Client) ListLen(ctx context.Context, key string) (int64, error) {
	if c == nil || c.redis == nil {
		return 0, errNotInitialized
	}
	return c.redis.LLen(ctx, key).Result()
}

// TryLock takes a best-effort distributed lock. ok is false when another holder owns key.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if c == nil || c.redis == nil {
		return nil, false, errNotInitialized
	}
	lock, ok, err := lockx.Acquire(ctx, c.redis, key, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	release := func(ctx context.Context) error {
		return lockx.Release(ctx, c.redis, lock)
	}
	return release, true, nil
}

func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}
