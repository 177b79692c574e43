// Package redisstore wraps the Redis operations used by the report cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
)

type Option func(*redis.Options)

// WithOpTimeout bounds every read and write; the dashboard sets it from
// CACHE_OP_TIMEOUT so a slow Redis degrades to a cache miss.
func WithOpTimeout(d time.Duration) Option {
	return func(o *redis.Options) {
		if d > 0 {
			o.ReadTimeout, o.WriteTimeout = d, d
		}
	}
}

type Client struct {
	rdb *redis.Client
}

// timed records the latency of op and wraps err with a Redis-style label.
func timed(op, label string, start time.Time, err error) error {
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis %s: %w", label, err)
	}
	return nil
}

// New connects to addr and pings it once so a misconfigured address fails at startup.
func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}
	c := &Client{rdb: redis.NewClient(ro)}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// MGet returns the values of the keys that exist; missing keys are absent from the map.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	start := time.Now()
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err := timed("mget", fmt.Sprintf("MGET %d keys", len(keys)), start, err); err != nil {
		return nil, err
	}
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	return timed("set", "SET "+key, start, c.rdb.Set(ctx, key, val, ttl).Err())
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	return timed("del", fmt.Sprintf("DEL %d keys", len(keys)), start, c.rdb.Del(ctx, keys...).Err())
}

// SAdd adds members to a set and refreshes its expiry in one transaction.
func (c *Client) SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, args...)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	return timed("sadd", "SADD "+key, start, err)
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	out, err := c.rdb.SMembers(ctx, key).Result()
	if err := timed("smembers", "SMEMBERS "+key, start, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	return timed("ping", "ping", start, c.rdb.Ping(ctx).Err())
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
