// Package redis holds the read-side projections published to Redis:
// class rankings for display boards and the worker's daily digests.
// Redis never holds the ledger itself; everything here can be rebuilt
// from the classroom store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned by Get for a missing or expired key.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection wraps the ping failure of NewCache.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization wraps JSON encode and decode failures.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")
	ErrCacheKeyEmpty   = errors.New("cache: key cannot be empty")
)

// Every key lives under the classpoints: namespace so one Redis can be
// shared with other applications.
const (
	PrefixRanking = "classpoints:ranking:"
	PrefixDigest  = "classpoints:digest:"
	PrefixPubSub  = "classpoints:pubsub:"

	// TTLRanking keeps a published ranking visible between worker runs.
	TTLRanking = 24 * time.Hour

	// TTLDigest keeps a week of daily digests.
	TTLDigest = 7 * 24 * time.Hour
)

// DigestKey is the key of one class's digest for date (YYYY-MM-DD).
func DigestKey(classID, date string) string {
	return PrefixDigest + classID + ":" + date
}

// PubSubChannel is the channel name for topic.
func PubSubChannel(topic string) string {
	return PrefixPubSub + topic
}

// Config selects the server and sizes the client pool.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize   int
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig targets a local server with short socket timeouts.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// Cache stores JSON values and is the shared client of the projections.
type Cache struct {
	client *redis.Client
}

// NewCache connects and pings within cfg.DialTimeout. The client is closed
// again when the ping fails.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, cfg.Addr, err)
	}
	return &Cache{client: client}, nil
}

// NewCacheWithClient wraps a client the caller already configured.
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client exposes the raw client for sorted-set and hash commands.
func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

// Ping is used as the worker's "redis" health check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return data, nil
}

// Set stores value as JSON. A zero ttl keeps the key until deleted.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	switch {
	case key == "":
		return ErrCacheKeyEmpty
	case ttl < 0:
		return ErrCacheInvalidTTL
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the value at key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCacheSerialization, key, err)
	}
	return nil
}

// Delete removes keys; missing keys are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// TTL reports the remaining lifetime of key with Redis semantics: -1 for
// no expiry, -2 for a missing key.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, ErrCacheKeyEmpty
	}
	return c.client.TTL(ctx, key).Result()
}

// Publish sends message as JSON. Display boards listen on RankingChannel.
func (c *Cache) Publish(ctx context.Context, channel string, message any) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	data, err := encode(message)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channel, data).Err()
}
