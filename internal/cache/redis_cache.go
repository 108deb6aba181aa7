// Package cache keeps recently listed documents in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"folio/api/internal/document"
)

// DefaultTTL applies when a non-positive ttl is given.
const DefaultTTL = 60 * time.Second

// storeIfCurrent writes the list only while the kind's generation still
// matches the one read before the database query.
var storeIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if not current then
	current = '0'
end
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache stores the list result of each kind as one JSON value. Every
// write to a kind bumps a generation counter so a list read that raced the
// write is never stored.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	genPrefix string
	ttl       time.Duration
}

// NewRedisCache connects to redisURL and checks the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: client,
		prefix:    "folio:list:",
		genPrefix: "folio:listgen:",
		ttl:       ttl,
	}
}

func (c *RedisCache) key(kind string) string {
	return c.prefix + kind
}

func (c *RedisCache) genKey(kind string) string {
	return c.genPrefix + kind
}

// Generation returns the write counter of kind. Read it before loading the
// list from the database and hand it to StoreList.
func (c *RedisCache) Generation(ctx context.Context, kind string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(kind)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read list generation: %w", err)
	}
	return gen, nil
}

// List returns the cached documents of kind. ok is false on a miss.
func (c *RedisCache) List(ctx context.Context, kind string) (docs []document.Document, ok bool, err error) {
	raw, err := c.client.Get(ctx, c.key(kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read list cache: %w", err)
	}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, false, fmt.Errorf("decode list cache: %w", err)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return docs, true, nil
}

// StoreList caches docs unless a write to kind happened after gen was read.
// stored reports whether the value was written.
func (c *RedisCache) StoreList(ctx context.Context, kind string, gen int64, docs []document.Document) (stored bool, err error) {
	if docs == nil {
		docs = []document.Document{}
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return false, fmt.Errorf("encode list cache: %w", err)
	}
	n, err := storeIfCurrent.Run(ctx, c.client,
		[]string{c.key(kind), c.genKey(kind)},
		strconv.FormatInt(gen, 10), payload, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("write list cache: %w", err)
	}
	return n == 1, nil
}

// Invalidate bumps the generation of kind and drops its cached list.
func (c *RedisCache) Invalidate(ctx context.Context, kind string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(kind))
		pipe.Del(ctx, c.key(kind))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate list cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
