package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultDialTimeout = 5 * time.Second

// RedisConfig configures the Redis connection. One address connects to a
// single node; several addresses form a cluster; MasterName selects Sentinel.
type RedisConfig struct {
	Addrs       []string
	MasterName  string
	Username    string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// NewRedisClient creates and pings a Redis client for cfg.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (goredis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("at least one redis address is required")
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisInvalidator keeps one Redis set per tag holding the cache keys
// stored under that tag. Invalidating a tag deletes those keys and the set.
type RedisInvalidator struct {
	client goredis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisInvalidator wraps client. prefix namespaces every key it touches.
func NewRedisInvalidator(client goredis.UniversalClient, prefix string, logger *zap.Logger) *RedisInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisInvalidator{client: client, prefix: prefix, logger: logger.Named("cache")}
}

// Ping checks that Redis answers.
func (r *RedisInvalidator) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (r *RedisInvalidator) tagKey(tag string) string {
	return r.prefix + "tag:" + tag
}

// Tag records that key belongs to tags.
func (r *RedisInvalidator) Tag(ctx context.Context, key string, tags ...string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, tag := range tags {
			pipe.SAdd(ctx, r.tagKey(tag), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tag cache key %q: %w", key, err)
	}
	return nil
}

// Invalidate deletes every key recorded under tags, and the tag sets
// themselves, in a single MULTI/EXEC.
func (r *RedisInvalidator) Invalidate(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	tagKeys := make([]string, 0, len(tags))
	var members []string
	for _, tag := range tags {
		key := r.tagKey(tag)
		tagKeys = append(tagKeys, key)
		keys, err := r.client.SMembers(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read cache tag %q: %w", tag, err)
		}
		members = append(members, keys...)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(members) > 0 {
			pipe.Del(ctx, members...)
		}
		pipe.Del(ctx, tagKeys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cache tags %v: %w", tags, err)
	}
	r.logger.Debug("cache tags invalidated", zap.Strings("tags", tags), zap.Int("keys", len(members)))
	return nil
}
