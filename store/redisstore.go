package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

type redisStore struct {
	rdb    redis.Cmdable
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and returns a Store that keeps each entry
// under prefix+key. Every save refreshes the entry's TTL, so idle sessions
// expire while active ones are retained. The returned Store implements
// io.Closer.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	opts.ReadTimeout = time.Duration(cfg.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(cfg.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(cfg.DialTimeout) * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}

	return &redisStore{
		rdb:    client,
		closer: client.Close,
		prefix: cfg.Prefix,
		ttl:    time.Duration(cfg.TTL) * time.Second,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. A zero ttl stores
// entries without expiry.
func NewRedisStoreFromClient(rdb redis.Cmdable, prefix string, ttl time.Duration) Store {
	return &redisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *redisStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	return keys, nil
}

func (s *redisStore) Load(ctx context.Context, keys ...string) ([]Entry, error) {
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.prefix + key
	}

	values, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	entries := make([]Entry, 0, len(keys))
	for i, value := range values {
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keys[i])
		}
		entries = append(entries, Entry{Key: keys[i], Value: []byte(str)})
	}
	return entries, nil
}

func (s *redisStore) Save(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.Set(ctx, s.prefix+e.Key, e.Value, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.prefix + key
	}
	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// Close releases the underlying client when the store owns it.
func (s *redisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
