package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "consol:store"

// Redis persists stage results as JSON documents in Redis.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis constructs a Redis-backed store. A zero ttl keeps entries forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: defaultKeyPrefix, ttl: ttl}
}

func (r *Redis) redisKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, key.Period, key.Unit, key.Stage)
}

// Put writes entry under key.
func (r *Redis) Put(ctx context.Context, key Key, entry Entry) error {
	if r == nil || r.client == nil {
		return errors.New("store: redis client not configured")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.redisKey(key), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Get reads the entry stored under key.
func (r *Redis) Get(ctx context.Context, key Key) (Entry, error) {
	if r == nil || r.client == nil {
		return Entry{}, errors.New("store: redis client not configured")
	}
	payload, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("store: get %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return entry, nil
}
