package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisConfig configures RedisStore.
type RedisConfig struct {
	Prefix string
	TTL    time.Duration
}

// RedisStore keeps sessions as JSON values under Prefix+ID. Every Save
// refreshes the TTL.
type RedisStore struct {
	client RedisClient
	cfg    RedisConfig
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store. An empty prefix defaults to "ivylab:session:".
func NewRedisStore(client RedisClient, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "ivylab:session:"
	}
	return &RedisStore{client: client, cfg: cfg}
}

func (r *RedisStore) key(id string) string { return r.cfg.Prefix + id }

func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session/redis: load %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session/redis: decode %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session/redis: encode %s: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), raw, r.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("session/redis: save %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("session/redis: destroy %s: %w", id, err)
	}
	return nil
}
