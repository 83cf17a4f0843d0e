package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tent/tent-go/auth"

	"github.com/redis/go-redis/v9"
)

// Session storage in redis, as one hash per browser session. Every write refreshes the hash TTL.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{
		Client: rdb,
		TTL:    ttl,
		Prefix: "tentauth/session/",
	}, nil
}

func (s *RedisStore) Session(sessionID string) auth.SessionStore {
	return &RedisSession{store: s, hashKey: s.Prefix + sessionID}
}

type RedisSession struct {
	store   *RedisStore
	hashKey string
}

func (r *RedisSession) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.store.Client.HGet(ctx, r.hashKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisSession) Set(ctx context.Context, key, value string) error {
	_, err := r.store.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.hashKey, key, value)
		if r.store.TTL > 0 {
			pipe.Expire(ctx, r.hashKey, r.store.TTL)
		}
		return nil
	})
	return err
}

func (r *RedisSession) Delete(ctx context.Context, key string) error {
	return r.store.Client.HDel(ctx, r.hashKey, key).Err()
}
