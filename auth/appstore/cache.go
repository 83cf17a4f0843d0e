package appstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tent/tent-go/auth"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// prefix for all the cache keys
var cachePrefix = "tentauth/app/"

// Read-through cache in front of another [AppStore]. Uses an in-process LFU, plus redis if
// a client is provided.
type CachedStore struct {
	Inner AppStore
	TTL   time.Duration

	cache *cache.Cache
}

var _ AppStore = (*CachedStore)(nil)

// `rdb` may be nil, for an in-process cache only.
func NewCachedStore(inner AppStore, rdb *redis.Client, ttl time.Duration, lruSize int) *CachedStore {
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(lruSize, ttl),
	}
	if rdb != nil {
		opts.Redis = rdb
	}
	return &CachedStore{
		Inner: inner,
		TTL:   ttl,
		cache: cache.New(opts),
	}
}

func (c *CachedStore) GetApp(ctx context.Context, entity string) (*auth.AppRegistration, error) {
	var app auth.AppRegistration
	err := c.cache.Get(ctx, cachePrefix+entity, &app)
	if err == nil {
		return &app, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("app cache read failed", "entity", entity, "err", err)
	}

	found, err := c.Inner.GetApp(ctx, entity)
	if err != nil || found == nil {
		return found, err
	}
	c.set(ctx, entity, found)
	return found, nil
}

func (c *CachedStore) SaveApp(ctx context.Context, app *auth.AppRegistration, entity string) error {
	if err := c.Inner.SaveApp(ctx, app, entity); err != nil {
		return err
	}
	c.set(ctx, entity, app)
	return nil
}

func (c *CachedStore) DeleteApp(ctx context.Context, entity string) error {
	if err := c.cache.Delete(ctx, cachePrefix+entity); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return err
	}
	return c.Inner.DeleteApp(ctx, entity)
}

func (c *CachedStore) set(ctx context.Context, entity string, app *auth.AppRegistration) {
	err := c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   cachePrefix + entity,
		Value: app,
		TTL:   c.TTL,
	})
	if err != nil {
		slog.Error("app cache write failed", "entity", entity, "err", err)
	}
}
