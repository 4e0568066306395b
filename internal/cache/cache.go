/*
Copyright 2025 CrossCheck Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/crosscheck-finance/crosscheck/config"
	redis_db "github.com/crosscheck-finance/crosscheck/internal/redis-db"
)

// Cache is the read-through cache the database layer puts in front of hot
// session and record lookups.
type Cache interface {
	// Set stores a value under key for the given time-to-live.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get loads the value stored under key into data. A cache miss is not an
	// error; data is simply left untouched.
	Get(ctx context.Context, key string, data interface{}) error

	// Delete removes the value stored under key.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache on Redis with a local in-process layer in
// front, so repeated reads of the same session do not leave the process.
type RedisCache struct {
	cache *cache.Cache
}

// NewCache connects to the configured Redis instance and returns a cache
// handle backed by it.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	ca, err := newRedisCache([]string{fmt.Sprintf("redis://%s", cfg.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	return ca, nil
}

// cacheSize defines the size of the local cache in number of entries.
const cacheSize = 128000

// newRedisCache sets up the Redis-backed cache with a TinyLFU local layer.
func newRedisCache(addresses []string) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient(addresses, false)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})

	return &RedisCache{cache: c}, nil
}

// Set adds a new entry to the cache with a specified key and TTL.
func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

// Get retrieves an entry from the cache based on the provided key. A cache
// miss comes back as a nil error with data untouched.
func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}

	return err
}

// Delete removes an entry from the cache based on the provided key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
