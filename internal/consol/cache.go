package consol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const bumpChannel = "consol.bump"

// Cache keeps serialized workings in Redis under a per (group, period) version.
// Bumping the version invalidates every cached payload of that scope.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(groupID int64, period string) string {
	return fmt.Sprintf("consol:version:%d:%s", groupID, period)
}

// Version returns the current version of a scope, initialising when missing.
func (c *Cache) Version(ctx context.Context, groupID int64, period string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(groupID, period)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the cache key of a payload with the scope's current version.
func (c *Cache) Key(ctx context.Context, kind string, groupID int64, period string) (string, error) {
	ver, err := c.Version(ctx, groupID, period)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("consol:%s:%d:%s:v%d", kind, groupID, period, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. The second
// return value reports a cache hit.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) (bool, error) {
	if loader == nil {
		return false, errors.New("consol cache: loader required")
	}
	if c != nil && c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return true, json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return false, err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	if c != nil && c.client != nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return false, err
		}
	}
	return false, json.Unmarshal(raw, dest)
}

// Bump invalidates a scope by incrementing its version and publishing the
// scope on the bump channel.
func (c *Cache) Bump(ctx context.Context, groupID int64, period string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(groupID, period)).Result()
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("%d:%s:%s", groupID, period, strconv.FormatInt(ver, 10))
	return c.client.Publish(ctx, bumpChannel, msg).Err()
}

// Subscribe calls fn for every bump published by any instance until ctx ends.
func (c *Cache) Subscribe(ctx context.Context, fn func(payload string)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn(msg.Payload)
			}
		}
	}()
	return nil
}
