package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked indicates another holder owns the lock.
var ErrLocked = errors.New("platform/cache: lock held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock acquires a short lived exclusive lock on key. The returned release
// function only deletes the key while it still holds this holder's token.
func Lock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (func(context.Context) error, error) {
	if client == nil {
		return func(context.Context) error { return nil }, nil
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, client, []string{key}, token).Err()
	}, nil
}
