package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName   = "odyssey-consol"
	pingAttempts = 3
)

// New creates a Redis client and waits until it answers a ping. Transient
// startup failures are retried with a linear backoff.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		ClientName:  clientName,
		DialTimeout: 5 * time.Second,
	})

	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return client, nil
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
}
