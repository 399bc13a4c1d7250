package providers

import (
	"fmt"

	"github.com/go-redis/redis/v8"
)

// NewRedisProvider builds a client from a redis:// or rediss:// URL.
// The client connects lazily; callers own it and must Close it.
func NewRedisProvider(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
