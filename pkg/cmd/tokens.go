package cmd

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tideflow-io/tideflow/pkg/approval"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// NewTokenStore backs approval tokens with Redis when a URL is given, an
// in-process map otherwise.
func NewTokenStore(redisURL string) approval.TokenStore {
	if redisURL == "" {
		return approval.NewMemoryTokenStore()
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("invalid redis URL: %w", err))
	}

	return approval.NewRedisTokenStore(redis.NewClient(options), defaultTokenTTL)
}
