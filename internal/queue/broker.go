package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"farm-jobs/internal/config"
)

// Connect opens the process-wide broker client and verifies it is reachable.
// The client is shared by every queue and released once on shutdown.
func Connect(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}
