// Package rediscli constructs the single shared Redis client used by the
// job queue, the RBAC cache, the idempotency store, and the rate limiter.
// Reachability is verified with a ping at construction so a dead backend
// is detected at startup, not on the first request.
package rediscli

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/brightcampus/schoolcore/pkg/config"
)

// New connects to Redis using cfg and verifies reachability with a ping.
func New(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}
