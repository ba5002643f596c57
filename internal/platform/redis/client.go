package redis

import (
	goredis "github.com/redis/go-redis/v9"
	"github.com/plumehq/plume-jobs/internal/config"
)

// NewClient builds a Redis client from config.
// The caller owns the client and closes it on shutdown.
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
