// Package rediscache holds the redis-backed helpers shared by workers polling
// the same upstream: the snapshot cache, the request budget and the poll lease.
package rediscache

import (
	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}
