package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claims is a set of single-use keys shared by every relay process.
type Claims struct {
	rdb    *redis.Client
	prefix string
}

func NewClaims(rdb *redis.Client, prefix string) *Claims {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Claims{rdb: rdb, prefix: prefix}
}

func (c *Claims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, c.prefix+claimKeyPart+key, 1, ttl).Result()
}
