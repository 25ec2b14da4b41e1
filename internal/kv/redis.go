// Package kv owns the Redis connection shared by the rate limiter, the
// session store, the revocation list and verification codes.
package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func Open(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Digest returns the hex sha256 of a token so raw credentials never appear in keys.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// IncrWithin increments a counter in one round trip. The first increment
// starts the expiry and later ones leave it untouched.
func IncrWithin(ctx context.Context, rdb redis.Scripter, key string, ttl time.Duration) (int64, error) {
	return incrScript.Run(ctx, rdb, []string{key}, ttl.Milliseconds()).Int64()
}
