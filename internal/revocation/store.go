package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pettrack-auth/internal/kv"
)

const keyPrefix = "blacklist:"

// Store is the access-token denylist. Entries live exactly as long as the
// token they revoke would have.
type Store struct {
	rdb redis.Cmdable
}

func NewStore(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) IsRevoked(ctx context.Context, accessToken string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key(accessToken)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// Revoke is a no-op for tokens with no remaining validity.
func (s *Store) Revoke(ctx context.Context, accessToken string, remaining time.Duration) error {
	if remaining <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, key(accessToken), "revoked", remaining).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func key(accessToken string) string {
	return keyPrefix + kv.Digest(accessToken)
}
