package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pettrack-auth/internal/kv"
	"pettrack-auth/internal/token"
)

const (
	recordPrefix = "refresh_token:"
	indexPrefix  = "refresh_token:index:"
)

var ErrNotFound = errors.New("refresh token not found")

// deleteScript removes the index entry and then the principal record, but
// only while the record still belongs to the same token. A caller that finds
// the index already gone has lost a concurrent rotation.
var deleteScript = redis.NewScript(`
if redis.call('DEL', KEYS[2]) == 0 then
  return 0
end
if redis.call('HGET', KEYS[1], 'digest') == ARGV[1] then
  redis.call('DEL', KEYS[1])
end
return 1
`)

type Record struct {
	PrincipalID string
	Role        token.Role
	Digest      string
	ExpiresAt   time.Time
}

// Store keeps at most one refresh token per principal. Records are keyed
// by principal id and indexed by the token digest.
type Store struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewStore(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
}

// Save replaces whatever record the principal had, index included.
func (s *Store) Save(ctx context.Context, principalID, refreshToken string, role token.Role, ttl time.Duration) error {
	recordKey := recordPrefix + principalID

	previous, err := s.rdb.HGet(ctx, recordKey, "digest").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load previous refresh record: %w", err)
	}

	digest := kv.Digest(refreshToken)
	expiresAt := s.now().Add(ttl)

	pipe := s.rdb.TxPipeline()
	if previous != "" {
		pipe.Del(ctx, indexPrefix+previous)
	}
	pipe.Del(ctx, recordKey)
	pipe.HSet(ctx, recordKey, map[string]any{
		"principal_id": principalID,
		"role":         string(role),
		"digest":       digest,
		"expires_at":   strconv.FormatInt(expiresAt.Unix(), 10),
	})
	pipe.Expire(ctx, recordKey, ttl)
	pipe.Set(ctx, indexPrefix+digest, principalID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save refresh record: %w", err)
	}
	return nil
}

func (s *Store) FindByValue(ctx context.Context, refreshToken string) (*Record, error) {
	digest := kv.Digest(refreshToken)

	principalID, err := s.rdb.Get(ctx, indexPrefix+digest).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup refresh index: %w", err)
	}

	record, err := s.FindByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if record.Digest != digest {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *Store) FindByPrincipal(ctx context.Context, principalID string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, recordPrefix+principalID).Result()
	if err != nil {
		return nil, fmt.Errorf("load refresh record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	expUnix, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode refresh record expiry: %w", err)
	}

	return &Record{
		PrincipalID: fields["principal_id"],
		Role:        token.Role(fields["role"]),
		Digest:      fields["digest"],
		ExpiresAt:   time.Unix(expUnix, 0).UTC(),
	}, nil
}

// Delete returns ErrNotFound when another request already consumed the record.
func (s *Store) Delete(ctx context.Context, record *Record) error {
	removed, err := deleteScript.Run(ctx, s.rdb,
		[]string{recordPrefix + record.PrincipalID, indexPrefix + record.Digest},
		record.Digest,
	).Int()
	if err != nil {
		return fmt.Errorf("delete refresh record: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}
