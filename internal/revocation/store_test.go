package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), srv
}

func TestRevoke_EntryExpiresWithToken(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "access-token", 42*time.Second))

	revoked, err := store.IsRevoked(ctx, "access-token")
	require.NoError(t, err)
	require.True(t, revoked)
	require.Equal(t, 42*time.Second, srv.TTL(key("access-token")))

	srv.FastForward(42 * time.Second)
	revoked, err = store.IsRevoked(ctx, "access-token")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRevoke_NonPositiveTTLIsNoop(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "expired", 0))
	require.NoError(t, store.Revoke(ctx, "expired", -time.Second))

	require.Empty(t, srv.Keys())
}

func TestIsRevoked_UnknownToken(t *testing.T) {
	store, _ := newTestStore(t)

	revoked, err := store.IsRevoked(context.Background(), "never-revoked")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestKey_DoesNotContainRawToken(t *testing.T) {
	require.NotContains(t, key("eyJhbGciOi.secret.sig"), "secret")
	require.Contains(t, key("x"), keyPrefix)
}
