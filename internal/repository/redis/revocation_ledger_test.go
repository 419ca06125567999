package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"session-service/internal/client"
	"session-service/internal/config"
)

func newTestLedger(t *testing.T) (*RevocationLedger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc, err := client.NewRedisClient(&config.RedisConfig{
		URL:      "redis://" + mr.Addr(),
		PoolSize: 10,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return NewRevocationLedger(rc, zap.NewNop()), mr
}

func TestRefreshTokenStoreFetchDelete(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.FetchRefreshToken(ctx, "u1")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)

	require.NoError(t, ledger.StoreRefreshToken(ctx, "u1", "token-a", time.Hour))

	got, err := ledger.FetchRefreshToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "token-a", got)

	require.NoError(t, ledger.DeleteRefreshToken(ctx, "u1"))

	_, err = ledger.FetchRefreshToken(ctx, "u1")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestStoreRefreshTokenOverwrites(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.StoreRefreshToken(ctx, "u1", "token-a", time.Hour))
	require.NoError(t, ledger.StoreRefreshToken(ctx, "u1", "token-b", time.Hour))

	got, err := ledger.FetchRefreshToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "token-b", got)
}

func TestRefreshTokenExpires(t *testing.T) {
	ledger, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.StoreRefreshToken(ctx, "u1", "token-a", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := ledger.FetchRefreshToken(ctx, "u1")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestBlacklistAccessToken(t *testing.T) {
	ledger, mr := newTestLedger(t)
	ctx := context.Background()

	tokenStr := "header.payload.signature"

	revoked, err := ledger.IsBlacklisted(ctx, tokenStr)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, ledger.BlacklistAccessToken(ctx, tokenStr, time.Minute))

	revoked, err = ledger.IsBlacklisted(ctx, tokenStr)
	require.NoError(t, err)
	assert.True(t, revoked)

	// A different token with the same identity stays clean
	other, err := ledger.IsBlacklisted(ctx, "header.payload.othersig")
	require.NoError(t, err)
	assert.False(t, other)

	// Entry lives only as long as the token it revokes
	mr.FastForward(2 * time.Minute)
	revoked, err = ledger.IsBlacklisted(ctx, tokenStr)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestBlacklistExpiredTokenIsNoop(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.BlacklistAccessToken(ctx, "a.b.c", 0))
	require.NoError(t, ledger.BlacklistAccessToken(ctx, "a.b.c", -time.Minute))

	revoked, err := ledger.IsBlacklisted(ctx, "a.b.c")
	require.NoError(t, err)
	assert.False(t, revoked)
}
