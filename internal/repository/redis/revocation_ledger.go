package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"session-service/internal/client"
	"session-service/internal/util"
)

const (
	refreshTokenPrefix = "refresh_token:"
	blacklistPrefix    = "token_blacklist:"

	ledgerTimeout = 3 * time.Second
)

// ErrRefreshTokenNotFound means the ledger is reachable and holds no token
// for that identity: the token was rotated out or deleted at logout. Any
// other error means the ledger could not be consulted at all.
var ErrRefreshTokenNotFound = errors.New("no refresh token stored for identity")

// RevocationLedger tracks the single outstanding refresh token per identity
// and the blacklist of revoked access tokens. Entries expire with the token
// they guard; nothing here is durable state.
type RevocationLedger struct {
	client *client.RedisClient
	logger *zap.Logger
}

func NewRevocationLedger(client *client.RedisClient, logger *zap.Logger) *RevocationLedger {
	return &RevocationLedger{client: client, logger: logger}
}

// StoreRefreshToken overwrites any prior token for the identity, which is
// what enforces the single-active-refresh-token invariant.
func (l *RevocationLedger) StoreRefreshToken(ctx context.Context, identity, tokenStr string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	if err := l.client.Set(ctx, refreshTokenPrefix+identity, tokenStr, ttl); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	util.Debug("Refresh token stored",
		zap.String("identity", identity),
		zap.Duration("ttl", ttl))
	return nil
}

func (l *RevocationLedger) FetchRefreshToken(ctx context.Context, identity string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	val, err := l.client.Get(ctx, refreshTokenPrefix+identity)
	if errors.Is(err, goredis.Nil) {
		return "", ErrRefreshTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch refresh token: %w", err)
	}
	return val, nil
}

func (l *RevocationLedger) DeleteRefreshToken(ctx context.Context, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	if err := l.client.Del(ctx, refreshTokenPrefix+identity); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// BlacklistAccessToken records a revoked access token for the remainder of
// its validity. A non-positive ttl means the token is already expired and
// there is nothing left to revoke.
func (l *RevocationLedger) BlacklistAccessToken(ctx context.Context, tokenStr string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	key := blacklistPrefix + tokenSignature(tokenStr)
	if err := l.client.Set(ctx, key, "1", ttl); err != nil {
		return fmt.Errorf("failed to blacklist access token: %w", err)
	}
	util.Debug("Access token blacklisted", zap.Duration("ttl", ttl))
	return nil
}

func (l *RevocationLedger) IsBlacklisted(ctx context.Context, tokenStr string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	exists, err := l.client.Exists(ctx, blacklistPrefix+tokenSignature(tokenStr))
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

// tokenSignature keys the blacklist on the JWT signature segment rather than
// the full token, keeping keys short while staying unique per token.
func tokenSignature(tokenStr string) string {
	if i := strings.LastIndexByte(tokenStr, '.'); i >= 0 && i+1 < len(tokenStr) {
		return tokenStr[i+1:]
	}
	return tokenStr
}
