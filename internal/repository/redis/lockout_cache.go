package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"session-service/internal/client"
	"session-service/internal/util"
)

const failedLoginPrefix = "failed_logins:"

// LockoutCache holds the per-identity failed-login counters. The increment
// is a single transactional INCR+EXPIRE so simultaneous wrong-password
// submissions cannot lose an update.
type LockoutCache struct {
	client *client.RedisClient
	logger *zap.Logger
}

func NewLockoutCache(client *client.RedisClient, logger *zap.Logger) *LockoutCache {
	return &LockoutCache{client: client, logger: logger}
}

// IncrementFailures bumps the counter atomically and returns the new count.
// The window TTL is refreshed on every failure.
func (c *LockoutCache) IncrementFailures(ctx context.Context, identity string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, failedLoginPrefix+identity, window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment login failures: %w", err)
	}

	util.Debug("Login failure recorded",
		zap.String("identity", identity),
		zap.Int64("count", count))

	return int(count), nil
}

// SetFailures pins the counter to an exact value; used when an expired lock
// window restarts counting at one.
func (c *LockoutCache) SetFailures(ctx context.Context, identity string, count int, window time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	if err := c.client.Set(ctx, failedLoginPrefix+identity, count, window); err != nil {
		return fmt.Errorf("failed to set login failures: %w", err)
	}
	return nil
}

// ResetFailures clears the counter after a successful login.
func (c *LockoutCache) ResetFailures(ctx context.Context, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	if err := c.client.Del(ctx, failedLoginPrefix+identity); err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	return nil
}
