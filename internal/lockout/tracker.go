package lockout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"session-service/internal/models"
	redisrepo "session-service/internal/repository/redis"
	"session-service/internal/repository/scylla"
)

// Tracker implements the per-identity failure state machine: open, counting
// failures, locked until a deadline. Counting happens against the Redis
// counter for atomicity; the resulting state is persisted on the credential
// record, which is what the login path reads.
type Tracker struct {
	credentials scylla.CredentialStore
	cache       *redisrepo.LockoutCache
	maxFails    int
	window      time.Duration
	logger      *zap.Logger
}

func NewTracker(credentials scylla.CredentialStore, cache *redisrepo.LockoutCache, maxFails int, window time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		credentials: credentials,
		cache:       cache,
		maxFails:    maxFails,
		window:      window,
		logger:      logger,
	}
}

// IsLocked reports whether the credential's lock window is still in effect.
// Callers check this before comparing passwords, so attempts against a
// locked account never touch the counter.
func (t *Tracker) IsLocked(cred *models.Credential) bool {
	return cred.LockedUntil != nil && cred.LockedUntil.After(time.Now())
}

// RecordFailure advances the state machine after a wrong password. It
// returns true when this failure tripped the lock.
func (t *Tracker) RecordFailure(ctx context.Context, cred *models.Credential) (bool, error) {
	now := time.Now().UTC()

	// A lapsed lock restarts the window at a single attempt.
	if cred.LockedUntil != nil && !cred.LockedUntil.After(now) {
		if err := t.cache.SetFailures(ctx, cred.ID, 1, t.window); err != nil {
			t.logger.Warn("lockout cache unreachable, counter not reset",
				zap.String("identity", cred.ID),
				zap.Error(err))
		}
		if err := t.credentials.UpdateLockState(ctx, cred.ID, 1, nil); err != nil {
			return false, fmt.Errorf("failed to restart lockout window: %w", err)
		}
		return false, nil
	}

	attempts, err := t.cache.IncrementFailures(ctx, cred.ID, t.window)
	if err != nil {
		// Degraded path: fall back to the persisted counter. Not atomic, so
		// concurrent failures may undercount while the cache is down.
		t.logger.Warn("lockout cache unreachable, falling back to stored counter",
			zap.String("identity", cred.ID),
			zap.Error(err))
		attempts = cred.FailedAttempts + 1
	}

	if attempts >= t.maxFails {
		until := now.Add(t.window)
		if err := t.cache.ResetFailures(ctx, cred.ID); err != nil {
			t.logger.Warn("failed to clear lockout counter after lock",
				zap.String("identity", cred.ID),
				zap.Error(err))
		}
		if err := t.credentials.UpdateLockState(ctx, cred.ID, attempts, &until); err != nil {
			return false, fmt.Errorf("failed to persist lock: %w", err)
		}
		t.logger.Info("account locked after repeated failures",
			zap.String("identity", cred.ID),
			zap.Int("attempts", attempts),
			zap.Time("locked_until", until))
		return true, nil
	}

	if err := t.credentials.UpdateLockState(ctx, cred.ID, attempts, nil); err != nil {
		return false, fmt.Errorf("failed to persist failure count: %w", err)
	}
	return false, nil
}

// RecordSuccess clears the counter and any lock, and stamps last login.
func (t *Tracker) RecordSuccess(ctx context.Context, cred *models.Credential) error {
	if err := t.cache.ResetFailures(ctx, cred.ID); err != nil {
		t.logger.Warn("failed to clear lockout counter after login",
			zap.String("identity", cred.ID),
			zap.Error(err))
	}
	if err := t.credentials.UpdateLockState(ctx, cred.ID, 0, nil); err != nil {
		return fmt.Errorf("failed to clear lock state: %w", err)
	}
	if err := t.credentials.UpdateLastLogin(ctx, cred.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}
