package service

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"session-service/internal/client"
	"session-service/internal/config"
	"session-service/internal/events"
	"session-service/internal/lockout"
	"session-service/internal/models"
	redisrepo "session-service/internal/repository/redis"
	"session-service/internal/repository/scylla"
	"session-service/internal/token"
)

const testPassword = "correct-horse-battery"

type fakeCredentialStore struct {
	mu    sync.Mutex
	creds map[string]*models.Credential
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]*models.Credential)}
}

func (f *fakeCredentialStore) FindByEmail(_ context.Context, email string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.creds {
		if c.Email == scylla.NormalizeEmail(email) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, scylla.ErrCredentialNotFound
}

func (f *fakeCredentialStore) FindByID(_ context.Context, id string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return nil, scylla.ErrCredentialNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCredentialStore) CreateCredential(_ context.Context, cred *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred.Email = scylla.NormalizeEmail(cred.Email)
	copied := *cred
	f.creds[cred.ID] = &copied
	return nil
}

func (f *fakeCredentialStore) UpdateLockState(_ context.Context, id string, attempts int, lockedUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return scylla.ErrCredentialNotFound
	}
	c.FailedAttempts = attempts
	c.LockedUntil = lockedUntil
	return nil
}

func (f *fakeCredentialStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return scylla.ErrCredentialNotFound
	}
	c.LastLoginAt = &at
	return nil
}

type testEnv struct {
	service *SessionService
	store   *fakeCredentialStore
	mr      *miniredis.Miniredis
	ctx     context.Context
}

func newTestEnv(t *testing.T) *testEnv {
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

	codec, err := token.NewCodec("test-secret")
	require.NoError(t, err)

	logger := zap.NewNop()
	store := newFakeCredentialStore()
	ledger := redisrepo.NewRevocationLedger(rc, logger)
	cache := redisrepo.NewLockoutCache(rc, logger)
	tracker := lockout.NewTracker(store, cache, 5, 2*time.Hour, logger)
	publisher := events.NewPublisher(nil, "", logger)

	svc := NewSessionService(store, codec, ledger, tracker, publisher,
		15*time.Minute, 24*time.Hour, logger)

	return &testEnv{
		service: svc,
		store:   store,
		mr:      mr,
		ctx:     context.Background(),
	}
}

func (e *testEnv) seedUser(t *testing.T, id, email string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, e.store.CreateCredential(e.ctx, &models.Credential{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "member",
		CompanyID:    "company-1",
		Active:       true,
	}))
}

func TestLoginIssuesUsableTokenPair(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "u1", result.Identity)
	assert.Equal(t, "member", result.Role)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)

	auth, err := env.service.Authorize(env.ctx, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", auth.Identity)
	assert.Equal(t, "member", auth.Claims.Role)
	assert.Equal(t, "company-1", auth.Claims.CompanyID)

	_, err = env.service.Refresh(env.ctx, result.RefreshToken)
	require.NoError(t, err)
}

func TestLoginIsCaseInsensitiveOnEmail(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	_, err := env.service.Login(env.ctx, "U1@Example.COM", testPassword)
	require.NoError(t, err)
}

func TestLoginUnknownUserAndWrongPasswordAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	_, errUnknown := env.service.Login(env.ctx, "ghost@example.com", testPassword)
	_, errWrong := env.service.Login(env.ctx, "u1@example.com", "wrong-password")

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLoginDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")
	env.store.creds["u1"].Active = false

	_, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	assert.ErrorIs(t, err, ErrAccountDeactivated)
}

func TestFiveFailuresLockEvenCorrectPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	for i := 0; i < 5; i++ {
		_, err := env.service.Login(env.ctx, "u1@example.com", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestLockedAccountDoesNotCountFurtherAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	for i := 0; i < 5; i++ {
		_, _ = env.service.Login(env.ctx, "u1@example.com", "wrong-password")
	}

	cred, err := env.store.FindByID(env.ctx, "u1")
	require.NoError(t, err)
	attemptsWhenLocked := cred.FailedAttempts

	_, err = env.service.Login(env.ctx, "u1@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrAccountLocked)

	cred, err = env.store.FindByID(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, attemptsWhenLocked, cred.FailedAttempts)
}

func TestSuccessfulLoginResetsCounter(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	for i := 0; i < 4; i++ {
		_, _ = env.service.Login(env.ctx, "u1@example.com", "wrong-password")
	}

	_, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	cred, err := env.store.FindByID(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, cred.FailedAttempts)
	assert.Nil(t, cred.LockedUntil)

	// Account is immediately usable again
	_, err = env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)
}

func TestLapsedLockAllowsLoginAndClearsState(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u2", "u2@example.com")

	// Lock deadline is already behind us
	past := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, env.store.UpdateLockState(env.ctx, "u2", 5, &past))

	result, err := env.service.Login(env.ctx, "u2@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "u2", result.Identity)

	cred, err := env.store.FindByID(env.ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, cred.FailedAttempts)
	assert.Nil(t, cred.LockedUntil)
}

func TestActiveLockRejectsCorrectPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u2", "u2@example.com")

	until := time.Now().Add(time.Hour).UTC()
	require.NoError(t, env.store.UpdateLockState(env.ctx, "u2", 5, &until))

	_, err := env.service.Login(env.ctx, "u2@example.com", testPassword)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	second, err := env.service.Refresh(env.ctx, result.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, result.RefreshToken, second.RefreshToken)

	// The rotated-out token is unusable even though it has not expired
	_, err = env.service.Refresh(env.ctx, result.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// The replacement keeps working
	_, err = env.service.Refresh(env.ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsGarbageAndAccessTokens(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	_, err = env.service.Refresh(env.ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.service.Refresh(env.ctx, result.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshAfterLogoutFails(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.service.Logout(env.ctx, result.AccessToken))

	_, err = env.service.Refresh(env.ctx, result.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRefreshDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	env.store.creds["u1"].Active = false

	_, err = env.service.Refresh(env.ctx, result.RefreshToken)
	assert.ErrorIs(t, err, ErrAccountDeactivated)
}

func TestLogoutRevokesOnlyThatAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	first, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)
	second, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.service.Logout(env.ctx, first.AccessToken))

	_, err = env.service.Authorize(env.ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// Other still-valid tokens for the same identity are untouched
	auth, err := env.service.Authorize(env.ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", auth.Identity)
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.service.Logout(env.ctx, result.AccessToken))
	require.NoError(t, env.service.Logout(env.ctx, result.AccessToken))
}

func TestLogoutRejectsForgedToken(t *testing.T) {
	env := newTestEnv(t)

	err := env.service.Logout(env.ctx, "forged.token.value")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthorizeRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Authorize(env.ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshSurvivesLedgerOutage(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	// Ledger becomes unreachable: refresh relaxes to signature-only
	// validation instead of failing the flow.
	env.mr.Close()

	pair, err := env.service.Refresh(env.ctx, result.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestLogoutSurvivesLedgerOutage(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	env.mr.Close()

	assert.NoError(t, env.service.Logout(env.ctx, result.AccessToken))
}

func TestAuthorizeSurvivesLedgerOutage(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	result, err := env.service.Login(env.ctx, "u1@example.com", testPassword)
	require.NoError(t, err)

	env.mr.Close()

	auth, err := env.service.Authorize(env.ctx, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", auth.Identity)
}

func TestLockoutStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "u1@example.com")

	for i := 0; i < 2; i++ {
		_, _ = env.service.Login(env.ctx, "u1@example.com", "wrong-password")
	}

	state, err := env.service.LockoutStatus(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, state.Attempts)
	assert.Nil(t, state.LockedUntil)
	assert.False(t, state.Locked(time.Now()))
}
