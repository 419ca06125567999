package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"session-service/internal/events"
	"session-service/internal/lockout"
	"session-service/internal/models"
	redisrepo "session-service/internal/repository/redis"
	"session-service/internal/repository/scylla"
	"session-service/internal/token"
)

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult carries the token pair plus the identity it was issued to.
type LoginResult struct {
	TokenPair
	Identity  string `json:"identity"`
	Role      string `json:"role,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
}

// AuthContext is what the authorize middleware attaches to a request.
type AuthContext struct {
	Identity string
	Claims   token.Claims
}

// SessionService orchestrates login, refresh, logout, and per-request
// authorization. Trust policy: the credential store is authoritative and its
// failures abort the flow; the revocation ledger is a best-effort cache and
// its outages degrade (logged, flow continues), except that refresh then
// falls back to signature-only validation.
type SessionService struct {
	credentials scylla.CredentialStore
	codec       *token.Codec
	ledger      *redisrepo.RevocationLedger
	lockouts    *lockout.Tracker
	events      *events.Publisher
	accessTTL   time.Duration
	refreshTTL  time.Duration
	logger      *zap.Logger
}

func NewSessionService(
	credentials scylla.CredentialStore,
	codec *token.Codec,
	ledger *redisrepo.RevocationLedger,
	lockouts *lockout.Tracker,
	publisher *events.Publisher,
	accessTTL, refreshTTL time.Duration,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		credentials: credentials,
		codec:       codec,
		ledger:      ledger,
		lockouts:    lockouts,
		events:      publisher,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		logger:      logger,
	}
}

// Login verifies credentials and issues a fresh token pair. Check order
// matters: lock state is evaluated before the password so attempts against a
// locked account are rejected without touching the counter.
func (s *SessionService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	cred, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrCredentialNotFound) {
			s.events.Publish(ctx, events.LoginFailed, "")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	if s.lockouts.IsLocked(cred) {
		s.events.Publish(ctx, events.LoginRejected, cred.ID)
		return nil, ErrAccountLocked
	}

	if !cred.Active {
		return nil, ErrAccountDeactivated
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		locked, trackErr := s.lockouts.RecordFailure(ctx, cred)
		if trackErr != nil {
			s.logger.Error("failed to record login failure",
				zap.String("identity", cred.ID),
				zap.Error(trackErr))
		}
		if locked {
			s.events.Publish(ctx, events.AccountLocked, cred.ID)
		} else {
			s.events.Publish(ctx, events.LoginFailed, cred.ID)
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.lockouts.RecordSuccess(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to clear lockout state: %w", err)
	}

	pair, err := s.issuePair(ctx, cred)
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.LoginSucceeded, cred.ID)

	return &LoginResult{
		TokenPair: *pair,
		Identity:  cred.ID,
		Role:      cred.Role,
		CompanyID: cred.CompanyID,
	}, nil
}

// Refresh rotates the refresh token: the presented token must match the one
// stored in the ledger, and storing the replacement makes the old one
// unusable. If two refresh calls race, last write wins and the loser fails
// with ErrTokenRevoked on its next use.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	sub, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, mapTokenError(err)
	}

	stored, err := s.ledger.FetchRefreshToken(ctx, sub.Identity)
	switch {
	case errors.Is(err, redisrepo.ErrRefreshTokenNotFound):
		return nil, ErrTokenRevoked
	case err != nil:
		// Documented trust relaxation: with the ledger down we cannot confirm
		// rotation state, so the signed token alone is accepted.
		s.logger.Warn("revocation ledger unreachable, accepting refresh token on signature alone",
			zap.String("identity", sub.Identity),
			zap.Error(err))
	case stored != refreshToken:
		return nil, ErrTokenRevoked
	}

	cred, err := s.credentials.FindByID(ctx, sub.Identity)
	if err != nil {
		if errors.Is(err, scylla.ErrCredentialNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}
	if !cred.Active {
		return nil, ErrAccountDeactivated
	}

	pair, err := s.issuePair(ctx, cred)
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.TokenRefreshed, cred.ID)
	return pair, nil
}

// Logout revokes the session: the stored refresh token is deleted and the
// presented access token is blacklisted for its remaining lifetime. Ledger
// failures are absorbed, and a second logout with the same token is a no-op,
// so the call is idempotent.
func (s *SessionService) Logout(ctx context.Context, accessToken string) error {
	// Expiry is deliberately ignored here; an expired access token can still
	// name the identity whose refresh token must go.
	sub, err := s.codec.Decode(accessToken, token.KindAccess)
	if err != nil {
		return mapTokenError(err)
	}

	if err := s.ledger.DeleteRefreshToken(ctx, sub.Identity); err != nil {
		s.logger.Warn("failed to delete refresh token at logout",
			zap.String("identity", sub.Identity),
			zap.Error(err))
	}

	remaining := time.Until(sub.ExpiresAt)
	if err := s.ledger.BlacklistAccessToken(ctx, accessToken, remaining); err != nil {
		s.logger.Warn("failed to blacklist access token at logout",
			zap.String("identity", sub.Identity),
			zap.Error(err))
	}

	s.events.Publish(ctx, events.LoggedOut, sub.Identity)
	return nil
}

// Authorize validates an access token for a protected call: signature and
// expiry first, then a single blacklist lookup. This runs on every protected
// request, so it touches nothing but the cache.
func (s *SessionService) Authorize(ctx context.Context, accessToken string) (*AuthContext, error) {
	sub, err := s.codec.Verify(accessToken, token.KindAccess)
	if err != nil {
		return nil, mapTokenError(err)
	}

	revoked, err := s.ledger.IsBlacklisted(ctx, accessToken)
	if err != nil {
		// Availability over strictness while the cache is down; malformed
		// tokens still fail closed above.
		s.logger.Warn("blacklist check unavailable, accepting token on signature alone",
			zap.Error(err))
	} else if revoked {
		return nil, ErrTokenRevoked
	}

	return &AuthContext{Identity: sub.Identity, Claims: sub.Claims}, nil
}

// LockoutStatus reports the caller's own failure count and lock deadline.
// Exposed only through an authenticated channel, never to anonymous callers.
func (s *SessionService) LockoutStatus(ctx context.Context, identity string) (*models.LockoutState, error) {
	cred, err := s.credentials.FindByID(ctx, identity)
	if err != nil {
		if errors.Is(err, scylla.ErrCredentialNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}
	return &models.LockoutState{
		Attempts:    cred.FailedAttempts,
		LockedUntil: cred.LockedUntil,
	}, nil
}

func (s *SessionService) issuePair(ctx context.Context, cred *models.Credential) (*TokenPair, error) {
	access, err := s.codec.IssueAccessToken(cred.ID, token.Claims{
		Role:      cred.Role,
		CompanyID: cred.CompanyID,
	}, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refresh, err := s.codec.IssueRefreshToken(cred.ID, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	// Best effort: a failed write leaves the previous token valid until the
	// next successful rotation, which the trust policy accepts.
	if err := s.ledger.StoreRefreshToken(ctx, cred.ID, refresh, s.refreshTTL); err != nil {
		s.logger.Warn("failed to store refresh token",
			zap.String("identity", cred.ID),
			zap.Error(err))
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrWrongTokenType):
		return ErrInvalidToken
	default:
		return ErrInvalidToken
	}
}
