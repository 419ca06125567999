package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind tags a token as usable for API calls or for refresh only.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	ErrMissingSecret  = errors.New("signing secret is not configured")
	ErrInvalidToken   = errors.New("token is malformed or has a bad signature")
	ErrTokenExpired   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("token type does not match expected type")
	ErrNonPositiveTTL = errors.New("token ttl must be positive")
)

// Claims are the authorization claims embedded in an access token.
type Claims struct {
	Role      string `json:"role,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
}

// Subject is the verified content of a token.
type Subject struct {
	Identity  string
	Claims    Claims
	Kind      Kind
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type sessionClaims struct {
	Role      string `json:"role,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	TokenKind string `json:"typ"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens. It holds the process-wide signing
// secret, injected once at construction and immutable afterwards.
type Codec struct {
	secret []byte
}

// NewCodec fails when the secret is empty; callers treat that as a
// startup-time fatal, never a per-request error.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// IssueAccessToken signs a short-lived bearer token carrying the identity and
// its authorization claims. Each token gets a unique ID so two tokens issued
// within the same second are still distinct strings.
func (c *Codec) IssueAccessToken(identity string, claims Claims, ttl time.Duration) (string, error) {
	return c.issue(identity, claims, KindAccess, ttl)
}

// IssueRefreshToken signs a longer-lived token tagged as refresh-only. It
// carries no authorization claims; those are re-read at refresh time.
func (c *Codec) IssueRefreshToken(identity string, ttl time.Duration) (string, error) {
	return c.issue(identity, Claims{}, KindRefresh, ttl)
}

func (c *Codec) issue(identity string, claims Claims, kind Kind, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("%w: %s", ErrNonPositiveTTL, ttl)
	}

	now := time.Now().UTC()
	sc := sessionClaims{
		Role:      claims.Role,
		CompanyID: claims.CompanyID,
		TokenKind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sc).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry, and token kind, in that order of severity.
func (c *Codec) Verify(tokenStr string, kind Kind) (*Subject, error) {
	return c.parse(tokenStr, kind, false)
}

// Decode checks signature and kind but ignores expiry. Logout uses it to
// recover the identity from an access token that may already have lapsed.
func (c *Codec) Decode(tokenStr string, kind Kind) (*Subject, error) {
	return c.parse(tokenStr, kind, true)
}

func (c *Codec) parse(tokenStr string, kind Kind, allowExpired bool) (*Subject, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	sc := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, sc, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if sc.TokenKind != string(kind) {
		return nil, ErrWrongTokenType
	}
	if sc.Subject == "" || sc.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	sub := &Subject{
		Identity:  sc.Subject,
		Claims:    Claims{Role: sc.Role, CompanyID: sc.CompanyID},
		Kind:      Kind(sc.TokenKind),
		TokenID:   sc.ID,
		ExpiresAt: sc.ExpiresAt.Time,
	}
	if sc.IssuedAt != nil {
		sub.IssuedAt = sc.IssuedAt.Time
	}
	return sub, nil
}
