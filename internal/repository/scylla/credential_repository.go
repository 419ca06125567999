package scylla

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"session-service/internal/bucketing"
	"session-service/internal/models"
	"session-service/internal/util"
)

const (
	insertCredentialCQL = `
		INSERT INTO credentials (
			bucket, credential_id, email, email_hash, password_hash,
			role, company_id, active, failed_attempts, locked_until,
			created_at, last_login_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertEmailLookupCQL = `
		INSERT INTO email_to_credential (email_hash, bucket, credential_id, created_at)
		VALUES (?, ?, ?, ?)`

	selectEmailLookupCQL = `
		SELECT bucket, credential_id FROM email_to_credential WHERE email_hash = ?`

	selectCredentialCQL = `
		SELECT bucket, credential_id, email, email_hash, password_hash,
		       role, company_id, active, failed_attempts, locked_until,
		       created_at, last_login_at, updated_at
		FROM credentials WHERE bucket = ? AND credential_id = ?`

	updateLockStateCQL = `
		UPDATE credentials SET failed_attempts = ?, locked_until = ?, updated_at = ?
		WHERE bucket = ? AND credential_id = ?`

	updateLastLoginCQL = `
		UPDATE credentials SET last_login_at = ?, updated_at = ?
		WHERE bucket = ? AND credential_id = ?`
)

// CredentialRepository is the ScyllaDB-backed CredentialStore. Lookups by
// email go through the email_to_credential table; the credentials table is
// partitioned by a murmur3 bucket of the credential id.
type CredentialRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
	logger    *zap.Logger
}

func NewCredentialRepository(client *ScyllaClient, bm *bucketing.BucketingManager, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		client:    client,
		bucketing: bm,
		logger:    logger,
	}
}

func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*models.Credential, error) {
	emailHash := HashEmail(email)

	var bucket int
	var credentialID string
	err := r.client.Session.Query(selectEmailLookupCQL, emailHash).
		WithContext(ctx).Scan(&bucket, &credentialID)
	if err == gocql.ErrNotFound {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}

	return r.fetch(ctx, bucket, credentialID)
}

func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*models.Credential, error) {
	return r.fetch(ctx, r.bucketing.GetUserBucket(id), id)
}

func (r *CredentialRepository) fetch(ctx context.Context, bucket int, id string) (*models.Credential, error) {
	cred := &models.Credential{}
	var lockedUntil, lastLogin, updatedAt time.Time

	err := r.client.Session.Query(selectCredentialCQL, bucket, id).
		WithContext(ctx).Scan(
		&cred.Bucket, &cred.ID, &cred.Email, &cred.EmailHash, &cred.PasswordHash,
		&cred.Role, &cred.CompanyID, &cred.Active, &cred.FailedAttempts, &lockedUntil,
		&cred.CreatedAt, &lastLogin, &updatedAt,
	)
	if err == gocql.ErrNotFound {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch credential: %w", err)
	}

	// Scylla returns zero timestamps for null columns
	if !lockedUntil.IsZero() {
		cred.LockedUntil = &lockedUntil
	}
	if !lastLogin.IsZero() {
		cred.LastLoginAt = &lastLogin
	}
	if !updatedAt.IsZero() {
		cred.UpdatedAt = &updatedAt
	}

	return cred, nil
}

// CreateCredential provisions a credential record plus its email lookup row.
// The service itself only calls this from seeding and test paths; production
// writes come from the registration collaborator.
func (r *CredentialRepository) CreateCredential(ctx context.Context, cred *models.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	cred.Email = NormalizeEmail(cred.Email)
	cred.EmailHash = HashEmail(cred.Email)
	cred.Bucket = r.bucketing.GetUserBucket(cred.ID)
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	err := r.client.Session.Query(insertCredentialCQL,
		cred.Bucket, cred.ID, cred.Email, cred.EmailHash, cred.PasswordHash,
		cred.Role, cred.CompanyID, cred.Active, cred.FailedAttempts, cred.LockedUntil,
		cred.CreatedAt, cred.LastLoginAt, cred.UpdatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}

	err = r.client.Session.Query(insertEmailLookupCQL,
		cred.EmailHash, cred.Bucket, cred.ID, cred.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to insert email lookup: %w", err)
	}

	util.Debug("Credential created",
		zap.String("credential_id", cred.ID),
		zap.Int("bucket", cred.Bucket))

	return nil
}

func (r *CredentialRepository) UpdateLockState(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error {
	err := r.client.Session.Query(updateLockStateCQL,
		attempts, lockedUntil, time.Now().UTC(),
		r.bucketing.GetUserBucket(id), id,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to update lock state: %w", err)
	}
	return nil
}

func (r *CredentialRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	err := r.client.Session.Query(updateLastLoginCQL,
		at, time.Now().UTC(),
		r.bucketing.GetUserBucket(id), id,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// NormalizeEmail lowercases and trims so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail produces the lookup key for the email_to_credential table.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}
