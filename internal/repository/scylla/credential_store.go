package scylla

import (
	"context"
	"errors"
	"time"

	"session-service/internal/models"
)

// ErrCredentialNotFound is returned for both an unknown email and an unknown
// id; the service layer conflates it with a wrong password to avoid
// enumeration.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialStore is the contract this service consumes from the credential
// collaborator. Only the lock-state and last-login fields are ever written
// here; everything else is owned by the registration side.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Credential, error)
	FindByID(ctx context.Context, id string) (*models.Credential, error)
	CreateCredential(ctx context.Context, cred *models.Credential) error
	UpdateLockState(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}
