package models

import "time"

// Credential is the stored login identity. The record itself is owned by the
// registration side of the system; this service only reads it and patches the
// lock-state and last-login fields.
type Credential struct {
	Bucket         int        `db:"bucket"`
	ID             string     `db:"credential_id"`
	Email          string     `db:"email"`
	EmailHash      string     `db:"email_hash"`
	PasswordHash   string     `db:"password_hash"`
	Role           string     `db:"role"`
	CompanyID      string     `db:"company_id"`
	Active         bool       `db:"active"`
	FailedAttempts int        `db:"failed_attempts"`
	LockedUntil    *time.Time `db:"locked_until"`
	CreatedAt      time.Time  `db:"created_at"`
	LastLoginAt    *time.Time `db:"last_login_at"`
	UpdatedAt      *time.Time `db:"updated_at"`
}

// LockoutState is the derived view of a credential's failure tracking.
type LockoutState struct {
	Attempts    int        `json:"attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// Locked reports whether the lock window is still in effect at the given time.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}
