package service

import "errors"

// Failure taxonomy returned by the session flows. InvalidCredentials covers
// both an unknown email and a wrong password so callers cannot enumerate
// accounts.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
)
