package core

import "errors"

var (
	// ErrAccountNotFound is returned when no account exists for a wallet address.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountLocked is returned while an account's lockout window is active.
	ErrAccountLocked = errors.New("account is locked")

	// ErrInvalidAddress is returned for a malformed wallet address. This is a
	// client input error, not a failed verification, and never counts toward
	// the lockout threshold.
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrInvalidToken is returned for any malformed, mis-signed or expired
	// token. Callers get no finer-grained reason.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnauthorized is the collapsed terminal failure for bad signatures and
	// bad or superseded refresh tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRefreshTokenNotFound is returned when no live refresh token record
	// exists for an account.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrConflict is returned when an account update loses an optimistic
	// concurrency check against a concurrent attempt.
	ErrConflict = errors.New("concurrent account update")
)
