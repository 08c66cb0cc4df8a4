// Package errs contains sentinel errors and typed error kinds used across layers
// for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCode indicates an unknown, used or expired emailed code.
	ErrInvalidCode = errors.New("invalid code")

	// ErrUnverified indicates correct credentials for an account whose email
	// is not confirmed yet.
	ErrUnverified = errors.New("email not verified")

	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation")
)
