package auth

import "errors"

// Domain errors for credential checks.
var (
	ErrTokenInvalid  = errors.New("invalid token")
	ErrInvalidHash   = errors.New("invalid secret hash")
	ErrSecretTooWeak = errors.New("secret too short")
)
