package auth

import "errors"

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrConflict        = errors.New("auth: conflict")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")

	ErrSessionNotFound = errors.New("auth: session not found")
	ErrSessionExpired  = errors.New("auth: session expired")

	ErrProvisioningFailed = errors.New("auth: profile provisioning failed")
	ErrInvalidTransition  = errors.New("auth: invalid status transition")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)
