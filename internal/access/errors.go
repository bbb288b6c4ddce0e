package access

import "errors"

var (
	ErrNotFound              = errors.New("access: not found")
	ErrInvalidInput          = errors.New("access: invalid input")
	ErrAccountLocked         = errors.New("access: account locked")
	ErrInvalidCredentials    = errors.New("access: invalid credentials")
	ErrInvalidOrExpiredToken = errors.New("access: invalid or expired token")
	ErrSessionExpired        = errors.New("access: session expired")
)
