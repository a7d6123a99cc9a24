package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenDuplicate = errors.New("refresh token already exists")

	// Storage transaction lost a race with a concurrent writer and may be retried
	ErrConcurrentUpdate = errors.New("concurrent update")

	// Any failure of token decoding: malformed, bad signature, wrong issuer, expired
	ErrTokenInvalid = errors.New("token verification failed")
)

// Authentication rejections.
// Every kind wraps ErrUnauthorized, so transport layer may render them the same way.
var (
	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidToken     = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrTokenExpired     = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrSubjectMismatch  = fmt.Errorf("%w: subject mismatch", ErrUnauthorized)
	ErrHandshakeRefused = fmt.Errorf("%w: handshake refused", ErrUnauthorized)
)
