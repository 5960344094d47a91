package apperrors

import (
	"errors"
)

// Errors visible to callers of the session service
// Handlers map them to status codes and stable error kinds
var (
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrAccountInactive       = errors.New("account is inactive")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrForbidden             = errors.New("forbidden")
	ErrValidation            = errors.New("validation failed")
	ErrEmailNotVerified      = errors.New("email is not verified by identity provider")
	ErrRateLimited           = errors.New("too many requests")
)

// Storage and component level errors
// Never leave the session service unwrapped into one of the errors above, except where noted
var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenRevoked  = errors.New("refresh token is revoked")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")

	ErrResetTokenInvalid = errors.New("reset token is invalid or expired")

	ErrTokenMalformed = errors.New("access token is malformed")
	ErrTokenSignature = errors.New("access token signature is invalid")
	ErrTokenExpired   = errors.New("access token is expired")

	ErrProviderDisabled = errors.New("identity provider is not configured")
	ErrProviderRejected = errors.New("identity provider rejected the token")
)
