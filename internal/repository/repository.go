package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/models"
)

// Storage gives access to all repositories and allows to run them in one transaction
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction. Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

type CreateUserParams struct {
	Email          string
	Name           string
	AvatarURL      string
	Provider       string
	ProviderID     *string
	HashedPassword *string
	Role           string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the email (case-insensitive) or provider id exists has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id, email or external provider id
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByProviderID(ctx context.Context, provider string, providerID string) (models.User, error)

	// Lock user row till the transaction end
	// Serializes token rotation and revocation for one user
	LockUser(ctx context.Context, userID uuid.UUID) (models.User, error)

	// Set password hash. Pending password reset grant is cleared
	SetPassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error

	SetActive(ctx context.Context, userID uuid.UUID, active bool) (models.User, error)
	TouchLogin(ctx context.Context, userID uuid.UUID, at time.Time) error

	// Has to return apperrors.ErrUserAlreadyExists if the account is linked already or the identity belongs to another one
	LinkProvider(ctx context.Context, userID uuid.UUID, provider string, providerID string) (models.User, error)

	// Store hash of reset token; replaces the previous grant if any
	SetResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error

	// Find the user by not expired reset token hash and clear the grant in one statement
	// If nothing matched must return apperrors.ErrResetTokenInvalid
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (models.User, error)
}

type RevokeParams struct {
	TokenHash      string
	RevokedAt      time.Time
	RevokedByIP    string
	ReplacedByHash *string
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Create token in repository
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token even it revoked or expired
	// If not found must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Revoke active token. Check and update has to be atomic
	// If token revoked already: apperrors.ErrRefreshTokenRevoked, must not overwrite existing revocation
	// If token expired: apperrors.ErrRefreshTokenExpired
	// If token not found: apperrors.ErrRefreshTokenNotFound
	Revoke(ctx context.Context, params RevokeParams) (models.RefreshToken, error)

	// Revoke all active tokens of the user. Returns number of revoked tokens
	RevokeAll(ctx context.Context, userID uuid.UUID, revokedAt time.Time, revokedByIP string) (int64, error)

	// List user tokens active at 'now', newest first
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error)

	// Delete tokens expired before 'expiredBefore' and tokens revoked before 'revokedBefore'
	DeleteStale(ctx context.Context, expiredBefore time.Time, revokedBefore time.Time) (int64, error)
}
