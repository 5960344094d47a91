package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, updated_at, email, name, avatar_url, provider, provider_id, password_hash,
role, is_active, reset_token_hash, reset_token_expires_at, last_login_at`

const createUser = `-- name: CreateUser
INSERT INTO users (id, email, name, avatar_url, provider, provider_id, password_hash, role)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, p repository.CreateUserParams) (models.User, error) {
	role := p.Role
	if role == "" {
		role = models.RoleUser
	}
	provider := p.Provider
	if provider == "" {
		provider = models.ProviderLocal
	}

	rows, _ := r.DB.Query(ctx, createUser,
		uuid.New(), normalizeEmail(p.Email), p.Name, p.AvatarURL, provider, p.ProviderID, p.HashedPassword, role,
	)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	return r.queryUser(ctx, getUserByID, id)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + ` FROM users
WHERE lower(email) = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.queryUser(ctx, getUserByEmail, normalizeEmail(email))
}

const getUserByProviderID = `-- name: GetUserByProviderID
SELECT ` + userColumns + ` FROM users
WHERE provider = $1 AND provider_id = $2
`

func (r *UserRepo) GetUserByProviderID(ctx context.Context, provider string, providerID string) (models.User, error) {
	return r.queryUser(ctx, getUserByProviderID, provider, providerID)
}

const lockUser = `-- name: LockUser
SELECT ` + userColumns + ` FROM users
WHERE id = $1
FOR UPDATE
`

func (r *UserRepo) LockUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	return r.queryUser(ctx, lockUser, id)
}

const setPassword = `-- name: SetPassword
UPDATE users
SET password_hash = $2, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
WHERE id = $1
`

func (r *UserRepo) SetPassword(ctx context.Context, id uuid.UUID, hashedPassword string) error {
	return r.execOne(ctx, setPassword, id, hashedPassword)
}

const setActive = `-- name: SetActive
UPDATE users
SET is_active = $2, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) (models.User, error) {
	return r.queryUser(ctx, setActive, id, active)
}

const touchLogin = `-- name: TouchLogin
UPDATE users
SET last_login_at = $2
WHERE id = $1
`

func (r *UserRepo) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.execOne(ctx, touchLogin, id, at)
}

const linkProvider = `-- name: LinkProvider
UPDATE users
SET provider_id = $3, provider = CASE WHEN password_hash IS NULL THEN $2 ELSE provider END, updated_at = now()
WHERE id = $1 AND provider_id IS NULL
RETURNING ` + userColumns

// Attach external identity to the account
// Local accounts keep 'local' provider so password login still works
// Identity already linked to the account is never replaced
func (r *UserRepo) LinkProvider(ctx context.Context, id uuid.UUID, provider string, providerID string) (models.User, error) {
	user, err := r.queryUser(ctx, linkProvider, id, provider, providerID)

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return user, apperrors.ErrUserAlreadyExists
	case errors.Is(err, apperrors.ErrUserNotFound):
		// No row is either unknown user or already linked one
		if _, getErr := r.GetUserByID(ctx, id); getErr == nil {
			return user, apperrors.ErrUserAlreadyExists
		}
	}

	return user, err
}

const setResetToken = `-- name: SetResetToken
UPDATE users
SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = now()
WHERE id = $1
`

func (r *UserRepo) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	return r.execOne(ctx, setResetToken, id, tokenHash, expiresAt)
}

const consumeResetToken = `-- name: ConsumeResetToken
UPDATE users
SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
WHERE reset_token_hash = $1 AND reset_token_expires_at > $2
RETURNING ` + userColumns

// Clear reset grant and return its owner
// Concurrent callers with the same hash: only one gets the row, others see no match
func (r *UserRepo) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (models.User, error) {
	user, err := r.queryUser(ctx, consumeResetToken, tokenHash, now)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return user, apperrors.ErrResetTokenInvalid
	}

	return user, err
}

func (r *UserRepo) queryUser(ctx context.Context, sql string, args ...any) (models.User, error) {
	rows, _ := r.DB.Query(ctx, sql, args...)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func (r *UserRepo) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := r.DB.Exec(ctx, sql, args...)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return apperrors.ErrUserNotFound
	default:
		return nil
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.Email, &u.Name, &u.AvatarURL, &u.Provider, &u.ProviderID, &u.HashedPassword,
		&u.Role, &u.IsActive, &u.ResetTokenHash, &u.ResetTokenExpiresAt, &u.LastLoginAt,
	)
	return u, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
