package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/repository"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, token_hash, created_at, created_by_ip, expires_at, revoked_at, revoked_by_ip, replaced_by_hash`

const createToken = `-- name: CreateToken
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, created_by_ip, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + tokenColumns

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createToken,
		token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.CreatedByIP, token.ExpiresAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToToken)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getTokenByHash = `-- name: GetTokenByHash
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token
// It should return result even it expired or revoked already
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenByHash, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: RevokeToken if it still active
UPDATE refresh_tokens
SET revoked_at = $2, revoked_by_ip = $3, replaced_by_hash = $4
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
RETURNING ` + tokenColumns

// Revoke token if it active
// Condition and update are one statement: concurrent callers are serialized by the row lock
// and only the first one sees the token active
func (r *RefreshTokenRepo) Revoke(ctx context.Context, p repository.RevokeParams) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, revokeToken, p.TokenHash, p.RevokedAt, p.RevokedByIP, p.ReplacedByHash)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Nothing updated: find out why
		existed, err := r.GetByHash(ctx, p.TokenHash)
		switch {
		case err != nil:
			return existed, err
		case existed.IsRevoked():
			return existed, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
		default:
			return existed, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
		}
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeAllTokens = `-- name: RevokeAllTokens of the user
UPDATE refresh_tokens
SET revoked_at = $2, revoked_by_ip = $3
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
`

func (r *RefreshTokenRepo) RevokeAll(ctx context.Context, userID uuid.UUID, revokedAt time.Time, revokedByIP string) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllTokens, userID, revokedAt, revokedByIP)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const listActiveTokens = `-- name: ListActiveTokens
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY created_at DESC
`

func (r *RefreshTokenRepo) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listActiveTokens, userID, now)
	tokens, err := pgx.CollectRows(rows, rowToToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return tokens, nil
}

const deleteStaleTokens = `-- name: DeleteStaleTokens
DELETE FROM refresh_tokens
WHERE expires_at <= $1 OR revoked_at <= $2
`

func (r *RefreshTokenRepo) DeleteStale(ctx context.Context, expiredBefore time.Time, revokedBefore time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteStaleTokens, expiredBefore, revokedBefore)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.CreatedByIP, &t.ExpiresAt,
		&t.RevokedAt, &t.RevokedByIP, &t.ReplacedByHash,
	)
	return t, err
}
