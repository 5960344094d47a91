package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"

	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/repository"
)

const (
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultRevokedGrace    = 30 * 24 * time.Hour

	// 43 symbols of 64-letter alphabet is 258 bits
	tokenLength = 43
)

// Generate url-safe random token
// Uses crypto/rand under the hood
func NewTokenGenerator() func() string {
	generate, err := nanoid.Standard(tokenLength)
	if err != nil {
		// Length is a constant in the allowed range
		panic(err)
	}
	return generate
}

// Hex encoded SHA-256 of the raw token. Only hashes are stored
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type Config struct {
	// Refresh token lifetime
	// If not set than default is used
	TTL time.Duration
}

// Refresh token ledger
// Raw token returned once on issue and never stored
type Ledger struct {
	repo     repository.RefreshTokenRepo
	ttl      time.Duration
	generate func() string
	now      func() time.Time
}

func New(repo repository.RefreshTokenRepo, cfg Config) *Ledger {
	if cfg.TTL == 0 {
		cfg.TTL = defaultRefreshTokenTTL
	}

	return &Ledger{
		repo:     repo,
		ttl:      cfg.TTL,
		generate: NewTokenGenerator(),
		now:      time.Now,
	}
}

// Same ledger over other repo, mostly the one bound to transaction
func (l *Ledger) With(repo repository.RefreshTokenRepo) *Ledger {
	cp := *l
	cp.repo = repo
	return &cp
}

func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Issue new active token for the user
func (l *Ledger) Issue(ctx context.Context, userID uuid.UUID, ip string) (models.IssuedToken, error) {
	raw := l.generate()
	return l.issue(ctx, userID, ip, raw)
}

func (l *Ledger) issue(ctx context.Context, userID uuid.UUID, ip string, raw string) (models.IssuedToken, error) {
	now := l.now()
	token, err := l.repo.Create(ctx, models.RefreshToken{
		ID:          uuid.New(),
		UserID:      userID,
		TokenHash:   HashToken(raw),
		CreatedAt:   now,
		CreatedByIP: ip,
		ExpiresAt:   now.Add(l.ttl),
	})
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.IssuedToken{Value: raw, ExpiresAt: token.ExpiresAt}, nil
}

// Find token by raw value. Expired and revoked tokens are returned too
// If not found returns apperrors.ErrRefreshTokenNotFound
func (l *Ledger) Lookup(ctx context.Context, raw string) (models.RefreshToken, error) {
	return l.repo.GetByHash(ctx, HashToken(raw))
}

// Revoke active token
// Empty replacement means revocation without rotation, e.g. logout
func (l *Ledger) Revoke(ctx context.Context, raw string, ip string, replacement string) (models.RefreshToken, error) {
	params := repository.RevokeParams{
		TokenHash:   HashToken(raw),
		RevokedAt:   l.now(),
		RevokedByIP: ip,
	}
	if replacement != "" {
		hash := HashToken(replacement)
		params.ReplacedByHash = &hash
	}

	return l.repo.Revoke(ctx, params)
}

// Revoke presented token and issue its successor for the same user
// Has to be called in transaction: successor must not exist without revoked predecessor
func (l *Ledger) Rotate(ctx context.Context, raw string, ip string) (models.RefreshToken, models.IssuedToken, error) {
	next := l.generate()

	old, err := l.Revoke(ctx, raw, ip, next)
	if err != nil {
		return old, models.IssuedToken{}, err
	}

	issued, err := l.issue(ctx, old.UserID, ip, next)
	return old, issued, err
}

// Revoke all active tokens of the user, returns number of revoked
func (l *Ledger) RevokeAll(ctx context.Context, userID uuid.UUID, ip string) (int64, error) {
	return l.repo.RevokeAll(ctx, userID, l.now(), ip)
}

func (l *Ledger) ListActive(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	return l.repo.ListActive(ctx, userID, l.now())
}

// Delete expired tokens and tokens revoked more than revokedGrace ago
func (l *Ledger) PurgeExpired(ctx context.Context, revokedGrace time.Duration) (int64, error) {
	if revokedGrace <= 0 {
		revokedGrace = DefaultRevokedGrace
	}
	now := l.now()
	return l.repo.DeleteStale(ctx, now, now.Add(-revokedGrace))
}
