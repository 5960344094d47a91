package models

import (
	"time"

	"github.com/google/uuid"
)

// Refresh token states. Every state except active is terminal
const (
	TokenStateActive  = "active"
	TokenStateRotated = "rotated"
	TokenStateRevoked = "revoked"
	TokenStateExpired = "expired"
)

// Ledger row. Raw token value is never stored, only its SHA-256 hash
type RefreshToken struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TokenHash   string
	CreatedAt   time.Time
	CreatedByIP string
	ExpiresAt   time.Time

	RevokedAt      *time.Time // nil while not revoked
	RevokedByIP    *string
	ReplacedByHash *string // set only when revoked by rotation
}

// Token with expiresAt equal to now is already expired
func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

func (t RefreshToken) State(now time.Time) string {
	switch {
	case t.IsRevoked() && t.ReplacedByHash != nil:
		return TokenStateRotated
	case t.IsRevoked():
		return TokenStateRevoked
	case t.IsExpired(now):
		return TokenStateExpired
	default:
		return TokenStateActive
	}
}
