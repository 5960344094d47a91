package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

type User struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time

	Email     string // always lower-cased
	Name      string
	AvatarURL string

	Provider       string
	ProviderID     *string
	HashedPassword *string // nil for external accounts

	Role     string
	IsActive bool

	// Pending password reset grant; both set or both nil
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time

	LastLoginAt *time.Time
}

func (u User) IsLocal() bool {
	return u.Provider == ProviderLocal && u.HashedPassword != nil
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
