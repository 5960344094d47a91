package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/logger"
)

const (
	EventPasswordResetRequested = "password_reset_requested"
	EventSessionsRevoked        = "sessions_revoked"
)

// Security event delivered out-of-band, e.g. by email worker
type Event struct {
	Type       string    `json:"type"`
	UserID     uuid.UUID `json:"userId"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurredAt"`

	// Password reset: raw token and its expiry
	ResetToken string     `json:"resetToken,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`

	// Sessions revoked: number of revoked tokens and the cause
	Revoked int64  `json:"revoked,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Notifier that only logs event metadata
// Secrets are never logged, so reset token is lost: use it for development only
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.log.Info("Security event",
		"type", event.Type,
		"user_id", event.UserID,
		"revoked", event.Revoked,
		"reason", event.Reason,
	)
	return nil
}
