package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/repository"
	"github.com/nkiryanov/storefront/internal/service/auth/ledger"
	"github.com/nkiryanov/storefront/internal/service/notify"
)

// Acknowledgment of password reset request
// Same for known and unknown emails
type ResetGrant struct {
	ExpiresIn time.Duration

	// Raw token, set only when exposing is enabled
	Token string
}

// Start password reset for local active account
// The raw token is handed to notifier, only its hash is stored
// Notifier is expected to queue the event: the request must take as long for unknown emails
func (s *AuthService) RequestReset(ctx context.Context, email string) (ResetGrant, error) {
	grant := ResetGrant{ExpiresIn: s.resetTTL}

	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.log.Debug("Reset requested for unknown email")
		s.writeDecoyReset(ctx)
		return grant, nil
	case err != nil:
		return grant, fmt.Errorf("error while loading user: %w", err)
	case !user.IsActive || !user.IsLocal():
		s.log.Debug("Reset requested for not resettable account", "user_id", user.ID)
		s.writeDecoyReset(ctx)
		return grant, nil
	}

	raw := s.generate()
	expiresAt := s.now().Add(s.resetTTL)
	if err := s.storage.User().SetResetToken(ctx, user.ID, ledger.HashToken(raw), expiresAt); err != nil {
		return grant, fmt.Errorf("error while saving reset token: %w", err)
	}

	err = s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventPasswordResetRequested,
		UserID:     user.ID,
		Email:      user.Email,
		OccurredAt: s.now(),
		ResetToken: raw,
		ExpiresAt:  &expiresAt,
	})
	if err != nil {
		// Response stays the same, otherwise it tells the account exists
		s.log.Error("Failed to deliver reset token", "user_id", user.ID, "error", err)
	}

	s.log.Info("Password reset requested", "user_id", user.ID)
	if s.exposeResetToken {
		grant.Token = raw
	}
	return grant, nil
}

// Same token work and UPDATE as a real request, matching no row
func (s *AuthService) writeDecoyReset(ctx context.Context) {
	raw := s.generate()
	err := s.storage.User().SetResetToken(ctx, uuid.Nil, ledger.HashToken(raw), s.now().Add(s.resetTTL))
	if err != nil && !errors.Is(err, apperrors.ErrUserNotFound) {
		s.log.Warn("Decoy reset write failed", "error", err)
	}
}

// Consume reset token, set new password and revoke all sessions in one transaction
// Token works once; unknown, used or expired token fails with apperrors.ErrInvalidOrExpiredToken
func (s *AuthService) ResetPassword(ctx context.Context, raw string, password string, ip string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("can't use this as password, error=%w", err)
	}

	var (
		user    models.User
		revoked int64
	)
	err = s.storage.InTx(ctx, func(tx repository.Storage) (err error) {
		user, err = tx.User().ConsumeResetToken(ctx, ledger.HashToken(raw), s.now())
		if err != nil {
			return err
		}
		if !user.IsActive {
			return apperrors.ErrAccountInactive
		}

		if err := tx.User().SetPassword(ctx, user.ID, hash); err != nil {
			return err
		}

		revoked, err = s.ledger.With(tx.Refresh()).RevokeAll(ctx, user.ID, ip)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrResetTokenInvalid), errors.Is(err, apperrors.ErrAccountInactive):
		s.log.Info("Password reset failed", "ip", ip, "reason", err)
		return apperrors.ErrInvalidOrExpiredToken
	default:
		return fmt.Errorf("error while resetting password: %w", err)
	}

	s.log.Info("Password reset", "user_id", user.ID, "ip", ip)
	s.sessionsRevoked(ctx, user, revoked, "password_reset", ip)
	return nil
}
