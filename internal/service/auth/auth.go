package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/repository"
	"github.com/nkiryanov/storefront/internal/service/auth/ledger"
	"github.com/nkiryanov/storefront/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/storefront/internal/service/notify"
	"github.com/nkiryanov/storefront/internal/service/oauth"
)

const (
	defaultResetTokenTTL = 10 * time.Minute

	// Compared against when user has no password, so failed logins take the same time
	dummyPassword = "dummy-password-to-compare-against"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// Verifies token issued by external identity provider
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (oauth.Identity, error)
}

type Notifier interface {
	Notify(ctx context.Context, event notify.Event) error
}

type Config struct {
	// Hasher to use during user registration or login process
	// BcryptHasher if not set
	Hasher PasswordHasher

	// Password reset token lifetime
	ResetTTL time.Duration

	// Return raw reset token to the caller. Development only
	ExposeResetToken bool

	// External identity provider; external login disabled if nil
	Verifier IdentityVerifier

	// Out-of-band delivery of reset tokens and security events
	// LogNotifier if not set
	Notifier Notifier

	Logger logger.Logger
}

type RegisterParams struct {
	Email    string
	Password string
	Name     string
}

// Issued token pair and its owner
type Session struct {
	Pair models.TokenPair
	User models.User
}

// Auth service
type AuthService struct {
	storage repository.Storage
	tokens  *tokenmanager.TokenManager
	ledger  *ledger.Ledger

	hasher   PasswordHasher
	verifier IdentityVerifier
	notifier Notifier
	log      logger.Logger

	resetTTL         time.Duration
	exposeResetToken bool

	dummyHash string
	generate  func() string
	now       func() time.Time
}

func NewService(cfg Config, storage repository.Storage, tokens *tokenmanager.TokenManager, l *ledger.Ledger) (*AuthService, error) {
	if storage == nil || tokens == nil || l == nil {
		return nil, errors.New("storage, token manager and ledger must not be nil")
	}

	if cfg.Hasher == nil {
		cfg.Hasher = BcryptHasher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogNotifier(cfg.Logger)
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = defaultResetTokenTTL
	}

	dummyHash, err := cfg.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("error while hashing dummy password: %w", err)
	}

	return &AuthService{
		storage:          storage,
		tokens:           tokens,
		ledger:           l,
		hasher:           cfg.Hasher,
		verifier:         cfg.Verifier,
		notifier:         cfg.Notifier,
		log:              cfg.Logger.With("component", "auth"),
		resetTTL:         cfg.ResetTTL,
		exposeResetToken: cfg.ExposeResetToken,
		dummyHash:        dummyHash,
		generate:         ledger.NewTokenGenerator(),
		now:              time.Now,
	}, nil
}

// Register new local user and start the session
func (s *AuthService) Register(ctx context.Context, p RegisterParams, ip string) (Session, error) {
	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return Session{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	user, err := s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Email:          p.Email,
		Name:           p.Name,
		HashedPassword: &hash,
	})
	if err != nil {
		return Session{}, fmt.Errorf("can't create user. Err: %w", err)
	}

	s.log.Info("User registered", "user_id", user.ID, "ip", ip)
	return s.startSession(ctx, user, ip)
}

// Login with email and password
// Unknown email and wrong password are indistinguishable for the caller
func (s *AuthService) Login(ctx context.Context, email string, password string, ip string) (Session, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		s.log.Info("Login failed", "reason", "unknown_email", "ip", ip)
		return Session{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return Session{}, fmt.Errorf("error while loading user: %w", err)
	}

	hash := s.dummyHash
	if user.IsLocal() {
		hash = *user.HashedPassword
	}
	if err := s.hasher.Compare(hash, password); err != nil || !user.IsLocal() {
		s.log.Info("Login failed", "reason", "wrong_password", "user_id", user.ID, "ip", ip)
		return Session{}, apperrors.ErrInvalidCredentials
	}

	if !user.IsActive {
		s.log.Info("Login failed", "reason", "inactive", "user_id", user.ID, "ip", ip)
		return Session{}, apperrors.ErrAccountInactive
	}

	return s.loginSession(ctx, user, ip)
}

// Login with ID token of external identity provider
// Account is found by provider id, then linked by email, then created
// Account linked to another identity of the same email fails with apperrors.ErrUserAlreadyExists
func (s *AuthService) LoginWithProvider(ctx context.Context, idToken string, ip string) (Session, error) {
	if s.verifier == nil {
		return Session{}, apperrors.ErrProviderDisabled
	}

	identity, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		s.log.Info("External login failed", "reason", "verify", "ip", ip, "error", err)
		return Session{}, fmt.Errorf("error while verifying identity: %w", err)
	}
	if !identity.EmailVerified {
		return Session{}, apperrors.ErrEmailNotVerified
	}

	var user models.User
	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		users := tx.User()

		user, err = users.GetUserByProviderID(ctx, identity.Provider, identity.ExternalID)
		if !errors.Is(err, apperrors.ErrUserNotFound) {
			return err
		}

		user, err = users.GetUserByEmail(ctx, identity.Email)
		switch {
		case err == nil:
			userID := user.ID
			user, err = users.LinkProvider(ctx, userID, identity.Provider, identity.ExternalID)
			if errors.Is(err, apperrors.ErrUserAlreadyExists) {
				s.log.Warn("External login conflicts with linked identity", "user_id", userID, "provider", identity.Provider, "ip", ip)
			}
			return err
		case !errors.Is(err, apperrors.ErrUserNotFound):
			return err
		}

		user, err = users.CreateUser(ctx, repository.CreateUserParams{
			Email:      identity.Email,
			Name:       identity.Name,
			AvatarURL:  identity.AvatarURL,
			Provider:   identity.Provider,
			ProviderID: &identity.ExternalID,
		})
		if err == nil {
			s.log.Info("User registered", "user_id", user.ID, "provider", identity.Provider, "ip", ip)
		}
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("error while resolving external account: %w", err)
	}

	if !user.IsActive {
		return Session{}, apperrors.ErrAccountInactive
	}

	return s.loginSession(ctx, user, ip)
}

// Rotate refresh token: the presented one is revoked and replaced with a new one
// Absent, expired, revoked token or inactive owner fail with apperrors.ErrInvalidOrExpiredToken
func (s *AuthService) Refresh(ctx context.Context, raw string, ip string) (Session, error) {
	var session Session

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		l := s.ledger.With(tx.Refresh())

		token, err := l.Lookup(ctx, raw)
		if err != nil {
			return err
		}

		// Lock owner so revoke-all sweeps and concurrent rotations of the user are serialized
		user, err := tx.User().LockUser(ctx, token.UserID)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return apperrors.ErrAccountInactive
		}

		_, issued, err := l.Rotate(ctx, raw, ip)
		if err != nil {
			return err
		}

		session.User = user
		session.Pair.Refresh = issued
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrRefreshTokenRevoked):
		s.log.Warn("Refresh token reuse", "ip", ip)
		return Session{}, apperrors.ErrInvalidOrExpiredToken
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound),
		errors.Is(err, apperrors.ErrRefreshTokenExpired),
		errors.Is(err, apperrors.ErrUserNotFound),
		errors.Is(err, apperrors.ErrAccountInactive):
		s.log.Info("Refresh failed", "ip", ip, "reason", err)
		return Session{}, apperrors.ErrInvalidOrExpiredToken
	default:
		return Session{}, fmt.Errorf("error while rotating refresh token: %w", err)
	}

	access, err := s.tokens.Issue(session.User.ID, session.User.Role)
	if err != nil {
		return Session{}, err
	}
	session.Pair.Access = access

	return session, nil
}

// Revoke exactly the presented refresh token
// Unknown, already revoked or expired token fails with apperrors.ErrRefreshTokenNotFound
func (s *AuthService) Logout(ctx context.Context, raw string, ip string) error {
	token, err := s.ledger.Revoke(ctx, raw, ip, "")
	switch {
	case err == nil:
		s.log.Info("Logged out", "user_id", token.UserID, "ip", ip)
		return nil
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound),
		errors.Is(err, apperrors.ErrRefreshTokenRevoked),
		errors.Is(err, apperrors.ErrRefreshTokenExpired):
		return apperrors.ErrRefreshTokenNotFound
	default:
		return fmt.Errorf("error while revoking refresh token: %w", err)
	}
}

// Revoke every active refresh token of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID, ip string) (int64, error) {
	var (
		user    models.User
		revoked int64
	)

	err := s.storage.InTx(ctx, func(tx repository.Storage) (err error) {
		user, err = tx.User().LockUser(ctx, userID)
		if err != nil {
			return err
		}
		revoked, err = s.ledger.With(tx.Refresh()).RevokeAll(ctx, userID, ip)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("error while revoking sessions: %w", err)
	}

	s.sessionsRevoked(ctx, user, revoked, "logout_all", ip)
	return revoked, nil
}

// Check access token and load its owner
// Any failure is apperrors.ErrUnauthenticated
func (s *AuthService) Authorize(ctx context.Context, bearer string) (models.User, error) {
	claims, err := s.tokens.Verify(bearer)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthenticated, err)
	}

	user, err := s.storage.User().GetUserByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthenticated, err)
	case err != nil:
		return models.User{}, fmt.Errorf("error while loading user: %w", err)
	case !user.IsActive:
		return models.User{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthenticated, apperrors.ErrAccountInactive)
	}

	return user, nil
}

// Change password of local account and revoke all its sessions
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current string, password string, ip string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("can't use this as password, error=%w", err)
	}

	var (
		user    models.User
		revoked int64
	)
	err = s.storage.InTx(ctx, func(tx repository.Storage) (err error) {
		user, err = tx.User().LockUser(ctx, userID)
		if err != nil {
			return err
		}

		if !user.IsLocal() {
			return apperrors.ErrInvalidCredentials
		}
		if err := s.hasher.Compare(*user.HashedPassword, current); err != nil {
			return apperrors.ErrInvalidCredentials
		}

		if err := tx.User().SetPassword(ctx, userID, hash); err != nil {
			return err
		}

		revoked, err = s.ledger.With(tx.Refresh()).RevokeAll(ctx, userID, ip)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		s.log.Info("Password change failed", "reason", "wrong_password", "user_id", userID, "ip", ip)
		return err
	default:
		return fmt.Errorf("error while changing password: %w", err)
	}

	s.log.Info("Password changed", "user_id", userID, "ip", ip)
	s.sessionsRevoked(ctx, user, revoked, "password_changed", ip)
	return nil
}

// Activate or deactivate account. Deactivation revokes all sessions
func (s *AuthService) SetActive(ctx context.Context, userID uuid.UUID, active bool, ip string) (models.User, error) {
	var (
		user    models.User
		revoked int64
	)

	err := s.storage.InTx(ctx, func(tx repository.Storage) (err error) {
		if _, err = tx.User().LockUser(ctx, userID); err != nil {
			return err
		}
		if user, err = tx.User().SetActive(ctx, userID, active); err != nil {
			return err
		}
		if !active {
			revoked, err = s.ledger.With(tx.Refresh()).RevokeAll(ctx, userID, ip)
		}
		return err
	})
	if err != nil {
		return models.User{}, fmt.Errorf("error while updating account: %w", err)
	}

	s.log.Info("Account activity changed", "user_id", userID, "active", active, "ip", ip)
	if !active {
		s.sessionsRevoked(ctx, user, revoked, "account_deactivated", ip)
	}
	return user, nil
}

// Active sessions of the user, newest first
func (s *AuthService) Sessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	return s.ledger.ListActive(ctx, userID)
}

// Issue token pair for user who just proved identity
func (s *AuthService) loginSession(ctx context.Context, user models.User, ip string) (Session, error) {
	now := s.now()
	if err := s.storage.User().TouchLogin(ctx, user.ID, now); err != nil {
		return Session{}, fmt.Errorf("error while recording login: %w", err)
	}
	user.LastLoginAt = &now

	s.log.Info("Logged in", "user_id", user.ID, "ip", ip)
	return s.startSession(ctx, user, ip)
}

func (s *AuthService) startSession(ctx context.Context, user models.User, ip string) (Session, error) {
	refresh, err := s.ledger.Issue(ctx, user.ID, ip)
	if err != nil {
		return Session{}, err
	}

	access, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Pair: models.TokenPair{Access: access, Refresh: refresh},
		User: user,
	}, nil
}

func (s *AuthService) sessionsRevoked(ctx context.Context, user models.User, revoked int64, reason string, ip string) {
	s.log.Info("Sessions revoked", "user_id", user.ID, "revoked", revoked, "reason", reason, "ip", ip)

	err := s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventSessionsRevoked,
		UserID:     user.ID,
		Email:      user.Email,
		OccurredAt: s.now(),
		Revoked:    revoked,
		Reason:     reason,
	})
	if err != nil {
		s.log.Error("Failed to notify", "type", notify.EventSessionsRevoked, "user_id", user.ID, "error", err)
	}
}
