package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/models"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultSigningMethod  = "HS256"
	defaultIssuer         = "storefront"

	accessTokenType = "access"
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Type string `json:"typ"`
}

// Verified access token subject
type AccessClaims struct {
	UserID    uuid.UUID
	Role      string
	ExpiresAt time.Time
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access token lifetime
	// If not set than default is used
	AccessTTL time.Duration

	Issuer string
}

// Signs and verifies access tokens. Holds no mutable state, safe for concurrent use
type TokenManager struct {
	key       []byte
	alg       jwt.SigningMethod
	accessTTL time.Duration
	issuer    string

	// Overridden in tests
	now func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC is supported", cfg.Alg)
	}

	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}

	return &TokenManager{
		key:       []byte(cfg.SecretKey),
		alg:       alg,
		accessTTL: cfg.AccessTTL,
		issuer:    cfg.Issuer,
		now:       time.Now,
	}, nil
}

func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

// Issue signed access token for the user
func (m *TokenManager) Issue(userID uuid.UUID, role string) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(m.alg, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
		Type: accessTokenType,
	})

	signed, err := token.SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse and validate access token
// Errors are one of apperrors.ErrTokenExpired, apperrors.ErrTokenSignature or apperrors.ErrTokenMalformed
func (m *TokenManager) Verify(access string) (AccessClaims, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return AccessClaims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return AccessClaims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenSignature, err)
	default:
		return AccessClaims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenMalformed, err)
	}

	if claims.Type != accessTokenType {
		return AccessClaims{}, fmt.Errorf("%w: unexpected token type %q", apperrors.ErrTokenMalformed, claims.Type)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%w: bad subject: %w", apperrors.ErrTokenMalformed, err)
	}

	return AccessClaims{
		UserID:    userID,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
