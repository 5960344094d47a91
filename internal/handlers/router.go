package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/handlers/clientip"
	"github.com/nkiryanov/storefront/internal/handlers/middleware"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/ratelimit"
	"github.com/nkiryanov/storefront/internal/service/auth"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Limits per client ip for routes open to credential guessing
var (
	loginLimit  = middleware.RateLimitConfig{Name: "login", Limit: 10, Window: time.Minute}
	forgotLimit = middleware.RateLimitConfig{Name: "forgot-password", Limit: 5, Window: 15 * time.Minute}
	resetLimit  = middleware.RateLimitConfig{Name: "reset-password", Limit: 10, Window: 15 * time.Minute}
)

// Leave nil to disable rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error)
}

func NewRouter(
	authService authService,
	pinger pinger,
	limiter RateLimiter,
	proxies *clientip.Resolver,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)
	withAdmin := func(h http.Handler) http.Handler {
		return withAuth(middleware.RequireRole(models.RoleAdmin)(h))
	}
	limit := func(cfg middleware.RateLimitConfig) func(http.Handler) http.Handler {
		return middleware.RateLimit(limiter, cfg, logger)
	}

	apiauth := http.NewServeMux()
	apiauth.Handle("POST /register", handleRegister(authService, logger))
	apiauth.Handle("POST /login", limit(loginLimit)(handleLogin(authService, logger)))
	apiauth.Handle("POST /oauth/google", handleProviderLogin(authService, logger))
	apiauth.Handle("POST /refresh-token", handleRefresh(authService, logger))
	apiauth.Handle("POST /logout", handleLogout(authService, logger))
	apiauth.Handle("POST /forgot-password", limit(forgotLimit)(handleForgotPassword(authService, logger)))
	apiauth.Handle("POST /reset-password/{resetToken}", limit(resetLimit)(handleResetPassword(authService, logger)))

	apiauth.Handle("POST /logout-all", withAuth(handleLogoutAll(authService, logger)))
	apiauth.Handle("POST /change-password", withAuth(handleChangePassword(authService, logger)))
	apiauth.Handle("GET /me", withAuth(handleUserMe()))
	apiauth.Handle("GET /sessions", withAuth(handleListSessions(authService, logger)))

	apiadmin := http.NewServeMux()
	apiadmin.Handle("PATCH /users/{id}/active", withAdmin(handleSetActive(authService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))
	root.Handle("/api/admin/", http.StripPrefix("/api/admin", apiadmin))
	root.Handle("GET /healthz", handleHealth(pinger, logger))

	handler := chain(root,
		clientip.Middleware(proxies),
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Has to return apperrors.ErrUserAlreadyExists if email is taken
	Register(ctx context.Context, p auth.RegisterParams, ip string) (auth.Session, error)

	// Has to return apperrors.ErrInvalidCredentials for unknown email and wrong password alike
	// and apperrors.ErrAccountInactive for deactivated account with correct password
	Login(ctx context.Context, email string, password string, ip string) (auth.Session, error)
	LoginWithProvider(ctx context.Context, idToken string, ip string) (auth.Session, error)

	// Any rejected token has to be apperrors.ErrInvalidOrExpiredToken
	Refresh(ctx context.Context, raw string, ip string) (auth.Session, error)

	// Has to return apperrors.ErrRefreshTokenNotFound if token is unknown or not active
	Logout(ctx context.Context, raw string, ip string) error
	LogoutAll(ctx context.Context, userID uuid.UUID, ip string) (int64, error)

	RequestReset(ctx context.Context, email string) (auth.ResetGrant, error)
	ResetPassword(ctx context.Context, raw string, password string, ip string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, current string, password string, ip string) error

	SetActive(ctx context.Context, userID uuid.UUID, active bool, ip string) (models.User, error)
	Sessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)

	Authorize(ctx context.Context, bearer string) (models.User, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}
