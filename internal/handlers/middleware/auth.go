package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/handlers/render"
	"github.com/nkiryanov/storefront/internal/handlers/userctx"
	"github.com/nkiryanov/storefront/internal/models"
)

type authorizer interface {
	// Has to return apperrors.ErrUnauthenticated if token is not valid or user can't act
	Authorize(ctx context.Context, bearer string) (models.User, error)
}

// Authenticate request by bearer access token and put the user to context
func AuthMiddleware(a authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				render.CodedError(w, render.CodeUnauthenticated, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := a.Authorize(r.Context(), token)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrUnauthenticated):
				render.CodedError(w, render.CodeUnauthenticated, "Unauthorized", http.StatusUnauthorized)
				return
			default:
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(userctx.WithUser(r.Context(), user)))
		})
	}
}

// Allow only users with the role. Has to be used after AuthMiddleware
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userctx.User(r.Context())
			switch {
			case !ok:
				render.CodedError(w, render.CodeUnauthenticated, "Unauthorized", http.StatusUnauthorized)
			case user.Role != role:
				render.CodedError(w, render.CodeForbidden, "Forbidden", http.StatusForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
