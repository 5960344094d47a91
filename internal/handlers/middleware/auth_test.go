package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/handlers/userctx"
	"github.com/nkiryanov/storefront/internal/models"
)

// Allow to use a function as authorizer
type authFunc func(ctx context.Context, bearer string) (models.User, error)

func (f authFunc) Authorize(ctx context.Context, bearer string) (models.User, error) {
	return f(ctx, bearer)
}

func doGet(t *testing.T, url string, header string) (int, string) {
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)
	if header != "" {
		req.Header.Set("Authorization", header)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "should make request to test server")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "should read response body")
	defer resp.Body.Close() // nolint:errcheck

	return resp.StatusCode, string(body)
}

func TestAuthMiddleware(t *testing.T) {
	// Simple handler that try to get user from context
	// If ok write user email to response
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Must always be true cause middleware has to set user to response or write error to response
		user, ok := userctx.User(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(user.Email))
		require.NoError(t, err, "should write email to response")
	})

	middleware := AuthMiddleware(authFunc(func(ctx context.Context, bearer string) (models.User, error) {
		switch bearer {
		case "good":
			return models.User{Email: "a@x.com"}, nil
		case "broken":
			return models.User{}, errors.New("db is down")
		default:
			return models.User{}, apperrors.ErrUnauthenticated
		}
	}))
	srv := httptest.NewServer(middleware(handler))
	defer srv.Close()

	t.Run("auth ok", func(t *testing.T) {
		code, body := doGet(t, srv.URL+"/test", "Bearer good")

		require.Equalf(t, http.StatusOK, code, "should return status OK. Resp: %s", body)
		require.Equal(t, "a@x.com", body, "should return email in response")
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		code, _ := doGet(t, srv.URL+"/test", "bearer good")

		require.Equal(t, http.StatusOK, code)
	})

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"other scheme", "Basic good"},
		{"empty token", "Bearer "},
		{"bad token", "Bearer bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doGet(t, srv.URL+"/test", tt.header)

			require.Equalf(t, http.StatusUnauthorized, code, "should return status Unauthorized. Resp: %s", body)
			require.JSONEq(t,
				`{
					"error": "service_error",
					"code": "unauthenticated",
					"message": "Unauthorized"
				}`,
				body,
			)
		})
	}

	t.Run("service failure", func(t *testing.T) {
		code, _ := doGet(t, srv.URL+"/test", "Bearer broken")

		require.Equal(t, http.StatusInternalServerError, code)
	})
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	withUser := func(role string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if role != "" {
					r = r.WithContext(userctx.WithUser(r.Context(), models.User{Role: role}))
				}
				next.ServeHTTP(w, r)
			})
		}
	}

	tests := []struct {
		name     string
		role     string
		expected int
	}{
		{"admin allowed", models.RoleAdmin, http.StatusNoContent},
		{"user forbidden", models.RoleUser, http.StatusForbidden},
		{"anonymous", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(withUser(tt.role)(RequireRole(models.RoleAdmin)(ok)))
			defer srv.Close()

			code, _ := doGet(t, srv.URL, "")

			require.Equal(t, tt.expected, code)
		})
	}
}
