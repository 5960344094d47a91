package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/repository"
	"github.com/nkiryanov/storefront/internal/repository/postgres"
	"github.com/nkiryanov/storefront/internal/service/auth"
	"github.com/nkiryanov/storefront/internal/service/auth/ledger"
	"github.com/nkiryanov/storefront/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/storefront/internal/testutil"
)

func Test_Router(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}

	// Run http server with production AuthService over rolled back transaction
	withTx := func(t *testing.T, fn func(url string, storage repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)

			tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"})
			require.NoError(t, err, "token manager should be created without errors")

			s, err := auth.NewService(
				auth.Config{Hasher: hasher, ExposeResetToken: true},
				storage, tokens, ledger.New(storage.Refresh(), ledger.Config{}),
			)
			require.NoError(t, err, "auth service starting error")

			srv := httptest.NewServer(NewRouter(s, tx.Conn(), nil, nil, logger.NewNoOpLogger()))
			defer srv.Close()

			fn(srv.URL, storage)
		})
	}

	decode := func(t *testing.T, body string, v any) {
		require.NoError(t, json.Unmarshal([]byte(body), v), "body: %s", body)
	}

	register := func(t *testing.T, url string, email string) sessionResponse {
		status, body := request(t, "POST", url+"/api/auth/register", `{"email": "`+email+`", "password": "Passw0rd!", "name": "Alice"}`, "")
		require.Equalf(t, http.StatusCreated, status, "body: %s", body)

		var res sessionResponse
		decode(t, body, &res)
		return res
	}

	t.Run("register ok", func(t *testing.T) {
		withTx(t, func(url string, _ repository.Storage) {
			res := register(t, url, "Alice@X.com")

			require.NotEmpty(t, res.AccessToken)
			require.Len(t, res.RefreshToken, 43)
			require.True(t, res.RefreshExpiresAt.After(res.AccessExpiresAt))
			require.Equal(t, "alice@x.com", res.User.Email, "email is lower-cased")
			require.Equal(t, models.RoleUser, res.User.Role)
			require.Equal(t, models.ProviderLocal, res.User.Provider)
		})
	})

	t.Run("login same error for unknown email and wrong password", func(t *testing.T) {
		withTx(t, func(url string, _ repository.Storage) {
			register(t, url, "a@x.com")

			unknownStatus, unknownBody := request(t, "POST", url+"/api/auth/login", `{"email": "b@x.com", "password": "Passw0rd!"}`, "")
			wrongStatus, wrongBody := request(t, "POST", url+"/api/auth/login", `{"email": "a@x.com", "password": "Wr0ngPassword"}`, "")

			require.Equal(t, http.StatusUnauthorized, unknownStatus)
			require.Equal(t, unknownStatus, wrongStatus)
			require.JSONEq(t, `{
				"error": "service_error",
				"code": "invalid_credentials",
				"message": "Invalid email or password"
			}`, wrongBody)
			require.JSONEq(t, unknownBody, wrongBody)
		})
	})

	t.Run("session lifecycle", func(t *testing.T) {
		withTx(t, func(url string, _ repository.Storage) {
			registered := register(t, url, "a@x.com")

			status, body := request(t, "POST", url+"/api/auth/login", `{"email": "a@x.com", "password": "Passw0rd!"}`, "")
			require.Equalf(t, http.StatusOK, status, "body: %s", body)
			var login sessionResponse
			decode(t, body, &login)

			status, body = request(t, "GET", url+"/api/auth/me", "", login.AccessToken)
			require.Equal(t, http.StatusOK, status)
			var me userResponse
			decode(t, body, &me)
			require.Equal(t, registered.User.ID, me.ID)
			require.NotNil(t, me.LastLoginAt, "login time recorded")

			status, body = request(t, "GET", url+"/api/auth/sessions", "", login.AccessToken)
			require.Equal(t, http.StatusOK, status)
			var sessions []map[string]any
			decode(t, body, &sessions)
			require.Len(t, sessions, 2, "register and login sessions")
			require.NotContains(t, body, "tokenHash")

			// Rotate login token
			status, body = request(t, "POST", url+"/api/auth/refresh-token", `{"refreshToken": "`+login.RefreshToken+`"}`, "")
			require.Equalf(t, http.StatusOK, status, "body: %s", body)
			var rotated sessionResponse
			decode(t, body, &rotated)
			require.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

			// Old one is dead
			status, body = request(t, "POST", url+"/api/auth/refresh-token", `{"refreshToken": "`+login.RefreshToken+`"}`, "")
			require.Equal(t, http.StatusUnauthorized, status)
			require.Contains(t, body, `"code":"invalid_or_expired_token"`)

			status, body = request(t, "POST", url+"/api/auth/logout", `{"refreshToken": "`+rotated.RefreshToken+`"}`, "")
			require.Equal(t, http.StatusOK, status)
			require.JSONEq(t, `{}`, body)

			status, _ = request(t, "POST", url+"/api/auth/logout", `{"refreshToken": "`+rotated.RefreshToken+`"}`, "")
			require.Equal(t, http.StatusNotFound, status, "second logout of same token")

			// Only registration session left
			status, body = request(t, "POST", url+"/api/auth/logout-all", "", login.AccessToken)
			require.Equal(t, http.StatusOK, status)
			require.JSONEq(t, `{"revoked": 1}`, body)

			status, _ = request(t, "POST", url+"/api/auth/refresh-token", `{"refreshToken": "`+registered.RefreshToken+`"}`, "")
			require.Equal(t, http.StatusUnauthorized, status)
		})
	})

	t.Run("protected routes need access token", func(t *testing.T) {
		withTx(t, func(url string, _ repository.Storage) {
			for _, path := range []string{"/api/auth/me", "/api/auth/sessions"} {
				status, body := request(t, "GET", url+path, "", "")
				require.Equal(t, http.StatusUnauthorized, status)
				require.Contains(t, body, `"code":"unauthenticated"`)
			}

			status, _ := request(t, "POST", url+"/api/auth/logout-all", "", "not-a-jwt")
			require.Equal(t, http.StatusUnauthorized, status)
		})
	})

	t.Run("password reset", func(t *testing.T) {
		withTx(t, func(url string, _ repository.Storage) {
			registered := register(t, url, "a@x.com")

			status, body := request(t, "POST", url+"/api/auth/forgot-password", `{"email": "a@x.com"}`, "")
			require.Equalf(t, http.StatusOK, status, "body: %s", body)
			var grant struct {
				Message    string `json:"message"`
				ExpiresIn  int64  `json:"expiresIn"`
				ResetToken string `json:"resetToken"`
			}
			decode(t, body, &grant)
			require.Equal(t, int64(600), grant.ExpiresIn)
			require.NotEmpty(t, grant.ResetToken)

			status, body = request(t, "POST", url+"/api/auth/reset-password/"+grant.ResetToken, `{"newPassword": "N3wPassw0rd"}`, "")
			require.Equalf(t, http.StatusOK, status, "body: %s", body)

			status, _ = request(t, "POST", url+"/api/auth/reset-password/"+grant.ResetToken, `{"newPassword": "An0therPass"}`, "")
			require.Equal(t, http.StatusUnauthorized, status, "reset token is single use")

			status, _ = request(t, "POST", url+"/api/auth/refresh-token", `{"refreshToken": "`+registered.RefreshToken+`"}`, "")
			require.Equal(t, http.StatusUnauthorized, status, "reset revokes all sessions")

			status, _ = request(t, "POST", url+"/api/auth/login", `{"email": "a@x.com", "password": "N3wPassw0rd"}`, "")
			require.Equal(t, http.StatusOK, status)
		})
	})

	t.Run("forgot password for unknown email looks the same", func(t *testing.T) {
		withTx(t, func(url string, _ repository.Storage) {
			status, body := request(t, "POST", url+"/api/auth/forgot-password", `{"email": "nobody@x.com"}`, "")

			require.Equal(t, http.StatusOK, status)
			require.JSONEq(t, `{
				"message": "If the account exists, password reset instructions have been sent",
				"expiresIn": 600
			}`, body)
		})
	})

	t.Run("change password", func(t *testing.T) {
		withTx(t, func(url string, _ repository.Storage) {
			res := register(t, url, "a@x.com")

			status, _ := request(t, "POST", url+"/api/auth/change-password", `{"currentPassword": "Wr0ngPassword", "newPassword": "N3wPassw0rd"}`, res.AccessToken)
			require.Equal(t, http.StatusBadRequest, status)

			status, body := request(t, "POST", url+"/api/auth/change-password", `{"currentPassword": "Passw0rd!", "newPassword": "N3wPassw0rd"}`, res.AccessToken)
			require.Equalf(t, http.StatusOK, status, "body: %s", body)

			status, _ = request(t, "POST", url+"/api/auth/login", `{"email": "a@x.com", "password": "N3wPassw0rd"}`, "")
			require.Equal(t, http.StatusOK, status)
		})
	})

	t.Run("admin deactivates user", func(t *testing.T) {
		withTx(t, func(url string, storage repository.Storage) {
			user := register(t, url, "a@x.com")

			hash, err := hasher.Hash("Adm1nPassword")
			require.NoError(t, err)
			_, err = storage.User().CreateUser(t.Context(), repository.CreateUserParams{
				Email:          "admin@x.com",
				Provider:       models.ProviderLocal,
				HashedPassword: &hash,
				Role:           models.RoleAdmin,
			})
			require.NoError(t, err)

			status, body := request(t, "POST", url+"/api/auth/login", `{"email": "admin@x.com", "password": "Adm1nPassword"}`, "")
			require.Equalf(t, http.StatusOK, status, "body: %s", body)
			var admin sessionResponse
			decode(t, body, &admin)

			path := url + "/api/admin/users/" + user.User.ID.String() + "/active"

			status, _ = request(t, "PATCH", path, `{"active": false}`, user.AccessToken)
			require.Equal(t, http.StatusForbidden, status, "regular user can't use admin routes")

			status, body = request(t, "PATCH", path, `{"active": false}`, admin.AccessToken)
			require.Equalf(t, http.StatusOK, status, "body: %s", body)
			require.Contains(t, body, `"isActive":false`)

			status, body = request(t, "POST", url+"/api/auth/login", `{"email": "a@x.com", "password": "Passw0rd!"}`, "")
			require.Equal(t, http.StatusForbidden, status)
			require.Contains(t, body, `"code":"account_inactive"`)

			status, _ = request(t, "GET", url+"/api/auth/me", "", user.AccessToken)
			require.Equal(t, http.StatusUnauthorized, status, "access token of inactive account is rejected")

			status, _ = request(t, "POST", url+"/api/auth/refresh-token", `{"refreshToken": "`+user.RefreshToken+`"}`, "")
			require.Equal(t, http.StatusUnauthorized, status)
		})
	})

	t.Run("health", func(t *testing.T) {
		withTx(t, func(url string, _ repository.Storage) {
			status, _ := request(t, "GET", url+"/healthz", "", "")
			require.Equal(t, http.StatusOK, status)
		})
	})
}
