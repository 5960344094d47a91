package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/handlers/clientip"
	"github.com/nkiryanov/storefront/internal/handlers/render"
	"github.com/nkiryanov/storefront/internal/handlers/userctx"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/service/auth"
)

type sessionResponse struct {
	AccessToken      string       `json:"accessToken"`
	RefreshToken     string       `json:"refreshToken"`
	AccessExpiresAt  time.Time    `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	User             userResponse `json:"user"`
}

func newSessionResponse(s auth.Session) sessionResponse {
	return sessionResponse{
		AccessToken:      s.Pair.Access.Value,
		RefreshToken:     s.Pair.Refresh.Value,
		AccessExpiresAt:  s.Pair.Access.ExpiresAt,
		RefreshExpiresAt: s.Pair.Refresh.ExpiresAt,
		User:             newUserResponse(s.User),
	}
}

type emptyResponse struct{}

func handleRegister(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=128,password"`
		Name     string `json:"name" validate:"max=100"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.Register(r.Context(), auth.RegisterParams{
			Email:    data.Email,
			Password: data.Password,
			Name:     data.Name,
		}, clientip.FromRequest(r))

		switch {
		case err == nil:
			render.JSONWithStatus(w, newSessionResponse(session), http.StatusCreated)
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.CodedError(w, render.CodeConflict, "User already exists", http.StatusConflict)
		default:
			l.Error("Failed to register user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogin(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.Login(r.Context(), data.Email, data.Password, clientip.FromRequest(r))
		if err != nil {
			renderLoginError(w, err, l)
			return
		}

		render.JSON(w, newSessionResponse(session))
	})
}

func handleProviderLogin(authService authService, l logger.Logger) http.Handler {
	type request struct {
		IDToken string `json:"idToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.LoginWithProvider(r.Context(), data.IDToken, clientip.FromRequest(r))
		switch {
		case err == nil:
			render.JSON(w, newSessionResponse(session))
		case errors.Is(err, apperrors.ErrProviderDisabled):
			render.ServiceError(w, "Provider login is not configured", http.StatusNotImplemented)
		case errors.Is(err, apperrors.ErrProviderRejected):
			render.CodedError(w, render.CodeInvalidCredentials, "Invalid identity token", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrEmailNotVerified):
			render.CodedError(w, render.CodeForbidden, "Email is not verified", http.StatusForbidden)
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.CodedError(w, render.CodeConflict, "Account is linked to another identity", http.StatusConflict)
		default:
			renderLoginError(w, err, l)
		}
	})
}

func handleRefresh(authService authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.Refresh(r.Context(), data.RefreshToken, clientip.FromRequest(r))
		switch {
		case err == nil:
			render.JSON(w, newSessionResponse(session))
		case errors.Is(err, apperrors.ErrInvalidOrExpiredToken):
			render.CodedError(w, render.CodeInvalidOrExpiredToken, "Invalid or expired token", http.StatusUnauthorized)
		default:
			l.Error("Failed to refresh tokens", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogout(authService authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = authService.Logout(r.Context(), data.RefreshToken, clientip.FromRequest(r))
		switch {
		case err == nil:
			render.JSON(w, emptyResponse{})
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			render.CodedError(w, render.CodeNotFound, "Refresh token not found", http.StatusNotFound)
		default:
			l.Error("Failed to logout", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogoutAll(authService authService, l logger.Logger) http.Handler {
	type response struct {
		Revoked int64 `json:"revoked"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.User(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		revoked, err := authService.LogoutAll(r.Context(), user.ID, clientip.FromRequest(r))
		if err != nil {
			l.Error("Failed to revoke sessions", "user_id", user.ID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Revoked: revoked})
	})
}

func handleForgotPassword(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}
	type response struct {
		Message    string `json:"message"`
		ExpiresIn  int64  `json:"expiresIn"` // seconds
		ResetToken string `json:"resetToken,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		grant, err := authService.RequestReset(r.Context(), data.Email)
		if err != nil {
			l.Error("Failed to request password reset", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{
			Message:    "If the account exists, password reset instructions have been sent",
			ExpiresIn:  int64(grant.ExpiresIn.Seconds()),
			ResetToken: grant.Token,
		})
	})
}

func handleResetPassword(authService authService, l logger.Logger) http.Handler {
	type request struct {
		NewPassword string `json:"newPassword" validate:"required,min=8,max=128,password"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = authService.ResetPassword(r.Context(), r.PathValue("resetToken"), data.NewPassword, clientip.FromRequest(r))
		switch {
		case err == nil:
			render.JSON(w, emptyResponse{})
		case errors.Is(err, apperrors.ErrInvalidOrExpiredToken):
			render.CodedError(w, render.CodeInvalidOrExpiredToken, "Invalid or expired token", http.StatusUnauthorized)
		default:
			l.Error("Failed to reset password", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleChangePassword(authService authService, l logger.Logger) http.Handler {
	type request struct {
		CurrentPassword string `json:"currentPassword" validate:"required"`
		NewPassword     string `json:"newPassword" validate:"required,min=8,max=128,password"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.User(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = authService.ChangePassword(r.Context(), user.ID, data.CurrentPassword, data.NewPassword, clientip.FromRequest(r))
		switch {
		case err == nil:
			render.JSON(w, emptyResponse{})
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			// 400 not 401: the access token itself is fine
			render.CodedError(w, render.CodeInvalidCredentials, "Current password is incorrect", http.StatusBadRequest)
		default:
			l.Error("Failed to change password", "user_id", user.ID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Same responses for every way the credentials can be wrong
func renderLoginError(w http.ResponseWriter, err error, l logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		render.CodedError(w, render.CodeInvalidCredentials, "Invalid email or password", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrAccountInactive):
		render.CodedError(w, render.CodeAccountInactive, "Account is inactive", http.StatusForbidden)
	default:
		l.Error("Failed to login", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
