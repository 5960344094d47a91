package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/handlers/clientip"
	"github.com/nkiryanov/storefront/internal/handlers/render"
	"github.com/nkiryanov/storefront/internal/logger"
)

func handleSetActive(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Active *bool `json:"active" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.CodedError(w, render.CodeNotFound, "User not found", http.StatusNotFound)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := authService.SetActive(r.Context(), userID, *data.Active, clientip.FromRequest(r))
		switch {
		case err == nil:
			render.JSON(w, newUserResponse(user))
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.CodedError(w, render.CodeNotFound, "User not found", http.StatusNotFound)
		default:
			l.Error("Failed to update user", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
