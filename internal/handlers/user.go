package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/handlers/render"
	"github.com/nkiryanov/storefront/internal/handlers/userctx"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/models"
)

type userResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	Provider    string     `json:"provider"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Never expose password or reset token hashes
func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		AvatarURL:   u.AvatarURL,
		Provider:    u.Provider,
		Role:        u.Role,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func handleUserMe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.User(r.Context())
		render.JSON(w, newUserResponse(user))
	})
}

func handleListSessions(authService authService, l logger.Logger) http.Handler {
	type session struct {
		ID          uuid.UUID `json:"id"`
		CreatedAt   time.Time `json:"createdAt"`
		CreatedByIP string    `json:"createdByIp"`
		ExpiresAt   time.Time `json:"expiresAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.User(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		tokens, err := authService.Sessions(r.Context(), user.ID)
		if err != nil {
			l.Error("Failed to list sessions", "user_id", user.ID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]session, 0, len(tokens))
		for _, t := range tokens {
			res = append(res, session{ID: t.ID, CreatedAt: t.CreatedAt, CreatedByIP: t.CreatedByIP, ExpiresAt: t.ExpiresAt})
		}
		render.JSON(w, res)
	})
}
