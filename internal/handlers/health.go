package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/storefront/internal/handlers/render"
	"github.com/nkiryanov/storefront/internal/logger"
)

func handleHealth(p pinger, l logger.Logger) http.Handler {
	type response struct {
		Status string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			l.Warn("Health check failed", "error", err)
			render.JSONWithStatus(w, response{Status: "unavailable"}, http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, response{Status: "ok"})
	})
}
