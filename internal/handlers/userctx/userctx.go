package userctx

import (
	"context"

	"github.com/nkiryanov/storefront/internal/models"
)

type userKey struct{}

// WithUser stores the account authenticated by bearer token
func WithUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// User is set only behind the auth middleware
func User(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey{}).(models.User)
	return u, ok
}
