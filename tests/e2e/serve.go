package e2e

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/storefront/internal/handlers"
	"github.com/nkiryanov/storefront/internal/handlers/clientip"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/repository"
	"github.com/nkiryanov/storefront/internal/repository/postgres"
	"github.com/nkiryanov/storefront/internal/service/auth"
	"github.com/nkiryanov/storefront/internal/service/auth/ledger"
	"github.com/nkiryanov/storefront/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/storefront/internal/testutil"
)

// Optional infrastructure of the server
type Options struct {
	Limiter  handlers.RateLimiter
	Notifier auth.Notifier

	// Peers allowed to set X-Forwarded-For, nobody by default
	TrustedProxies []string
}

type Services struct {
	AuthService *auth.AuthService
	Storage     repository.Storage
}

// Create db transaction and run server in with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, opts Options, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		storage := postgres.NewStorage(tx)

		tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"})
		require.NoError(t, err, "token manager should be created without errors")

		as, err := auth.NewService(auth.Config{
			Hasher:   auth.BcryptHasher{Cost: bcrypt.MinCost},
			Notifier: opts.Notifier,
		}, storage, tokens, ledger.New(storage.Refresh(), ledger.Config{}))
		require.NoError(t, err, "auth service starting error")

		proxies, err := clientip.NewResolver(opts.TrustedProxies)
		require.NoError(t, err, "trusted proxies should be valid")

		router := handlers.NewRouter(as, tx.Conn(), opts.Limiter, proxies, logger.NewNoOpLogger())

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			AuthService: as,
			Storage:     storage,
		})
	})
}
