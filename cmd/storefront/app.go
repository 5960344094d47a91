package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/storefront/internal/db"
	"github.com/nkiryanov/storefront/internal/handlers"
	"github.com/nkiryanov/storefront/internal/handlers/clientip"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/ratelimit"
	"github.com/nkiryanov/storefront/internal/repository/postgres"
	"github.com/nkiryanov/storefront/internal/service/auth"
	"github.com/nkiryanov/storefront/internal/service/auth/ledger"
	"github.com/nkiryanov/storefront/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/storefront/internal/service/notify"
	"github.com/nkiryanov/storefront/internal/service/oauth"
	"github.com/nkiryanov/storefront/internal/service/purger"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	purger      *purger.Purger
	notifyQueue *notify.Queue
	logger      logger.Logger
	closers     []func()
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	app := &ServerApp{ListenAddr: c.ListenAddr}

	// Release what is already opened if start fails
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}
	app.logger = l

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, pool.Close)

	storage := postgres.NewStorage(pool)

	tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey, AccessTTL: c.AccessTokenTTL})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager: %w", err)
	}
	tokenLedger := ledger.New(storage.Refresh(), ledger.Config{TTL: c.RefreshTokenTTL})

	cfg := auth.Config{
		ResetTTL:         c.ResetTokenTTL,
		ExposeResetToken: c.ExposeResetToken,
		Logger:           l,
	}
	if c.GoogleClientID != "" {
		cfg.Verifier = oauth.NewGoogleVerifier(c.GoogleClientID, oauth.DefaultGoogleEndpoint, l)
	}

	// Events are delivered in background, so forgot-password answers equally fast for any email
	var delivery notify.Notifier = notify.NewLogNotifier(l)
	if c.AMQPURL != "" {
		n, err := notify.NewAMQPNotifier(notify.AMQPConfig{URL: c.AMQPURL, Queue: c.AMQPQueue}, l)
		if err != nil {
			return nil, fmt.Errorf("error while creating notifier: %w", err)
		}
		delivery = n
	}
	app.notifyQueue = notify.NewQueue(notify.QueueConfig{}, delivery, l)
	cfg.Notifier = app.notifyQueue

	authService, err := auth.NewService(cfg, storage, tokens, tokenLedger)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	// Nil interface keeps rate limiting off
	var limiter handlers.RateLimiter
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         c.RedisAddr,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		app.closers = append(app.closers, func() { _ = client.Close() })

		if err := client.Ping(ctx).Err(); err != nil {
			l.Warn("Redis is not reachable, rate limiter fails open until it is", "addr", c.RedisAddr, "error", err)
		}
		limiter = ratelimit.NewLimiter(client, "storefront:ratelimit:")
	}

	proxies, err := clientip.NewResolver(c.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("error while parsing trusted proxies: %w", err)
	}

	app.Handler = handlers.NewRouter(authService, pool, limiter, proxies, l)
	app.purger = purger.New(purger.Config{Interval: c.PurgeInterval}, tokenLedger, l)

	return app, nil
}

// Run starts http server, background purger and notify queue; stops them gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "addr", s.ListenAddr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		return nil
	})

	g.Go(func() error {
		<-s.purger.Start(gctx)
		return nil
	})

	g.Go(func() error {
		<-s.notifyQueue.Start(gctx)
		return nil
	})

	return g.Wait()
}

// Release connections in reverse order of opening
func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
