package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/storefront/internal/handlers/clientip"
	"github.com/nkiryanov/storefront/internal/logger"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultResetTokenTTL   = 10 * time.Minute
	defaultPurgeInterval   = time.Hour
	defaultAMQPQueue       = "auth.events"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the storefront service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Signs access tokens, has to be shared by all instances
	SecretKey string

	// Environment
	Environment string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration

	// Redis for rate limiting; disabled if empty
	RedisAddr string

	// Proxies (CIDR or address) whose X-Forwarded-For is honored; peer address is the client if empty
	TrustedProxies []string

	// RabbitMQ for auth events; events are only logged if empty
	AMQPURL   string
	AMQPQueue string

	// Google sign-in; disabled if empty
	GoogleClientID string

	// How often stale refresh tokens are deleted
	PurgeInterval time.Duration

	// Return reset token in forgot-password response. Never enable in production
	ExposeResetToken bool
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		ListenAddr:      defaultListenAddr,
		Environment:     defaultEnvironment,
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		ResetTokenTTL:   defaultResetTokenTTL,
		PurgeInterval:   defaultPurgeInterval,
		AMQPQueue:       defaultAMQPQueue,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			*o = (*o)[:0]
			for _, item := range strings.Split(value, ",") {
				if item = strings.TrimSpace(item); item != "" {
					*o = append(*o, item)
				}
			}
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"SECRET_KEY":         setString(&c.SecretKey),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
		"ACCESS_TOKEN_TTL":   setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL":  setDuration(&c.RefreshTokenTTL),
		"RESET_TOKEN_TTL":    setDuration(&c.ResetTokenTTL),
		"REDIS_ADDR":         setString(&c.RedisAddr),
		"TRUSTED_PROXIES":    setList(&c.TrustedProxies),
		"AMQP_URL":           setString(&c.AMQPURL),
		"AMQP_QUEUE":         setString(&c.AMQPQueue),
		"GOOGLE_CLIENT_ID":   setString(&c.GoogleClientID),
		"PURGE_INTERVAL":     setDuration(&c.PurgeInterval),
		"EXPOSE_RESET_TOKEN": setBool(&c.ExposeResetToken),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("storefront", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")
	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "Refresh token lifetime")
	fs.DurationVar(&c.ResetTokenTTL, "reset-ttl", c.ResetTokenTTL, "Password reset token lifetime")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for rate limiting")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxies", c.TrustedProxies, "Proxies allowed to set X-Forwarded-For (CIDR or address)")
	fs.StringVar(&c.AMQPURL, "amqp", c.AMQPURL, "RabbitMQ url for auth events")
	fs.StringVar(&c.AMQPQueue, "amqp-queue", c.AMQPQueue, "RabbitMQ queue for auth events")
	fs.StringVar(&c.GoogleClientID, "google-client-id", c.GoogleClientID, "Google OAuth client id")
	fs.DurationVar(&c.PurgeInterval, "purge-interval", c.PurgeInterval, "Stale refresh tokens purge interval")
	fs.BoolVar(&c.ExposeResetToken, "expose-reset-token", c.ExposeResetToken, "Return reset token in response (development only)")

	return fs.Parse(args)
}

// Check the config is usable to start the server
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if _, err := clientip.NewResolver(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	if c.ExposeResetToken && c.Environment == logger.EnvProduction {
		errs = append(errs, errors.New("reset token can't be exposed in production"))
	}

	return errors.Join(errs...)
}
