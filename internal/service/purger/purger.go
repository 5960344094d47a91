package purger

import (
	"context"
	"time"

	"github.com/nkiryanov/storefront/internal/logger"
)

const defaultInterval = time.Hour

type tokenLedger interface {
	PurgeExpired(ctx context.Context, revokedGrace time.Duration) (int64, error)
}

type Config struct {
	// Interval between purges, default is used if zero
	Interval time.Duration

	// How long revoked tokens are kept, ledger default if zero
	RevokedGrace time.Duration
}

// Periodically deletes stale refresh tokens
// Not required for correctness: expired and revoked tokens are rejected anyway
type Purger struct {
	interval     time.Duration
	revokedGrace time.Duration
	ledger       tokenLedger
	logger       logger.Logger
}

func New(cfg Config, ledger tokenLedger, log logger.Logger) *Purger {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	return &Purger{
		interval:     cfg.Interval,
		revokedGrace: cfg.RevokedGrace,
		ledger:       ledger,
		logger:       log.With("component", "purger"),
	}
}

// Start purging in background until context is cancelled
// Returned channel is closed when purger stopped
func (p *Purger) Start(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting purger", "interval", p.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Purger stopped by context")
				return

			case <-ticker.C:
				p.PurgeOnce(ctx)
			}
		}
	}()

	return idleStopped
}

func (p *Purger) PurgeOnce(ctx context.Context) {
	deleted, err := p.ledger.PurgeExpired(ctx, p.revokedGrace)
	if err != nil {
		p.logger.Error("Failed to purge refresh tokens", "error", err)
		return
	}

	p.logger.Info("Refresh tokens purged", "deleted", deleted)
}
