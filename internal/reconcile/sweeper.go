package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/pkg/logger"
)

// Sweeper trims replay records older than the retention window. The
// provider stops retrying long before that, so forgetting an id is safe.
type Sweeper struct {
	repo      payments.Repository
	retention time.Duration
	interval  time.Duration
	metrics   *Metrics
	log       *slog.Logger
	now       payments.Clock
}

func NewSweeper(repo payments.Repository, cfg Config, metrics *Metrics, log *slog.Logger) *Sweeper {
	if log == nil {
		log = logger.Discard()
	}
	s := &Sweeper{
		repo:      repo,
		retention: cfg.EventRetention,
		interval:  cfg.SweepInterval,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
	if s.retention <= 0 {
		s.retention = 720 * time.Hour
	}
	if s.interval <= 0 {
		s.interval = time.Hour
	}
	return s
}

// SweepOnce deletes replay records received before now minus retention.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.repo.DeleteProcessedEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep processed events: %w", err)
	}
	s.metrics.swept(n)
	if n > 0 {
		s.log.InfoContext(ctx, "processed webhook events swept",
			logger.Component("webhook"), slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
// Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.ErrorContext(ctx, "webhook event sweep failed", logger.Component("webhook"), logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
