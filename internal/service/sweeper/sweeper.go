// Package sweeper periodically removes refresh tokens that are expired already.
// Expired tokens are rejected on rotation anyway, so sweeping only keeps storage small.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/nkiryanov/caroauth/internal/logger"
	"github.com/nkiryanov/caroauth/internal/metrics"
)

type refreshRepo interface {
	DeleteExpired(ctx context.Context, before time.Time) (deleted int64, err error)
}

type Config struct {
	// How often expired tokens are removed. Zero or negative disables sweeping
	Interval time.Duration

	Logger  logger.Logger
	Metrics *metrics.Metrics

	// Clock, mostly for tests
	Now func() time.Time
}

type Sweeper struct {
	interval time.Duration
	repo     refreshRepo
	logger   logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(cfg Config, repo refreshRepo) (*Sweeper, error) {
	if repo == nil {
		return nil, errors.New("refresh token repository is required")
	}

	s := &Sweeper{
		interval: cfg.Interval,
		repo:     repo,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}

	if s.logger == nil {
		s.logger = logger.NewNoOpLogger()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoOp()
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// Delete tokens expired by now
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}

	s.metrics.RefreshTokensSwept.Add(float64(deleted))
	return deleted, nil
}

// Sweep on every tick until context is done.
// Returned channel is closed when the sweeper stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	if s.interval <= 0 {
		s.logger.Info("Sweeper disabled")
		close(idleStopped)
		return idleStopped
	}

	s.logger.Debug("Starting sweeper", "interval", s.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				deleted, err := s.SweepOnce(ctx)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Error("Failed to delete expired refresh tokens", "error", err)
					}
					continue
				}
				if deleted > 0 {
					s.logger.Info("Expired refresh tokens deleted", "count", deleted)
				}
			}
		}
	}()

	return idleStopped
}
