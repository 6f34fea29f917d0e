package services

import (
	"context"
	"time"

	"github.com/sonomandeep/deviceauth/domain"
	"github.com/sonomandeep/deviceauth/internal/metrics"
	applog "github.com/sonomandeep/deviceauth/log"
)

// Sweeper periodically marks overdue authorization requests as expired and
// purges terminal records once their retention window has passed. A failed
// sweep is logged and retried on the next tick; it never takes the service
// down.
type Sweeper struct {
	repo      domain.AuthorizationRepository
	interval  time.Duration
	retention time.Duration
	logger    applog.Logger

	nowFunc func() time.Time
}

// NewSweeper creates a Sweeper that runs every interval and purges records
// retention after their deadline.
func NewSweeper(repo domain.AuthorizationRepository, interval, retention time.Duration, logger applog.Logger) *Sweeper {
	return &Sweeper{
		repo:      repo,
		interval:  interval,
		retention: retention,
		logger:    logger,
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, sweeping on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "sweeper started", map[string]interface{}{
		"interval":  s.interval.String(),
		"retention": s.retention.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one expire-and-purge pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.nowFunc()

	marked, err := s.repo.MarkExpired(ctx, now)
	if err != nil {
		s.logger.Error(ctx, "sweep: failed to mark expired authorizations", err)
	} else if marked > 0 {
		metrics.SweepExpiredTotal.Add(float64(marked))
		s.logger.Info(ctx, "sweep: marked authorizations expired", map[string]interface{}{
			"count": marked,
		})
	}

	purged, err := s.repo.PurgeExpiredBefore(ctx, now.Add(-s.retention))
	if err != nil {
		s.logger.Error(ctx, "sweep: failed to purge old authorizations", err)
	} else if purged > 0 {
		metrics.SweepPurgedTotal.Add(float64(purged))
		s.logger.Info(ctx, "sweep: purged old authorizations", map[string]interface{}{
			"count": purged,
		})
	}
}
