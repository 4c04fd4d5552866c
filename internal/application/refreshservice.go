package application

import (
	"context"
	"log/slog"
	"time"
)

// RefreshService keeps the pool's credit balances warm by running a full
// refresh on boot and then on a fixed interval.
type RefreshService struct {
	pool     *Pool
	interval time.Duration
	logger   *slog.Logger
}

// NewRefreshService creates a RefreshService refreshing pool every interval.
func NewRefreshService(pool *Pool, interval time.Duration, logger *slog.Logger) *RefreshService {
	return &RefreshService{pool: pool, interval: interval, logger: logger}
}

// Start runs an immediate refresh cycle, then refreshes on the configured
// interval. Start blocks until the context is canceled.
func (s *RefreshService) Start(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh service stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *RefreshService) runCycle(ctx context.Context) {
	start := time.Now()
	s.pool.RefreshAll(ctx)
	s.logger.Info("credit refresh cycle complete",
		"keys", s.pool.Count(),
		"total_balance", s.pool.TotalBalance(),
		"duration", time.Since(start).Round(time.Millisecond))
}
