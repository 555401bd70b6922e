package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store"
)

// DefaultHousekeepingInterval is how often periodic cleanup runs.
const DefaultHousekeepingInterval = 1 * time.Minute

// HousekeepingService performs periodic background maintenance:
//   - sweeping expired login challenges
//   - advancing RELEASED orders to COMPLETED
type HousekeepingService struct {
	store    store.Store
	logger   *slog.Logger
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	return &HousekeepingService{
		store:    st,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the housekeeping loop in a background goroutine.
func (s *HousekeepingService) Start() {
	go s.run()
	s.logger.Info("housekeeping started", "interval", s.interval)
}

// Stop signals the loop to exit and waits for it, bounded by ctx.
func (s *HousekeepingService) Stop(ctx context.Context) error {
	close(s.stopCh)
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			s.Tick(ctx)
			cancel()
		}
	}
}

// Tick runs one maintenance pass. Exported so tests can drive it directly.
func (s *HousekeepingService) Tick(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := s.store.Challenges().DeleteExpiredChallenges(ctx, now); err != nil {
		s.logger.WarnContext(ctx, "challenge sweep failed", "error", err)
	} else if n > 0 {
		s.logger.DebugContext(ctx, "expired challenges swept", "count", n)
	}

	if err := s.completeReleased(ctx); err != nil {
		s.logger.WarnContext(ctx, "order completion sweep failed", "error", err)
	}
}

// completeReleased closes out orders whose release the chain has confirmed.
// COMPLETED is bookkeeping, not a money movement, so it is safe to apply
// here without consulting the chain again.
func (s *HousekeepingService) completeReleased(ctx context.Context) error {
	orders, err := s.store.Orders().ListOrdersInStatus(ctx, domain.StatusReleased, statusSweepLimit)
	if err != nil {
		return err
	}

	for _, order := range orders {
		if err := order.Complete(); err != nil {
			continue
		}
		err := s.store.Orders().UpdateOrderVersioned(ctx, order)
		if errors.Is(err, store.ErrVersionConflict) {
			continue // next tick catches it
		}
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "order completed", "order_id", order.ID)
	}
	return nil
}
