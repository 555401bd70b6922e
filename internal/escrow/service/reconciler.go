package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/chain"
	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store"
)

const (
	// DefaultReconcileInterval is how often the reconciler polls for
	// confirmed events.
	DefaultReconcileInterval = 15 * time.Second

	// fundingStuckWindow is how long an order may sit in FUNDING_SUBMITTED
	// before the sweep starts asking the node about the funding tx's fate.
	// A tx still pending past the window is left alone; it may confirm
	// arbitrarily late.
	fundingStuckWindow = 10 * time.Minute

	// statusSweepLimit bounds each per-status sweep so one tick stays small.
	statusSweepLimit = 100
)

// ReconcilerService folds confirmed chain events back into the order table.
// The chain is the source of truth for money movement: speculative
// *_SUBMITTED states only become FUNDED/RELEASED/REFUNDED here. A persisted
// block checkpoint makes replay after a crash safe, every apply is
// idempotent, and contradictions are flagged for a human, never auto-fixed.
type ReconcilerService struct {
	store       store.Store
	chain       chain.Client
	coordinator *CoordinatorService
	logger      *slog.Logger
	interval    time.Duration
	stuckWindow time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewReconcilerService(
	st store.Store,
	ch chain.Client,
	coordinator *CoordinatorService,
	logger *slog.Logger,
	interval time.Duration,
) *ReconcilerService {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &ReconcilerService{
		store:       st,
		chain:       ch,
		coordinator: coordinator,
		logger:      logger,
		interval:    interval,
		stuckWindow: fundingStuckWindow,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the reconcile loop in a background goroutine.
func (s *ReconcilerService) Start() {
	go s.run()
	s.logger.Info("reconciler started", "interval", s.interval)
}

// Stop signals the loop to exit and waits for the in-flight tick, bounded by
// ctx.
func (s *ReconcilerService) Stop(ctx context.Context) error {
	close(s.stopCh)
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ReconcilerService) run() {
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

// Tick runs one reconcile pass: replay confirmed events past the checkpoint,
// then sweep for rejected funding transactions. Exported so tests can drive
// the reconciler without the ticker.
func (s *ReconcilerService) Tick(ctx context.Context) {
	if err := s.replayEvents(ctx); err != nil {
		s.logger.WarnContext(ctx, "event replay failed", "error", err)
	}
	if err := s.sweepStuckFunding(ctx); err != nil {
		s.logger.WarnContext(ctx, "stuck funding sweep failed", "error", err)
	}
}

func (s *ReconcilerService) replayEvents(ctx context.Context) error {
	cp, err := s.store.Checkpoints().GetCheckpoint(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	events, latest, err := s.chain.EventsSince(ctx, cp.LastProcessedBlock)
	if err != nil {
		return err
	}
	if latest == cp.LastProcessedBlock {
		return nil
	}

	for _, ev := range events {
		if err := s.applyEvent(ctx, ev); err != nil {
			// Stop before the checkpoint moves past the failed event so
			// the next tick replays it.
			return err
		}
	}

	return s.store.Checkpoints().SaveCheckpoint(ctx, domain.Checkpoint{
		LastProcessedBlock: latest,
		UpdatedAt:          time.Now().UTC(),
	})
}

func (s *ReconcilerService) applyEvent(ctx context.Context, ev domain.EscrowEvent) error {
	order, err := s.store.Orders().GetOrderByChainKey(ctx, ev.ChainOrderID.String())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// An event for an order this service never created. Nothing to
			// update; loud log so someone looks at the contract.
			s.logger.ErrorContext(ctx, "chain event for unknown order",
				"chain_order_id", ev.ChainOrderID.String(),
				"state", ev.State,
				"tx_hash", ev.TxHash,
				"block", ev.BlockNumber,
			)
			return nil
		}
		return err
	}

	switch ev.State {
	case domain.ChainStateFunded:
		return s.applyFunded(ctx, order, ev)
	case domain.ChainStateReleased:
		return s.applyReleased(ctx, order, ev)
	case domain.ChainStateRefunded:
		return s.applyRefunded(ctx, order, ev)
	default:
		return nil
	}
}

func (s *ReconcilerService) applyFunded(ctx context.Context, order *domain.Order, ev domain.EscrowEvent) error {
	switch order.Status {
	case domain.StatusFundingSubmitted:
		if ev.Amount != nil && ev.Amount.Cmp(order.ChainAmount()) < 0 {
			return s.flagReview(ctx, order, "funded amount on chain does not cover the order amount")
		}
		return s.confirmIdempotent(ctx, order.ID, s.coordinator.ConfirmFunding)
	case domain.StatusFunded, domain.StatusDeliveryConfirmed, domain.StatusReleaseSubmitted,
		domain.StatusReleased, domain.StatusCompleted, domain.StatusRefunded:
		return nil // already reflected
	default:
		// Funded on chain but the service never recorded a submission.
		return s.flagReview(ctx, order, "chain reports FUNDED but no funding was submitted")
	}
}

func (s *ReconcilerService) applyReleased(ctx context.Context, order *domain.Order, ev domain.EscrowEvent) error {
	switch order.Status {
	case domain.StatusReleaseSubmitted:
		return s.confirmIdempotent(ctx, order.ID, s.coordinator.ConfirmRelease)
	case domain.StatusReleased, domain.StatusCompleted:
		return nil
	default:
		return s.flagReview(ctx, order, "chain reports RELEASED but order never reached release submission")
	}
}

func (s *ReconcilerService) applyRefunded(ctx context.Context, order *domain.Order, ev domain.EscrowEvent) error {
	switch order.Status {
	case domain.StatusFunded, domain.StatusDeliveryConfirmed:
		return s.confirmIdempotent(ctx, order.ID, s.coordinator.ConfirmRefund)
	case domain.StatusRefunded:
		return nil
	default:
		return s.flagReview(ctx, order, "chain reports REFUNDED from an unexpected order state")
	}
}

// confirmIdempotent applies a confirmed advance, tolerating the races that
// replay makes normal: the order may have been advanced by an earlier tick.
func (s *ReconcilerService) confirmIdempotent(ctx context.Context, orderID string, confirm func(context.Context, string) error) error {
	err := confirm(ctx, orderID)
	if err == nil || errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrInvalidOrderState) {
		return nil
	}
	return err
}

// sweepStuckFunding marks orders whose funding tx the chain explicitly
// rejected: mined and reverted, or evicted from the mempool. A tx the node
// still holds as pending never fails an order here, no matter how old; it
// may confirm arbitrarily late and the event replay will pick it up.
func (s *ReconcilerService) sweepStuckFunding(ctx context.Context) error {
	orders, err := s.store.Orders().ListOrdersInStatus(ctx, domain.StatusFundingSubmitted, statusSweepLimit)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, order := range orders {
		if now.Sub(order.UpdatedAt) < s.stuckWindow || order.FundingTxHash == nil {
			continue
		}

		state, err := s.chain.TxStatus(ctx, *order.FundingTxHash)
		if err != nil {
			return err
		}
		if !state.Rejected() {
			continue // pending or confirmed; events decide, not the sweep
		}

		if err := s.confirmIdempotent(ctx, order.ID, s.coordinator.FailFunding); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "funding marked failed",
			"order_id", order.ID, "tx_hash", *order.FundingTxHash, "tx_state", state)
	}
	return nil
}

// flagReview records a contradiction between the chain and the order table
// for a human to resolve. The order state itself is left alone.
func (s *ReconcilerService) flagReview(ctx context.Context, order *domain.Order, reason string) error {
	if order.ReviewReason != nil {
		return nil // already flagged
	}

	order.ReviewReason = &reason
	err := s.store.Orders().UpdateOrderVersioned(ctx, order)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil // next tick re-evaluates against the fresh row
	}
	if err != nil {
		return err
	}

	s.logger.ErrorContext(ctx, "order flagged for review",
		"order_id", order.ID,
		"status", order.Status,
		"reason", reason,
	)
	return nil
}

