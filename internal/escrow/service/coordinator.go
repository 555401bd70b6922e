package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/catalog"
	"github.com/hawkerhall/escrow/internal/escrow/chain"
	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store"
	"github.com/hawkerhall/escrow/pkg/idx"
)

var (
	ErrOrderNotFound          = errors.New("service: order not found")
	ErrNotOrderParty          = errors.New("service: user is not a party to the order")
	ErrNotBuyer               = errors.New("service: only the buyer may do this")
	ErrNotAdmin               = errors.New("service: only an admin may do this")
	ErrSelfPurchase           = errors.New("service: buyer and seller must differ")
	ErrBuyerInactive          = errors.New("service: buyer account is inactive")
	ErrListingUnavailable     = errors.New("service: listing cannot be purchased")
	ErrConcurrentModification = errors.New("service: order changed concurrently, retry")
	ErrChainSubmission        = errors.New("service: chain submission failed")
	ErrInvalidOrderState      = errors.New("service: operation not allowed in current order state")
)

// CoordinatorService owns the escrow order lifecycle. It drives the order
// state machine, submits chain transactions, and records the speculative
// *_SUBMITTED advances; the confirmed advances come from the reconciler.
//
// Chain calls are made before the guarded database write, never inside a
// transaction, so a slow node can't hold row locks. The optimistic version
// check then decides whether the advance still applies.
type CoordinatorService struct {
	store   store.Store
	chain   chain.Client
	catalog catalog.Catalog
	logger  *slog.Logger
}

func NewCoordinatorService(
	st store.Store,
	ch chain.Client,
	cat catalog.Catalog,
	logger *slog.Logger,
) *CoordinatorService {
	return &CoordinatorService{
		store:   st,
		chain:   ch,
		catalog: cat,
		logger:  logger,
	}
}

// CreateOrder opens a new escrow order for a purchasable listing. The price
// and seller are taken from the catalogue, never from the client.
func (s *CoordinatorService) CreateOrder(ctx context.Context, buyerID, listingID string) (*domain.Order, error) {
	listing, err := s.catalog.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, catalog.ErrListingNotFound) {
			return nil, ErrListingUnavailable
		}
		return nil, fmt.Errorf("resolve listing: %w", err)
	}
	if !listing.Active {
		return nil, fmt.Errorf("%w: %w", ErrListingUnavailable, catalog.ErrListingInactive)
	}
	if listing.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}

	buyer, err := s.store.Users().GetUserByID(ctx, buyerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBuyerInactive
		}
		return nil, err
	}
	if !buyer.Active() {
		return nil, ErrBuyerInactive
	}

	if _, err := s.store.Users().GetUserByID(ctx, listing.SellerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrListingUnavailable
		}
		return nil, err
	}

	order := domain.NewOrder(
		idx.New().String(),
		listing.ID, buyerID, listing.SellerID,
		listing.Price, listing.Currency,
	)
	if err := s.store.Orders().CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.logger.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"listing_id", listing.ID,
		"buyer_id", buyerID,
		"seller_id", listing.SellerID,
		"amount", listing.Price,
	)
	return order, nil
}

// GetOrder returns an order visible to the caller: a party to it, or an
// admin.
func (s *CoordinatorService) GetOrder(ctx context.Context, userID string, role domain.Role, orderID string) (*domain.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleAdmin && !order.IsParty(userID) {
		return nil, ErrNotOrderParty
	}
	return order, nil
}

// ListOrders returns the caller's orders, newest first.
func (s *CoordinatorService) ListOrders(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Orders().ListOrdersByUser(ctx, userID, limit, offset)
}

// TxHistory returns the chain transactions submitted for an order.
func (s *CoordinatorService) TxHistory(ctx context.Context, userID string, role domain.Role, orderID string) ([]domain.OrderTx, error) {
	if _, err := s.GetOrder(ctx, userID, role, orderID); err != nil {
		return nil, err
	}
	return s.store.Orders().ListTxHistory(ctx, orderID)
}

// SubmitFunding submits the escrow funding transaction for the buyer and
// speculatively advances CREATED -> FUNDING_SUBMITTED once the node accepts
// it. FUNDED only ever comes from the chain.
func (s *CoordinatorService) SubmitFunding(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID {
		if !order.IsParty(userID) {
			return nil, ErrNotOrderParty
		}
		return nil, ErrNotBuyer
	}
	if order.Status != domain.StatusCreated {
		return nil, ErrInvalidOrderState
	}

	chainID, err := domain.ChainOrderID(order.ID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.chain.SubmitFunding(ctx, chainID, order.ChainAmount())
	if err != nil {
		s.logger.WarnContext(ctx, "funding submission failed",
			"order_id", order.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrChainSubmission, err)
	}

	// The node accepted the tx, so the hash is recorded even if the status
	// advance below loses a version race.
	s.appendTx(ctx, order.ID, domain.TxKindFunding, txHash)

	if err := s.advance(ctx, order, func(o *domain.Order) error {
		return o.SubmitFunding(txHash)
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "funding submitted",
		"order_id", order.ID, "tx_hash", txHash)
	return order, nil
}

// ConfirmDelivery records the buyer's confirmation that the goods arrived.
func (s *CoordinatorService) ConfirmDelivery(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID {
		if !order.IsParty(userID) {
			return nil, ErrNotOrderParty
		}
		return nil, ErrNotBuyer
	}

	if err := s.advance(ctx, order, (*domain.Order).ConfirmDelivery); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "delivery confirmed", "order_id", order.ID)
	return order, nil
}

// SubmitRelease submits the release transaction once delivery is confirmed
// and advances to RELEASE_SUBMITTED. RELEASED comes from the chain.
func (s *CoordinatorService) SubmitRelease(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID {
		if !order.IsParty(userID) {
			return nil, ErrNotOrderParty
		}
		return nil, ErrNotBuyer
	}
	if order.Status != domain.StatusDeliveryConfirmed {
		return nil, ErrInvalidOrderState
	}

	return s.submitRelease(ctx, order)
}

// ConfirmDeliveryAndRelease is the one-call path most buyers take: confirm
// receipt and immediately authorize payout.
func (s *CoordinatorService) ConfirmDeliveryAndRelease(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := s.ConfirmDelivery(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.submitRelease(ctx, order)
}

func (s *CoordinatorService) submitRelease(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	chainID, err := domain.ChainOrderID(order.ID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.chain.SubmitRelease(ctx, chainID)
	if err != nil {
		s.logger.WarnContext(ctx, "release submission failed",
			"order_id", order.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrChainSubmission, err)
	}

	// Hash first: the tx is on the chain whether or not the advance wins.
	s.appendTx(ctx, order.ID, domain.TxKindRelease, txHash)

	if err := s.advance(ctx, order, func(o *domain.Order) error {
		return o.SubmitRelease(txHash)
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "release submitted",
		"order_id", order.ID, "tx_hash", txHash)
	return order, nil
}

// SubmitRefund submits a refund transaction for a disputed order. Admins act
// as the arbiter here; the order only moves to REFUNDED when the chain
// confirms.
func (s *CoordinatorService) SubmitRefund(ctx context.Context, role domain.Role, orderID string) (*domain.Order, error) {
	if role != domain.RoleAdmin {
		return nil, ErrNotAdmin
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusFunded && order.Status != domain.StatusDeliveryConfirmed {
		return nil, ErrInvalidOrderState
	}

	chainID, err := domain.ChainOrderID(order.ID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.chain.SubmitRefund(ctx, chainID)
	if err != nil {
		s.logger.WarnContext(ctx, "refund submission failed",
			"order_id", order.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrChainSubmission, err)
	}
	s.appendTx(ctx, order.ID, domain.TxKindRefund, txHash)

	s.logger.InfoContext(ctx, "refund submitted",
		"order_id", order.ID, "tx_hash", txHash)
	return order, nil
}

// ConfirmFunding applies a chain-confirmed funding event. Idempotent: an
// order already at or past FUNDED is left alone.
func (s *CoordinatorService) ConfirmFunding(ctx context.Context, orderID string) error {
	return s.applyConfirmed(ctx, orderID, domain.StatusFunded, (*domain.Order).ConfirmFunding)
}

// FailFunding applies an explicit chain rejection of the funding tx.
func (s *CoordinatorService) FailFunding(ctx context.Context, orderID string) error {
	return s.applyConfirmed(ctx, orderID, domain.StatusFundingFailed, (*domain.Order).FailFunding)
}

// ConfirmRelease applies a chain-confirmed release event.
func (s *CoordinatorService) ConfirmRelease(ctx context.Context, orderID string) error {
	return s.applyConfirmed(ctx, orderID, domain.StatusReleased, (*domain.Order).ConfirmRelease)
}

// ConfirmRefund applies a chain-confirmed refund event.
func (s *CoordinatorService) ConfirmRefund(ctx context.Context, orderID string) error {
	return s.applyConfirmed(ctx, orderID, domain.StatusRefunded, (*domain.Order).Refund)
}

func (s *CoordinatorService) applyConfirmed(
	ctx context.Context,
	orderID string,
	target domain.OrderStatus,
	mutate func(*domain.Order) error,
) error {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == target {
		return nil // already applied
	}

	if err := s.advance(ctx, order, mutate); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "order advanced from chain confirmation",
		"order_id", order.ID, "status", order.Status)
	return nil
}

func (s *CoordinatorService) getOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.store.Orders().GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// advance applies a transition to the in-memory order and writes it back
// under the version read at load. A losing race surfaces as
// ErrConcurrentModification and leaves the row untouched.
func (s *CoordinatorService) advance(ctx context.Context, order *domain.Order, mutate func(*domain.Order) error) error {
	if err := mutate(order); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrTxHashImmutable) {
			return ErrInvalidOrderState
		}
		return err
	}

	if err := s.store.Orders().UpdateOrderVersioned(ctx, order); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return ErrConcurrentModification
		}
		return err
	}
	return nil
}

// appendTx records a submitted hash in the history. Best-effort: the order
// row already holds the authoritative first hash.
func (s *CoordinatorService) appendTx(ctx context.Context, orderID string, kind domain.TxKind, txHash string) {
	err := s.store.Orders().AppendTx(ctx, domain.OrderTx{
		ID:        idx.New().String(),
		OrderID:   orderID,
		Kind:      kind,
		TxHash:    txHash,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "append tx history failed",
			"order_id", orderID, "tx_hash", txHash, "error", err)
	}
}
