package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/hawkerhall/escrow/pkg/idx"
)

// OrderStatus is the off-chain view of an escrow order. It only ever moves
// forward along the transition table below; the chain-confirmed states are
// never entered without the contract reporting agreement.
type OrderStatus string

const (
	StatusCreated           OrderStatus = "CREATED"
	StatusFundingSubmitted  OrderStatus = "FUNDING_SUBMITTED"
	StatusFunded            OrderStatus = "FUNDED"
	StatusDeliveryConfirmed OrderStatus = "DELIVERY_CONFIRMED_PENDING_RELEASE"
	StatusReleaseSubmitted  OrderStatus = "RELEASE_SUBMITTED"
	StatusReleased          OrderStatus = "RELEASED"
	StatusCompleted         OrderStatus = "COMPLETED"
	StatusFundingFailed     OrderStatus = "FUNDING_FAILED" // terminal
	StatusRefunded          OrderStatus = "REFUNDED"       // terminal
)

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFundingFailed, StatusRefunded:
		return true
	}
	return false
}

// transitions is the legal transition graph. Anything not listed is an
// invalid transition, full stop.
var transitions = map[OrderStatus][]OrderStatus{
	StatusCreated:           {StatusFundingSubmitted},
	StatusFundingSubmitted:  {StatusFunded, StatusFundingFailed},
	StatusFunded:            {StatusDeliveryConfirmed, StatusRefunded},
	StatusDeliveryConfirmed: {StatusReleaseSubmitted, StatusRefunded},
	StatusReleaseSubmitted:  {StatusReleased},
	StatusReleased:          {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	ErrInvalidTransition = errors.New("order: invalid state for transition")
	ErrTxHashImmutable   = errors.New("order: tx hash already recorded")
)

// TxKind tags entries in the order's transaction history.
type TxKind string

const (
	TxKindFunding TxKind = "funding"
	TxKindRelease TxKind = "release"
	TxKindRefund  TxKind = "refund"
)

// OrderTx is one submitted chain transaction for an order. The order row
// keeps the first accepted hash immutable; retries with a fresh hash are
// appended here.
type OrderTx struct {
	ID        string
	OrderID   string
	Kind      TxKind
	TxHash    string
	CreatedAt time.Time
}

// Order is the escrow order aggregate. It is owned by the coordinator and
// mutated only through the transition methods below; Version is bumped by
// the store on every successful write (optimistic concurrency).
type Order struct {
	ID            string
	ListingID     string
	BuyerID       string
	SellerID      string
	Amount        int64 // integer minor units
	Currency      string
	Status        OrderStatus
	FundingTxHash *string
	ReleaseTxHash *string
	ReviewReason  *string // set when reconciliation finds a contradiction
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder creates an order in CREATED for a purchasable listing.
func NewOrder(id, listingID, buyerID, sellerID string, amount int64, currency string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:        id,
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Amount:    amount,
		Currency:  currency,
		Status:    StatusCreated,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ChainOrderID derives the escrow contract's key for this order: the order
// id's 16-byte ULID form read as a big-endian unsigned integer. The mapping
// is injective (ULID <-> bytes is one-to-one) and 2^128 fits the contract's
// uint256 key, so two orders can never collide on it. Every call site that
// talks to the contract must go through this function.
func ChainOrderID(orderID string) (*big.Int, error) {
	id, err := idx.Parse(orderID)
	if err != nil {
		return nil, fmt.Errorf("order: derive chain id: %w", err)
	}
	return new(big.Int).SetBytes(id.Bytes()), nil
}

// ChainOrderKey is ChainOrderID rendered as a decimal string, the form the
// orders table indexes for reconciler lookups.
func ChainOrderKey(orderID string) (string, error) {
	n, err := ChainOrderID(orderID)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

// ChainAmount returns the order amount in the contract's integer form.
func (o *Order) ChainAmount() *big.Int {
	return big.NewInt(o.Amount)
}

// SubmitFunding records the speculative advance after the funding tx was
// accepted by the node. Confirmation comes later, from the chain.
func (o *Order) SubmitFunding(txHash string) error {
	if o.Status != StatusCreated {
		return ErrInvalidTransition
	}
	if o.FundingTxHash != nil {
		return ErrTxHashImmutable
	}
	o.Status = StatusFundingSubmitted
	o.FundingTxHash = &txHash
	return nil
}

// ConfirmFunding applies a chain-confirmed funding event.
func (o *Order) ConfirmFunding() error {
	if o.Status != StatusFundingSubmitted {
		return ErrInvalidTransition
	}
	o.Status = StatusFunded
	return nil
}

// FailFunding applies an explicit chain rejection of the funding tx.
func (o *Order) FailFunding() error {
	if o.Status != StatusFundingSubmitted {
		return ErrInvalidTransition
	}
	o.Status = StatusFundingFailed
	return nil
}

// ConfirmDelivery records the buyer's receipt confirmation.
func (o *Order) ConfirmDelivery() error {
	if o.Status != StatusFunded {
		return ErrInvalidTransition
	}
	o.Status = StatusDeliveryConfirmed
	return nil
}

// SubmitRelease records the speculative advance after the release tx was
// accepted by the node.
func (o *Order) SubmitRelease(txHash string) error {
	if o.Status != StatusDeliveryConfirmed {
		return ErrInvalidTransition
	}
	if o.ReleaseTxHash != nil {
		return ErrTxHashImmutable
	}
	o.Status = StatusReleaseSubmitted
	o.ReleaseTxHash = &txHash
	return nil
}

// ConfirmRelease applies a chain-confirmed release event.
func (o *Order) ConfirmRelease() error {
	if o.Status != StatusReleaseSubmitted {
		return ErrInvalidTransition
	}
	o.Status = StatusReleased
	return nil
}

// Complete is the internal housekeeping advance after release.
func (o *Order) Complete() error {
	if o.Status != StatusReleased {
		return ErrInvalidTransition
	}
	o.Status = StatusCompleted
	return nil
}

// Refund applies a chain-confirmed refund (dispute resolved for the buyer).
func (o *Order) Refund() error {
	if o.Status != StatusFunded && o.Status != StatusDeliveryConfirmed {
		return ErrInvalidTransition
	}
	o.Status = StatusRefunded
	return nil
}

// IsParty reports whether userID is the buyer or seller on this order.
func (o *Order) IsParty(userID string) bool {
	return o.BuyerID == userID || o.SellerID == userID
}
