// Package chain is the boundary to the escrow smart contract. Everything the
// rest of the service knows about the chain goes through the Client
// interface, so services and tests never touch an RPC node directly.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
)

var (
	// ErrSubmission covers any failure to get a transaction accepted by the
	// node (connectivity, rejection at the mempool, bad calldata). The order
	// state is never advanced when this comes back.
	ErrSubmission = errors.New("chain: transaction submission failed")

	// ErrUnavailable is returned by read paths when the node cannot be
	// reached. The reconciler treats it as "try again next tick".
	ErrUnavailable = errors.New("chain: node unavailable")
)

// TxState is the node's view of a previously submitted transaction.
type TxState string

const (
	// TxStatePending means the transaction is still in the mempool. It may
	// confirm arbitrarily late.
	TxStatePending TxState = "PENDING"

	// TxStateConfirmed means the transaction was mined and succeeded.
	TxStateConfirmed TxState = "CONFIRMED"

	// TxStateFailed means the transaction was mined and reverted.
	TxStateFailed TxState = "FAILED"

	// TxStateDropped means the node no longer knows the transaction: it was
	// evicted from the mempool without being mined.
	TxStateDropped TxState = "DROPPED"
)

// Rejected reports whether the state is an explicit chain rejection. Only
// these states may fail an order; anything else means keep waiting.
func (s TxState) Rejected() bool {
	return s == TxStateFailed || s == TxStateDropped
}

// Client submits escrow transactions and reads confirmed contract state.
type Client interface {
	// SubmitFunding locks amount for the given order in the contract.
	// Returns the accepted transaction hash. Acceptance is not
	// confirmation; confirmation arrives later as an event.
	SubmitFunding(ctx context.Context, chainOrderID *big.Int, amount *big.Int) (string, error)

	// SubmitRelease asks the contract to pay the locked amount out to the
	// seller.
	SubmitRelease(ctx context.Context, chainOrderID *big.Int) (string, error)

	// SubmitRefund asks the contract to return the locked amount to the
	// buyer.
	SubmitRefund(ctx context.Context, chainOrderID *big.Int) (string, error)

	// OrderState reads the contract's current view of an order.
	OrderState(ctx context.Context, chainOrderID *big.Int) (domain.ChainOrderState, error)

	// TxStatus reports the fate of a submitted transaction.
	TxStatus(ctx context.Context, txHash string) (TxState, error)

	// EventsSince returns confirmed escrow events with block number
	// strictly greater than afterBlock, ordered by block, together with
	// the latest block scanned. An empty slice with latest == afterBlock
	// means nothing new.
	EventsSince(ctx context.Context, afterBlock uint64) ([]domain.EscrowEvent, uint64, error)

	// Ping reports whether the node is reachable. Used by readiness.
	Ping(ctx context.Context) error
}
