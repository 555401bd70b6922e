package domain

import (
	"math/big"
	"time"
)

// ChainOrderState is the escrow contract's own view of an order, read back
// through ChainClient. It is deliberately narrower than OrderStatus: the
// contract only knows about money.
type ChainOrderState string

const (
	ChainStateNone     ChainOrderState = "NONE" // contract has never seen the id
	ChainStateFunded   ChainOrderState = "FUNDED"
	ChainStateReleased ChainOrderState = "RELEASED"
	ChainStateRefunded ChainOrderState = "REFUNDED"
)

// EscrowEvent is one confirmed contract state change, as observed on chain.
type EscrowEvent struct {
	ChainOrderID *big.Int
	State        ChainOrderState
	Amount       *big.Int // escrowed amount at the time of the event
	TxHash       string
	BlockNumber  uint64
}

// Checkpoint is the reconciler's persisted cursor. Restarts resume from
// LastProcessedBlock + 1 so no confirmed event is scanned twice or missed.
type Checkpoint struct {
	LastProcessedBlock uint64
	UpdatedAt          time.Time
}
