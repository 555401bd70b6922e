package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
)

// Fake is an in-memory Client for tests and local development. Submitted
// transactions succeed immediately; confirmation events are staged by the
// test with Confirm* and handed out through EventsSince like a real node
// would.
type Fake struct {
	mu sync.Mutex

	states    map[string]domain.ChainOrderState
	txStates  map[string]TxState
	events    []domain.EscrowEvent
	nextBlock uint64
	seq       int

	// SubmitErr, when set, makes every Submit* call fail with it.
	SubmitErr error
	// PingErr, when set, makes Ping fail with it.
	PingErr error
}

func NewFake() *Fake {
	return &Fake{
		states:    make(map[string]domain.ChainOrderState),
		txStates:  make(map[string]TxState),
		nextBlock: 1,
	}
}

func (f *Fake) Ping(ctx context.Context) error { return f.PingErr }

func (f *Fake) SubmitFunding(ctx context.Context, chainOrderID *big.Int, amount *big.Int) (string, error) {
	return f.submit("fund")
}

func (f *Fake) SubmitRelease(ctx context.Context, chainOrderID *big.Int) (string, error) {
	return f.submit("release")
}

func (f *Fake) SubmitRefund(ctx context.Context, chainOrderID *big.Int) (string, error) {
	return f.submit("refund")
}

func (f *Fake) submit(method string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.seq++
	return fmt.Sprintf("0xfake%s%04d", method, f.seq), nil
}

func (f *Fake) OrderState(ctx context.Context, chainOrderID *big.Int) (domain.ChainOrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[chainOrderID.String()]; ok {
		return s, nil
	}
	return domain.ChainStateNone, nil
}

// TxStatus returns the staged fate of a transaction; unmarked transactions
// sit in the mempool forever.
func (f *Fake) TxStatus(ctx context.Context, txHash string) (TxState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.txStates[txHash]; ok {
		return s, nil
	}
	return TxStatePending, nil
}

// FailTx marks a submitted transaction as mined and reverted.
func (f *Fake) FailTx(txHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txStates[txHash] = TxStateFailed
}

// DropTx marks a submitted transaction as evicted from the mempool.
func (f *Fake) DropTx(txHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txStates[txHash] = TxStateDropped
}

func (f *Fake) EventsSince(ctx context.Context, afterBlock uint64) ([]domain.EscrowEvent, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	latest := f.nextBlock - 1
	if latest <= afterBlock {
		return nil, afterBlock, nil
	}

	var out []domain.EscrowEvent
	for _, ev := range f.events {
		if ev.BlockNumber > afterBlock {
			out = append(out, ev)
		}
	}
	return out, latest, nil
}

// ConfirmFunded stages a confirmed funding event for the given chain order id.
func (f *Fake) ConfirmFunded(chainOrderID *big.Int, amount *big.Int) {
	f.confirm(chainOrderID, domain.ChainStateFunded, amount)
}

// ConfirmReleased stages a confirmed release event.
func (f *Fake) ConfirmReleased(chainOrderID *big.Int, amount *big.Int) {
	f.confirm(chainOrderID, domain.ChainStateReleased, amount)
}

// ConfirmRefunded stages a confirmed refund event.
func (f *Fake) ConfirmRefunded(chainOrderID *big.Int, amount *big.Int) {
	f.confirm(chainOrderID, domain.ChainStateRefunded, amount)
}

func (f *Fake) confirm(chainOrderID *big.Int, state domain.ChainOrderState, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	block := f.nextBlock
	f.nextBlock++

	f.states[chainOrderID.String()] = state
	f.events = append(f.events, domain.EscrowEvent{
		ChainOrderID: new(big.Int).Set(chainOrderID),
		State:        state,
		Amount:       amount,
		TxHash:       fmt.Sprintf("0xfakeevent%04d", f.seq),
		BlockNumber:  block,
	})
}
