package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
)

// escrowABI is the slice of the escrow contract interface this service
// drives: fund/release/refund plus the state getter and the three
// confirmation events.
const escrowABI = `[
	{"type":"function","name":"fund","stateMutability":"payable","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"release","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"stateOf","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"event","name":"Funded","inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Released","inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Refunded","inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

// contract state enum values, matching the uint8 returned by stateOf.
const (
	contractStateNone uint8 = iota
	contractStateFunded
	contractStateReleased
	contractStateRefunded
)

const submitGasLimit = 200_000

// EthereumClient drives the escrow contract over JSON-RPC. Transactions are
// signed with a single operator key; users fund via the service, not with
// their own wallets, so the service's key custody model stays simple.
type EthereumClient struct {
	eth      *ethclient.Client
	abi      abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
}

// NewEthereumClient dials the node and verifies the chain id matches the
// configured one before returning.
func NewEthereumClient(ctx context.Context, rpcURL, contractAddr, operatorKeyHex string, chainID *big.Int) (*EthereumClient, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse contract abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse operator key: %w", err)
	}

	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("chain: invalid contract address %q", contractAddr)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial node: %w", err)
	}

	remoteID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: read chain id: %w", err)
	}
	if remoteID.Cmp(chainID) != 0 {
		eth.Close()
		return nil, fmt.Errorf("chain: node chain id %s does not match configured %s", remoteID, chainID)
	}

	return &EthereumClient{
		eth:      eth,
		abi:      parsed,
		contract: common.HexToAddress(contractAddr),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
	}, nil
}

func (c *EthereumClient) Close() { c.eth.Close() }

func (c *EthereumClient) Ping(ctx context.Context) error {
	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *EthereumClient) SubmitFunding(ctx context.Context, chainOrderID *big.Int, amount *big.Int) (string, error) {
	return c.submit(ctx, "fund", chainOrderID, amount)
}

func (c *EthereumClient) SubmitRelease(ctx context.Context, chainOrderID *big.Int) (string, error) {
	return c.submit(ctx, "release", chainOrderID, nil)
}

func (c *EthereumClient) SubmitRefund(ctx context.Context, chainOrderID *big.Int) (string, error) {
	return c.submit(ctx, "refund", chainOrderID, nil)
}

func (c *EthereumClient) submit(ctx context.Context, method string, chainOrderID *big.Int, value *big.Int) (string, error) {
	data, err := c.abi.Pack(method, chainOrderID)
	if err != nil {
		return "", fmt.Errorf("%w: pack %s: %v", ErrSubmission, method, err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrSubmission, err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", ErrSubmission, err)
	}

	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTransaction(nonce, c.contract, value, submitGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("%w: sign: %v", ErrSubmission, err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: send %s: %v", ErrSubmission, method, err)
	}

	return signed.Hash().Hex(), nil
}

func (c *EthereumClient) OrderState(ctx context.Context, chainOrderID *big.Int) (domain.ChainOrderState, error) {
	data, err := c.abi.Pack("stateOf", chainOrderID)
	if err != nil {
		return domain.ChainStateNone, fmt.Errorf("%w: pack stateOf: %v", ErrUnavailable, err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return domain.ChainStateNone, fmt.Errorf("%w: call stateOf: %v", ErrUnavailable, err)
	}

	vals, err := c.abi.Unpack("stateOf", out)
	if err != nil || len(vals) != 1 {
		return domain.ChainStateNone, fmt.Errorf("%w: unpack stateOf: %v", ErrUnavailable, err)
	}
	raw, ok := vals[0].(uint8)
	if !ok {
		return domain.ChainStateNone, fmt.Errorf("%w: unexpected stateOf type %T", ErrUnavailable, vals[0])
	}
	return mapContractState(raw), nil
}

// TxStatus resolves a submitted transaction to pending, confirmed, reverted
// or dropped. NotFound from the node means the tx left the mempool unmined.
func (c *EthereumClient) TxStatus(ctx context.Context, txHash string) (TxState, error) {
	hash := common.HexToHash(txHash)

	_, pending, err := c.eth.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return TxStateDropped, nil
	}
	if err != nil {
		return TxStatePending, fmt.Errorf("%w: tx by hash: %v", ErrUnavailable, err)
	}
	if pending {
		return TxStatePending, nil
	}

	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return TxStatePending, nil
	}
	if err != nil {
		return TxStatePending, fmt.Errorf("%w: tx receipt: %v", ErrUnavailable, err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return TxStateFailed, nil
	}
	return TxStateConfirmed, nil
}

func (c *EthereumClient) EventsSince(ctx context.Context, afterBlock uint64) ([]domain.EscrowEvent, uint64, error) {
	latest, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, afterBlock, fmt.Errorf("%w: block number: %v", ErrUnavailable, err)
	}
	if latest <= afterBlock {
		return nil, afterBlock, nil
	}

	fundedID := c.abi.Events["Funded"].ID
	releasedID := c.abi.Events["Released"].ID
	refundedID := c.abi.Events["Refunded"].ID

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(afterBlock + 1),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{fundedID, releasedID, refundedID}},
	})
	if err != nil {
		return nil, afterBlock, fmt.Errorf("%w: filter logs: %v", ErrUnavailable, err)
	}

	events := make([]domain.EscrowEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed || len(lg.Topics) < 2 {
			continue
		}

		var state domain.ChainOrderState
		switch lg.Topics[0] {
		case fundedID:
			state = domain.ChainStateFunded
		case releasedID:
			state = domain.ChainStateReleased
		case refundedID:
			state = domain.ChainStateRefunded
		default:
			continue
		}

		amount := new(big.Int)
		if len(lg.Data) >= 32 {
			amount.SetBytes(lg.Data[:32])
		}

		events = append(events, domain.EscrowEvent{
			ChainOrderID: new(big.Int).SetBytes(lg.Topics[1].Bytes()),
			State:        state,
			Amount:       amount,
			TxHash:       lg.TxHash.Hex(),
			BlockNumber:  lg.BlockNumber,
		})
	}

	return events, latest, nil
}

func mapContractState(raw uint8) domain.ChainOrderState {
	switch raw {
	case contractStateFunded:
		return domain.ChainStateFunded
	case contractStateReleased:
		return domain.ChainStateReleased
	case contractStateRefunded:
		return domain.ChainStateRefunded
	default:
		return domain.ChainStateNone
	}
}
