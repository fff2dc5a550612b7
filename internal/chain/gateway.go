// Package chain implements C1, the Chain Gateway: typed read/write access
// to the escrow and registry contracts plus event subscriptions, wrapping
// go-ethereum's ethclient/abi packages behind the narrow surface the
// rest of the system needs. Retries lean on resilience.Retry the way the
// teacher's services reach for the shared backoff helper rather than
// hand-rolling one per call site.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Ranish-Garg/econos-master-agent/internal/core/resilience"
	"github.com/Ranish-Garg/econos-master-agent/internal/task"

	"go.opentelemetry.io/otel/metric"
)

// Config carries the chain-facing environment configuration named in
// spec §6's closed set.
type Config struct {
	RPCURL             string
	ChainID            uint64
	BlockConfirmations int
	MasterPrivateKey   *ecdsa.PrivateKey
	MasterAddress      common.Address
	EscrowAddress      common.Address
	RegistryAddress    common.Address
}

// Gateway is C1.
type Gateway struct {
	cfg    Config
	client *ethclient.Client
	cursor *Cursor

	retryAttempts int
	retryDelay    time.Duration

	txCounter    metric.Int64Counter
	eventCounter metric.Int64Counter
}

// Dial connects to cfg.RPCURL and opens the resumable cursor at dataDir.
func Dial(ctx context.Context, cfg Config, dataDir string, meter metric.Meter) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, task.ErrChainUnavailable(err)
	}
	cursor, err := OpenCursor(dataDir, meter)
	if err != nil {
		return nil, fmt.Errorf("open chain cursor: %w", err)
	}

	txCounter, _ := meter.Int64Counter("econos_chain_transactions_total")
	eventCounter, _ := meter.Int64Counter("econos_chain_events_total")

	return &Gateway{
		cfg:           cfg,
		client:        client,
		cursor:        cursor,
		retryAttempts: 5,
		retryDelay:    200 * time.Millisecond,
		txCounter:     txCounter,
		eventCounter:  eventCounter,
	}, nil
}

func (g *Gateway) Close() error {
	g.client.Close()
	return g.cursor.Close()
}

// GetTask reads the escrow's tasks(bytes32) view for taskIDHash.
func (g *Gateway) GetTask(ctx context.Context, taskIDHash [32]byte) (*TaskRecord, error) {
	packed, err := escrowABI.Pack("tasks", taskIDHash)
	if err != nil {
		return nil, fmt.Errorf("pack tasks call: %w", err)
	}

	out, err := resilience.Retry(ctx, g.retryAttempts, g.retryDelay, func() ([]byte, error) {
		return g.client.CallContract(ctx, ethereum.CallMsg{
			To:   &g.cfg.EscrowAddress,
			Data: packed,
		}, nil)
	})
	if err != nil {
		return nil, task.ErrChainUnavailable(err)
	}

	values, err := escrowABI.Unpack("tasks", out)
	if err != nil {
		return nil, fmt.Errorf("unpack tasks result: %w", err)
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("unexpected tasks() return arity %d", len(values))
	}

	master, _ := values[0].(common.Address)
	worker, _ := values[1].(common.Address)
	amount, _ := values[2].(*big.Int)
	deadline, _ := values[3].(*big.Int)
	status, _ := values[4].(uint8)

	return &TaskRecord{
		Master:   [20]byte(master),
		Worker:   [20]byte(worker),
		Amount:   amount,
		Deadline: deadline,
		Status:   OnChainStatus(status),
	}, nil
}

// DepositTask submits depositTask(taskId, worker, duration) payable with
// value set to amountWei, returning the submitted transaction hash. Fails
// fast if the escrow already has a record for taskIDHash instead of
// submitting a transaction the contract would revert anyway.
func (g *Gateway) DepositTask(ctx context.Context, taskIDHash [32]byte, worker common.Address, duration time.Duration, amountWei *big.Int) ([]byte, error) {
	existing, err := g.GetTask(ctx, taskIDHash)
	if err != nil {
		return nil, err
	}
	if existing.Master != (common.Address{}) {
		return nil, task.ErrTaskAlreadyExists(fmt.Sprintf("%x", taskIDHash))
	}

	packed, err := escrowABI.Pack("depositTask", taskIDHash, worker, big.NewInt(int64(duration.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("pack depositTask call: %w", err)
	}

	txHash, err := g.sendTransaction(ctx, g.cfg.EscrowAddress, amountWei, packed)
	if err != nil {
		return nil, err
	}
	g.txCounter.Add(ctx, 1, metric.WithAttributes())
	return txHash, nil
}

// RefundAndSlash submits refundAndSlash(taskId), used by C9's sweeper when
// a task's deadline passes without completion.
func (g *Gateway) RefundAndSlash(ctx context.Context, taskIDHash [32]byte) ([]byte, error) {
	packed, err := escrowABI.Pack("refundAndSlash", taskIDHash)
	if err != nil {
		return nil, fmt.Errorf("pack refundAndSlash call: %w", err)
	}
	txHash, err := g.sendTransaction(ctx, g.cfg.EscrowAddress, big.NewInt(0), packed)
	if err != nil {
		return nil, err
	}
	g.txCounter.Add(ctx, 1)
	return txHash, nil
}

// IsWorkerActive reads the registry's isWorkerActive(address) view.
func (g *Gateway) IsWorkerActive(ctx context.Context, worker common.Address) (bool, error) {
	packed, err := registryABI.Pack("isWorkerActive", worker)
	if err != nil {
		return false, fmt.Errorf("pack isWorkerActive call: %w", err)
	}

	out, err := resilience.Retry(ctx, g.retryAttempts, g.retryDelay, func() ([]byte, error) {
		return g.client.CallContract(ctx, ethereum.CallMsg{
			To:   &g.cfg.RegistryAddress,
			Data: packed,
		}, nil)
	})
	if err != nil {
		return false, task.ErrChainUnavailable(err)
	}

	values, err := registryABI.Unpack("isWorkerActive", out)
	if err != nil || len(values) != 1 {
		return false, fmt.Errorf("unpack isWorkerActive result: %w", err)
	}
	active, _ := values[0].(bool)
	return active, nil
}

// sendTransaction signs and broadcasts a contract call with value, waiting
// for BlockConfirmations confirmations before returning.
func (g *Gateway) sendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	nonce, err := g.client.PendingNonceAt(ctx, g.cfg.MasterAddress)
	if err != nil {
		return nil, task.ErrChainUnavailable(err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, task.ErrChainUnavailable(err)
	}
	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  g.cfg.MasterAddress,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, task.ErrChainUnavailable(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	chainID := new(big.Int).SetUint64(g.cfg.ChainID)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), g.cfg.MasterPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return nil, task.ErrChainUnavailable(err)
	}

	if err := g.awaitConfirmations(ctx, signed.Hash()); err != nil {
		return nil, err
	}

	hash := signed.Hash()
	return hash[:], nil
}

// awaitConfirmations polls for the transaction's receipt and blocks until
// the chain head has advanced g.cfg.BlockConfirmations past its block.
func (g *Gateway) awaitConfirmations(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			receipt, err := g.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue
			}
			if receipt.Status == types.ReceiptStatusFailed {
				return task.ErrTxReverted("transaction reverted on-chain")
			}
			head, err := g.client.BlockNumber(ctx)
			if err != nil {
				continue
			}
			got := int(head - receipt.BlockNumber.Uint64())
			if got >= g.cfg.BlockConfirmations {
				return nil
			}
		}
	}
}
