package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// pollInterval is how often the gateway checks for new confirmed blocks.
// Subscriptions always poll with FilterLogs, whatever the RPC transport.
const pollInterval = 4 * time.Second

// SubscribeTaskCreated streams TaskCreated events starting from the
// cursor's last scanned height, advancing the cursor as blocks confirm.
// C9's event demultiplexer is the sole consumer.
func (g *Gateway) SubscribeTaskCreated(ctx context.Context) (<-chan TaskCreatedEvent, <-chan error) {
	out := make(chan TaskCreatedEvent, 32)
	errs := make(chan error, 1)
	go g.pollLogs(ctx, escrowABI.Events["TaskCreated"].ID, func(log_ loggedEntry) {
		values, err := escrowABI.Unpack("TaskCreated", log_.Data)
		if err != nil || len(values) != 3 {
			return
		}
		master, _ := values[0].(common.Address)
		worker, _ := values[1].(common.Address)
		amount, _ := values[2].(*big.Int)
		var idHash [32]byte
		if len(log_.Topics) > 1 {
			idHash = log_.Topics[1]
		}
		select {
		case out <- TaskCreatedEvent{
			TaskIDHash: idHash,
			Master:     [20]byte(master),
			Worker:     [20]byte(worker),
			Amount:     amount,
			BlockNum:   log_.BlockNumber,
			TxHash:     log_.TxHash,
		}:
		case <-ctx.Done():
		}
		g.eventCounter.Add(ctx, 1)
	}, errs)
	return out, errs
}

// SubscribeTaskCompleted streams TaskCompleted events.
func (g *Gateway) SubscribeTaskCompleted(ctx context.Context) (<-chan TaskCompletedEvent, <-chan error) {
	out := make(chan TaskCompletedEvent, 32)
	errs := make(chan error, 1)
	go g.pollLogs(ctx, escrowABI.Events["TaskCompleted"].ID, func(log_ loggedEntry) {
		values, err := escrowABI.Unpack("TaskCompleted", log_.Data)
		if err != nil || len(values) != 1 {
			return
		}
		result, _ := values[0].([]byte)
		var idHash [32]byte
		if len(log_.Topics) > 1 {
			idHash = log_.Topics[1]
		}
		select {
		case out <- TaskCompletedEvent{
			TaskIDHash: idHash,
			Result:     result,
			BlockNum:   log_.BlockNumber,
			TxHash:     log_.TxHash,
		}:
		case <-ctx.Done():
		}
		g.eventCounter.Add(ctx, 1)
	}, errs)
	return out, errs
}

// SubscribeTaskRefunded streams TaskRefunded events.
func (g *Gateway) SubscribeTaskRefunded(ctx context.Context) (<-chan TaskRefundedEvent, <-chan error) {
	out := make(chan TaskRefundedEvent, 32)
	errs := make(chan error, 1)
	go g.pollLogs(ctx, escrowABI.Events["TaskRefunded"].ID, func(log_ loggedEntry) {
		var idHash [32]byte
		if len(log_.Topics) > 1 {
			idHash = log_.Topics[1]
		}
		select {
		case out <- TaskRefundedEvent{
			TaskIDHash: idHash,
			BlockNum:   log_.BlockNumber,
			TxHash:     log_.TxHash,
		}:
		case <-ctx.Done():
		}
		g.eventCounter.Add(ctx, 1)
	}, errs)
	return out, errs
}

// loggedEntry is the subset of types.Log this package consumes.
type loggedEntry struct {
	Data        []byte
	Topics      []common.Hash
	BlockNumber uint64
	TxHash      [32]byte
}

// pollLogs is the shared confirmed-block scanner behind all three
// subscriptions: it advances from the cursor's last height, waits for
// BlockConfirmations, fetches logs via FilterLogs, and invokes handle per
// matching entry before persisting the new cursor position. Grounded on
// the teacher's kv_store.Store acting as the single source of truth for
// "how far have we scanned" (SaveBlock/GetLatestBlock), generalized from
// block archival to event-log bookkeeping.
func (g *Gateway) pollLogs(ctx context.Context, topic common.Hash, handle func(loggedEntry), errs chan<- error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.scanOnce(ctx, topic, handle); err != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}
	}
}

func (g *Gateway) scanOnce(ctx context.Context, topic common.Hash, handle func(loggedEntry)) error {
	head, err := g.client.BlockNumber(ctx)
	if err != nil {
		return task.ErrChainUnavailable(err)
	}
	confirmed := head
	if uint64(g.cfg.BlockConfirmations) <= head {
		confirmed = head - uint64(g.cfg.BlockConfirmations)
	}

	last, err := g.cursor.Last(ctx, topic)
	if err != nil {
		return err
	}
	from := last + 1
	if from > confirmed {
		return nil
	}

	logs, err := g.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(confirmed),
		Addresses: []common.Address{g.cfg.EscrowAddress},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return task.ErrChainUnavailable(err)
	}

	for _, l := range logs {
		handle(loggedEntry{
			Data:        l.Data,
			Topics:      l.Topics,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
		})
	}

	return g.cursor.Advance(ctx, topic, confirmed)
}
