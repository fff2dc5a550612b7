package chain

import (
	"math/big"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// OnChainStatus is the escrow contract's uint8 status field.
type OnChainStatus uint8

const (
	OnChainCreated  OnChainStatus = 0
	OnChainComplete OnChainStatus = 1
	// OnChainDisputed covers both a contract-level dispute flag and a
	// generic failure code; per DESIGN.md's Open Question 1 decision both
	// map directly to task.StatusFailed, since this system has no
	// separate Disputed state of its own.
	OnChainDisputed OnChainStatus = 2
	OnChainRefunded OnChainStatus = 3
)

// MapStatus converts an on-chain status code to the local task status it
// drives C9's event demultiplexer toward.
func MapStatus(s OnChainStatus) (task.Status, bool) {
	switch s {
	case OnChainCreated:
		return task.StatusCreated, true
	case OnChainComplete:
		return task.StatusCompleted, true
	case OnChainDisputed:
		return task.StatusFailed, true
	case OnChainRefunded:
		return task.StatusRefunded, true
	default:
		return "", false
	}
}

// TaskRecord is the decoded return of the escrow's tasks(bytes32) view.
type TaskRecord struct {
	Master   [20]byte
	Worker   [20]byte
	Amount   *big.Int
	Deadline *big.Int
	Status   OnChainStatus
}

// TaskCreatedEvent mirrors the escrow's TaskCreated log.
type TaskCreatedEvent struct {
	TaskIDHash [32]byte
	Master     [20]byte
	Worker     [20]byte
	Amount     *big.Int
	BlockNum   uint64
	TxHash     [32]byte
}

// TaskCompletedEvent mirrors the escrow's TaskCompleted log.
type TaskCompletedEvent struct {
	TaskIDHash [32]byte
	Result     []byte
	BlockNum   uint64
	TxHash     [32]byte
}

// TaskRefundedEvent mirrors the escrow's TaskRefunded log.
type TaskRefundedEvent struct {
	TaskIDHash [32]byte
	BlockNum   uint64
	TxHash     [32]byte
}
