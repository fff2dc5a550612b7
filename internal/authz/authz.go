// Package authz implements C4, the Authorization Signer: EIP-712 typed-data
// signatures binding (taskId, worker, expiresAt, nonce) to a domain that
// prevents cross-chain and cross-application replay, plus the nonce ledger
// guarding against reuse. No teacher file signs anything (signature-engine
// scans YARA rules, it does not produce ECDSA signatures); this package
// goes directly to go-ethereum's apitypes/crypto packages per spec §4.4's
// exact field list, in the teacher's plain-struct, sync.Mutex-protected
// style used throughout libs/go/core/resilience.
package authz

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// Domain binds signatures to one chain and one verifying contract, per
// spec §4.4's "name=Econos Master Agent, version=1, chainId,
// verifyingContract?" domain separator.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// Payload is the unsigned typed-data message C10 asks C4 to sign.
type Payload struct {
	TaskID    [32]byte
	Worker    common.Address
	ExpiresAt uint64
	Nonce     uint64
}

// SignedAuthorization is the payload plus its signature and the signer's
// address, serializable for transport to the worker.
type SignedAuthorization struct {
	Payload   Payload
	Signature []byte
	Signer    common.Address
}

// WorkerProof is the worker's separate signing context
// (keccak(taskId‖resultHash)) — kept as a distinct type from
// SignedAuthorization per DESIGN.md's Open Question 3 decision so the two
// contexts can never be interchanged by the type system. This codebase
// neither produces nor verifies proofs; the type is declared only.
type WorkerProof struct {
	TaskID    [32]byte
	ResultHash [32]byte
	Signature []byte
	Signer    common.Address
}

var ErrNonceAlreadyUsed = fmt.Errorf("nonce already recorded for this task")

// Signer is C4.
type Signer struct {
	domain     Domain
	privateKey *ecdsa.PrivateKey
	signer     common.Address

	mu     sync.Mutex
	nonces map[nonceKey]time.Time
}

type nonceKey struct {
	taskID [32]byte
	nonce  uint64
}

// New constructs a Signer bound to domain, signing with privateKey.
func New(domain Domain, privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		domain:     domain,
		privateKey: privateKey,
		signer:     crypto.PubkeyToAddress(privateKey.PublicKey),
		nonces:     make(map[nonceKey]time.Time),
	}
}

// Generate builds the unsigned payload for taskId/worker with the given
// validity window relative to now.
func (s *Signer) Generate(taskID [32]byte, worker common.Address, validity time.Duration, nonce uint64) Payload {
	return Payload{
		TaskID:    taskID,
		Worker:    worker,
		ExpiresAt: uint64(time.Now().Add(validity).Unix()),
		Nonce:     nonce,
	}
}

// Sign produces a SignedAuthorization, rejecting a (taskId, nonce) pair
// that has already been recorded — spec §4.4's nonce-reuse rule.
func (s *Signer) Sign(p Payload) (*SignedAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nonceKey{taskID: p.TaskID, nonce: p.Nonce}
	if _, used := s.nonces[key]; used {
		return nil, task.ErrNonceReused(p.Nonce)
	}

	hash, err := s.typedDataHash(p)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	s.nonces[key] = time.Now()
	return &SignedAuthorization{Payload: p, Signature: sig, Signer: s.signer}, nil
}

// Verify reports whether sa.Signature recovers to sa.Signer under s's
// domain — forging a signature under a different (chainId,
// verifyingContract) pair fails here, which is the domain-separation
// property spec §8 requires.
func (s *Signer) Verify(sa *SignedAuthorization) bool {
	hash, err := s.typedDataHash(sa.Payload)
	if err != nil {
		return false
	}
	pub, err := crypto.SigToPub(hash, sa.Signature)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == sa.Signer
}

// IsExpired reports whether sa's payload has passed its ExpiresAt at now.
func IsExpired(sa *SignedAuthorization, now time.Time) bool {
	return uint64(now.Unix()) >= sa.Payload.ExpiresAt
}

// PruneNoncesOlderThan removes ledger entries older than age; cmd/master
// calls it hourly on a cron schedule with the configured NonceRetention
// (default 24h).
func (s *Signer) PruneNoncesOlderThan(age time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-age)
	pruned := 0
	for k, issuedAt := range s.nonces {
		if issuedAt.Before(cutoff) {
			delete(s.nonces, k)
			pruned++
		}
	}
	return pruned
}

// typedDataHash builds the EIP-712 digest for p under s.domain.
func (s *Signer) typedDataHash(p Payload) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Authorization": {
				{Name: "taskId", Type: "bytes32"},
				{Name: "worker", Type: "address"},
				{Name: "expiresAt", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "Authorization",
		Domain: apitypes.TypedDataDomain{
			Name:              s.domain.Name,
			Version:           s.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(s.domain.ChainID)),
			VerifyingContract: s.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"taskId":    hexutil.Encode(p.TaskID[:]),
			"worker":    p.Worker.Hex(),
			"expiresAt": fmt.Sprintf("%d", p.ExpiresAt),
			"nonce":     fmt.Sprintf("%d", p.Nonce),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, domainSeparator...)
	rawData = append(rawData, messageHash...)
	return crypto.Keccak256(rawData), nil
}
