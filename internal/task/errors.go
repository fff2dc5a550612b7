package task

import "fmt"

// Kind tags an error by the taxonomy in spec §7. Kinds, not type names, so
// callers can switch on a stable small vocabulary instead of sentinel errors.
type Kind string

const (
	KindValidation Kind = "Validation"
	KindResource   Kind = "Resource"
	KindChain      Kind = "Chain"
	KindProtocol   Kind = "Protocol"
	KindWorker     Kind = "Worker"
	KindTimeout    Kind = "Timeout"
	KindInternal   Kind = "Internal"
)

// Error is the uniform error envelope carried across component boundaries.
type Error struct {
	Kind    Kind
	Code    string // e.g. "NoEligibleWorker", "InvalidTransition"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation errors.
func ErrUnsupportedTaskType(t Type) *Error {
	return newErr(KindValidation, "UnsupportedTaskType", "task type %q is not in the supported set", t)
}
func ErrSchemaViolation(reason string) *Error {
	return newErr(KindValidation, "SchemaViolation", "%s", reason)
}
func ErrBudgetNonPositive() *Error {
	return newErr(KindValidation, "BudgetNonPositive", "budget must be a positive integer")
}
func ErrDurationOutOfRange(d int64) *Error {
	return newErr(KindValidation, "DurationOutOfRange", "duration %d seconds is out of the accepted [3600, 604800] range", d)
}

// Resource errors.
func ErrNoEligibleWorker() *Error {
	return newErr(KindResource, "NoEligibleWorker", "no worker survives the selection filters")
}
func ErrNoWorkerForService(t Type) *Error {
	return newErr(KindResource, "NoWorkerForService", "no offer available for service type %q", t)
}
func ErrBudgetExceeded(estimate, max uint64) *Error {
	return newErr(KindResource, "BudgetExceeded", "estimated cost %d exceeds max budget %d", estimate, max)
}
func ErrTaskAlreadyExists(taskIDHash string) *Error {
	return newErr(KindResource, "TaskAlreadyExists", "task %s already has an on-chain record", taskIDHash)
}

// Chain errors.
func ErrChainUnavailable(cause error) *Error {
	return &Error{Kind: KindChain, Code: "ChainUnavailable", Message: "chain RPC exhausted retries", Cause: cause}
}
func ErrTxReverted(reason string) *Error {
	return newErr(KindChain, "TxReverted", "%s", reason)
}
func ErrInsufficientConfirmations(got, want int) *Error {
	return newErr(KindChain, "InsufficientConfirmations", "got %d confirmations, want %d", got, want)
}

// Protocol errors.
func ErrInvalidTransition(from, to Status) *Error {
	return newErr(KindProtocol, "InvalidTransition", "cannot transition from %s to %s", from, to)
}
func ErrNonceReused(nonce uint64) *Error {
	return newErr(KindProtocol, "NonceReused", "nonce %d already recorded for this task", nonce)
}
func ErrAuthorizationExpired() *Error {
	return newErr(KindProtocol, "AuthorizationExpired", "authorization has expired")
}
func ErrSignatureInvalid() *Error {
	return newErr(KindProtocol, "SignatureInvalid", "signature does not recover to the expected signer")
}

// Worker errors.
func ErrManifestUnavailable(worker string, cause error) *Error {
	return &Error{Kind: KindWorker, Code: "ManifestUnavailable", Message: fmt.Sprintf("worker %s manifest unreachable", worker), Cause: cause}
}
func ErrDispatchFailed(httpStatus int) *Error {
	return newErr(KindWorker, "DispatchFailed", "worker responded with HTTP %d", httpStatus)
}
func ErrCircuitOpen(endpoint string) *Error {
	return newErr(KindWorker, "CircuitOpen", "circuit breaker open for worker endpoint %s", endpoint)
}
func ErrResultFetchFailed(cause error) *Error {
	return &Error{Kind: KindWorker, Code: "ResultFetchFailed", Message: "failed to fetch worker result", Cause: cause}
}

// Timeout errors.
func ErrDeadlineExceeded() *Error {
	return newErr(KindTimeout, "DeadlineExceeded", "task deadline has passed")
}
func ErrProofTimeout() *Error {
	return newErr(KindTimeout, "ProofTimeout", "polling for proof exceeded the bounded interval")
}

// Internal errors.
func ErrPersistence(cause error) *Error {
	return &Error{Kind: KindInternal, Code: "PersistenceError", Message: "persistence operation failed", Cause: cause}
}
func ErrConfigMissing(key string) *Error {
	return newErr(KindInternal, "ConfigMissing", "required configuration %q is not set", key)
}
