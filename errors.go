package kitedb

import (
	"errors"
	"fmt"

	"github.com/kitedb/kitedb/mvcc"
)

// ErrKind tags one of KiteDB's closed set of error kinds (spec §7).
type ErrKind int

const (
	ErrKindIO ErrKind = iota
	ErrKindReadOnly
	ErrKindNoTransaction
	ErrKindTransactionInProgress
	ErrKindConflict
	ErrKindCrcMismatch
	ErrKindVersionMismatch
	ErrKindInvalidSnapshot
	ErrKindInvalidWAL
	ErrKindInvalidReplication
	ErrKindLockFailed
	ErrKindVectorDimensionMismatch
	ErrKindInvalidQuery
	ErrKindSerialization
	ErrKindInternal
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindIO:
		return "Io"
	case ErrKindReadOnly:
		return "ReadOnly"
	case ErrKindNoTransaction:
		return "NoTransaction"
	case ErrKindTransactionInProgress:
		return "TransactionInProgress"
	case ErrKindConflict:
		return "Conflict"
	case ErrKindCrcMismatch:
		return "CrcMismatch"
	case ErrKindVersionMismatch:
		return "VersionMismatch"
	case ErrKindInvalidSnapshot:
		return "InvalidSnapshot"
	case ErrKindInvalidWAL:
		return "InvalidWal"
	case ErrKindInvalidReplication:
		return "InvalidReplication"
	case ErrKindLockFailed:
		return "LockFailed"
	case ErrKindVectorDimensionMismatch:
		return "VectorDimensionMismatch"
	case ErrKindInvalidQuery:
		return "InvalidQuery"
	case ErrKindSerialization:
		return "Serialization"
	default:
		return "Internal"
	}
}

// KiteError is the engine's closed error sum (spec §7). Every operation that
// fails returns one of these, wrapping the lower-level cause so
// errors.Is/errors.As still reach the original (a *mvcc.ConflictError, a
// *storage.CrcMismatchError, ...), following novusdb's own
// fmt.Errorf("NovusDB: %w", err) wrapping habit rather than swallowing the
// cause.
type KiteError struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *KiteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("kitedb: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("kitedb: %s: %s", e.Kind, e.Message)
}

func (e *KiteError) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, ErrReadOnly)-style kind comparisons via a
// sentinel constructed with the same Kind and no message/cause.
func (e *KiteError) Is(target error) bool {
	other, ok := target.(*KiteError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind ErrKind, message string, cause error) *KiteError {
	return &KiteError{Kind: kind, Message: message, Cause: cause}
}

// Sentinel kind markers for errors.Is checks that don't care about message
// or cause, e.g. errors.Is(err, ErrReadOnly).
var (
	ErrReadOnly             = &KiteError{Kind: ErrKindReadOnly}
	ErrNoTransaction        = &KiteError{Kind: ErrKindNoTransaction}
	ErrTransactionInProgress = &KiteError{Kind: ErrKindTransactionInProgress}
)

// wrapConflict converts an *mvcc.ConflictError into a KiteError, preserving
// the conflicting TxKeys for the caller to retry against (spec §7
// "Conflict identifies the conflicting TxKeys").
func wrapConflict(err error) *KiteError {
	var ce *mvcc.ConflictError
	if errors.As(err, &ce) {
		return newErr(ErrKindConflict, ce.Error(), err)
	}
	return newErr(ErrKindInternal, "conflict", err)
}
