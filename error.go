package reprise

import (
	"errors"
	"fmt"

	"github.com/reprisedb/go-reprise/coordinator"
)

var (
	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database is closed")
	// ErrTxnInvalidated is returned by transactions begun before a
	// destructive rollback.
	ErrTxnInvalidated = errors.New("transaction invalidated by destructive rollback")
	// ErrInvalidTxnState is matched by TxnStateError.
	ErrInvalidTxnState = errors.New("invalid transaction state")
	// ErrTooManyConflicts is returned when a conditional transaction keeps
	// conflicting with concurrent commits.
	ErrTooManyConflicts = errors.New("too many conflicts")
	// ErrAlreadyMounted is returned when mounting an archive twice.
	ErrAlreadyMounted = errors.New("archive already mounted")
	// ErrNotMounted is returned when unmounting an archive that is not mounted.
	ErrNotMounted = errors.New("archive not mounted")
)

// TxnStateError reports an operation the transaction state does not allow.
type TxnStateError struct {
	Op    string
	State coordinator.TxnState
}

// Error implements error interface.
func (e *TxnStateError) Error() string {
	return fmt.Sprintf("cannot %s a transaction in state %s", e.Op, e.State)
}

// Unwrap returns ErrInvalidTxnState.
func (e *TxnStateError) Unwrap() error {
	return ErrInvalidTxnState
}
