package coordinator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflict is the sentinel matched by ConflictError.
	ErrConflict = errors.New("conflict")
	// ErrFenced is returned once the coordinator stopped assigning revisions,
	// either because a newer epoch exists or because a durable apply failed.
	ErrFenced = errors.New("coordinator is fenced")
	// ErrNotCoordinator is returned before AssumeCoordinator succeeded.
	ErrNotCoordinator = errors.New("coordinator epoch not assumed")
	// ErrDestructiveNotAcknowledged is returned by a Hard rollback without
	// AcknowledgeDestructive.
	ErrDestructiveNotAcknowledged = errors.New("destructive rollback not acknowledged")
	// ErrInvalidRollbackTarget is returned for a rollback target outside [0, head].
	ErrInvalidRollbackTarget = errors.New("invalid rollback target")
	// ErrRollbackContended is returned when a Soft rollback keeps conflicting
	// with concurrent commits.
	ErrRollbackContended = errors.New("rollback contended")
)

// ConflictError reports keys written after the transaction snapshot.
// It is recoverable through Rectify.
type ConflictError struct {
	// Keys are the colliding keys, sorted.
	Keys [][]byte
	// Snapshot is the snapshot the transaction read at.
	Snapshot int64
	// Head is the assigned head when the conflict was detected; every
	// colliding write is at or below it.
	Head int64
}

// Error implements error interface.
func (e *ConflictError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = fmt.Sprintf("%q", k)
	}

	return fmt.Sprintf("conflict: %s written after snapshot %d (head %d)",
		strings.Join(keys, ", "), e.Snapshot, e.Head)
}

// Unwrap returns ErrConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

type fenceError struct {
	cause error
}

func (e *fenceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrFenced, e.cause)
}

func (e *fenceError) Unwrap() []error {
	return []error{ErrFenced, e.cause}
}
