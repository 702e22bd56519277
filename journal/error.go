package journal

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal is closed")
	// ErrOutOfOrder is returned when an appended commit does not follow the tip.
	ErrOutOfOrder = errors.New("commit does not follow journal tip")
	// ErrDivergentCommit is returned when a revision is re-appended with a different hash.
	ErrDivergentCommit = errors.New("divergent commit for durable revision")
	// ErrCompacted is returned when reading commits dropped after checkpointing.
	ErrCompacted = errors.New("commits were dropped after checkpoint")
	// ErrNotCheckpointed is returned when dropping commits not covered by the checkpoint.
	ErrNotCheckpointed = errors.New("revision is not covered by checkpoint")
	// ErrTruncateBelowCheckpoint is returned when a truncation would cut into
	// checkpointed history.
	ErrTruncateBelowCheckpoint = errors.New("cannot truncate below checkpoint")
	// ErrCorrupt is returned when stored records fail their checksum.
	ErrCorrupt = errors.New("journal is corrupt")
)

// RecordError reports a commit that could not be decoded from storage.
type RecordError struct {
	Revision int64
	parent   error
}

// NewRecordError wraps parent with the revision it was read for.
func NewRecordError(revision int64, parent error) error {
	if parent == nil {
		return nil
	}

	return &RecordError{Revision: revision, parent: parent}
}

// Error implements error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("failed to read commit %d: %s", e.Revision, e.parent)
}

// Unwrap returns the decoding failure.
func (e *RecordError) Unwrap() error {
	return e.parent
}
