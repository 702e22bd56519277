package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrReplicationTimeout is the sentinel matched by ReplicationTimeoutError.
	ErrReplicationTimeout = errors.New("replication timeout")
	// ErrInvalidQuorum is returned when the quorum cannot be met by the peers.
	ErrInvalidQuorum = errors.New("invalid quorum")
)

// ReplicationTimeoutError reports a commit that did not reach its quorum
// in time. The revision stays committed and delivery is retried.
type ReplicationTimeoutError struct {
	Revision int64
	Acked    int
	Required int
	parent   error
}

// Error implements error interface.
func (e *ReplicationTimeoutError) Error() string {
	msg := fmt.Sprintf("replication of revision %d acknowledged by %d of %d required peers",
		e.Revision, e.Acked, e.Required)
	if e.parent != nil {
		msg += ": " + e.parent.Error()
	}

	return msg
}

// Unwrap returns ErrReplicationTimeout and the peer failures.
func (e *ReplicationTimeoutError) Unwrap() []error {
	if e.parent == nil {
		return []error{ErrReplicationTimeout}
	}

	return []error{ErrReplicationTimeout, e.parent}
}
