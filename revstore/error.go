package revstore

import (
	"errors"
	"fmt"

	"github.com/reprisedb/go-reprise/kv"
)

var (
	// ErrNotFound is the sentinel matched by NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrReadOnly is returned by mutating calls on a read-only store.
	ErrReadOnly = errors.New("store is read-only")
	// ErrInvalidPolicy is returned for a retention policy that keeps nothing.
	ErrInvalidPolicy = errors.New("invalid retention policy")
)

// Reason tells why a read found nothing.
type Reason int

const (
	// ReasonNeverExisted means the key had no entry at or before the queried revision.
	ReasonNeverExisted Reason = iota
	// ReasonDeleted means the selected version is a tombstone.
	ReasonDeleted
	// ReasonArchived means the query is older than the retained window of the key.
	ReasonArchived
	// ReasonNoSuchRevision means an Exact selector named a revision that did
	// not write the key.
	ReasonNoSuchRevision
)

func (r Reason) String() string {
	switch r {
	case ReasonNeverExisted:
		return "never existed"
	case ReasonDeleted:
		return "deleted"
	case ReasonArchived:
		return "archived"
	case ReasonNoSuchRevision:
		return "no such revision"
	default:
		return "unknown"
	}
}

// NotFoundError is returned by reads that select no value.
type NotFoundError struct {
	Key      []byte
	Selector kv.Selector
	Reason   Reason
	// Revision is the tombstone revision for ReasonDeleted and the
	// retained floor for ReasonArchived, zero otherwise.
	Revision int64
}

// Error implements error interface.
func (e *NotFoundError) Error() string {
	switch e.Reason {
	case ReasonDeleted:
		return fmt.Sprintf("key %q not found at %s: deleted at revision %d", e.Key, e.Selector, e.Revision)
	case ReasonArchived:
		return fmt.Sprintf("key %q not found at %s: archived, retained from revision %d", e.Key, e.Selector, e.Revision)
	default:
		return fmt.Sprintf("key %q not found at %s: %s", e.Key, e.Selector, e.Reason)
	}
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsArchived reports whether err is a NotFoundError for an archived version.
func IsArchived(err error) bool {
	return reasonOf(err) == ReasonArchived
}

// IsDeleted reports whether err is a NotFoundError for a tombstone.
func IsDeleted(err error) bool {
	return reasonOf(err) == ReasonDeleted
}

func reasonOf(err error) Reason {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Reason
	}

	return -1
}
