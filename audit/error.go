package audit

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrChainMismatch is the sentinel matched by ChainMismatchError.
var ErrChainMismatch = errors.New("chain mismatch")

// MismatchReason tells which check of the chain failed.
type MismatchReason int

const (
	// ReasonHash means the recomputed hash differs from the stored one.
	ReasonHash MismatchReason = iota
	// ReasonPrevHash means the stored predecessor hash does not match the chain tip.
	ReasonPrevHash
	// ReasonOrder means revisions are not strictly increasing.
	ReasonOrder
)

func (r MismatchReason) String() string {
	switch r {
	case ReasonHash:
		return "hash"
	case ReasonPrevHash:
		return "prev hash"
	case ReasonOrder:
		return "revision order"
	default:
		return "unknown"
	}
}

// ChainMismatchError reports the first commit whose chain hash diverges.
// It is fatal for the affected segment and never repaired automatically.
type ChainMismatchError struct {
	// Index is the position of the commit in the verified sequence.
	Index int
	// Revision is the revision of the divergent commit.
	Revision int64
	// Reason is the failed check.
	Reason MismatchReason
	// Expected is the recomputed value.
	Expected []byte
	// Got is the stored value.
	Got []byte
}

// Error implements error interface.
func (e *ChainMismatchError) Error() string {
	if e.Reason == ReasonOrder {
		return fmt.Sprintf("chain mismatch at index %d (revision %d): %s", e.Index, e.Revision, e.Reason)
	}

	return fmt.Sprintf("chain mismatch at index %d (revision %d): %s expected %s, got %s",
		e.Index, e.Revision, e.Reason, short(e.Expected), short(e.Got))
}

// Unwrap makes the error match ErrChainMismatch.
func (e *ChainMismatchError) Unwrap() error {
	return ErrChainMismatch
}

func short(b []byte) string {
	const n = 8

	s := hex.EncodeToString(b)
	if len(s) > n*2 {
		return s[:n*2]
	}

	if s == "" {
		return "<empty>"
	}

	return s
}
