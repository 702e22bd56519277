package journal

import (
	"bytes"
	"fmt"

	"github.com/reprisedb/go-reprise/commit"
)

// Lookup returns the durable commit at rev.
type Lookup func(rev int64) (commit.Commit, error)

// CheckAppend validates c against the journal tip. It returns true when c
// is already durable and the append must be skipped.
func CheckAppend(tip Tip, c commit.Commit, lookup Lookup) (bool, error) {
	if c.Epoch < tip.Epoch {
		return false, &commit.StaleEpochError{
			Given:   commit.Epoch{ID: c.Epoch, Coordinator: ""},
			Current: commit.Epoch{ID: tip.Epoch, Coordinator: ""},
		}
	}

	if c.Revision <= tip.Revision {
		if c.Revision <= tip.Base {
			return false, fmt.Errorf("revision %d: %w", c.Revision, ErrCompacted)
		}

		existing, err := lookup(c.Revision)
		if err != nil {
			return false, err
		}

		if !bytes.Equal(existing.Hash, c.Hash) {
			return false, fmt.Errorf("revision %d: %w", c.Revision, ErrDivergentCommit)
		}

		return true, nil
	}

	if c.Revision != tip.Revision+1 {
		return false, fmt.Errorf("%w: revision %d after %d", ErrOutOfOrder, c.Revision, tip.Revision)
	}

	if !bytes.Equal(c.PrevHash, tip.Hash) {
		return false, fmt.Errorf("%w: revision %d does not link to tip hash", ErrOutOfOrder, c.Revision)
	}

	return false, nil
}

// CheckTruncate validates a truncation target.
func CheckTruncate(tip Tip, checkpoint int64, rev int64) error {
	if rev < checkpoint || rev < tip.Base {
		return fmt.Errorf("%w: target %d, checkpoint %d", ErrTruncateBelowCheckpoint, rev, checkpoint)
	}

	return nil
}
