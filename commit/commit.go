// Package commit defines the commit record produced by the coordinator and
// the epoch fencing token that guards revision assignment.
package commit

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/reprisedb/go-reprise/kv"
)

var (
	// ErrEmptyWriteset is returned when a commit carries no entries.
	ErrEmptyWriteset = errors.New("empty writeset")
	// ErrEmptyKey is returned when a writeset entry has an empty key.
	ErrEmptyKey = errors.New("empty key")
	// ErrDuplicateKey is returned when a writeset touches one key twice.
	ErrDuplicateKey = errors.New("duplicate key in writeset")
	// ErrTombstoneValue is returned when a tombstone carries a value.
	ErrTombstoneValue = errors.New("tombstone with value")
)

// Commit is an atomic, immutable group of entries sharing one revision.
type Commit struct {
	// Revision is the globally unique revision assigned by the coordinator.
	Revision int64
	// Epoch is the fencing epoch the commit was assigned under.
	Epoch uint64
	// Writeset holds the entries of the commit sorted by key.
	Writeset []kv.Entry
	// PrevHash is the chain hash of the previous commit.
	PrevHash []byte
	// Hash is the chain hash of this commit.
	Hash []byte
}

// Entries returns the writeset with every entry stamped with the commit revision.
func (c Commit) Entries() []kv.Entry {
	out := make([]kv.Entry, len(c.Writeset))
	for i, e := range c.Writeset {
		e.Revision = c.Revision
		out[i] = e
	}

	return out
}

// Keys returns the keys touched by the commit in writeset order.
func (c Commit) Keys() [][]byte {
	out := make([][]byte, len(c.Writeset))
	for i, e := range c.Writeset {
		out[i] = e.Key
	}

	return out
}

// Clone returns a deep copy of the commit.
func (c Commit) Clone() Commit {
	out := c
	out.Writeset = make([]kv.Entry, len(c.Writeset))

	for i, e := range c.Writeset {
		out.Writeset[i] = e.Clone()
	}

	out.PrevHash = bytes.Clone(c.PrevHash)
	out.Hash = bytes.Clone(c.Hash)

	return out
}

// NormalizeWriteset validates a writeset and returns a copy sorted by key.
// Revisions carried by the input entries are cleared.
func NormalizeWriteset(writeset []kv.Entry) ([]kv.Entry, error) {
	if len(writeset) == 0 {
		return nil, ErrEmptyWriteset
	}

	out := make([]kv.Entry, len(writeset))

	for i, e := range writeset {
		switch {
		case len(e.Key) == 0:
			return nil, fmt.Errorf("entry %d: %w", i, ErrEmptyKey)
		case e.Tombstone && e.Value != nil:
			return nil, fmt.Errorf("entry %d (%q): %w", i, e.Key, ErrTombstoneValue)
		}

		e = e.Clone()
		e.Revision = 0

		if !e.Tombstone && e.Value == nil {
			e.Value = []byte{}
		}

		out[i] = e
	}

	slices.SortFunc(out, func(a, b kv.Entry) int { return bytes.Compare(a.Key, b.Key) })

	for i := 1; i < len(out); i++ {
		if bytes.Equal(out[i-1].Key, out[i].Key) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, out[i].Key)
		}
	}

	return out, nil
}
