// Package memory provides an in-process journal. Nothing survives the
// process; it backs tests and read-only archive views.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/journal"
)

// Journal keeps commits in a slice.
type Journal struct {
	mu          sync.RWMutex
	commits     []commit.Commit
	tip         journal.Tip
	checkpoint  *journal.Checkpoint
	truncations []journal.Truncation
	closed      bool
}

var _ journal.Journal = (*Journal)(nil)

// New creates an empty journal.
func New() *Journal {
	return &Journal{
		mu:          sync.RWMutex{},
		commits:     nil,
		tip:         journal.Tip{Revision: 0, Hash: []byte{}, Epoch: 0, Base: 0},
		checkpoint:  nil,
		truncations: nil,
		closed:      false,
	}
}

// NewFrom creates a journal that starts after cp: the next append must be
// cp.Revision+1 linked to cp.Hash.
func NewFrom(cp journal.Checkpoint) *Journal {
	j := New()
	j.tip = journal.Tip{Revision: cp.Revision, Hash: slices.Clone(cp.Hash), Epoch: 0, Base: cp.Revision}
	j.checkpoint = &cp

	return j
}

// index returns the slice position of rev; callers hold the lock.
func (j *Journal) index(rev int64) (int, bool) {
	if rev <= j.tip.Base || rev > j.tip.Revision {
		return 0, false
	}

	return int(rev - j.tip.Base - 1), true
}

func (j *Journal) lookup(rev int64) (commit.Commit, error) {
	i, ok := j.index(rev)
	if !ok {
		return commit.Commit{}, fmt.Errorf("revision %d: %w", rev, journal.ErrCompacted)
	}

	return j.commits[i], nil
}

// Append implements journal.Journal.
func (j *Journal) Append(_ context.Context, c commit.Commit) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return journal.ErrClosed
	}

	dup, err := journal.CheckAppend(j.tip, c, j.lookup)
	if err != nil || dup {
		return err
	}

	j.commits = append(j.commits, c.Clone())
	j.tip.Revision = c.Revision
	j.tip.Hash = slices.Clone(c.Hash)
	j.tip.Epoch = max(j.tip.Epoch, c.Epoch)

	return nil
}

// Commits implements journal.Journal.
func (j *Journal) Commits(ctx context.Context, lo, hi int64) iter.Seq2[commit.Commit, error] {
	return func(yield func(commit.Commit, error) bool) {
		j.mu.RLock()
		base, closed := j.tip.Base, j.closed
		lo = max(lo, 1)
		hi = min(hi, j.tip.Revision)

		var batch []commit.Commit
		if lo > base && lo <= hi {
			batch = slices.Clone(j.commits[lo-base-1 : hi-base])
		}
		j.mu.RUnlock()

		switch {
		case closed:
			yield(commit.Commit{}, journal.ErrClosed)
			return
		case lo <= base && lo <= hi:
			yield(commit.Commit{}, fmt.Errorf("revision %d: %w", lo, journal.ErrCompacted))
			return
		}

		for _, c := range batch {
			if err := ctx.Err(); err != nil {
				yield(commit.Commit{}, err)
				return
			}

			if !yield(c.Clone(), nil) {
				return
			}
		}
	}
}

// Tip implements journal.Journal.
func (j *Journal) Tip(_ context.Context) (journal.Tip, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	tip := j.tip
	tip.Hash = slices.Clone(tip.Hash)

	return tip, nil
}

// Fence implements journal.Journal.
func (j *Journal) Fence(_ context.Context, epoch uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.tip.Epoch = max(j.tip.Epoch, epoch)

	return nil
}

// TruncateAfter implements journal.Journal.
func (j *Journal) TruncateAfter(_ context.Context, rev int64, t journal.Truncation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if rev >= j.tip.Revision {
		return nil
	}

	var cpRev int64
	if j.checkpoint != nil {
		cpRev = j.checkpoint.Revision
	}

	if err := journal.CheckTruncate(j.tip, cpRev, rev); err != nil {
		return err
	}

	j.commits = j.commits[:rev-j.tip.Base]
	j.tip.Revision = rev

	switch {
	case len(j.commits) > 0:
		j.tip.Hash = slices.Clone(j.commits[len(j.commits)-1].Hash)
	case j.checkpoint != nil:
		j.tip.Hash = slices.Clone(j.checkpoint.Hash)
	default:
		j.tip.Hash = []byte{}
	}

	j.truncations = append(j.truncations, t)

	return nil
}

// Truncations implements journal.Journal.
func (j *Journal) Truncations(_ context.Context) ([]journal.Truncation, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return slices.Clone(j.truncations), nil
}

// SaveCheckpoint implements journal.Journal.
func (j *Journal) SaveCheckpoint(_ context.Context, cp journal.Checkpoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if cp.Revision > j.tip.Revision {
		return fmt.Errorf("%w: checkpoint %d is ahead of tip %d", journal.ErrOutOfOrder, cp.Revision, j.tip.Revision)
	}

	j.checkpoint = &cp

	return nil
}

// LoadCheckpoint implements journal.Journal.
func (j *Journal) LoadCheckpoint(_ context.Context) (journal.Checkpoint, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.checkpoint == nil {
		return journal.Checkpoint{}, false, nil
	}

	return *j.checkpoint, true, nil
}

// DropThrough implements journal.Journal.
func (j *Journal) DropThrough(_ context.Context, rev int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.checkpoint == nil || j.checkpoint.Revision < rev {
		return fmt.Errorf("revision %d: %w", rev, journal.ErrNotCheckpointed)
	}

	if rev <= j.tip.Base {
		return nil
	}

	j.commits = slices.Clone(j.commits[rev-j.tip.Base:])
	j.tip.Base = rev

	return nil
}

// Close implements journal.Journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true

	return nil
}
