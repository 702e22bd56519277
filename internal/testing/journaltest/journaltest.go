// Package journaltest is a conformance suite run against every journal
// implementation.
package journaltest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/kv"
	rtesting "github.com/reprisedb/go-reprise/internal/testing"
)

// Factory opens a fresh, empty journal for one test.
type Factory func(t *testing.T) journal.Journal

// Collect drains a commit sequence.
func Collect(t *testing.T, seq func(yield func(commit.Commit, error) bool)) []commit.Commit {
	t.Helper()

	var out []commit.Commit

	for c, err := range seq {
		require.NoError(t, err)

		out = append(out, c)
	}

	return out
}

func appendAll(t *testing.T, j journal.Journal, commits []commit.Commit) {
	t.Helper()

	for _, c := range commits {
		require.NoError(t, j.Append(context.Background(), c))
	}
}

func revisions(commits []commit.Commit) []int64 {
	out := make([]int64, len(commits))
	for i, c := range commits {
		out[i] = c.Revision
	}

	return out
}

// Run executes the suite.
func Run(t *testing.T, open Factory) {
	t.Helper()

	t.Run("append and read", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		j := open(t)
		chain := rtesting.Chain(t, 6, 3, 1)
		appendAll(t, j, chain)

		tip, err := j.Tip(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), tip.Revision)
		assert.Equal(t, chain[5].Hash, tip.Hash)
		assert.Equal(t, uint64(1), tip.Epoch)

		got := Collect(t, j.Commits(ctx, 2, 4))
		assert.Equal(t, []int64{2, 3, 4}, revisions(got))
		assert.Equal(t, chain[2].Hash, got[1].Hash)
		assert.Equal(t, chain[2].PrevHash, got[1].PrevHash)
		assert.Equal(t, chain[2].Writeset, got[1].Writeset)

		assert.Len(t, Collect(t, j.Commits(ctx, 0, 100)), 6)
		assert.Empty(t, Collect(t, j.Commits(ctx, 7, 10)))
	})

	t.Run("idempotent append", func(t *testing.T) {
		t.Parallel()

		j := open(t)
		chain := rtesting.Chain(t, 3, 2, 1)
		appendAll(t, j, chain)

		require.NoError(t, j.Append(context.Background(), chain[1]))

		forged := chain[1].Clone()
		forged.Hash = []byte("forged")
		require.ErrorIs(t, j.Append(context.Background(), forged), journal.ErrDivergentCommit)
	})

	t.Run("out of order", func(t *testing.T) {
		t.Parallel()

		j := open(t)
		chain := rtesting.Chain(t, 3, 2, 1)
		appendAll(t, j, chain[:1])

		require.ErrorIs(t, j.Append(context.Background(), chain[2]), journal.ErrOutOfOrder)

		unlinked := rtesting.Seal(t, []byte("elsewhere"), 2, 1, kv.Put([]byte("k"), []byte("v")))
		require.ErrorIs(t, j.Append(context.Background(), unlinked), journal.ErrOutOfOrder)
	})

	t.Run("fence rejects stale epoch", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		j := open(t)
		chain := rtesting.Chain(t, 2, 2, 1)
		appendAll(t, j, chain[:1])

		require.NoError(t, j.Fence(ctx, 2))
		require.ErrorIs(t, j.Append(ctx, chain[1]), commit.ErrStaleEpoch)

		tip, err := j.Tip(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), tip.Epoch)

		next := rtesting.ChainFrom(t, chain[0].Hash, 2, 1, 2, 2)
		require.NoError(t, j.Append(ctx, next[0]))
	})

	t.Run("truncate after", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		j := open(t)
		chain := rtesting.Chain(t, 8, 3, 1)
		appendAll(t, j, chain)

		rec := journal.Truncation{
			After: 5, PreviousHead: 8, PreviousHash: chain[7].Hash,
			Epoch: 1, Principal: "admin", Reason: "test",
			At: time.Unix(100, 0).UTC(),
		}
		require.NoError(t, j.TruncateAfter(ctx, 5, rec))

		tip, err := j.Tip(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), tip.Revision)
		assert.Equal(t, chain[4].Hash, tip.Hash)
		assert.Len(t, Collect(t, j.Commits(ctx, 1, 100)), 5)

		truncs, err := j.Truncations(ctx)
		require.NoError(t, err)
		require.Len(t, truncs, 1)
		assert.Equal(t, int64(5), truncs[0].After)
		assert.Equal(t, "admin", truncs[0].Principal)
		assert.True(t, rec.At.Equal(truncs[0].At))

		// Revision 6 is free again and can be assigned differently.
		replacement := rtesting.Seal(t, chain[4].Hash, 6, 1, kv.Put([]byte("other"), []byte("x")))
		require.NoError(t, j.Append(ctx, replacement))
	})

	t.Run("checkpoint and drop", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		j := open(t)
		chain := rtesting.Chain(t, 10, 3, 1)
		appendAll(t, j, chain)

		_, ok, err := j.LoadCheckpoint(ctx)
		require.NoError(t, err)
		require.False(t, ok)

		require.ErrorIs(t, j.DropThrough(ctx, 4), journal.ErrNotCheckpointed)

		cp := journal.Checkpoint{
			Revision: 6,
			Hash:     chain[5].Hash,
			Entries:  []kv.Entry{{Key: []byte("k1"), Revision: 4, Value: []byte("v4"), Tombstone: false}},
			Floors:   []journal.Floor{{Key: []byte("k1"), Revision: 4}},
		}
		require.NoError(t, j.SaveCheckpoint(ctx, cp))

		loaded, ok, err := j.LoadCheckpoint(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(6), loaded.Revision)
		assert.Equal(t, cp.Hash, loaded.Hash)
		require.Len(t, loaded.Entries, 1)
		assert.Equal(t, []byte("v4"), loaded.Entries[0].Value)
		assert.Equal(t, cp.Floors, loaded.Floors)

		require.NoError(t, j.DropThrough(ctx, 6))

		tip, err := j.Tip(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), tip.Base)
		assert.Equal(t, int64(10), tip.Revision)

		assert.Equal(t, []int64{7, 8, 9, 10}, revisions(Collect(t, j.Commits(ctx, 7, 10))))

		for _, err := range j.Commits(ctx, 3, 10) {
			require.ErrorIs(t, err, journal.ErrCompacted)
			break
		}

		require.ErrorIs(t, j.TruncateAfter(ctx, 5, journal.Truncation{}), journal.ErrTruncateBelowCheckpoint)
		require.NoError(t, j.TruncateAfter(ctx, 6, journal.Truncation{At: time.Unix(0, 0)}))

		tip, err = j.Tip(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), tip.Revision)
		assert.Equal(t, chain[5].Hash, tip.Hash)
	})

	t.Run("closed", func(t *testing.T) {
		t.Parallel()

		j := open(t)
		require.NoError(t, j.Close())

		chain := rtesting.Chain(t, 1, 1, 1)
		require.ErrorIs(t, j.Append(context.Background(), chain[0]), journal.ErrClosed)
	})
}
