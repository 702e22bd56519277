package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/headstate"
	rtesting "github.com/reprisedb/go-reprise/internal/testing"
	"github.com/reprisedb/go-reprise/internal/testing/journaltest"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/journal/sqlite"
)

func open(t *testing.T, path string) *sqlite.Journal {
	t.Helper()

	j, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = j.Close() })

	return j
}

func TestJournal(t *testing.T) {
	t.Parallel()

	journaltest.Run(t, func(t *testing.T) journal.Journal {
		return open(t, filepath.Join(t.TempDir(), "journal.db"))
	})
}

func TestReopenRecoversTip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	chain := rtesting.Chain(t, 300, 7, 2)

	j := open(t, path)
	for _, c := range chain {
		require.NoError(t, j.Append(ctx, c))
	}

	require.NoError(t, j.Fence(ctx, 4))
	require.NoError(t, j.Close())

	reopened := open(t, path)

	tip, err := reopened.Tip(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), tip.Revision)
	assert.Equal(t, chain[299].Hash, tip.Hash)
	assert.Equal(t, uint64(4), tip.Epoch)

	// Spans several read batches.
	got := journaltest.Collect(t, reopened.Commits(ctx, 1, 300))
	require.Len(t, got, 300)
	assert.Equal(t, chain[280].Hash, got[280].Hash)
}

func TestHeadState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	store := open(t, path).HeadState()

	head, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, head.Revision)

	next := headstate.Head{Revision: 9, Hash: []byte{9}, Epoch: commit.Epoch{ID: 2, Coordinator: "n2"}}
	require.NoError(t, store.CompareAndSwap(ctx, head, next))
	require.ErrorIs(t, store.CompareAndSwap(ctx, head, next), headstate.ErrHeadChanged)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(next))
}
