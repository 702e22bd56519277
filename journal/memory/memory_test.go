package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtesting "github.com/reprisedb/go-reprise/internal/testing"
	"github.com/reprisedb/go-reprise/internal/testing/journaltest"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/journal/memory"
)

func TestJournal(t *testing.T) {
	t.Parallel()

	journaltest.Run(t, func(_ *testing.T) journal.Journal {
		return memory.New()
	})
}

func TestNewFrom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	commits := rtesting.Chain(t, 5, 2, 1)

	j := memory.NewFrom(journal.Checkpoint{Revision: 3, Hash: commits[2].Hash, Entries: nil, Floors: nil})

	tip, err := j.Tip(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tip.Revision)
	assert.Equal(t, int64(3), tip.Base)

	require.ErrorIs(t, j.Append(ctx, commits[0]), journal.ErrCompacted)
	require.NoError(t, j.Append(ctx, commits[3]))
	require.NoError(t, j.Append(ctx, commits[4]))

	got := journaltest.Collect(t, j.Commits(ctx, 4, 5))
	require.Len(t, got, 2)
	assert.Equal(t, commits[4].Hash, got[1].Hash)

	cp, ok, err := j.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), cp.Revision)
}
