package segment_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtesting "github.com/reprisedb/go-reprise/internal/testing"
	"github.com/reprisedb/go-reprise/internal/testing/journaltest"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/journal/segment"
)

func open(t *testing.T, dir string, opts ...segment.Option) *segment.Journal {
	t.Helper()

	j, err := segment.Open(context.Background(), dir, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = j.Close() })

	return j
}

func TestJournal(t *testing.T) {
	t.Parallel()

	journaltest.Run(t, func(t *testing.T) journal.Journal {
		return open(t, t.TempDir(), segment.WithSegmentSize(256))
	})
}

func TestReopenRecoversTip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	chain := rtesting.Chain(t, 20, 4, 3)

	j := open(t, dir, segment.WithSegmentSize(200))
	for _, c := range chain {
		require.NoError(t, j.Append(ctx, c))
	}

	require.NoError(t, j.Close())

	segments, err := filepath.Glob(filepath.Join(dir, "*.seg"))
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1, "small segment size must rotate")

	reopened := open(t, dir)

	tip, err := reopened.Tip(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), tip.Revision)
	assert.Equal(t, chain[19].Hash, tip.Hash)
	assert.Equal(t, uint64(3), tip.Epoch)

	got := journaltest.Collect(t, reopened.Commits(ctx, 1, 20))
	require.Len(t, got, 20)
	assert.Equal(t, chain[10].Hash, got[10].Hash)
}

func TestTornTailIsCutOff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	chain := rtesting.Chain(t, 5, 2, 1)

	j := open(t, dir)
	for _, c := range chain {
		require.NoError(t, j.Append(ctx, c))
	}

	require.NoError(t, j.Close())

	segments, err := filepath.Glob(filepath.Join(dir, "*.seg"))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	info, err := os.Stat(segments[0])
	require.NoError(t, err)

	// Simulate a crash in the middle of writing the last record.
	require.NoError(t, os.Truncate(segments[0], info.Size()-3))

	reopened := open(t, dir)

	tip, err := reopened.Tip(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), tip.Revision, "incomplete commit must not be durable")

	// The lost revision can be written again.
	require.NoError(t, reopened.Append(ctx, chain[4]))
}

func TestCorruptRecordDetected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	chain := rtesting.Chain(t, 6, 2, 1)

	j := open(t, dir, segment.WithSegmentSize(100))
	for _, c := range chain {
		require.NoError(t, j.Append(ctx, c))
	}

	require.NoError(t, j.Close())

	segments, err := filepath.Glob(filepath.Join(dir, "*.seg"))
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)

	data, err := os.ReadFile(segments[0])
	require.NoError(t, err)

	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(segments[0], data, 0o600))

	_, err = segment.Open(ctx, dir)
	require.ErrorIs(t, err, journal.ErrCorrupt)
}

func TestCheckpointSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	chain := rtesting.Chain(t, 12, 3, 1)

	j := open(t, dir, segment.WithSegmentSize(150))
	for _, c := range chain {
		require.NoError(t, j.Append(ctx, c))
	}

	require.NoError(t, j.SaveCheckpoint(ctx, journal.Checkpoint{Revision: 8, Hash: chain[7].Hash}))
	require.NoError(t, j.DropThrough(ctx, 8))
	require.NoError(t, j.Fence(ctx, 5))
	require.NoError(t, j.Close())

	reopened := open(t, dir)

	tip, err := reopened.Tip(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), tip.Revision)
	assert.Equal(t, int64(8), tip.Base)
	assert.Equal(t, uint64(5), tip.Epoch)

	cp, ok, err := reopened.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(8), cp.Revision)

	got := journaltest.Collect(t, reopened.Commits(ctx, 9, 12))
	assert.Len(t, got, 4)
}
