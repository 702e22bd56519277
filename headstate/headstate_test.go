package headstate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/headstate"
)

func TestMemoryCompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := headstate.NewMemory()

	head, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, head.Revision)

	next := headstate.Head{Revision: 3, Hash: []byte{1}, Epoch: commit.Epoch{ID: 1, Coordinator: "n1"}}
	require.NoError(t, store.CompareAndSwap(ctx, head, next))

	err = store.CompareAndSwap(ctx, head, next)
	require.ErrorIs(t, err, headstate.ErrHeadChanged)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(next))
}
