package commit_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/kv"
)

func TestNormalizeWriteset(t *testing.T) {
	t.Parallel()

	out, err := commit.NormalizeWriteset([]kv.Entry{
		{Key: []byte("b"), Revision: 99, Value: []byte("2")},
		kv.Delete([]byte("a")),
		kv.Put([]byte("c"), nil),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, []byte("a"), out[0].Key)
	assert.True(t, out[0].Tombstone)
	assert.Equal(t, []byte("b"), out[1].Key)
	assert.Zero(t, out[1].Revision)
	assert.Equal(t, []byte{}, out[2].Value)
}

func TestNormalizeWriteset_negative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		writeset []kv.Entry
		expected error
	}{
		{"empty", nil, commit.ErrEmptyWriteset},
		{"empty key", []kv.Entry{kv.Put(nil, []byte("v"))}, commit.ErrEmptyKey},
		{
			"duplicate",
			[]kv.Entry{kv.Put([]byte("k"), []byte("1")), kv.Delete([]byte("k"))},
			commit.ErrDuplicateKey,
		},
		{
			"tombstone with value",
			[]kv.Entry{{Key: []byte("k"), Value: []byte("v"), Tombstone: true}},
			commit.ErrTombstoneValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := commit.NormalizeWriteset(tt.writeset)
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestCommitEntries(t *testing.T) {
	t.Parallel()

	c := commit.Commit{
		Revision: 4,
		Writeset: []kv.Entry{kv.Put([]byte("a"), []byte("1")), kv.Delete([]byte("b"))},
	}

	entries := c.Entries()
	for _, e := range entries {
		assert.Equal(t, int64(4), e.Revision)
	}

	assert.Zero(t, c.Writeset[0].Revision, "writeset must not be modified")
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, c.Keys())
}

func TestCommitClone(t *testing.T) {
	t.Parallel()

	c := commit.Commit{
		Revision: 1,
		Writeset: []kv.Entry{kv.Put([]byte("a"), []byte("1"))},
		PrevHash: []byte{1},
		Hash:     []byte{2},
	}

	clone := c.Clone()
	clone.Writeset[0].Value[0] = 'x'
	clone.Hash[0] = 9

	assert.Equal(t, []byte("1"), c.Writeset[0].Value)
	assert.Equal(t, []byte{2}, c.Hash)
}

func TestStaleEpochError(t *testing.T) {
	t.Parallel()

	err := error(&commit.StaleEpochError{
		Given:   commit.Epoch{ID: 1, Coordinator: "a"},
		Current: commit.Epoch{ID: 2, Coordinator: "b"},
	})

	require.ErrorIs(t, err, commit.ErrStaleEpoch)
	assert.Equal(t, "stale epoch 1@a, current is 2@b", err.Error())

	var stale *commit.StaleEpochError
	require.True(t, errors.As(err, &stale))
	assert.True(t, stale.Current.Newer(stale.Given))
	assert.True(t, commit.Epoch{}.IsZero())
}
