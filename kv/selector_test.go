package kv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/kv"
)

func TestSelectorString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sel      kv.Selector
		expected string
	}{
		{"latest", kv.Latest(), "Latest"},
		{"as of", kv.AsOf(4), "AsOf(4)"},
		{"exact", kv.Exact(9), "Exact(9)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, tt.sel.String())
		})
	}
}

func TestSelectorValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sel     kv.Selector
		head    int64
		wantErr bool
	}{
		{"latest on empty store", kv.Latest(), 0, false},
		{"as of head", kv.AsOf(5), 5, false},
		{"as of future", kv.AsOf(6), 5, true},
		{"exact zero", kv.Exact(0), 5, true},
		{"exact negative", kv.Exact(-1), 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.sel.Validate(tt.head)
			if tt.wantErr {
				require.ErrorIs(t, err, kv.ErrRevisionOutOfRange)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSelectorBound(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(10), kv.Latest().Bound(10))
	assert.Equal(t, int64(3), kv.AsOf(3).Bound(10))

	r, ok := kv.Exact(7).Revision()
	require.True(t, ok)
	assert.Equal(t, int64(7), r)

	_, ok = kv.Latest().Revision()
	assert.False(t, ok)
	assert.Equal(t, kv.SelectExact, kv.Exact(7).Kind())
	assert.Equal(t, "Unknown", kv.SelectorKind(42).String())
}
