package namer_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/namer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	ns, err := namer.New("config")
	require.NoError(t, err)

	assert.Equal(t, "config", ns.Name())
	assert.Equal(t, []byte("/config/"), ns.Prefix())
	assert.Equal(t, []byte("/config0"), ns.End())
	assert.Equal(t, []byte("/config/a/b"), ns.Key([]byte("a/b")))
	assert.True(t, ns.Contains([]byte("/config/x")))
	assert.False(t, ns.Contains([]byte("/config/")))
	assert.False(t, ns.Contains([]byte("/configs/x")))
}

func TestNewNormalizes(t *testing.T) {
	t.Parallel()

	// "é" as one code point and as "e" followed by a combining acute accent.
	composed, err := namer.New("caf\u00e9")
	require.NoError(t, err)

	decomposed, err := namer.New("cafe\u0301")
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
	assert.Equal(t, composed.Key([]byte("k")), decomposed.Key([]byte("k")))
}

func TestNew_negative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"separator", "a/b"},
		{"invalid utf-8", "\xff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := namer.New(tt.input)
			require.ErrorIs(t, err, namer.ErrInvalidName)

			var nerr namer.InvalidNameError
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, tt.input, nerr.Name)
		})
	}

	assert.Panics(t, func() { namer.Must("") })
}

func TestParse(t *testing.T) {
	t.Parallel()

	k, err := namer.Parse([]byte("/users/alice/profile"))
	require.NoError(t, err)

	assert.Equal(t, "users", k.Namespace.Name())
	assert.Equal(t, []byte("alice/profile"), k.Name)
	assert.Equal(t, "/users/alice/profile", k.String())
	assert.Equal(t, namer.Must("users"), k.Namespace)
}

func TestParse_negative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"no leading separator", "users/alice"},
		{"no namespace separator", "/users"},
		{"empty namespace", "//alice"},
		{"empty key", "/users/"},
		{"denormalized namespace", "/cafe\u0301/k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := namer.Parse([]byte(tt.raw))
			require.ErrorIs(t, err, namer.ErrInvalidKey)
		})
	}
}

func TestGroup(t *testing.T) {
	t.Parallel()

	raws := [][]byte{
		[]byte("/b/1"),
		[]byte("/a/1"),
		[]byte("/b/2"),
	}

	r, err := namer.Group(slices.Values(raws))
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.Names())

	_, single := r.SelectSingle()
	assert.False(t, single)

	keys, ok := r.Select("b")
	require.True(t, ok)
	require.Len(t, keys, 2)
	assert.Equal(t, []byte("1"), keys[0].Name)
	assert.Equal(t, []byte("2"), keys[1].Name)

	var order []string
	for name := range r.Items() {
		order = append(order, name)
	}

	assert.Equal(t, []string{"a", "b"}, order)

	_, err = namer.Group(slices.Values([][]byte{[]byte("bad")}))
	require.ErrorIs(t, err, namer.ErrInvalidKey)
}

func TestResults_SelectSingle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		results        map[string][]namer.Key
		isSingleResult bool
	}{
		{"single", map[string][]namer.Key{"key": {}}, true},
		{"multiple", map[string][]namer.Key{"key1": {}, "key2": {}}, false},
		{"empty", map[string][]namer.Key{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := namer.NewResults(tt.results)
			_, ok := r.SelectSingle()
			require.Equal(t, tt.isSingleResult, ok)
		})
	}
}
