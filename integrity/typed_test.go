package integrity_test

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise"
	"github.com/reprisedb/go-reprise/config"
	"github.com/reprisedb/go-reprise/crypto"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/integrity"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/marshaller"
	"github.com/reprisedb/go-reprise/namer"
)

type SimpleStruct struct {
	Name  string `yaml:"name"  msgpack:"name"`
	Value int    `yaml:"value" msgpack:"value"`
}

// constHasher claims to be sha256 but always returns the same digest.
type constHasher struct{}

func (constHasher) Name() string                    { return "sha256" }
func (constHasher) Size() int                       { return 4 }
func (constHasher) Hash(...[]byte) ([]byte, error) { return []byte{1, 2, 3, 4}, nil }

var ns = namer.Must("config")

func newDB(t *testing.T) *reprise.DB {
	t.Helper()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.Node.DataDir = dir
	cfg.Journal.Kind = config.JournalMemory
	cfg.HeadState.Kind = config.HeadStateMemory
	cfg.Archive.Dir = filepath.Join(dir, "archive")

	db, err := reprise.Open(context.Background(), cfg, reprise.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func newSigner(t *testing.T) crypto.Ed25519 {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return crypto.NewEd25519(priv, pub)
}

func putRaw(t *testing.T, db *reprise.DB, key, value []byte) {
	t.Helper()

	ctx := context.Background()

	txn, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, key, value))

	_, err = txn.Commit(ctx)
	require.NoError(t, err)
}

func TestTyped_PutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	typed := integrity.New[SimpleStruct](db, ns,
		integrity.WithHasher[SimpleStruct](hasher.NewSHA256Hasher()),
		integrity.WithSignerVerifier[SimpleStruct](newSigner(t)))

	rev, err := typed.Put(ctx, "service/db", SimpleStruct{Name: "db", Value: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	res, err := typed.Get(ctx, "service/db")
	require.NoError(t, err)
	require.NoError(t, res.Error)
	assert.Equal(t, "service/db", res.Name)
	assert.Equal(t, int64(1), res.Revision)

	value, ok := res.Value.Get()
	require.True(t, ok)
	assert.Equal(t, SimpleStruct{Name: "db", Value: 1}, value)

	stored, err := db.Get(ctx, []byte("/config/service/db"), kv.Latest())
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Value)
}

func TestTyped_GetAtRevision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	typed := integrity.New[SimpleStruct](newDB(t), ns)

	_, err := typed.Put(ctx, "a", SimpleStruct{Name: "a", Value: 1})
	require.NoError(t, err)
	_, err = typed.Put(ctx, "a", SimpleStruct{Name: "a", Value: 2})
	require.NoError(t, err)

	res, err := typed.Get(ctx, "a", integrity.AtRevision(kv.AsOf(1)))
	require.NoError(t, err)

	value, _ := res.Value.Get()
	assert.Equal(t, 1, value.Value)

	res, err = typed.Get(ctx, "a")
	require.NoError(t, err)

	value, _ = res.Value.Get()
	assert.Equal(t, 2, value.Value)
}

func TestTyped_Get_negative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	typed := integrity.New[SimpleStruct](newDB(t), ns)

	tests := []struct {
		name     string
		record   string
		expected error
	}{
		{"empty", "", integrity.ErrInvalidName},
		{"leading separator", "/a", integrity.ErrInvalidName},
		{"trailing separator", "a/", integrity.ErrInvalidName},
		{"missing", "absent", integrity.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := typed.Get(ctx, tt.record)
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestTyped_MissingSignature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	writer := integrity.New[SimpleStruct](db, ns,
		integrity.WithHasher[SimpleStruct](hasher.NewSHA256Hasher()))
	reader := integrity.New[SimpleStruct](db, ns,
		integrity.WithHasher[SimpleStruct](hasher.NewSHA256Hasher()),
		integrity.WithVerifier[SimpleStruct](newSigner(t)))

	_, err := writer.Put(ctx, "a", SimpleStruct{Name: "a", Value: 1})
	require.NoError(t, err)

	_, err = reader.Get(ctx, "a")
	require.ErrorIs(t, err, integrity.ErrSignatureFailed)

	res, err := reader.Get(ctx, "a", integrity.IgnoreVerificationError())
	require.NoError(t, err)
	require.ErrorIs(t, res.Error, integrity.ErrSignatureFailed)
	assert.True(t, res.Value.IsSome())

	all, err := reader.Range(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	all, err = reader.Range(ctx, "", integrity.IgnoreVerificationError())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTyped_WrongSignatureAndHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	writer := integrity.New[SimpleStruct](db, ns,
		integrity.WithHasher[SimpleStruct](constHasher{}),
		integrity.WithSigner[SimpleStruct](newSigner(t)))
	reader := integrity.New[SimpleStruct](db, ns,
		integrity.WithHasher[SimpleStruct](hasher.NewSHA256Hasher()),
		integrity.WithVerifier[SimpleStruct](newSigner(t)))

	_, err := writer.Put(ctx, "a", SimpleStruct{Name: "a", Value: 1})
	require.NoError(t, err)

	_, err = reader.Get(ctx, "a")
	require.ErrorIs(t, err, integrity.ErrHashMismatch)
	require.ErrorIs(t, err, integrity.ErrSignatureFailed)

	var agg *integrity.AggregatedError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Unwrap(), 2)
}

func TestTyped_Undecodable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)
	typed := integrity.New[SimpleStruct](db, ns)

	putRaw(t, db, ns.Key([]byte("broken")), []byte("not an envelope"))

	_, err := typed.Put(ctx, "good", SimpleStruct{Name: "good", Value: 1})
	require.NoError(t, err)

	_, err = typed.Get(ctx, "broken", integrity.IgnoreVerificationError())

	var verr integrity.ValidationError
	require.ErrorAs(t, err, &verr)

	all, err := typed.Range(ctx, "", integrity.IgnoreVerificationError())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "good", all[0].Name)
}

func TestTyped_Predicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	typed := integrity.New[SimpleStruct](newDB(t), ns)

	rev, err := typed.Put(ctx, "a", SimpleStruct{Name: "a", Value: 1},
		integrity.WithPutPredicates(integrity.VersionEqual(0)))
	require.NoError(t, err)

	_, err = typed.Put(ctx, "a", SimpleStruct{Name: "a", Value: 2},
		integrity.WithPutPredicates(integrity.VersionEqual(0)))
	require.ErrorIs(t, err, integrity.ErrPredicateFailed)

	next, err := typed.Put(ctx, "a", SimpleStruct{Name: "a", Value: 2},
		integrity.WithPutPredicates(integrity.VersionEqual(rev)))
	require.NoError(t, err)
	assert.Greater(t, next, rev)

	err = typed.Delete(ctx, "a", integrity.WithDeletePredicates(integrity.VersionLess(next)))
	require.ErrorIs(t, err, integrity.ErrPredicateFailed)

	require.NoError(t, typed.Delete(ctx, "a", integrity.WithDeletePredicates(integrity.VersionEqual(next))))

	_, err = typed.Get(ctx, "a")
	require.ErrorIs(t, err, integrity.ErrNotFound)
}

func TestTyped_RangeAndPrefixDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	typed := integrity.New[SimpleStruct](newDB(t), ns,
		integrity.WithMarshaller[SimpleStruct](marshaller.NewTypedMsgpackMarshaller[SimpleStruct]()))

	for i, name := range []string{"a/2", "b", "a/1"} {
		_, err := typed.Put(ctx, name, SimpleStruct{Name: name, Value: i})
		require.NoError(t, err)
	}

	under, err := typed.Range(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, under, 2)
	assert.Equal(t, "a/1", under[0].Name)
	assert.Equal(t, "a/2", under[1].Name)

	all, err := typed.Range(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = typed.Range(ctx, "/a")
	require.ErrorIs(t, err, integrity.ErrInvalidName)

	require.NoError(t, typed.Delete(ctx, "a/", integrity.WithPrefix()))

	all, err = typed.Range(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Name)
}

func TestTyped_Watch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	typed := integrity.New[SimpleStruct](newDB(t), ns)

	events, err := typed.Watch(ctx, "svc/")
	require.NoError(t, err)

	rev, err := typed.Put(ctx, "svc/a", SimpleStruct{Name: "a", Value: 1})
	require.NoError(t, err)
	require.NoError(t, typed.Delete(ctx, "svc/a"))

	expected := []integrity.Event{
		{Name: "svc/a", Revision: rev, Deleted: false},
		{Name: "svc/a", Revision: rev + 1, Deleted: true},
	}

	for _, want := range expected {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("no watch event")
		}
	}
}
