package reprise_test

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarantool/go-option"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise"
	"github.com/reprisedb/go-reprise/config"
	"github.com/reprisedb/go-reprise/coordinator"
	"github.com/reprisedb/go-reprise/crypto"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/replication"
	"github.com/reprisedb/go-reprise/revstore"
	"github.com/reprisedb/go-reprise/watch"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	dir := t.TempDir()

	cfg := config.Default()
	cfg.Node.DataDir = dir
	cfg.Journal.Kind = config.JournalMemory
	cfg.HeadState.Kind = config.HeadStateMemory
	cfg.Archive.Dir = filepath.Join(dir, "archive")

	return cfg
}

func open(t *testing.T, cfg config.Config, opts ...reprise.Option) *reprise.DB {
	t.Helper()

	opts = append([]reprise.Option{reprise.WithLogger(zap.NewNop())}, opts...)

	db, err := reprise.Open(context.Background(), cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func newDB(t *testing.T, opts ...reprise.Option) *reprise.DB {
	t.Helper()

	return open(t, testConfig(t), opts...)
}

// put commits key=value in its own transaction and returns the revision.
func put(t *testing.T, db *reprise.DB, key, value string) int64 {
	t.Helper()

	ctx := context.Background()

	txn, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte(key), []byte(value)))

	res, err := txn.Commit(ctx)
	require.NoError(t, err)

	return res.Revision
}

func value(t *testing.T, db *reprise.DB, key string, sel kv.Selector) string {
	t.Helper()

	e, err := db.Get(context.Background(), []byte(key), sel)
	require.NoError(t, err)

	return string(e.Value)
}

func TestTxnCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	txn, err := db.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), txn.Snapshot())

	require.NoError(t, txn.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, txn.Put(ctx, []byte("b"), []byte("2")))

	pending, err := txn.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), pending.Value)
	assert.Equal(t, int64(0), pending.Revision)

	res, err := txn.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Revision)
	assert.False(t, res.Noop)
	assert.Equal(t, coordinator.StateCommitted, txn.State())

	got, ok := txn.Result()
	require.True(t, ok)
	assert.Equal(t, res, got)

	assert.Equal(t, int64(1), db.Head())
	assert.Equal(t, "1", value(t, db, "a", kv.Latest()))
	assert.Equal(t, "2", value(t, db, "b", kv.Exact(1)))
}

func TestTxnReadsOwnDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "a", "1")

	txn, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Delete(ctx, []byte("a")))

	_, err = txn.Get(ctx, []byte("a"))
	require.ErrorIs(t, err, revstore.ErrNotFound)
	assert.True(t, revstore.IsDeleted(err))

	// Deleting a key that never existed writes nothing.
	require.NoError(t, txn.Delete(ctx, []byte("ghost")))

	res, err := txn.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Revision)

	_, err = db.Get(ctx, []byte("a"), kv.Latest())
	assert.True(t, revstore.IsDeleted(err))

	_, err = db.Get(ctx, []byte("ghost"), kv.Latest())
	require.ErrorIs(t, err, revstore.ErrNotFound)
	assert.False(t, revstore.IsDeleted(err))
}

func TestTxnSkipsUnchangedPut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "a", "1")

	txn, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte("a"), []byte("1")))

	res, err := txn.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, int64(1), res.Revision)
	assert.Equal(t, int64(1), db.Head())
}

func TestTxnScan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "p/a", "1")
	put(t, db, "p/b", "2")
	put(t, db, "q/c", "3")

	txn, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Delete(ctx, []byte("p/a")))
	require.NoError(t, txn.Put(ctx, []byte("p/c"), []byte("new")))

	entries, err := txn.Scan(ctx, []byte("p/"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("p/b"), entries[0].Key)
	assert.Equal(t, []byte("p/c"), entries[1].Key)
	assert.Equal(t, int64(0), entries[1].Revision)
}

func TestTxnConflictAndRectify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "k", "v0")

	mine, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, mine.Put(ctx, []byte("k"), []byte("mine")))

	assert.Equal(t, int64(2), put(t, db, "k", "theirs"))

	_, err = mine.Commit(ctx)
	require.ErrorIs(t, err, coordinator.ErrConflict)
	assert.Equal(t, coordinator.StateConflicted, mine.State())
	require.NotNil(t, mine.Conflict())
	assert.Equal(t, [][]byte{[]byte("k")}, mine.Conflict().Keys)

	resolver := coordinator.ResolverFunc(func(
		_ context.Context, _ []byte, own, theirs option.Generic[kv.Entry],
	) (coordinator.Resolution, error) {
		o, _ := own.Get()
		th, _ := theirs.Get()

		return coordinator.Merge(append(append(o.Value, '+'), th.Value...)), nil
	})

	res, err := mine.Rectify(ctx, resolver)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Revision)
	assert.Equal(t, coordinator.StateCommitted, mine.State())
	assert.Equal(t, int64(2), mine.Snapshot())
	assert.Equal(t, "mine+theirs", value(t, db, "k", kv.Latest()))
}

func TestTxnRectifySeesLaterWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "a", "0")
	put(t, db, "b", "0")

	txn, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte("a"), []byte("mine")))
	require.NoError(t, txn.Put(ctx, []byte("b"), []byte("mine")))

	put(t, db, "a", "theirs")

	_, err = txn.Commit(ctx)
	require.ErrorIs(t, err, coordinator.ErrConflict)
	assert.Equal(t, [][]byte{[]byte("a")}, txn.Conflict().Keys)

	assert.Equal(t, int64(4), put(t, db, "b", "late"))

	var resolved []string

	res, err := txn.Rectify(ctx, coordinator.ResolverFunc(func(
		_ context.Context, key []byte, _, _ option.Generic[kv.Entry],
	) (coordinator.Resolution, error) {
		resolved = append(resolved, string(key))

		if string(key) == "b" {
			return coordinator.TakeTheirs(), nil
		}

		return coordinator.KeepMine(), nil
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Revision)
	assert.Equal(t, int64(4), txn.Snapshot())
	assert.Equal(t, []string{"a", "b"}, resolved)

	assert.Equal(t, "mine", value(t, db, "a", kv.Latest()))
	assert.Equal(t, "late", value(t, db, "b", kv.Latest()))
}

func TestTxnReadsetConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "x", "1")

	txn, err := db.Begin(ctx)
	require.NoError(t, err)

	_, err = txn.Get(ctx, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte("y"), []byte("from x")))

	put(t, db, "x", "2")

	_, err = txn.Commit(ctx)
	require.ErrorIs(t, err, coordinator.ErrConflict)

	res, err := txn.Rectify(ctx, coordinator.ResolverFunc(func(
		context.Context, []byte, option.Generic[kv.Entry], option.Generic[kv.Entry],
	) (coordinator.Resolution, error) {
		return coordinator.TakeTheirs(), nil
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Revision)
	assert.Equal(t, "from x", value(t, db, "y", kv.Latest()))
}

func TestTxnState_negative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	txn, err := db.Begin(ctx)
	require.NoError(t, err)

	_, err = txn.Rectify(ctx, nil)
	require.ErrorIs(t, err, reprise.ErrInvalidTxnState)

	require.NoError(t, txn.Put(ctx, []byte("a"), []byte("1")))
	_, err = txn.Commit(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, txn.Put(ctx, []byte("a"), []byte("2")), reprise.ErrInvalidTxnState)
	require.ErrorIs(t, txn.Abort(), reprise.ErrInvalidTxnState)

	var serr *reprise.TxnStateError
	require.ErrorAs(t, txn.Abort(), &serr)
	assert.Equal(t, coordinator.StateCommitted, serr.State)

	other, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, other.Abort())
	require.NoError(t, other.Abort())
	assert.Equal(t, coordinator.StateAborted, other.State())

	_, err = other.Commit(ctx)
	require.ErrorIs(t, err, reprise.ErrInvalidTxnState)
}

func TestRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "a", "1")
	put(t, db, "a", "2")
	put(t, db, "b", "x")

	survivor, err := db.Begin(ctx)
	require.NoError(t, err)

	res, err := db.Rollback(ctx, 1, coordinator.Soft)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Revision)
	assert.Equal(t, "1", value(t, db, "a", kv.Latest()))

	_, err = db.Get(ctx, []byte("b"), kv.Latest())
	assert.True(t, revstore.IsDeleted(err))

	// A soft rollback keeps open transactions usable.
	require.NoError(t, survivor.Put(ctx, []byte("c"), []byte("1")))

	doomed, err := db.Begin(ctx)
	require.NoError(t, err)

	_, err = db.Rollback(ctx, 2, coordinator.Hard)
	require.ErrorIs(t, err, coordinator.ErrDestructiveNotAcknowledged)

	res, err = db.Rollback(ctx, 2, coordinator.Hard, coordinator.AcknowledgeDestructive())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Revision)
	assert.Equal(t, int64(2), db.Head())
	assert.Equal(t, "2", value(t, db, "a", kv.Latest()))

	require.ErrorIs(t, doomed.Put(ctx, []byte("a"), []byte("3")), reprise.ErrTxnInvalidated)
	assert.Equal(t, coordinator.StateAborted, doomed.State())

	_, err = survivor.Commit(ctx)
	require.ErrorIs(t, err, reprise.ErrTxnInvalidated)

	assert.Equal(t, int64(3), put(t, db, "a", "3"))
}

func TestRange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "a/1", "x")
	put(t, db, "a/2", "y")
	put(t, db, "b/1", "z")
	put(t, db, "a/1", "x2")

	all, err := db.Range(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	prefixed, err := db.Range(ctx, reprise.WithPrefix([]byte("a/")))
	require.NoError(t, err)
	require.Len(t, prefixed, 2)
	assert.Equal(t, []byte("x2"), prefixed[0].Value)

	limited, err := db.Range(ctx, reprise.WithPrefix([]byte("a/")), reprise.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, limited, 1)

	past, err := db.Range(ctx, reprise.WithPrefix([]byte("a/")), reprise.WithSelector(kv.AsOf(1)))
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, []byte("x"), past[0].Value)

	_, err = db.Range(ctx, reprise.WithSelector(kv.AsOf(9)))
	require.ErrorIs(t, err, kv.ErrRevisionOutOfRange)
}

func TestNamespaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "/users/alice", "1")
	put(t, db, "/users/bob", "2")
	put(t, db, "/groups/admins", "3")
	put(t, db, "plain", "4")

	results, err := db.Namespaces(ctx, kv.Latest())
	require.NoError(t, err)
	assert.Equal(t, []string{"groups", "users"}, results.Names())

	users, ok := results.Select("users")
	require.True(t, ok)
	require.Len(t, users, 2)
	assert.Equal(t, []byte("alice"), users[0].Name)
}

func TestArchiveCompactAndMount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)

	put(t, db, "k", "v1")
	put(t, db, "k", "v2")
	put(t, db, "k", "v3")

	_, err := db.CompactAfterArchive(ctx, revstore.KeepLastN(1))
	require.Error(t, err)

	desc, err := db.Archive(ctx, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), desc.From)
	assert.Equal(t, int64(3), desc.To)

	covered, _, err := db.Coverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), covered)

	stats, err := db.CompactAfterArchive(ctx, revstore.KeepLastN(1))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Removed)

	_, err = db.Get(ctx, []byte("k"), kv.AsOf(1))
	assert.True(t, revstore.IsArchived(err))

	require.NoError(t, db.Mount(ctx, desc.File))
	require.ErrorIs(t, db.Mount(ctx, desc.File), reprise.ErrAlreadyMounted)
	assert.Len(t, db.Mounted(), 1)

	assert.Equal(t, "v1", value(t, db, "k", kv.AsOf(1)))
	assert.Equal(t, "v3", value(t, db, "k", kv.Latest()))

	revs, err := db.Revisions(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, revs)

	var history []string
	for e, err := range db.History(ctx, []byte("k"), 1, 3) {
		require.NoError(t, err)
		history = append(history, string(e.Value))
	}

	assert.Equal(t, []string{"v3", "v2", "v1"}, history)

	head, err := db.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), head)

	require.NoError(t, db.Unmount(desc.File))
	require.ErrorIs(t, db.Unmount(desc.File), reprise.ErrNotMounted)

	_, err = db.Get(ctx, []byte("k"), kv.AsOf(1))
	assert.True(t, revstore.IsArchived(err))
}

func TestSignedArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	signer := crypto.NewEd25519(priv, pub)
	db := newDB(t, reprise.WithArchiveSigner(signer), reprise.WithArchiveVerifier(signer))

	put(t, db, "k", "v")

	desc, err := db.Archive(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, signer.Name(), desc.Signer)

	require.NoError(t, db.Mount(ctx, desc.File))
}

func TestWatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := newDB(t)

	events, err := db.Watch(ctx, []byte("w/"), watch.WithPrefix())
	require.NoError(t, err)

	rev := put(t, db, "w/a", "1")
	put(t, db, "other", "2")

	select {
	case ev := <-events:
		assert.Equal(t, []byte("w/a"), ev.Key)
		assert.Equal(t, rev, ev.Revision)
		assert.False(t, ev.Tombstone)
	case <-time.After(5 * time.Second):
		t.Fatal("no watch event")
	}
}

func TestReplicatesToPeers(t *testing.T) {
	t.Parallel()

	replica := revstore.NewMemory()
	peer := replication.NewLocalPeer("replica", replication.NewReceiver(replica, nil))

	db := newDB(t, reprise.WithPeers(peer))

	put(t, db, "a", "1")
	put(t, db, "b", "2")

	assert.Equal(t, int64(2), replica.Head())
	assert.Equal(t, db.Store().HeadHash(), replica.HeadHash())
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	db := newDB(t, reprise.WithRegisterer(reg))

	put(t, db, "a", "1")
	put(t, db, "a", "2")

	families, err := reg.Gather()
	require.NoError(t, err)

	var commits float64

	for _, mf := range families {
		if mf.GetName() == "reprise_coordinator_commits_total" {
			commits = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}

	assert.InDelta(t, 2, commits, 0)
}

func TestReopen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		journal string
		heads   string
	}{
		{"segment with file head", config.JournalSegment, config.HeadStateFile},
		{"sqlite with sqlite head", config.JournalSQLite, config.HeadStateSQLite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			dir := t.TempDir()

			cfg := testConfig(t)
			cfg.Journal.Kind = tt.journal
			cfg.Journal.Dir = filepath.Join(dir, "journal")
			cfg.Journal.Path = filepath.Join(dir, "journal.db")
			cfg.HeadState.Kind = tt.heads
			cfg.HeadState.Path = filepath.Join(dir, "head")

			db, err := reprise.Open(ctx, cfg, reprise.WithLogger(zap.NewNop()))
			require.NoError(t, err)

			put(t, db, "a", "1")
			put(t, db, "a", "2")

			first := db.Epoch()
			require.NoError(t, db.Close())

			db = open(t, cfg)

			assert.Equal(t, int64(2), db.Head())
			assert.Equal(t, "1", value(t, db, "a", kv.AsOf(1)))
			assert.Greater(t, db.Epoch().ID, first.ID)
			assert.Equal(t, int64(3), put(t, db, "a", "3"))
		})
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, err := reprise.Open(ctx, testConfig(t), reprise.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	txn, err := db.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Close(), reprise.ErrClosed)

	_, err = db.Get(ctx, []byte("a"), kv.Latest())
	require.ErrorIs(t, err, reprise.ErrClosed)

	_, err = db.Begin(ctx)
	require.ErrorIs(t, err, reprise.ErrClosed)

	require.ErrorIs(t, txn.Put(ctx, []byte("a"), []byte("1")), reprise.ErrClosed)
}

func TestOpen_negative(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Journal.Kind = "tape"

	_, err := reprise.Open(context.Background(), cfg, reprise.WithLogger(zap.NewNop()))
	require.Error(t, err)
}
