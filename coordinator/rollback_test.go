package coordinator_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/auth"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/coordinator"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/headstate"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/replication"
	"github.com/reprisedb/go-reprise/revstore"
)

// seven commits seven revisions:
// 1: a=1, 2: b=1, 3: a=2, 4: c=1, 5: a=3 b=2, 6: a=4, 7: delete b.
func seven(t *testing.T, c *coordinator.Coordinator, epoch commit.Epoch) {
	t.Helper()

	write(t, c, epoch, "a", "1")
	write(t, c, epoch, "b", "1")
	write(t, c, epoch, "a", "2")
	write(t, c, epoch, "c", "1")
	write(t, c, epoch, "a", "3", "b", "2")
	write(t, c, epoch, "a", "4")

	_, err := c.Prepare(context.Background(), epoch, coordinator.PrepareRequest{
		Snapshot: 6,
		Writeset: []kv.Entry{kv.Delete([]byte("b"))},
		Readset:  nil,
	})
	require.NoError(t, err)
}

func TestSoftRollback(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	c, epoch := newCoordinator(t, coordinator.WithMetrics(m))
	ctx := context.Background()

	seven(t, c, epoch)

	res, err := c.Rollback(ctx, epoch, 5, coordinator.Soft)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Revision)
	assert.False(t, res.Noop)

	assert.Equal(t, "3", valueOf(t, c, "a", kv.Latest()))
	assert.Equal(t, "2", valueOf(t, c, "b", kv.Latest()))
	assert.Equal(t, "1", valueOf(t, c, "c", kv.Latest()))

	// History after the target is preserved.
	assert.Equal(t, "4", valueOf(t, c, "a", kv.Exact(6)))

	_, err = c.Store().Get(ctx, []byte("b"), kv.AsOf(7))
	require.True(t, revstore.IsDeleted(err))

	// c did not change after revision 5, so it is not rewritten.
	revs, err := c.Store().ListRevisions(ctx, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, revs)

	assert.InDelta(t, 1, testutil.ToFloat64(m.RollbacksTotal.WithLabelValues("soft")), 0)

	res, err = c.Rollback(ctx, epoch, 8, coordinator.Soft)
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, int64(8), c.Store().Head())
}

func TestSoftRollbackRevalidatesUnchangedKeys(t *testing.T) {
	t.Parallel()

	var (
		c     *coordinator.Coordinator
		epoch commit.Epoch
		armed atomic.Bool
	)

	// Lands a concurrent write to k once the rollback writeset is built.
	authorizer := auth.AuthorizerFunc(func(_ context.Context, op auth.Op, _ []byte, _ auth.Principal) error {
		if op == auth.OpWrite && armed.CompareAndSwap(true, false) {
			write(t, c, epoch, "k", "C")
		}

		return nil
	})

	c, epoch = newCoordinator(t, coordinator.WithAuthorizer(authorizer))
	ctx := context.Background()

	write(t, c, epoch, "k", "A", "j", "x")
	write(t, c, epoch, "k", "B", "j", "y")
	write(t, c, epoch, "k", "A")

	armed.Store(true)

	res, err := c.Rollback(ctx, epoch, 1, coordinator.Soft)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Revision)

	assert.Equal(t, "C", valueOf(t, c, "k", kv.Exact(4)))
	assert.Equal(t, "A", valueOf(t, c, "k", kv.Latest()))
	assert.Equal(t, "x", valueOf(t, c, "j", kv.Latest()))
}

func TestSoftRollbackToEmpty(t *testing.T) {
	t.Parallel()

	c, epoch := newCoordinator(t)
	ctx := context.Background()

	write(t, c, epoch, "a", "1")
	write(t, c, epoch, "b", "1")

	res, err := c.Rollback(ctx, epoch, 0, coordinator.Soft)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Revision)

	for _, key := range []string{"a", "b"} {
		_, err := c.Store().Get(ctx, []byte(key), kv.Latest())
		require.True(t, revstore.IsDeleted(err), key)
	}
}

func TestHardRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := hasher.NewSHA256Hasher()

	replica := revstore.NewMemory()
	t.Cleanup(func() { _ = replica.Close() })

	peer := replication.NewLocalPeer("replica", replication.NewReceiver(replica, h))

	quorum, err := replication.NewQuorum([]replication.Peer{peer})
	require.NoError(t, err)
	t.Cleanup(func() { _ = quorum.Close() })

	heads := headstate.NewMemory()
	c, epoch := newCoordinator(t, coordinator.WithReplicator(quorum), coordinator.WithHeadState(heads))

	seven(t, c, epoch)
	require.Equal(t, int64(7), replica.Head())

	_, err = c.Rollback(ctx, epoch, 5, coordinator.Hard)
	require.ErrorIs(t, err, coordinator.ErrDestructiveNotAcknowledged)
	assert.Equal(t, int64(7), c.Store().Head())

	ops := auth.WithPrincipal(ctx, auth.Principal{Name: "ops", Roles: nil})

	res, err := c.Rollback(ops, epoch, 5, coordinator.Hard,
		coordinator.AcknowledgeDestructive(),
		coordinator.WithReason("bad deploy"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Revision)

	assert.Equal(t, int64(5), c.Store().Head())
	assert.Equal(t, int64(5), c.Head())
	assert.Equal(t, "3", valueOf(t, c, "a", kv.Latest()))

	_, err = c.Store().Get(ctx, []byte("a"), kv.Exact(6))
	require.ErrorIs(t, err, kv.ErrRevisionOutOfRange)

	truncations, err := c.Store().Journal().Truncations(ctx)
	require.NoError(t, err)
	require.Len(t, truncations, 1)
	assert.Equal(t, int64(5), truncations[0].After)
	assert.Equal(t, int64(7), truncations[0].PreviousHead)
	assert.Equal(t, "ops", truncations[0].Principal)
	assert.Equal(t, "bad deploy", truncations[0].Reason)
	assert.Equal(t, epoch.ID, truncations[0].Epoch)

	head, err := heads.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), head.Revision)

	assert.Equal(t, int64(5), replica.Head(), "truncation is forwarded to replicas")

	// Revisions after the target are assigned again and keep replicating.
	res = write(t, c, epoch, "a", "new")
	assert.Equal(t, int64(6), res.Revision)
	assert.Equal(t, int64(6), replica.Head())
	assert.Equal(t, c.Store().HeadHash(), replica.HeadHash())
}

func TestRollback_negative(t *testing.T) {
	t.Parallel()

	c, epoch := newCoordinator(t)
	write(t, c, epoch, "a", "1")

	ctx := context.Background()

	tests := []struct {
		name     string
		target   int64
		mode     coordinator.RollbackMode
		expected error
	}{
		{"beyond head", 2, coordinator.Soft, coordinator.ErrInvalidRollbackTarget},
		{"negative", -1, coordinator.Hard, coordinator.ErrInvalidRollbackTarget},
		{"hard without acknowledgement", 0, coordinator.Hard, coordinator.ErrDestructiveNotAcknowledged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := c.Rollback(ctx, epoch, tt.target, tt.mode)
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestRollbackRequiresAdmin(t *testing.T) {
	t.Parallel()

	authorizer := auth.AuthorizerFunc(func(_ context.Context, op auth.Op, _ []byte, p auth.Principal) error {
		if op == auth.OpAdmin && p.Name != "ops" {
			return auth.ErrForbidden
		}

		return nil
	})

	store := revstore.NewMemory()
	c := coordinator.New(store, coordinator.WithAuthorizer(authorizer))

	ops := auth.WithPrincipal(context.Background(), auth.Principal{Name: "ops", Roles: nil})

	epoch, err := c.AssumeCoordinator(ops)
	require.NoError(t, err)

	write(t, c, epoch, "a", "1")

	_, err = c.Rollback(context.Background(), epoch, 0, coordinator.Soft)
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = c.Rollback(ops, epoch, 0, coordinator.Soft)
	require.NoError(t, err)
}

func TestSoftRollbackRequiresWrite(t *testing.T) {
	t.Parallel()

	var locked atomic.Bool

	authorizer := auth.AuthorizerFunc(func(_ context.Context, op auth.Op, key []byte, _ auth.Principal) error {
		if op == auth.OpWrite && locked.Load() && string(key) == "a" {
			return auth.ErrForbidden
		}

		return nil
	})

	c, epoch := newCoordinator(t, coordinator.WithAuthorizer(authorizer))

	write(t, c, epoch, "a", "1")
	write(t, c, epoch, "a", "2")

	locked.Store(true)

	_, err := c.Rollback(context.Background(), epoch, 1, coordinator.Soft)
	require.ErrorIs(t, err, auth.ErrForbidden)
	assert.Equal(t, "2", valueOf(t, c, "a", kv.Latest()))
	assert.Equal(t, int64(2), c.Store().Head())
}
