// Package revstore implements the revision store: a durable, per-key,
// revision-ordered value log with snapshot reads.
//
// The store keeps every retained version in a copy-on-write B-tree ordered
// by key and descending revision. Readers load the current tree and never
// lock. Apply persists a commit through the journal and then publishes a
// new tree, so a commit becomes visible all at once or not at all.
package revstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/auth"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/journal/memory"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/watch"
)

// Store is a revision store backed by a journal.
type Store struct {
	opts    storeOptions
	journal journal.Journal
	hub     *watch.Hub
	ownsHub bool
	logger  *zap.Logger
	metrics *metrics.Metrics

	state atomic.Pointer[snapshot]

	// mu serializes writers: Apply, Compact, Checkpoint, TruncateAfter, Recover.
	mu sync.Mutex

	headMu  sync.Mutex
	advance chan struct{}
}

// Open builds a store over j, loading its checkpoint and replaying every
// later commit. Replayed commits are verified against the hash chain.
func Open(ctx context.Context, j journal.Journal, opts ...Option) (*Store, error) {
	o := options.ApplyOptions(defaultOptions, opts)

	s := &Store{
		opts:    o,
		journal: j,
		hub:     o.hub,
		ownsHub: o.hub == nil,
		logger:  o.logger,
		metrics: o.metrics,
		state:   atomic.Pointer[snapshot]{},
		mu:      sync.Mutex{},
		headMu:  sync.Mutex{},
		advance: make(chan struct{}),
	}

	if s.hub == nil {
		s.hub = watch.NewHub()
	}

	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}

	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	s.state.Store(snap)

	return s, nil
}

// NewMemory creates an empty store over an in-process journal.
func NewMemory(opts ...Option) *Store {
	s, err := Open(context.Background(), memory.New(), opts...)
	if err != nil {
		// An empty memory journal cannot fail to load.
		panic(err)
	}

	return s
}

func (s *Store) load(ctx context.Context) (*snapshot, error) {
	snap := emptySnapshot(s.opts.degree)

	cp, ok, err := s.journal.LoadCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if ok {
		snap = snapshotFromCheckpoint(s.opts.degree, cp)
	}

	tip, err := s.journal.Tip(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal tip: %w", err)
	}

	if tip.Base > snap.head {
		return nil, fmt.Errorf("%w: journal dropped through %d, checkpoint at %d",
			journal.ErrCorrupt, tip.Base, snap.head)
	}

	chain := audit.NewChain(s.opts.hasher, snap.head, snap.hash)

	for c, err := range s.journal.Commits(ctx, snap.head+1, tip.Revision) {
		if err != nil {
			return nil, fmt.Errorf("failed to replay journal: %w", err)
		}

		if c.Revision != snap.head+1 {
			return nil, fmt.Errorf("%w: replay expected revision %d, got %d",
				journal.ErrOutOfOrder, snap.head+1, c.Revision)
		}

		if err := chain.Append(c); err != nil {
			return nil, fmt.Errorf("failed to replay journal: %w", err)
		}

		snap.insert(c.Writeset, c.Revision)
		snap.head = c.Revision
		snap.hash = bytes.Clone(c.Hash)
	}

	s.logger.Debug("revision store loaded",
		zap.Int64("head", snap.head),
		zap.Int64("checkpoint", cp.Revision),
		zap.Int("entries", snap.entries.Len()))

	return snap, nil
}

// Head returns the newest visible revision.
func (s *Store) Head() int64 {
	return s.state.Load().head
}

// HeadHash returns the chain hash at Head.
func (s *Store) HeadHash() []byte {
	return bytes.Clone(s.state.Load().hash)
}

// Journal returns the journal the store persists through.
func (s *Store) Journal() journal.Journal {
	return s.journal
}

// Get returns the version of key chosen by sel.
func (s *Store) Get(ctx context.Context, key []byte, sel kv.Selector) (kv.Entry, error) {
	if err := auth.Check(ctx, s.opts.authorizer, auth.OpRead, key); err != nil {
		return kv.Entry{}, err
	}

	snap := s.state.Load()

	if err := sel.Validate(snap.head); err != nil {
		return kv.Entry{}, err
	}

	bound := sel.Bound(snap.head)
	floor := snap.floor(key)

	notFound := func(reason Reason, rev int64) error {
		return &NotFoundError{Key: bytes.Clone(key), Selector: sel, Reason: reason, Revision: rev}
	}

	var (
		e  kv.Entry
		ok bool
	)

	if sel.Kind() == kv.SelectExact {
		e, ok = snap.exact(key, bound)
	} else {
		e, ok = snap.visible(key, bound)
	}

	switch {
	case ok && e.Tombstone:
		return kv.Entry{}, notFound(ReasonDeleted, e.Revision)
	case ok:
		return e.Clone(), nil
	case bound < floor:
		return kv.Entry{}, notFound(ReasonArchived, floor)
	case sel.Kind() == kv.SelectExact && snap.exists(key):
		return kv.Entry{}, notFound(ReasonNoSuchRevision, 0)
	default:
		return kv.Entry{}, notFound(ReasonNeverExisted, 0)
	}
}

// GetRange returns the retained versions of key with lo <= revision <= hi,
// newest first, tombstones included. The snapshot is taken when GetRange
// is called; each range over the result is a fresh traversal.
func (s *Store) GetRange(ctx context.Context, key []byte, lo, hi int64) iter.Seq2[kv.Entry, error] {
	snap := s.state.Load()
	key = bytes.Clone(key)

	return func(yield func(kv.Entry, error) bool) {
		if err := auth.Check(ctx, s.opts.authorizer, auth.OpRead, key); err != nil {
			yield(kv.Entry{}, err)
			return
		}

		if hi < lo {
			return
		}

		snap.versions(key, hi, func(e kv.Entry) bool {
			if e.Revision < lo {
				return false
			}

			return yield(e.Clone(), nil)
		})
	}
}

// ListRevisions returns every retained revision of key, newest first.
func (s *Store) ListRevisions(ctx context.Context, key []byte) ([]int64, error) {
	if err := auth.Check(ctx, s.opts.authorizer, auth.OpRead, key); err != nil {
		return nil, err
	}

	return s.state.Load().revisions(key), nil
}

// Floor returns the oldest revision still answerable for key, 0 when the
// key was never compacted.
func (s *Store) Floor(key []byte) int64 {
	return s.state.Load().floor(key)
}

// Scan returns the version of every key in [start, end) visible under sel.
// Deleted keys are skipped. A nil end is unbounded. Exact selectors are
// treated as AsOf.
func (s *Store) Scan(ctx context.Context, start, end []byte, sel kv.Selector) iter.Seq2[kv.Entry, error] {
	snap := s.state.Load()

	return func(yield func(kv.Entry, error) bool) {
		if err := sel.Validate(snap.head); err != nil {
			yield(kv.Entry{}, err)
			return
		}

		var denied error

		snap.keys(start, end, sel.Bound(snap.head), func(e kv.Entry) bool {
			if e.Tombstone {
				return true
			}

			if err := auth.Check(ctx, s.opts.authorizer, auth.OpRead, e.Key); err != nil {
				denied = err
				return false
			}

			return yield(e.Clone(), nil)
		})

		if denied != nil {
			yield(kv.Entry{}, denied)
		}
	}
}

// LastWriters returns the newest revision of every retained key.
func (s *Store) LastWriters() iter.Seq2[[]byte, int64] {
	snap := s.state.Load()

	return func(yield func([]byte, int64) bool) {
		snap.keys(nil, nil, math.MaxInt64, func(e kv.Entry) bool {
			return yield(e.Key, e.Revision)
		})
	}
}

// Commits streams the journaled commits with lo <= revision <= hi.
func (s *Store) Commits(ctx context.Context, lo, hi int64) iter.Seq2[commit.Commit, error] {
	return func(yield func(commit.Commit, error) bool) {
		if err := auth.Check(ctx, s.opts.authorizer, auth.OpAdmin, nil); err != nil {
			yield(commit.Commit{}, err)
			return
		}

		for c, err := range s.journal.Commits(ctx, lo, hi) {
			if !yield(c, err) || err != nil {
				return
			}
		}
	}
}

// Apply persists c and makes all of its entries visible at c.Revision.
//
// Apply is reserved for the commit coordinator and replication receivers;
// the revision must already be assigned and the commit sealed. Applying a
// commit that is already durable with the same hash is a no-op.
func (s *Store) Apply(ctx context.Context, c commit.Commit) error {
	if s.opts.readOnly {
		return ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.Load()

	if c.Revision <= snap.head {
		return s.checkApplied(ctx, snap, c)
	}

	if c.Revision != snap.head+1 {
		return fmt.Errorf("%w: head is %d, got revision %d", journal.ErrOutOfOrder, snap.head, c.Revision)
	}

	if err := audit.NewChain(s.opts.hasher, snap.head, snap.hash).Append(c); err != nil {
		return err
	}

	if err := s.journal.Append(ctx, c); err != nil {
		return fmt.Errorf("failed to persist revision %d: %w", c.Revision, err)
	}

	next := snap.clone()
	next.insert(c.Writeset, c.Revision)
	next.head = c.Revision
	next.hash = bytes.Clone(c.Hash)

	s.publish(next)

	events := make([]watch.Event, 0, len(c.Writeset))
	for _, e := range c.Writeset {
		events = append(events, watch.Event{Key: e.Key, Revision: c.Revision, Tombstone: e.Tombstone})
	}

	s.hub.Publish(events...)

	return nil
}

func (s *Store) checkApplied(ctx context.Context, snap *snapshot, c commit.Commit) error {
	if c.Revision == snap.head {
		if bytes.Equal(c.Hash, snap.hash) {
			return nil
		}

		return fmt.Errorf("%w: revision %d", journal.ErrDivergentCommit, c.Revision)
	}

	for stored, err := range s.journal.Commits(ctx, c.Revision, c.Revision) {
		if err != nil {
			return fmt.Errorf("failed to read revision %d: %w", c.Revision, err)
		}

		if bytes.Equal(stored.Hash, c.Hash) {
			return nil
		}

		return fmt.Errorf("%w: revision %d", journal.ErrDivergentCommit, c.Revision)
	}

	return fmt.Errorf("revision %d: %w", c.Revision, journal.ErrCompacted)
}

// publish swaps in next and wakes WaitFor callers. Callers hold s.mu.
func (s *Store) publish(next *snapshot) {
	s.state.Store(next)

	s.headMu.Lock()
	close(s.advance)
	s.advance = make(chan struct{})
	s.headMu.Unlock()
}

// WaitFor blocks until revision rev is visible or ctx is done.
func (s *Store) WaitFor(ctx context.Context, rev int64) error {
	for {
		s.headMu.Lock()
		ch := s.advance
		s.headMu.Unlock()

		if s.Head() >= rev {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for revision %d: %w", rev, ctx.Err())
		case <-ch:
		}
	}
}

// Watch streams the revisions that touch key, or every key under it with
// watch.WithPrefix, until ctx is done.
func (s *Store) Watch(ctx context.Context, key []byte, opts ...watch.Option) (<-chan watch.Event, error) {
	if err := auth.Check(ctx, s.opts.authorizer, auth.OpRead, key); err != nil {
		return nil, err
	}

	return s.hub.Subscribe(ctx, key, opts...), nil
}

// Compact removes superseded versions of key outside policy and records
// the key's new floor. Unless WithoutCheckpoint is given, the compacted
// state is checkpointed before it becomes visible.
func (s *Store) Compact(ctx context.Context, key []byte, policy Policy, opts ...CompactOption) (CompactStats, error) {
	if err := auth.Check(ctx, s.opts.authorizer, auth.OpAdmin, key); err != nil {
		return CompactStats{}, err
	}

	return s.compact(ctx, policy, opts, func(snap *snapshot, yield func([]byte)) {
		if snap.exists(key) {
			yield(key)
		}
	})
}

// CompactAll applies policy to every key.
func (s *Store) CompactAll(ctx context.Context, policy Policy, opts ...CompactOption) (CompactStats, error) {
	if err := auth.Check(ctx, s.opts.authorizer, auth.OpAdmin, nil); err != nil {
		return CompactStats{}, err
	}

	return s.compact(ctx, policy, opts, func(snap *snapshot, yield func([]byte)) {
		snap.keys(nil, nil, math.MaxInt64, func(e kv.Entry) bool {
			yield(e.Key)
			return true
		})
	})
}

func (s *Store) compact(
	ctx context.Context,
	policy Policy,
	opts []CompactOption,
	keys func(*snapshot, func([]byte)),
) (CompactStats, error) {
	if s.opts.readOnly {
		return CompactStats{}, ErrReadOnly
	}

	if err := policy.Validate(); err != nil {
		return CompactStats{}, err
	}

	o := defaultCompactOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.Load()
	next := snap.clone()
	stats := CompactStats{Keys: 0, Removed: 0}

	keys(snap, func(key []byte) {
		revs := snap.revisions(key)
		keep := policy.retain(revs, o.bound)

		if keep >= len(revs) {
			return
		}

		for _, rev := range revs[keep:] {
			next.entries.Delete(kv.Entry{Key: key, Revision: rev})
		}

		next.floors.ReplaceOrInsert(journal.Floor{Key: bytes.Clone(key), Revision: revs[keep-1]})

		stats.Keys++
		stats.Removed += len(revs) - keep
	})

	if stats.Removed == 0 {
		return stats, nil
	}

	if o.checkpoint {
		if err := s.saveCheckpoint(ctx, next); err != nil {
			return CompactStats{}, err
		}
	}

	s.state.Store(next)
	s.metrics.CompactedEntriesTotal.Add(float64(stats.Removed))

	s.logger.Info("compacted revision store",
		zap.Stringer("policy", policy),
		zap.Int64("bound", o.bound),
		zap.Int("keys", stats.Keys),
		zap.Int("removed", stats.Removed))

	return stats, nil
}

// Checkpoint persists the retained state at the current head so the
// journal prefix up to it may be dropped.
func (s *Store) Checkpoint(ctx context.Context) (int64, error) {
	if err := auth.Check(ctx, s.opts.authorizer, auth.OpAdmin, nil); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.Load()

	return snap.head, s.saveCheckpoint(ctx, snap)
}

func (s *Store) saveCheckpoint(ctx context.Context, snap *snapshot) error {
	if err := s.journal.SaveCheckpoint(ctx, snap.checkpoint()); err != nil {
		return fmt.Errorf("failed to save checkpoint at revision %d: %w", snap.head, err)
	}

	s.metrics.CheckpointsTotal.Inc()

	return nil
}

// DropJournalThrough forgets journaled commits up to rev. The checkpoint
// must already cover rev.
func (s *Store) DropJournalThrough(ctx context.Context, rev int64) error {
	if err := auth.Check(ctx, s.opts.authorizer, auth.OpAdmin, nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.DropThrough(ctx, rev); err != nil {
		return fmt.Errorf("failed to drop journal through %d: %w", rev, err)
	}

	return nil
}

// TruncateAfter destructively removes every commit above rev from the
// journal and the store, recording t.
func (s *Store) TruncateAfter(ctx context.Context, rev int64, t journal.Truncation) error {
	if s.opts.readOnly {
		return ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.TruncateAfter(ctx, rev, t); err != nil {
		return fmt.Errorf("failed to truncate journal after %d: %w", rev, err)
	}

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.publish(snap)

	return nil
}

// Recover discards the in-memory state and reloads it from the journal.
func (s *Store) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.publish(snap)

	return nil
}

// Close releases the journal and closes watch subscriptions owned by the
// store.
func (s *Store) Close() error {
	if s.ownsHub {
		s.hub.Close()
	}

	if err := s.journal.Close(); err != nil && !errors.Is(err, journal.ErrClosed) {
		return fmt.Errorf("failed to close journal: %w", err)
	}

	return nil
}
