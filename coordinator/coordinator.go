// Package coordinator implements the commit coordinator: the single writer
// that validates transactions optimistically, assigns revisions under an
// epoch, seals commits into the audit chain and drives them through head
// state, durable apply and replication.
//
// Only validation, revision assignment and hashing happen under the
// coordinator mutex. Everything after that runs in the caller's goroutine,
// ordered by a per-revision pipeline: a commit is applied only after its
// predecessor was applied, and replicated only after its predecessor was
// replicated.
package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/auth"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/headstate"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/revstore"
)

// PrepareRequest is a transaction submitted for commit.
type PrepareRequest struct {
	// Snapshot is the revision the transaction read at, as returned by Begin.
	Snapshot int64
	// Writeset holds the puts and deletes of the transaction.
	Writeset []kv.Entry
	// Readset holds the keys the transaction read. They are validated
	// together with the written keys.
	Readset [][]byte
}

// Result is the outcome of a successful Prepare.
type Result struct {
	Revision int64
	Hash     []byte
	Epoch    commit.Epoch
	// Noop is set when nothing had to be written. Revision is then the
	// snapshot the outcome is based on.
	Noop bool
}

// stage is one link of the apply pipeline.
type stage struct {
	applied    chan struct{}
	replicated chan struct{}
	// err is set before applied is closed.
	err error
}

func newStage() *stage {
	return &stage{
		applied:    make(chan struct{}),
		replicated: make(chan struct{}),
		err:        nil,
	}
}

func doneStage() *stage {
	s := newStage()
	close(s.applied)
	close(s.replicated)

	return s
}

type pending struct {
	commit commit.Commit
	epoch  commit.Epoch
	prev   *stage
	stage  *stage
}

// Coordinator assigns revisions for one revision store.
type Coordinator struct {
	opts    coordinatorOptions
	store   *revstore.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	epoch     commit.Epoch
	head      int64
	hash      []byte
	lastWrite map[string]int64
	tail      *stage

	// persisted is the last head record written. It is touched only by the
	// apply stage and by operations that drained the pipeline.
	persisted headstate.Head

	fenced atomic.Pointer[fenceError]
}

// New creates a coordinator over store. It assigns nothing until
// AssumeCoordinator succeeds.
func New(store *revstore.Store, opts ...Option) *Coordinator {
	o := options.ApplyOptions(defaultOptions, opts)

	m := o.metrics
	if m == nil {
		m = metrics.Discard()
	}

	return &Coordinator{
		opts:      o,
		store:     store,
		logger:    o.logger.With(zap.String("coordinator", o.identity)),
		metrics:   m,
		mu:        sync.Mutex{},
		epoch:     commit.Epoch{},
		head:      0,
		hash:      nil,
		lastWrite: make(map[string]int64),
		tail:      doneStage(),
		persisted: headstate.Head{},
		fenced:    atomic.Pointer[fenceError]{},
	}
}

// Identity returns the name the coordinator assumes epochs under.
func (c *Coordinator) Identity() string {
	return c.opts.identity
}

// Store returns the revision store the coordinator writes to.
func (c *Coordinator) Store() *revstore.Store {
	return c.store
}

// Epoch returns the epoch currently held, the zero Epoch before
// AssumeCoordinator.
func (c *Coordinator) Epoch() commit.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.epoch
}

// Head returns the last assigned revision. It may be ahead of the visible
// head while commits are in the pipeline.
func (c *Coordinator) Head() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.head
}

// Fenced returns the reason the coordinator stopped assigning revisions,
// or nil.
func (c *Coordinator) Fenced() error {
	if f := c.fenced.Load(); f != nil {
		return f
	}

	return nil
}

// Begin returns the visible head, the snapshot a new transaction reads at.
func (c *Coordinator) Begin(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return c.store.Head(), nil
}

// Prepare validates req against every commit assigned after its snapshot
// and, when nothing collides, commits it under the next revision.
//
// Once the revision is assigned the context is no longer consulted: Prepare
// returns only after the commit is durable or failed. With synchronous
// replication a *replication.ReplicationTimeoutError may be returned
// together with a valid Result; the commit stays durable.
func (c *Coordinator) Prepare(ctx context.Context, epoch commit.Epoch, req PrepareRequest) (Result, error) {
	start := time.Now()
	defer func() { c.metrics.PrepareDuration.Observe(time.Since(start).Seconds()) }()

	writeset, err := c.validate(ctx, req)
	if err != nil {
		return Result{}, err
	}

	keys := make([][]byte, len(writeset))
	for i, e := range writeset {
		keys[i] = e.Key
	}

	if err := auth.CheckAll(ctx, c.opts.authorizer, auth.OpWrite, keys); err != nil {
		c.metrics.RejectedTotal.WithLabelValues("forbidden").Inc()
		return Result{}, err
	}

	return c.prepare(ctx, epoch, req.Snapshot, writeset, req.Readset)
}

func (c *Coordinator) validate(ctx context.Context, req PrepareRequest) ([]kv.Entry, error) {
	if err := ctx.Err(); err != nil {
		c.metrics.RejectedTotal.WithLabelValues("canceled").Inc()
		return nil, err
	}

	writeset, err := commit.NormalizeWriteset(req.Writeset)
	if err != nil {
		c.metrics.RejectedTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if head := c.store.Head(); req.Snapshot < 0 || req.Snapshot > head {
		c.metrics.RejectedTotal.WithLabelValues("snapshot").Inc()
		return nil, fmt.Errorf("%w: snapshot %d, head is %d", kv.ErrRevisionOutOfRange, req.Snapshot, head)
	}

	return writeset, nil
}

func (c *Coordinator) prepare(
	ctx context.Context,
	epoch commit.Epoch,
	snapshot int64,
	writeset []kv.Entry,
	readset [][]byte,
) (Result, error) {
	c.mu.Lock()
	p, err := c.assign(epoch, snapshot, writeset, readset)
	c.mu.Unlock()

	if err != nil {
		return Result{}, err
	}

	return c.complete(context.WithoutCancel(ctx), p)
}

// assign runs under c.mu.
func (c *Coordinator) assign(
	epoch commit.Epoch,
	snapshot int64,
	writeset []kv.Entry,
	readset [][]byte,
) (pending, error) {
	if err := c.checkEpoch(epoch); err != nil {
		return pending{}, err
	}

	if conflict := c.detect(snapshot, writeset, readset); conflict != nil {
		c.metrics.ConflictsTotal.Inc()
		return pending{}, conflict
	}

	rev := c.head + 1

	sealed, err := audit.Seal(c.opts.hasher, c.hash, commit.Commit{
		Revision: rev,
		Epoch:    c.epoch.ID,
		Writeset: writeset,
		PrevHash: nil,
		Hash:     nil,
	})
	if err != nil {
		return pending{}, fmt.Errorf("failed to seal revision %d: %w", rev, err)
	}

	c.head = rev
	c.hash = sealed.Hash

	for _, e := range writeset {
		c.lastWrite[string(e.Key)] = rev
	}

	p := pending{commit: sealed, epoch: c.epoch, prev: c.tail, stage: newStage()}
	c.tail = p.stage

	return p, nil
}

// checkEpoch runs under c.mu.
func (c *Coordinator) checkEpoch(epoch commit.Epoch) error {
	if f := c.fenced.Load(); f != nil {
		return f
	}

	if c.epoch.IsZero() {
		return ErrNotCoordinator
	}

	if epoch == c.epoch {
		return nil
	}

	if epoch.Newer(c.epoch) {
		stale := &commit.StaleEpochError{Given: c.epoch, Current: epoch}
		c.fence(stale)

		return stale
	}

	return &commit.StaleEpochError{Given: epoch, Current: c.epoch}
}

// detect runs under c.mu.
func (c *Coordinator) detect(snapshot int64, writeset []kv.Entry, readset [][]byte) *ConflictError {
	seen := make(map[string]struct{}, len(writeset)+len(readset))

	var keys [][]byte

	check := func(key []byte) {
		k := string(key)
		if _, ok := seen[k]; ok {
			return
		}

		seen[k] = struct{}{}

		if c.lastWrite[k] > snapshot {
			keys = append(keys, bytes.Clone(key))
		}
	}

	for _, e := range writeset {
		check(e.Key)
	}

	for _, key := range readset {
		check(key)
	}

	if len(keys) == 0 {
		return nil
	}

	slices.SortFunc(keys, bytes.Compare)

	return &ConflictError{Keys: keys, Snapshot: snapshot, Head: c.head}
}

// complete drives an assigned commit through the pipeline.
func (c *Coordinator) complete(ctx context.Context, p pending) (Result, error) {
	rev := p.commit.Revision

	<-p.prev.applied

	if p.prev.err != nil {
		err := fmt.Errorf("failed to apply revision %d: predecessor failed: %w", rev, p.prev.err)
		c.abandon(p, p.prev.err)

		return Result{}, err
	}

	// A superseded coordinator must not make the commit visible.
	if err := c.recordHead(ctx, p.commit, p.epoch); err != nil {
		c.logger.Error("commit fenced", zap.Int64("revision", rev), zap.Error(err))
		c.abandon(p, err)

		return Result{}, err
	}

	applyStart := time.Now()

	if err := c.store.Apply(ctx, p.commit); err != nil {
		err = fmt.Errorf("failed to apply revision %d: %w", rev, err)
		c.logger.Error("commit failed", zap.Int64("revision", rev), zap.Error(err))
		c.fence(err)
		c.abandon(p, err)

		return Result{}, err
	}

	c.metrics.ApplyDuration.Observe(time.Since(applyStart).Seconds())

	for _, o := range c.opts.observers {
		o.OnCommit(ctx, p.commit)
	}

	close(p.stage.applied)

	c.metrics.CommitsTotal.Inc()
	c.metrics.HeadRevision.Set(float64(rev))

	<-p.prev.replicated

	replErr := c.opts.replicator.Replicate(ctx, p.commit)

	close(p.stage.replicated)

	result := Result{Revision: rev, Hash: bytes.Clone(p.commit.Hash), Epoch: p.epoch, Noop: false}

	if replErr != nil {
		c.logger.Warn("replication incomplete",
			zap.Int64("revision", rev),
			zap.Error(replErr))

		return result, replErr
	}

	return result, nil
}

func (c *Coordinator) abandon(p pending, err error) {
	p.stage.err = err
	close(p.stage.applied)

	<-p.prev.replicated
	close(p.stage.replicated)
}

// recordHead records the commit in head state before it is applied. It runs
// inside the apply stage, so head records are written in revision order. A
// lost compare-and-swap fences the coordinator and the commit is abandoned;
// an unavailable head store is only logged.
func (c *Coordinator) recordHead(ctx context.Context, sealed commit.Commit, epoch commit.Epoch) error {
	next := headstate.Head{Revision: sealed.Revision, Hash: bytes.Clone(sealed.Hash), Epoch: epoch}

	err := c.opts.heads.CompareAndSwap(ctx, c.persisted, next)

	switch {
	case err == nil:
		c.persisted = next
		return nil
	case errors.Is(err, headstate.ErrHeadChanged):
		current, loadErr := c.opts.heads.Load(ctx)
		if loadErr == nil && current.Epoch.Newer(epoch) {
			stale := &commit.StaleEpochError{Given: epoch, Current: current.Epoch}
			c.fence(stale)

			return stale
		}

		err = fmt.Errorf("failed to record revision %d: %w", sealed.Revision, err)
		c.fence(err)

		return err
	default:
		c.logger.Error("failed to persist head state",
			zap.Int64("revision", sealed.Revision),
			zap.Error(err))

		return nil
	}
}

func (c *Coordinator) fence(cause error) {
	if c.fenced.CompareAndSwap(nil, &fenceError{cause: cause}) {
		c.logger.Warn("coordinator fenced", zap.Error(cause))
	}
}

// drain waits until every assigned commit left stage.
func drain(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining commit pipeline: %w", ctx.Err())
	}
}

// rebuildLastWriters runs under c.mu.
func (c *Coordinator) rebuildLastWriters() {
	c.lastWrite = make(map[string]int64)

	for key, rev := range c.store.LastWriters() {
		c.lastWrite[string(key)] = rev
	}
}
