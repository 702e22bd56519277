package reprise

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/tarantool/go-option"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/coordinator"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/replication"
	"github.com/reprisedb/go-reprise/revstore"
)

// Txn is an optimistic transaction. It reads at the snapshot taken by
// Begin, sees its own writes, and is validated at Commit against every
// commit made after its snapshot, for the keys it wrote and read.
//
// A Txn is safe for concurrent use, but its operations are serialized.
type Txn struct {
	db         *DB
	epoch      commit.Epoch
	generation uint64

	mu       sync.Mutex
	snapshot int64
	state    coordinator.TxnState
	writes   map[string]kv.Entry
	reads    map[string]struct{}
	conflict *coordinator.ConflictError
	result   coordinator.Result
}

// Begin starts a transaction at the current head.
func (db *DB) Begin(ctx context.Context) (*Txn, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	snapshot, err := db.coord.Begin(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return &Txn{
		db:         db,
		epoch:      db.Epoch(),
		generation: db.generation.Load(),
		mu:         sync.Mutex{},
		snapshot:   snapshot,
		state:      coordinator.StateOpen,
		writes:     make(map[string]kv.Entry),
		reads:      make(map[string]struct{}),
		conflict:   nil,
		result:     coordinator.Result{},
	}, nil
}

// Snapshot returns the revision the transaction reads at.
func (t *Txn) Snapshot() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshot
}

// State returns the lifecycle state of the transaction.
func (t *Txn) State() coordinator.TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Conflict returns the conflict reported by the last Commit or Rectify,
// or nil.
func (t *Txn) Conflict() *coordinator.ConflictError {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conflict
}

// check runs under t.mu.
func (t *Txn) check(op string, allowed ...coordinator.TxnState) error {
	if err := t.db.checkOpen(); err != nil {
		return err
	}

	if t.generation != t.db.generation.Load() {
		if !t.state.Final() {
			t.state = coordinator.StateAborted
		}

		return ErrTxnInvalidated
	}

	if !slices.Contains(allowed, t.state) {
		return &TxnStateError{Op: op, State: t.state}
	}

	return nil
}

// read runs under t.mu. It returns the committed version of key at the
// snapshot and adds key to the readset.
func (t *Txn) read(ctx context.Context, key []byte) (kv.Entry, error) {
	t.reads[string(key)] = struct{}{}

	if t.snapshot == 0 {
		return kv.Entry{}, &revstore.NotFoundError{
			Key:      bytes.Clone(key),
			Selector: kv.AsOf(0),
			Reason:   revstore.ReasonNeverExisted,
			Revision: 0,
		}
	}

	return t.db.view().Get(ctx, key, kv.AsOf(t.snapshot)) //nolint:wrapcheck
}

// current runs under t.mu. It is read reduced to presence.
func (t *Txn) current(ctx context.Context, key []byte) (option.Generic[kv.Entry], error) {
	e, err := t.read(ctx, key)

	switch {
	case err == nil:
		return option.Some(e), nil
	case errors.Is(err, revstore.ErrNotFound) && !revstore.IsArchived(err):
		return option.None[kv.Entry](), nil
	default:
		return option.None[kv.Entry](), err
	}
}

// Get returns the value of key as seen by the transaction. Pending writes
// are reported with revision 0.
func (t *Txn) Get(ctx context.Context, key []byte) (kv.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check("read", coordinator.StateOpen); err != nil {
		return kv.Entry{}, err
	}

	if e, ok := t.writes[string(key)]; ok {
		if e.Tombstone {
			return kv.Entry{}, &revstore.NotFoundError{
				Key:      bytes.Clone(key),
				Selector: kv.AsOf(t.snapshot),
				Reason:   revstore.ReasonDeleted,
				Revision: 0,
			}
		}

		return e.Clone(), nil
	}

	return t.read(ctx, key)
}

// Scan returns the live entries under prefix as seen by the transaction,
// in key order. Every key returned joins the readset.
func (t *Txn) Scan(ctx context.Context, prefix []byte) ([]kv.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check("read", coordinator.StateOpen); err != nil {
		return nil, err
	}

	found := make(map[string]kv.Entry)

	if t.snapshot > 0 {
		for e, err := range t.db.view().Scan(ctx, prefix, prefixEnd(prefix), kv.AsOf(t.snapshot)) {
			if err != nil {
				return nil, err
			}

			t.reads[string(e.Key)] = struct{}{}
			found[string(e.Key)] = e
		}
	}

	for key, e := range t.writes {
		if !bytes.HasPrefix(e.Key, prefix) {
			continue
		}

		if e.Tombstone {
			delete(found, key)
		} else {
			found[key] = e.Clone()
		}
	}

	return slices.SortedFunc(maps.Values(found), func(a, b kv.Entry) int {
		return bytes.Compare(a.Key, b.Key)
	}), nil
}

// Put writes value to key. Writing the value key already has at the
// snapshot is skipped; the key is still validated at commit.
func (t *Txn) Put(ctx context.Context, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check("write", coordinator.StateOpen); err != nil {
		return err
	}

	cur, err := t.current(ctx, key)
	if err != nil {
		return err
	}

	if e, ok := cur.Get(); ok && bytes.Equal(e.Value, value) {
		delete(t.writes, string(key))
		return nil
	}

	t.writes[string(key)] = kv.Put(bytes.Clone(key), bytes.Clone(value))

	return nil
}

// Delete removes key. Deleting a key absent at the snapshot only drops a
// pending write.
func (t *Txn) Delete(ctx context.Context, key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check("write", coordinator.StateOpen); err != nil {
		return err
	}

	cur, err := t.current(ctx, key)
	if err != nil {
		return err
	}

	if !cur.IsSome() {
		delete(t.writes, string(key))
		return nil
	}

	t.writes[string(key)] = kv.Delete(bytes.Clone(key))

	return nil
}

// request runs under t.mu.
func (t *Txn) request() coordinator.PrepareRequest {
	writeset := slices.SortedFunc(maps.Values(t.writes), func(a, b kv.Entry) int {
		return bytes.Compare(a.Key, b.Key)
	})

	readset := make([][]byte, 0, len(t.reads))
	for key := range t.reads {
		readset = append(readset, []byte(key))
	}

	slices.SortFunc(readset, bytes.Compare)

	return coordinator.PrepareRequest{Snapshot: t.snapshot, Writeset: writeset, Readset: readset}
}

// Commit validates and commits the transaction. On a
// *coordinator.ConflictError the transaction becomes Conflicted and can be
// rectified or aborted. A *replication.ReplicationTimeoutError is returned
// together with the durable result. Any other error aborts the transaction.
func (t *Txn) Commit(ctx context.Context) (coordinator.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check("commit", coordinator.StateOpen); err != nil {
		return coordinator.Result{}, err
	}

	req := t.request()

	if len(req.Writeset) == 0 {
		t.state = coordinator.StateCommitted
		t.result = coordinator.Result{Revision: t.snapshot, Hash: nil, Epoch: t.epoch, Noop: true}

		return t.result, nil
	}

	t.state = coordinator.StateValidating

	res, err := t.db.coord.Prepare(ctx, t.epoch, req)

	return t.settle(res, err)
}

// Rectify rebases a conflicted transaction onto the commits it collided
// with, letting resolver decide every colliding key, and commits it again.
func (t *Txn) Rectify(ctx context.Context, resolver coordinator.Resolver) (coordinator.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check("rectify", coordinator.StateConflicted); err != nil {
		return coordinator.Result{}, err
	}

	t.state = coordinator.StateRectified

	rebased, err := t.db.coord.Rebase(ctx, t.request(), t.conflict, resolver)
	if err != nil {
		t.state = coordinator.StateConflicted
		return coordinator.Result{}, err //nolint:wrapcheck
	}

	t.snapshot = rebased.Snapshot
	t.writes = make(map[string]kv.Entry, len(rebased.Writeset))

	for _, e := range rebased.Writeset {
		t.writes[string(e.Key)] = e
	}

	if len(rebased.Writeset) == 0 {
		t.state = coordinator.StateValidating

		return t.settle(coordinator.Result{
			Revision: rebased.Snapshot,
			Hash:     t.db.store.HeadHash(),
			Epoch:    t.epoch,
			Noop:     true,
		}, nil)
	}

	t.state = coordinator.StateValidating

	res, err := t.db.coord.Prepare(ctx, t.epoch, rebased)

	return t.settle(res, err)
}

// settle runs under t.mu.
func (t *Txn) settle(res coordinator.Result, err error) (coordinator.Result, error) {
	var conflict *coordinator.ConflictError

	switch {
	case errors.As(err, &conflict):
		t.state = coordinator.StateConflicted
		t.conflict = conflict

		return coordinator.Result{}, err
	case err == nil, res.Revision > 0 && errors.Is(err, replication.ErrReplicationTimeout):
		t.state = coordinator.StateCommitted
		t.conflict = nil
		t.result = res

		return res, err
	default:
		t.state = coordinator.StateAborted
		return coordinator.Result{}, err
	}
}

// Result returns the outcome of a committed transaction.
func (t *Txn) Result() (coordinator.Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.result, t.state == coordinator.StateCommitted
}

// Abort discards the transaction. Aborting a committed transaction fails.
func (t *Txn) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == coordinator.StateAborted {
		return nil
	}

	if !t.state.CanTransition(coordinator.StateAborted) {
		return &TxnStateError{Op: "abort", State: t.state}
	}

	t.state = coordinator.StateAborted
	t.writes = nil

	return nil
}
