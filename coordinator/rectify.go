package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tarantool/go-option"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/revstore"
)

type resolutionKind int

const (
	resolveKeepMine resolutionKind = iota
	resolveTakeTheirs
	resolveMerge
)

// Resolution is the decision for one colliding key.
type Resolution struct {
	kind  resolutionKind
	value []byte
}

// KeepMine keeps the transaction's own write, if any, on top of theirs.
func KeepMine() Resolution {
	return Resolution{kind: resolveKeepMine, value: nil}
}

// TakeTheirs drops the transaction's write and accepts the committed state.
func TakeTheirs() Resolution {
	return Resolution{kind: resolveTakeTheirs, value: nil}
}

// Merge replaces the transaction's write with value.
func Merge(value []byte) Resolution {
	return Resolution{kind: resolveMerge, value: value}
}

// Resolver decides how a colliding key is rebased. mine is None when the
// transaction only read the key. theirs is None when the key does not exist
// at the new snapshot; a deleted key is reported as a tombstone.
type Resolver interface {
	Resolve(ctx context.Context, key []byte, mine, theirs option.Generic[kv.Entry]) (Resolution, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, key []byte, mine, theirs option.Generic[kv.Entry]) (Resolution, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(
	ctx context.Context,
	key []byte,
	mine, theirs option.Generic[kv.Entry],
) (Resolution, error) {
	return f(ctx, key, mine, theirs)
}

// Rectify rebases a conflicted request onto a snapshot that includes the
// colliding commits and submits it again through Prepare. The result may
// be another *ConflictError, in which case Rectify can be repeated.
func (c *Coordinator) Rectify(
	ctx context.Context,
	epoch commit.Epoch,
	req PrepareRequest,
	conflict *ConflictError,
	resolver Resolver,
) (Result, error) {
	if conflict == nil {
		return c.Prepare(ctx, epoch, req)
	}

	rebased, err := c.Rebase(ctx, req, conflict, resolver)
	if err != nil {
		return Result{}, err
	}

	if len(rebased.Writeset) == 0 {
		return Result{Revision: rebased.Snapshot, Hash: c.store.HeadHash(), Epoch: epoch, Noop: true}, nil
	}

	return c.Prepare(ctx, epoch, rebased)
}

// Rebase waits until the colliding commits are visible and returns req
// moved onto the new head. Every key of req written after req.Snapshot is
// decided by resolver, including keys written after the conflict was
// reported. Writes still in flight past the new head are left to Prepare.
// An empty writeset means nothing is left to write.
func (c *Coordinator) Rebase(
	ctx context.Context,
	req PrepareRequest,
	conflict *ConflictError,
	resolver Resolver,
) (PrepareRequest, error) {
	if err := c.store.WaitFor(ctx, conflict.Head); err != nil {
		return PrepareRequest{}, err
	}

	snapshot := c.store.Head()

	// Commits after conflict.Head may have touched other keys of req.
	c.mu.Lock()
	again := c.detect(req.Snapshot, req.Writeset, req.Readset)
	c.mu.Unlock()

	keys := slices.Clone(conflict.Keys)
	if again != nil {
		keys = append(keys, again.Keys...)
	}

	slices.SortFunc(keys, bytes.Compare)
	keys = slices.CompactFunc(keys, bytes.Equal)

	colliding := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		colliding[string(key)] = struct{}{}
	}

	mine := make(map[string]kv.Entry, len(req.Writeset))
	rebased := make([]kv.Entry, 0, len(req.Writeset))

	for _, e := range req.Writeset {
		if _, ok := colliding[string(e.Key)]; ok {
			mine[string(e.Key)] = e
			continue
		}

		rebased = append(rebased, e)
	}

	for _, key := range keys {
		own, ok := mine[string(key)]

		ownOpt := option.None[kv.Entry]()
		if ok {
			ownOpt = option.Some(own)
		}

		theirs, err := c.theirs(ctx, key, snapshot)
		if err != nil {
			return PrepareRequest{}, err
		}

		resolution, err := resolver.Resolve(ctx, key, ownOpt, theirs)
		if err != nil {
			return PrepareRequest{}, fmt.Errorf("failed to resolve %q: %w", key, err)
		}

		switch resolution.kind {
		case resolveKeepMine:
			if ok {
				rebased = append(rebased, own)
			}
		case resolveTakeTheirs:
		case resolveMerge:
			rebased = append(rebased, kv.Put(key, resolution.value))
		}
	}

	return PrepareRequest{Snapshot: snapshot, Writeset: rebased, Readset: req.Readset}, nil
}

func (c *Coordinator) theirs(ctx context.Context, key []byte, snapshot int64) (option.Generic[kv.Entry], error) {
	if snapshot == 0 {
		return option.None[kv.Entry](), nil
	}

	e, err := c.store.Get(ctx, key, kv.AsOf(snapshot))
	if err == nil {
		return option.Some(e), nil
	}

	var notFound *revstore.NotFoundError
	if !errors.As(err, &notFound) || notFound.Reason == revstore.ReasonArchived {
		return option.None[kv.Entry](), fmt.Errorf("failed to read %q at %d: %w", key, snapshot, err)
	}

	if notFound.Reason == revstore.ReasonDeleted {
		return option.Some(kv.Entry{Key: notFound.Key, Revision: notFound.Revision, Value: nil, Tombstone: true}), nil
	}

	return option.None[kv.Entry](), nil
}
