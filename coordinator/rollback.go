package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/auth"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/headstate"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/revstore"
)

// RollbackMode selects how history after the target is undone.
type RollbackMode int

const (
	// Soft commits a new revision restoring every key touched after the
	// target to its value at the target. History is preserved.
	Soft RollbackMode = iota
	// Hard truncates every commit after the target from the journal and the
	// store. It must be acknowledged with AcknowledgeDestructive.
	Hard
)

func (m RollbackMode) String() string {
	switch m {
	case Soft:
		return "soft"
	case Hard:
		return "hard"
	default:
		return "unknown"
	}
}

type rollbackOptions struct {
	acknowledged bool
	reason       string
}

// RollbackOption configures Rollback.
type RollbackOption = options.OptionCallback[rollbackOptions]

// AcknowledgeDestructive confirms a Hard rollback.
func AcknowledgeDestructive() RollbackOption {
	return func(o *rollbackOptions) {
		o.acknowledged = true
	}
}

// WithReason is recorded in the truncation record of a Hard rollback.
func WithReason(reason string) RollbackOption {
	return func(o *rollbackOptions) {
		o.reason = reason
	}
}

// Rollback restores the state at target. It requires auth.OpAdmin; a Soft
// rollback is additionally authorized for writing the keys it restores.
func (c *Coordinator) Rollback(
	ctx context.Context,
	epoch commit.Epoch,
	target int64,
	mode RollbackMode,
	opts ...RollbackOption,
) (Result, error) {
	o := options.ApplyOptions(func() rollbackOptions { return rollbackOptions{acknowledged: false, reason: ""} }, opts)

	if err := auth.Check(ctx, c.opts.authorizer, auth.OpAdmin, nil); err != nil {
		return Result{}, err
	}

	if head := c.store.Head(); target < 0 || target > head {
		return Result{}, fmt.Errorf("%w: %d, head is %d", ErrInvalidRollbackTarget, target, head)
	}

	switch mode {
	case Soft:
		return c.rollbackSoft(ctx, epoch, target)
	case Hard:
		if !o.acknowledged {
			return Result{}, ErrDestructiveNotAcknowledged
		}

		return c.rollbackHard(ctx, epoch, target, o.reason)
	default:
		return Result{}, fmt.Errorf("unknown rollback mode %d", mode)
	}
}

// rollbackSoft commits the restoring writeset through Prepare, so it is
// validated and authorized for writing like any other commit. Every touched
// key is in the readset: a concurrent write to a key that already holds its
// target value is a conflict and the rollback is rebuilt on top of it.
func (c *Coordinator) rollbackSoft(ctx context.Context, epoch commit.Epoch, target int64) (Result, error) {
	for range c.opts.rollbackAttempts {
		snapshot := c.store.Head()

		writeset, touched, err := c.restoring(ctx, target, snapshot)
		if err != nil {
			return Result{}, err
		}

		if len(writeset) == 0 {
			return Result{Revision: snapshot, Hash: c.store.HeadHash(), Epoch: epoch, Noop: true}, nil
		}

		result, err := c.Prepare(ctx, epoch, PrepareRequest{Snapshot: snapshot, Writeset: writeset, Readset: touched})

		var conflict *ConflictError
		if errors.As(err, &conflict) {
			if err := c.store.WaitFor(ctx, conflict.Head); err != nil {
				return Result{}, err
			}

			continue
		}

		if result.Revision != 0 {
			c.metrics.RollbacksTotal.WithLabelValues(Soft.String()).Inc()
			c.logger.Info("soft rollback committed",
				zap.Int64("target", target),
				zap.Int64("revision", result.Revision),
				zap.Int("keys", len(writeset)))
		}

		return result, err
	}

	return Result{}, fmt.Errorf("%w: soft rollback to %d gave up after %d attempts",
		ErrRollbackContended, target, c.opts.rollbackAttempts)
}

// restoring builds the writeset that brings every key touched in
// (target, snapshot] back to its state at target. It also returns the
// touched keys, sorted.
func (c *Coordinator) restoring(ctx context.Context, target, snapshot int64) ([]kv.Entry, [][]byte, error) {
	touched := make(map[string][]byte)

	for cm, err := range c.store.Commits(ctx, target+1, snapshot) {
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read commits after %d: %w", target, err)
		}

		for _, e := range cm.Writeset {
			touched[string(e.Key)] = e.Key
		}
	}

	keys := make([][]byte, 0, len(touched))
	for _, key := range touched {
		keys = append(keys, key)
	}

	slices.SortFunc(keys, bytes.Compare)

	var writeset []kv.Entry

	for _, key := range keys {
		want, wantOK, err := c.stateAt(ctx, key, target)
		if err != nil {
			return nil, nil, err
		}

		have, haveOK, err := c.stateAt(ctx, key, snapshot)
		if err != nil {
			return nil, nil, err
		}

		switch {
		case wantOK && haveOK && bytes.Equal(want.Value, have.Value):
		case !wantOK && !haveOK:
		case wantOK:
			writeset = append(writeset, kv.Put(key, want.Value))
		default:
			writeset = append(writeset, kv.Delete(key))
		}
	}

	return writeset, keys, nil
}

// stateAt returns the live value of key at rev; false means absent.
func (c *Coordinator) stateAt(ctx context.Context, key []byte, rev int64) (kv.Entry, bool, error) {
	if rev == 0 {
		return kv.Entry{}, false, nil
	}

	e, err := c.store.Get(ctx, key, kv.AsOf(rev))

	switch {
	case err == nil:
		return e, true, nil
	case errors.Is(err, revstore.ErrNotFound) && !revstore.IsArchived(err):
		return kv.Entry{}, false, nil
	default:
		return kv.Entry{}, false, fmt.Errorf("failed to read %q at %d: %w", key, rev, err)
	}
}

func (c *Coordinator) rollbackHard(ctx context.Context, epoch commit.Epoch, target int64, reason string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkEpoch(epoch); err != nil {
		return Result{}, err
	}

	if err := drain(ctx, c.tail.replicated); err != nil {
		return Result{}, err
	}

	if f := c.fenced.Load(); f != nil {
		return Result{}, f
	}

	if target > c.head {
		return Result{}, fmt.Errorf("%w: %d, head is %d", ErrInvalidRollbackTarget, target, c.head)
	}

	if target == c.head {
		return Result{Revision: c.head, Hash: bytes.Clone(c.hash), Epoch: c.epoch, Noop: true}, nil
	}

	record := journal.Truncation{
		After:        target,
		PreviousHead: c.head,
		PreviousHash: bytes.Clone(c.hash),
		Epoch:        c.epoch.ID,
		Principal:    auth.PrincipalFrom(ctx).Name,
		Reason:       reason,
		At:           time.Now().UTC(),
	}

	if err := c.store.TruncateAfter(ctx, target, record); err != nil {
		err = fmt.Errorf("failed to truncate after %d: %w", target, err)
		c.fence(err)

		return Result{}, err
	}

	c.logger.Warn("hard rollback",
		zap.Int64("target", target),
		zap.Int64("previous_head", record.PreviousHead),
		zap.String("principal", record.Principal),
		zap.String("reason", reason))

	c.head = c.store.Head()
	c.hash = c.store.HeadHash()
	c.rebuildLastWriters()

	c.metrics.RollbacksTotal.WithLabelValues(Hard.String()).Inc()
	c.metrics.HeadRevision.Set(float64(c.head))

	result := Result{Revision: c.head, Hash: bytes.Clone(c.hash), Epoch: c.epoch, Noop: false}

	next := headstate.Head{Revision: c.head, Hash: bytes.Clone(c.hash), Epoch: c.epoch}
	if err := c.opts.heads.CompareAndSwap(ctx, c.persisted, next); err != nil {
		return result, fmt.Errorf("failed to reset head state: %w", err)
	}

	c.persisted = next

	if err := c.opts.replicator.TruncateAfter(ctx, target, record); err != nil {
		return result, fmt.Errorf("failed to forward truncation to replicas: %w", err)
	}

	return result, nil
}
