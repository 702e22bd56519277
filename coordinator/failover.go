package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/auth"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/headstate"
)

// AssumeCoordinator makes c the coordinator under a fresh epoch.
//
// The store is reloaded from the journal, so each revision assigned by a
// previous coordinator is either durable and kept, or absent and assigned
// again. The new epoch is strictly greater than the persisted one and than
// any epoch seen by the journal; the journal is fenced with it before
// recovery, so a superseded coordinator can no longer append.
func (c *Coordinator) AssumeCoordinator(ctx context.Context) (commit.Epoch, error) {
	if err := auth.Check(ctx, c.opts.authorizer, auth.OpAdmin, nil); err != nil {
		return commit.Epoch{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := drain(ctx, c.tail.applied); err != nil {
		return commit.Epoch{}, err
	}

	persisted, err := c.opts.heads.Load(ctx)
	if err != nil {
		return commit.Epoch{}, fmt.Errorf("failed to load head state: %w", err)
	}

	tip, err := c.store.Journal().Tip(ctx)
	if err != nil {
		return commit.Epoch{}, fmt.Errorf("failed to read journal tip: %w", err)
	}

	next := commit.Epoch{
		ID:          max(persisted.Epoch.ID, tip.Epoch, c.epoch.ID) + 1,
		Coordinator: c.opts.identity,
	}

	if err := c.store.Journal().Fence(ctx, next.ID); err != nil {
		return commit.Epoch{}, fmt.Errorf("failed to fence journal at epoch %d: %w", next.ID, err)
	}

	if err := c.store.Recover(ctx); err != nil {
		return commit.Epoch{}, fmt.Errorf("failed to recover store: %w", err)
	}

	head := headstate.Head{Revision: c.store.Head(), Hash: c.store.HeadHash(), Epoch: next}

	if err := c.opts.heads.CompareAndSwap(ctx, persisted, head); err != nil {
		return commit.Epoch{}, fmt.Errorf("failed to record epoch %d: %w", next.ID, err)
	}

	if persisted.Revision > head.Revision {
		c.logger.Warn("head state was ahead of the journal",
			zap.Int64("recorded", persisted.Revision),
			zap.Int64("durable", head.Revision))
	}

	c.rebuildLastWriters()

	c.epoch = next
	c.head = head.Revision
	c.hash = head.Hash
	c.persisted = head
	c.tail = doneStage()
	c.fenced.Store(nil)

	c.metrics.Epoch.Set(float64(next.ID))
	c.metrics.HeadRevision.Set(float64(head.Revision))

	c.logger.Info("assumed coordinator",
		zap.Uint64("epoch", next.ID),
		zap.Int64("head", head.Revision))

	return next, nil
}
