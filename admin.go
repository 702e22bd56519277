package reprise

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/archive"
	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/coordinator"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/revstore"
)

// Archive streams the commits lo..hi into a new verified archive file.
// With lo == 0 the archive continues from the end of the archived history.
func (db *DB) Archive(ctx context.Context, lo, hi int64) (archive.Descriptor, error) {
	if err := db.checkOpen(); err != nil {
		return archive.Descriptor{}, err
	}

	if lo == 0 {
		covered, _, err := db.archives.Coverage(ctx)
		if err != nil {
			return archive.Descriptor{}, err //nolint:wrapcheck
		}

		lo = covered + 1
	}

	return db.archives.StreamOut(ctx, db.store, lo, hi) //nolint:wrapcheck
}

// CompactAfterArchive drops live history already held by verified archives,
// retaining what policy keeps, and truncates the journal prefix.
func (db *DB) CompactAfterArchive(ctx context.Context, policy revstore.Policy) (revstore.CompactStats, error) {
	if err := db.checkOpen(); err != nil {
		return revstore.CompactStats{}, err
	}

	return db.archives.CompactAfterArchive(ctx, db.store, policy) //nolint:wrapcheck
}

// Rollback restores the state at target. A Soft rollback commits a new
// revision; a Hard one truncates history and invalidates every transaction
// begun before it.
func (db *DB) Rollback(
	ctx context.Context,
	target int64,
	mode coordinator.RollbackMode,
	opts ...coordinator.RollbackOption,
) (coordinator.Result, error) {
	if err := db.checkOpen(); err != nil {
		return coordinator.Result{}, err
	}

	before := db.store.Head()

	res, err := db.coord.Rollback(ctx, db.Epoch(), target, mode, opts...)

	if after := db.store.Head(); mode == coordinator.Hard && after < before {
		db.generation.Add(1)
		db.logger.Warn("transactions invalidated by hard rollback",
			zap.Int64("previous_head", before),
			zap.Int64("head", after))
	}

	return res, err //nolint:wrapcheck
}

// Reassume takes coordinatorship again under a fresh epoch, after the
// coordinator was fenced. Transactions begun under the old epoch fail.
func (db *DB) Reassume(ctx context.Context) (commit.Epoch, error) {
	if err := db.checkOpen(); err != nil {
		return commit.Epoch{}, err
	}

	epoch, err := db.coord.AssumeCoordinator(ctx)
	if err != nil {
		return commit.Epoch{}, err //nolint:wrapcheck
	}

	db.mu.Lock()
	db.epoch = epoch
	db.mu.Unlock()

	return epoch, nil
}

// VerifyChain recomputes the audit chain over the journaled commits,
// starting from the checkpoint when the journal prefix was dropped.
// It returns the verified head.
func (db *DB) VerifyChain(ctx context.Context) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	return VerifyJournal(ctx, db.store, db.hasher)
}

// Coverage returns the revision up to which verified archives hold the
// history, and the chain hash at that revision.
func (db *DB) Coverage(ctx context.Context) (int64, []byte, error) {
	if err := db.checkOpen(); err != nil {
		return 0, nil, err
	}

	return db.archives.Coverage(ctx) //nolint:wrapcheck
}

// VerifyJournal recomputes the audit chain of store's journal.
func VerifyJournal(ctx context.Context, store *revstore.Store, h hasher.Hasher) (int64, error) {
	head := store.Head()

	opts := []audit.VerifyOption{audit.WithHasher(h)}
	lo := int64(1)

	cp, ok, err := store.Journal().LoadCheckpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if ok {
		opts = append(opts, audit.FromCheckpoint(cp.Revision, cp.Hash))
		lo = cp.Revision + 1
	}

	if lo > head {
		return head, nil
	}

	if err := audit.Verify(store.Commits(ctx, lo, head), opts...); err != nil {
		return 0, err //nolint:wrapcheck
	}

	return head, nil
}
