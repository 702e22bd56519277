package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/headstate"
)

// HeadState stores the coordinator head record next to the journal.
type HeadState struct {
	journal *Journal
}

var _ headstate.Store = HeadState{} //nolint:exhaustruct

// HeadState returns the head state store sharing the journal database.
func (j *Journal) HeadState() HeadState {
	return HeadState{journal: j}
}

func loadHead(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
},
) (headstate.Head, error) {
	var head headstate.Head

	err := q.QueryRowContext(ctx,
		"SELECT revision, hash, epoch_id, coordinator FROM head_state WHERE id = 1").
		Scan(&head.Revision, &head.Hash, &head.Epoch.ID, &head.Epoch.Coordinator)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return headstate.Head{Revision: 0, Hash: nil, Epoch: commit.Epoch{}}, nil
	case err != nil:
		return head, fmt.Errorf("failed to read head state: %w", err)
	}

	return head, nil
}

// Load implements headstate.Store.
func (h HeadState) Load(ctx context.Context) (headstate.Head, error) {
	return loadHead(ctx, h.journal.db)
}

// CompareAndSwap implements headstate.Store.
func (h HeadState) CompareAndSwap(ctx context.Context, expected, next headstate.Head) error {
	return h.journal.inTx(ctx, func(tx *sql.Tx) error {
		current, err := loadHead(ctx, tx)
		if err != nil {
			return err
		}

		if !current.Equal(expected) {
			return headstate.ErrHeadChanged
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO head_state (id, revision, hash, epoch_id, coordinator) VALUES (1, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET revision = excluded.revision, hash = excluded.hash,
			   epoch_id = excluded.epoch_id, coordinator = excluded.coordinator`,
			next.Revision, nonNil(next.Hash), next.Epoch.ID, next.Epoch.Coordinator)
		if err != nil {
			return fmt.Errorf("failed to store head state: %w", err)
		}

		return nil
	})
}
