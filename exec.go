package reprise

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/coordinator"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/operation"
	"github.com/reprisedb/go-reprise/predicate"
	"github.com/reprisedb/go-reprise/revstore"
	"github.com/reprisedb/go-reprise/tx"
)

// Tx creates a conditional transaction. Predicates are evaluated at the
// head when Commit is called; the chosen branch commits atomically with
// the predicate keys validated against concurrent writes. On conflict the
// whole transaction is evaluated again at the new head.
func (db *DB) Tx(ctx context.Context) tx.Tx {
	return tx.New(ctx, db)
}

// Execute implements tx.Executor.
func (db *DB) Execute(
	ctx context.Context,
	predicates []predicate.Predicate,
	thenOps []operation.Operation,
	elseOps []operation.Operation,
) (tx.Response, error) {
	for attempt := range db.opts.txRetries {
		t, err := db.Begin(ctx)
		if err != nil {
			return tx.Response{}, err
		}

		resp, err := db.evaluate(ctx, t, predicates, thenOps, elseOps)
		if err != nil {
			_ = t.Abort()
			return tx.Response{}, err
		}

		res, err := t.Commit(ctx)

		var conflict *coordinator.ConflictError
		if errors.As(err, &conflict) {
			_ = t.Abort()

			db.logger.Debug("conditional transaction conflicted",
				zap.Int("attempt", attempt+1),
				zap.Int64("snapshot", conflict.Snapshot),
				zap.Int64("head", conflict.Head))

			continue
		}

		if err != nil && t.State() != coordinator.StateCommitted {
			return tx.Response{}, err
		}

		resp.Revision = res.Revision

		return resp, err
	}

	return tx.Response{}, fmt.Errorf("%w: gave up after %d attempts", ErrTooManyConflicts, db.opts.txRetries)
}

func (db *DB) evaluate(
	ctx context.Context,
	t *Txn,
	predicates []predicate.Predicate,
	thenOps []operation.Operation,
	elseOps []operation.Operation,
) (tx.Response, error) {
	succeeded := true

	for _, p := range predicates {
		t.mu.Lock()
		cur, err := t.current(ctx, p.Key())
		t.mu.Unlock()

		if err != nil {
			return tx.Response{}, err
		}

		ok, err := predicate.Evaluate(p, cur)
		if err != nil {
			return tx.Response{}, err //nolint:wrapcheck
		}

		if !ok {
			succeeded = false
			break
		}
	}

	ops := thenOps
	if !succeeded {
		ops = elseOps
	}

	results := make([]tx.RequestResponse, 0, len(ops))

	for _, op := range ops {
		values, err := db.run(ctx, t, op)
		if err != nil {
			return tx.Response{}, fmt.Errorf("%s %q: %w", op.Type(), op.Key(), err)
		}

		results = append(results, tx.RequestResponse{Values: values})
	}

	return tx.Response{Succeeded: succeeded, Revision: 0, Results: results}, nil
}

func (db *DB) run(ctx context.Context, t *Txn, op operation.Operation) ([]kv.Entry, error) {
	switch op.Type() {
	case operation.TypeGet:
		if sel, ok := op.Selector().Get(); ok {
			return db.getAt(ctx, op, sel)
		}

		if op.IsPrefix() {
			return t.Scan(ctx, op.Key())
		}

		e, err := t.Get(ctx, op.Key())

		switch {
		case err == nil:
			return []kv.Entry{e}, nil
		case errors.Is(err, revstore.ErrNotFound) && !revstore.IsArchived(err):
			return nil, nil
		default:
			return nil, err
		}
	case operation.TypePut:
		return nil, t.Put(ctx, op.Key(), op.Value())
	case operation.TypeDelete:
		if !op.IsPrefix() {
			return nil, t.Delete(ctx, op.Key())
		}

		entries, err := t.Scan(ctx, op.Key())
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			if err := t.Delete(ctx, e.Key); err != nil {
				return nil, err
			}
		}

		return nil, nil
	default:
		return nil, fmt.Errorf("unknown operation type %s", op.Type())
	}
}

// getAt reads outside the transaction snapshot. Such reads are not
// validated at commit.
func (db *DB) getAt(ctx context.Context, op operation.Operation, sel kv.Selector) ([]kv.Entry, error) {
	reader := db.view()

	if op.IsPrefix() {
		var out []kv.Entry

		for e, err := range reader.Scan(ctx, op.Key(), prefixEnd(op.Key()), sel) {
			if err != nil {
				return nil, err
			}

			out = append(out, e)
		}

		return out, nil
	}

	e, err := reader.Get(ctx, op.Key(), sel)

	switch {
	case err == nil:
		return []kv.Entry{e}, nil
	case errors.Is(err, revstore.ErrNotFound) && !revstore.IsArchived(err):
		return nil, nil
	default:
		return nil, err //nolint:wrapcheck
	}
}
