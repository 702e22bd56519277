// Package sqlite implements a journal in a SQLite database running in WAL
// mode. The same database also stores the coordinator head state.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/journal"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - initial schema.
const currentSchemaVersion = 1

// readBatch bounds the rows fetched per query while streaming commits, so
// the single connection is never held across a consumer callback.
const readBatch = 256

type sqliteOptions struct {
	logger *zap.Logger
}

// Option configures the SQLite journal.
type Option = options.OptionCallback[sqliteOptions]

// WithLogger sets the journal logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *sqliteOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Journal is a SQLite-backed journal.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
	tip    journal.Tip
	cpRev  int64
	hasCP  bool
	closed bool
}

var _ journal.Journal = (*Journal)(nil)

// Open creates or opens the database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode, a commit is durable once Append returns
//   - 5-second busy timeout for lock contention
func Open(ctx context.Context, path string, opts ...Option) (*Journal, error) {
	o := options.ApplyOptions(func() sqliteOptions {
		return sqliteOptions{logger: zap.NewNop()}
	}, opts)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{
		mu:     sync.Mutex{},
		db:     db,
		logger: o.logger,
		tip:    journal.Tip{Revision: 0, Hash: []byte{}, Epoch: 0, Base: 0},
		cpRev:  0,
		hasCP:  false,
		closed: false,
	}

	if err := j.recover(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return j, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion))
	if err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func (j *Journal) recover(ctx context.Context) error {
	var (
		fence    uint64
		base     int64
		baseHash []byte
	)

	err := j.db.QueryRowContext(ctx, "SELECT fence, base, base_hash FROM meta WHERE id = 1").
		Scan(&fence, &base, &baseHash)
	if err != nil {
		return fmt.Errorf("failed to read journal meta: %w", err)
	}

	j.tip = journal.Tip{Revision: base, Hash: nonNil(baseHash), Epoch: fence, Base: base}

	var (
		revision int64
		hash     []byte
		maxEpoch uint64
	)

	err = j.db.QueryRowContext(ctx,
		"SELECT revision, hash, (SELECT MAX(epoch) FROM commits) FROM commits ORDER BY revision DESC LIMIT 1").
		Scan(&revision, &hash, &maxEpoch)

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read journal tip: %w", err)
	default:
		j.tip.Revision = revision
		j.tip.Hash = nonNil(hash)
		j.tip.Epoch = max(j.tip.Epoch, maxEpoch)
	}

	err = j.db.QueryRowContext(ctx, "SELECT revision FROM checkpoint WHERE id = 1").Scan(&j.cpRev)

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read checkpoint: %w", err)
	default:
		j.hasCP = true
	}

	j.logger.Info("journal recovered", zap.Int64("revision", j.tip.Revision), zap.Int64("base", j.tip.Base))

	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}

	return b
}

func scanCommit(canonical, prevHash, hash []byte) (commit.Commit, error) {
	c, err := audit.Decode(canonical)
	if err != nil {
		return commit.Commit{}, err
	}

	c.PrevHash = nonNil(prevHash)
	c.Hash = nonNil(hash)

	return c, nil
}

func (j *Journal) lookupContext(ctx context.Context) journal.Lookup {
	return func(rev int64) (commit.Commit, error) {
		var canonical, prevHash, hash []byte

		err := j.db.QueryRowContext(ctx,
			"SELECT canonical, prev_hash, hash FROM commits WHERE revision = ?", rev).
			Scan(&canonical, &prevHash, &hash)
		if err != nil {
			return commit.Commit{}, journal.NewRecordError(rev, err)
		}

		c, err := scanCommit(canonical, prevHash, hash)

		return c, journal.NewRecordError(rev, err)
	}
}

// Append implements journal.Journal.
func (j *Journal) Append(ctx context.Context, c commit.Commit) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return journal.ErrClosed
	}

	dup, err := journal.CheckAppend(j.tip, c, j.lookupContext(ctx))
	if err != nil || dup {
		return err
	}

	canonical, err := audit.Canonicalize(c)
	if err != nil {
		return err
	}

	// The durable write must not be abandoned half way by a cancelled caller.
	_, err = j.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO commits (revision, epoch, canonical, prev_hash, hash) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (revision) DO NOTHING`,
		c.Revision, c.Epoch, canonical, nonNil(c.PrevHash), nonNil(c.Hash))
	if err != nil {
		return fmt.Errorf("failed to insert commit %d: %w", c.Revision, err)
	}

	j.tip.Revision = c.Revision
	j.tip.Hash = slices.Clone(c.Hash)
	j.tip.Epoch = max(j.tip.Epoch, c.Epoch)

	return nil
}

// Commits implements journal.Journal.
func (j *Journal) Commits(ctx context.Context, lo, hi int64) iter.Seq2[commit.Commit, error] {
	return func(yield func(commit.Commit, error) bool) {
		j.mu.Lock()
		closed, base := j.closed, j.tip.Base
		lo = max(lo, 1)
		hi = min(hi, j.tip.Revision)
		j.mu.Unlock()

		switch {
		case closed:
			yield(commit.Commit{}, journal.ErrClosed)
			return
		case lo > hi:
			return
		case lo <= base:
			yield(commit.Commit{}, fmt.Errorf("revision %d: %w", lo, journal.ErrCompacted))
			return
		}

		next := lo

		for next <= hi {
			batch, err := j.readBatch(ctx, next, hi)
			if err != nil {
				yield(commit.Commit{}, err)
				return
			}

			if len(batch) == 0 {
				return
			}

			for _, c := range batch {
				if !yield(c, nil) {
					return
				}
			}

			next = batch[len(batch)-1].Revision + 1
		}
	}
}

func (j *Journal) readBatch(ctx context.Context, lo, hi int64) ([]commit.Commit, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT revision, canonical, prev_hash, hash FROM commits
		 WHERE revision >= ? AND revision <= ? ORDER BY revision LIMIT ?`, lo, hi, readBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to query commits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]commit.Commit, 0, readBatch)

	for rows.Next() {
		var (
			rev                       int64
			canonical, prevHash, hash []byte
		)

		if err := rows.Scan(&rev, &canonical, &prevHash, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}

		c, err := scanCommit(canonical, prevHash, hash)
		if err != nil {
			return nil, journal.NewRecordError(rev, err)
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commits: %w", err)
	}

	return out, nil
}

// Tip implements journal.Journal.
func (j *Journal) Tip(_ context.Context) (journal.Tip, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return journal.Tip{}, journal.ErrClosed
	}

	tip := j.tip
	tip.Hash = slices.Clone(tip.Hash)

	return tip, nil
}

// Fence implements journal.Journal.
func (j *Journal) Fence(ctx context.Context, epoch uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, "UPDATE meta SET fence = MAX(fence, ?) WHERE id = 1", epoch)
	if err != nil {
		return fmt.Errorf("failed to fence journal: %w", err)
	}

	j.tip.Epoch = max(j.tip.Epoch, epoch)

	return nil
}

// TruncateAfter implements journal.Journal.
func (j *Journal) TruncateAfter(ctx context.Context, rev int64, t journal.Truncation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return journal.ErrClosed
	}

	if rev >= j.tip.Revision {
		return nil
	}

	if err := journal.CheckTruncate(j.tip, j.cpRev, rev); err != nil {
		return err
	}

	hash := slices.Clone(j.tip.Hash)

	err := j.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM commits WHERE revision > ?", rev); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO truncations (after_revision, previous_head, previous_hash, epoch, principal, reason, at_unix_nano)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.After, t.PreviousHead, nonNil(t.PreviousHash), t.Epoch, t.Principal, t.Reason, t.At.UnixNano())
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, "SELECT hash FROM commits WHERE revision = ?", rev).Scan(&hash)
		if errors.Is(err, sql.ErrNoRows) {
			return tx.QueryRowContext(ctx, "SELECT base_hash FROM meta WHERE id = 1").Scan(&hash)
		}

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to truncate journal: %w", err)
	}

	j.tip.Revision = rev
	j.tip.Hash = nonNil(hash)

	return nil
}

func (j *Journal) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Truncations implements journal.Journal.
func (j *Journal) Truncations(ctx context.Context) ([]journal.Truncation, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT after_revision, previous_head, previous_hash, epoch, principal, reason, at_unix_nano
		 FROM truncations ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query truncations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []journal.Truncation

	for rows.Next() {
		var (
			t  journal.Truncation
			at int64
		)

		if err := rows.Scan(&t.After, &t.PreviousHead, &t.PreviousHash, &t.Epoch, &t.Principal, &t.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan truncation: %w", err)
		}

		t.At = time.Unix(0, at).UTC()
		out = append(out, t)
	}

	return out, rows.Err()
}

// SaveCheckpoint implements journal.Journal.
func (j *Journal) SaveCheckpoint(ctx context.Context, cp journal.Checkpoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if cp.Revision > j.tip.Revision {
		return fmt.Errorf("%w: checkpoint %d is ahead of tip %d", journal.ErrOutOfOrder, cp.Revision, j.tip.Revision)
	}

	data, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO checkpoint (id, revision, payload) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET revision = excluded.revision, payload = excluded.payload`,
		cp.Revision, snappy.Encode(nil, data))
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}

	j.cpRev = cp.Revision
	j.hasCP = true

	return nil
}

// LoadCheckpoint implements journal.Journal.
func (j *Journal) LoadCheckpoint(ctx context.Context) (journal.Checkpoint, bool, error) {
	var (
		cp      journal.Checkpoint
		payload []byte
	)

	err := j.db.QueryRowContext(ctx, "SELECT payload FROM checkpoint WHERE id = 1").Scan(&payload)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return cp, false, nil
	case err != nil:
		return cp, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	data, err := snappy.Decode(nil, payload)
	if err != nil {
		return cp, false, fmt.Errorf("%w: checkpoint: %w", journal.ErrCorrupt, err)
	}

	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return cp, false, fmt.Errorf("%w: checkpoint: %w", journal.ErrCorrupt, err)
	}

	return cp, true, nil
}

// DropThrough implements journal.Journal.
func (j *Journal) DropThrough(ctx context.Context, rev int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.hasCP || j.cpRev < rev {
		return fmt.Errorf("revision %d: %w", rev, journal.ErrNotCheckpointed)
	}

	if rev <= j.tip.Base {
		return nil
	}

	err := j.inTx(ctx, func(tx *sql.Tx) error {
		var hash []byte
		if err := tx.QueryRowContext(ctx, "SELECT hash FROM commits WHERE revision = ?", rev).Scan(&hash); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "UPDATE meta SET base = ?, base_hash = ? WHERE id = 1", rev, hash); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, "DELETE FROM commits WHERE revision <= ?", rev)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to drop commits: %w", err)
	}

	j.tip.Base = rev

	return nil
}

// Close implements journal.Journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	return j.db.Close()
}
