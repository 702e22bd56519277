// Package journal defines the durable commit log that revision stores
// persist through and that coordinators recover the true head from.
//
// Implementations live in sub-packages:
//   - [github.com/reprisedb/go-reprise/journal/segment]: append-only segment files
//   - [github.com/reprisedb/go-reprise/journal/sqlite]: SQLite database in WAL mode
//   - [github.com/reprisedb/go-reprise/journal/memory]: process memory, for tests and archive readers
package journal

import (
	"context"
	"iter"
	"time"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/kv"
)

// Tip describes the newest durable state of a journal.
type Tip struct {
	// Revision is the last durable revision, 0 for an empty journal.
	Revision int64
	// Hash is the chain hash at Revision.
	Hash []byte
	// Epoch is the highest epoch observed, either fenced or appended.
	Epoch uint64
	// Base is the revision through which commits were dropped after checkpointing.
	Base int64
}

// Floor records the compaction floor of one key: queries older than
// Revision can no longer be answered from the store.
type Floor struct {
	Key      []byte `msgpack:"key"`
	Revision int64  `msgpack:"revision"`
}

// Checkpoint is a materialized store state at Revision, used to drop the
// journal prefix after compaction.
type Checkpoint struct {
	Revision int64      `msgpack:"revision"`
	Hash     []byte     `msgpack:"hash"`
	Entries  []kv.Entry `msgpack:"entries"`
	Floors   []Floor    `msgpack:"floors"`
}

// Truncation is the audit record left by a destructive rollback.
type Truncation struct {
	After        int64     `msgpack:"after"`
	PreviousHead int64     `msgpack:"previous_head"`
	PreviousHash []byte    `msgpack:"previous_hash"`
	Epoch        uint64    `msgpack:"epoch"`
	Principal    string    `msgpack:"principal"`
	Reason       string    `msgpack:"reason"`
	At           time.Time `msgpack:"at"`
}

// Journal is a durable, ordered commit log.
//
// Append is idempotent: re-appending a commit that is already durable
// with the same revision and hash succeeds without writing.
type Journal interface {
	// Append durably records the next commit.
	Append(ctx context.Context, c commit.Commit) error
	// Commits streams durable commits with lo <= revision <= hi in ascending order.
	Commits(ctx context.Context, lo, hi int64) iter.Seq2[commit.Commit, error]
	// Tip returns the newest durable state.
	Tip(ctx context.Context) (Tip, error)
	// Fence rejects further appends from epochs lower than epoch.
	Fence(ctx context.Context, epoch uint64) error
	// TruncateAfter removes every commit above rev and records t.
	TruncateAfter(ctx context.Context, rev int64, t Truncation) error
	// Truncations lists the recorded destructive rollbacks, oldest first.
	Truncations(ctx context.Context) ([]Truncation, error)
	// SaveCheckpoint replaces the stored checkpoint.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	// LoadCheckpoint returns the stored checkpoint, if any.
	LoadCheckpoint(ctx context.Context) (Checkpoint, bool, error)
	// DropThrough forgets commits up to and including rev. The checkpoint
	// must already cover rev.
	DropThrough(ctx context.Context, rev int64) error
	// Close releases the journal resources.
	Close() error
}
