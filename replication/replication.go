// Package replication delivers committed revisions to peer nodes.
//
// Payloads are the canonical commit bytes together with the chain hash, so
// a receiver can verify the link against its own tip before applying.
package replication

import (
	"context"
	"fmt"
	"strings"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/journal"
)

// Mode selects when the coordinator acknowledges a commit.
type Mode int

const (
	// Sync blocks the committing transaction until a quorum acknowledged.
	Sync Mode = iota
	// Async acknowledges after local durability; delivery happens in the
	// background.
	Async
)

func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}

// ParseMode parses "sync" or "async".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "sync", "":
		return Sync, nil
	case "async":
		return Async, nil
	default:
		return 0, fmt.Errorf("unknown replication mode %q", s)
	}
}

// Peer receives commits.
type Peer interface {
	// Name identifies the peer in logs and metrics.
	Name() string
	// Replicate delivers one commit. Delivering a revision the peer
	// already holds with the same hash must succeed.
	Replicate(ctx context.Context, revision int64, canonical, hash []byte) error
}

// Truncater is implemented by peers that accept destructive rollbacks.
type Truncater interface {
	TruncateAfter(ctx context.Context, revision int64, t journal.Truncation) error
}

// Replicator is what the coordinator replicates through.
type Replicator interface {
	// Replicate delivers c according to the replicator's mode.
	Replicate(ctx context.Context, c commit.Commit) error
	// TruncateAfter forwards a destructive rollback to peers that support it.
	TruncateAfter(ctx context.Context, revision int64, t journal.Truncation) error
	// Close stops background delivery.
	Close() error
}

type none struct{}

// None returns a replicator for single-node deployments.
func None() Replicator {
	return none{}
}

func (none) Replicate(context.Context, commit.Commit) error { return nil }

func (none) TruncateAfter(context.Context, int64, journal.Truncation) error { return nil }

func (none) Close() error { return nil }
