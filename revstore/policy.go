package revstore

import (
	"fmt"
	"math"
)

type policyKind int

const (
	keepLastN policyKind = iota
	keepSince
)

// Policy decides which versions of a key compaction retains.
type Policy struct {
	kind  policyKind
	n     int
	since int64
}

// KeepLastN retains the n newest versions of every key.
func KeepLastN(n int) Policy {
	return Policy{kind: keepLastN, n: n, since: 0}
}

// KeepSince retains every version at or after rev, plus the newest version
// before rev so that snapshots at rev still resolve.
func KeepSince(rev int64) Policy {
	return Policy{kind: keepSince, n: 0, since: rev}
}

// Validate checks that the policy retains at least one version.
func (p Policy) Validate() error {
	switch p.kind {
	case keepLastN:
		if p.n < 1 {
			return fmt.Errorf("%w: KeepLastN(%d)", ErrInvalidPolicy, p.n)
		}
	case keepSince:
		if p.since < 1 {
			return fmt.Errorf("%w: KeepSince(%d)", ErrInvalidPolicy, p.since)
		}
	default:
		return ErrInvalidPolicy
	}

	return nil
}

func (p Policy) String() string {
	if p.kind == keepSince {
		return fmt.Sprintf("KeepSince(%d)", p.since)
	}

	return fmt.Sprintf("KeepLastN(%d)", p.n)
}

// retain returns how many of the newest versions survive, given the
// revisions of one key in descending order and the removal bound.
func (p Policy) retain(revs []int64, bound int64) int {
	keep := len(revs)

	switch p.kind {
	case keepLastN:
		keep = min(p.n, len(revs))
	case keepSince:
		newer := 0
		for newer < len(revs) && revs[newer] >= p.since {
			newer++
		}

		keep = min(newer+1, len(revs))
	}

	// Versions above the bound are never removed.
	above := 0
	for above < len(revs) && revs[above] > bound {
		above++
	}

	return max(keep, above)
}

type compactOptions struct {
	bound      int64
	checkpoint bool
}

// CompactOption configures Compact and CompactAll.
type CompactOption func(*compactOptions)

// WithBound restricts removal to versions at or below rev, typically the
// revision archives cover.
func WithBound(rev int64) CompactOption {
	return func(o *compactOptions) {
		o.bound = rev
	}
}

// WithoutCheckpoint skips persisting the compacted state. The removed
// versions reappear after the store is reloaded from its journal.
func WithoutCheckpoint() CompactOption {
	return func(o *compactOptions) {
		o.checkpoint = false
	}
}

func defaultCompactOptions() compactOptions {
	return compactOptions{bound: math.MaxInt64, checkpoint: true}
}

// CompactStats summarizes a compaction.
type CompactStats struct {
	// Keys is the number of keys that lost at least one version.
	Keys int
	// Removed is the number of versions removed.
	Removed int
}
