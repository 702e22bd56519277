package replication

import (
	"bytes"
	"context"
	"fmt"

	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/journal"
)

// Target is the replica-side store a Receiver applies into.
// *revstore.Store implements it.
type Target interface {
	Head() int64
	HeadHash() []byte
	Apply(ctx context.Context, c commit.Commit) error
	TruncateAfter(ctx context.Context, revision int64, t journal.Truncation) error
}

// Receiver turns replication payloads back into commits, checks them
// against the local chain tip and applies them in order.
type Receiver struct {
	target Target
	hasher hasher.Hasher
}

// NewReceiver creates a receiver applying into target. A nil hasher
// selects sha256.
func NewReceiver(target Target, h hasher.Hasher) *Receiver {
	if h == nil {
		h = hasher.NewSHA256Hasher()
	}

	return &Receiver{target: target, hasher: h}
}

// Receive verifies and applies one replicated commit. Revisions already
// held are accepted when the hash matches; a gap is reported as
// journal.ErrOutOfOrder so the sender retries after the missing revision.
func (r *Receiver) Receive(ctx context.Context, revision int64, canonical, hash []byte) error {
	c, err := audit.Decode(canonical)
	if err != nil {
		return fmt.Errorf("failed to decode revision %d: %w", revision, err)
	}

	if c.Revision != revision {
		return fmt.Errorf("%w: payload carries revision %d, announced %d", audit.ErrMalformedCanonical, c.Revision, revision)
	}

	c.Hash = bytes.Clone(hash)
	head := r.target.Head()

	switch {
	case revision <= head:
		return r.target.Apply(ctx, c)
	case revision > head+1:
		return fmt.Errorf("%w: replica head is %d, received %d", journal.ErrOutOfOrder, head, revision)
	}

	prev := r.target.HeadHash()

	if err := audit.NewChain(r.hasher, head, prev).AppendCanonical(revision, canonical, nil, hash); err != nil {
		return err
	}

	c.PrevHash = prev

	return r.target.Apply(ctx, c)
}

// TruncateAfter forwards a destructive rollback to the target.
func (r *Receiver) TruncateAfter(ctx context.Context, revision int64, t journal.Truncation) error {
	return r.target.TruncateAfter(ctx, revision, t)
}

// LocalPeer delivers commits to a Receiver in the same process.
type LocalPeer struct {
	name     string
	receiver *Receiver
}

var (
	_ Peer      = (*LocalPeer)(nil)
	_ Truncater = (*LocalPeer)(nil)
)

// NewLocalPeer wraps a receiver as a peer.
func NewLocalPeer(name string, receiver *Receiver) *LocalPeer {
	return &LocalPeer{name: name, receiver: receiver}
}

// Name implements Peer.
func (p *LocalPeer) Name() string {
	return p.name
}

// Replicate implements Peer.
func (p *LocalPeer) Replicate(ctx context.Context, revision int64, canonical, hash []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.receiver.Receive(ctx, revision, canonical, hash)
}

// TruncateAfter implements Truncater.
func (p *LocalPeer) TruncateAfter(ctx context.Context, revision int64, t journal.Truncation) error {
	return p.receiver.TruncateAfter(ctx, revision, t)
}
