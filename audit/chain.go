package audit

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/internal/options"
)

// Domain separates commit chain digests from any other use of the hasher.
const Domain = "reprise/commit/v1"

// Genesis returns the chain hash that precedes the first commit.
func Genesis() []byte {
	return []byte{}
}

// Extend computes H(domain || 0x00 || prevHash || canonical(c)).
func Extend(h hasher.Hasher, prevHash []byte, c commit.Commit) ([]byte, error) {
	canonical, err := Canonicalize(c)
	if err != nil {
		return nil, err
	}

	return ExtendCanonical(h, prevHash, canonical)
}

// ExtendCanonical is Extend for a payload that is already canonical.
func ExtendCanonical(h hasher.Hasher, prevHash, canonical []byte) ([]byte, error) {
	if prevHash == nil {
		prevHash = Genesis()
	}

	digest, err := h.Hash([]byte(Domain), []byte{0x00}, prevHash, canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to hash commit: %w", err)
	}

	return digest, nil
}

// Seal links c after prevHash and returns it with PrevHash and Hash set.
func Seal(h hasher.Hasher, prevHash []byte, c commit.Commit) (commit.Commit, error) {
	if prevHash == nil {
		prevHash = Genesis()
	}

	digest, err := Extend(h, prevHash, c)
	if err != nil {
		return commit.Commit{}, err
	}

	c.PrevHash = bytes.Clone(prevHash)
	c.Hash = digest

	return c, nil
}

// Chain is an incremental verifier: it accepts commits one by one and
// checks each one against the running tip.
type Chain struct {
	hasher   hasher.Hasher
	revision int64
	tip      []byte
	index    int
}

// NewChain starts a chain after the given trusted revision and hash.
// Use revision 0 and Genesis() to start from the beginning.
func NewChain(h hasher.Hasher, revision int64, tip []byte) *Chain {
	if tip == nil {
		tip = Genesis()
	}

	return &Chain{hasher: h, revision: revision, tip: bytes.Clone(tip), index: 0}
}

// Tip returns the revision and hash of the last accepted commit.
func (c *Chain) Tip() (int64, []byte) {
	return c.revision, bytes.Clone(c.tip)
}

// Append verifies the next commit and advances the chain.
func (c *Chain) Append(next commit.Commit) error {
	canonical, err := Canonicalize(next)
	if err != nil {
		return err
	}

	return c.AppendCanonical(next.Revision, canonical, next.PrevHash, next.Hash)
}

// AppendCanonical verifies a canonical payload with its recorded hashes.
// A nil prevHash skips the stored predecessor check, as archive records
// only carry the commit hash.
func (c *Chain) AppendCanonical(revision int64, canonical, prevHash, hash []byte) error {
	index := c.index

	if revision <= c.revision {
		return &ChainMismatchError{
			Index: index, Revision: revision, Reason: ReasonOrder,
			Expected: nil, Got: nil,
		}
	}

	if prevHash != nil && !bytes.Equal(prevHash, c.tip) {
		return &ChainMismatchError{
			Index: index, Revision: revision, Reason: ReasonPrevHash,
			Expected: bytes.Clone(c.tip), Got: bytes.Clone(prevHash),
		}
	}

	computed, err := ExtendCanonical(c.hasher, c.tip, canonical)
	if err != nil {
		return err
	}

	if !bytes.Equal(computed, hash) {
		return &ChainMismatchError{
			Index: index, Revision: revision, Reason: ReasonHash,
			Expected: computed, Got: bytes.Clone(hash),
		}
	}

	c.revision = revision
	c.tip = computed
	c.index++

	return nil
}

type verifyOptions struct {
	hasher   hasher.Hasher
	revision int64
	tip      []byte
}

// VerifyOption configures Verify.
type VerifyOption = options.OptionCallback[verifyOptions]

// WithHasher selects the chain hash algorithm, sha256 by default.
func WithHasher(h hasher.Hasher) VerifyOption {
	return func(o *verifyOptions) {
		o.hasher = h
	}
}

// FromCheckpoint starts verification after a trusted revision and hash
// instead of genesis.
func FromCheckpoint(revision int64, hash []byte) VerifyOption {
	return func(o *verifyOptions) {
		o.revision = revision
		o.tip = hash
	}
}

// Verify recomputes the chain over commits and returns a *ChainMismatchError
// for the first divergent index, the iteration error if the source fails,
// or nil when every stored hash matches.
func Verify(commits iter.Seq2[commit.Commit, error], opts ...VerifyOption) error {
	o := options.ApplyOptions(func() verifyOptions {
		return verifyOptions{hasher: hasher.NewSHA256Hasher(), revision: 0, tip: Genesis()}
	}, opts)

	chain := NewChain(o.hasher, o.revision, o.tip)

	for c, err := range commits {
		if err != nil {
			return fmt.Errorf("failed to read commit: %w", err)
		}

		if err := chain.Append(c); err != nil {
			return err
		}
	}

	return nil
}

// Slice adapts a slice of commits to the sequence accepted by Verify.
func Slice(commits []commit.Commit) iter.Seq2[commit.Commit, error] {
	return func(yield func(commit.Commit, error) bool) {
		for _, c := range commits {
			if !yield(c, nil) {
				return
			}
		}
	}
}
