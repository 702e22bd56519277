package testing

import (
	"fmt"

	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/kv"
)

// Seal links a commit with the given writeset after prevHash.
func Seal(t T, prevHash []byte, revision int64, epoch uint64, writeset ...kv.Entry) commit.Commit {
	t.Helper()

	c, err := audit.Seal(hasher.NewSHA256Hasher(), prevHash, commit.Commit{
		Revision: revision,
		Epoch:    epoch,
		Writeset: writeset,
		PrevHash: nil,
		Hash:     nil,
	})
	if err != nil {
		t.Fatalf("failed to seal commit %d: %s", revision, err)
	}

	return c
}

// Chain builds n linked commits starting at revision 1. Commit i writes
// key "k<i mod keys>" with value "v<i>"; every fifth commit deletes instead.
func Chain(t T, n int, keys int, epoch uint64) []commit.Commit {
	t.Helper()

	return ChainFrom(t, audit.Genesis(), 1, n, keys, epoch)
}

// ChainFrom is Chain continuing after prevHash at revision first.
func ChainFrom(t T, prevHash []byte, first int64, n int, keys int, epoch uint64) []commit.Commit {
	t.Helper()

	out := make([]commit.Commit, 0, n)

	for i := range n {
		rev := first + int64(i)
		key := []byte(fmt.Sprintf("k%d", rev%int64(keys)))

		entry := kv.Put(key, []byte(fmt.Sprintf("v%d", rev)))
		if rev%5 == 0 {
			entry = kv.Delete(key)
		}

		c := Seal(t, prevHash, rev, epoch, entry)
		out = append(out, c)
		prevHash = c.Hash
	}

	return out
}
