// Package headstate persists the coordinator head record: head revision,
// head hash and current epoch. A new coordinator reads it on failover.
package headstate

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/reprisedb/go-reprise/commit"
)

// ErrHeadChanged is returned by CompareAndSwap when the stored head is not
// the expected one.
var ErrHeadChanged = errors.New("head state changed concurrently")

// Head is the persisted head record.
type Head struct {
	Revision int64        `msgpack:"revision"`
	Hash     []byte       `msgpack:"hash"`
	Epoch    commit.Epoch `msgpack:"epoch"`
}

// Equal reports whether two heads are identical.
func (h Head) Equal(other Head) bool {
	return h.Revision == other.Revision &&
		h.Epoch == other.Epoch &&
		bytes.Equal(h.Hash, other.Hash)
}

// Store persists the head record with compare-and-swap semantics.
type Store interface {
	// Load returns the stored head, the zero Head if nothing was stored.
	Load(ctx context.Context) (Head, error)
	// CompareAndSwap stores next only if the current head equals expected.
	CompareAndSwap(ctx context.Context, expected, next Head) error
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.Mutex
	head Head
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory head store.
func NewMemory() *Memory {
	return &Memory{mu: sync.Mutex{}, head: Head{}}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context) (Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.head
	out.Hash = slices.Clone(out.Hash)

	return out, nil
}

// CompareAndSwap implements Store.
func (m *Memory) CompareAndSwap(_ context.Context, expected, next Head) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.head.Equal(expected) {
		return ErrHeadChanged
	}

	next.Hash = slices.Clone(next.Hash)
	m.head = next

	return nil
}
