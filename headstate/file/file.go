// Package file stores the head record in a local msgpack document that is
// replaced atomically on every update.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/reprisedb/go-reprise/headstate"
	"github.com/reprisedb/go-reprise/internal/fsutil"
	"github.com/reprisedb/go-reprise/marshaller"
)

const filePerm = 0o600

// Store is a file-backed headstate.Store. Compare-and-swap is serialized
// within the process only; one process owns the file.
type Store struct {
	mu    sync.Mutex
	path  string
	codec marshaller.TypedMsgpackMarshaller[headstate.Head]
}

var _ headstate.Store = (*Store)(nil)

// New returns a store persisting to path. The file is created on the
// first successful CompareAndSwap.
func New(path string) *Store {
	return &Store{mu: sync.Mutex{}, path: path, codec: marshaller.NewTypedMsgpackMarshaller[headstate.Head]()}
}

// Load implements headstate.Store.
func (s *Store) Load(_ context.Context) (headstate.Head, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

func (s *Store) read() (headstate.Head, error) {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return headstate.Head{}, nil
	case err != nil:
		return headstate.Head{}, fmt.Errorf("failed to read head state: %w", err)
	}

	head, err := s.codec.Unmarshal(data)
	if err != nil {
		return headstate.Head{}, fmt.Errorf("failed to decode head state %s: %w", s.path, err)
	}

	return head, nil
}

// CompareAndSwap implements headstate.Store.
func (s *Store) CompareAndSwap(_ context.Context, expected, next headstate.Head) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}

	if !current.Equal(expected) {
		return headstate.ErrHeadChanged
	}

	data, err := s.codec.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode head state: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.path, data, filePerm); err != nil {
		return fmt.Errorf("failed to write head state: %w", err)
	}

	return nil
}
