package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/reprisedb/go-reprise/internal/fsutil"
	"github.com/reprisedb/go-reprise/journal"
)

const (
	metaFile       = "meta"
	checkpointFile = "checkpoint.snap"
)

// metaState is the small mutable part of the journal, replaced atomically.
type metaState struct {
	Fence       uint64               `msgpack:"fence"`
	Base        int64                `msgpack:"base"`
	BaseHash    []byte               `msgpack:"base_hash"`
	Truncations []journal.Truncation `msgpack:"truncations"`
}

func baseHash(m metaState) []byte {
	if m.BaseHash == nil {
		return []byte{}
	}

	return slices.Clone(m.BaseHash)
}

func loadMeta(dir string) (metaState, error) {
	var m metaState

	data, err := os.ReadFile(filepath.Join(dir, metaFile)) //nolint:gosec
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m, nil
	case err != nil:
		return m, fmt.Errorf("failed to read journal meta: %w", err)
	}

	if err := msgpack.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: meta: %w", journal.ErrCorrupt, err)
	}

	return m, nil
}

func saveMeta(dir string, m metaState) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode journal meta: %w", err)
	}

	return fsutil.WriteFileAtomic(filepath.Join(dir, metaFile), data, filePerm)
}

func loadCheckpoint(dir string) (journal.Checkpoint, bool, error) {
	var cp journal.Checkpoint

	compressed, err := os.ReadFile(filepath.Join(dir, checkpointFile)) //nolint:gosec
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cp, false, nil
	case err != nil:
		return cp, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return cp, false, fmt.Errorf("%w: checkpoint: %w", journal.ErrCorrupt, err)
	}

	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return cp, false, fmt.Errorf("%w: checkpoint: %w", journal.ErrCorrupt, err)
	}

	return cp, true, nil
}

func saveCheckpoint(dir string, cp journal.Checkpoint) error {
	data, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	return fsutil.WriteFileAtomic(filepath.Join(dir, checkpointFile), snappy.Encode(nil, data), filePerm)
}
