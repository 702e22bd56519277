// Package segment implements a journal on append-only segment files.
//
// Every record is framed as
//
//	| length uint32 | xxhash64(payload) uint64 | payload |
//
// where payload is [journal.EncodeRecord]. A record that was only partly
// written when the process died is cut off on open and treated as never
// durable.
package segment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/journal"
)

const (
	segmentSuffix  = ".seg"
	headerSize     = 12
	maxRecordSize  = 64 << 20
	defaultSegSize = 64 << 20
	dirPerm        = 0o750
	filePerm       = 0o640
)

type segmentOptions struct {
	segmentSize int64
	syncWrites  bool
	logger      *zap.Logger
}

// Option configures the segment journal.
type Option = options.OptionCallback[segmentOptions]

// WithSegmentSize sets the size after which a new segment file is started.
func WithSegmentSize(size int64) Option {
	return func(o *segmentOptions) {
		if size > 0 {
			o.segmentSize = size
		}
	}
}

// WithSyncWrites controls fsync after every append. Enabled by default.
func WithSyncWrites(sync bool) Option {
	return func(o *segmentOptions) {
		o.syncWrites = sync
	}
}

// WithLogger sets the logger used for recovery and rotation messages.
func WithLogger(logger *zap.Logger) Option {
	return func(o *segmentOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type position struct {
	path   string
	offset int64
	size   int64
}

type segmentFile struct {
	first int64
	path  string
}

// Journal is a directory of segment files plus metadata and checkpoint files.
type Journal struct {
	mu   sync.RWMutex
	dir  string
	opts segmentOptions

	segments  []segmentFile
	positions []position // positions[i] holds revision tip.Base+1+i
	current   *os.File
	curSize   int64

	tip        journal.Tip
	meta       metaState
	checkpoint *journal.Checkpoint
	closed     bool
}

var _ journal.Journal = (*Journal)(nil)

// Open opens or creates a segment journal in dir and recovers its tip.
func Open(ctx context.Context, dir string, opts ...Option) (*Journal, error) {
	o := options.ApplyOptions(func() segmentOptions {
		return segmentOptions{segmentSize: defaultSegSize, syncWrites: true, logger: zap.NewNop()}
	}, opts)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{
		mu:         sync.RWMutex{},
		dir:        dir,
		opts:       o,
		segments:   nil,
		positions:  nil,
		current:    nil,
		curSize:    0,
		tip:        journal.Tip{Revision: 0, Hash: []byte{}, Epoch: 0, Base: 0},
		meta:       metaState{Fence: 0, Base: 0, BaseHash: nil, Truncations: nil},
		checkpoint: nil,
		closed:     false,
	}

	if err := j.recover(ctx); err != nil {
		_ = j.closeFile()
		return nil, err
	}

	return j, nil
}

func (j *Journal) recover(ctx context.Context) error {
	meta, err := loadMeta(j.dir)
	if err != nil {
		return err
	}

	j.meta = meta

	cp, ok, err := loadCheckpoint(j.dir)
	if err != nil {
		return err
	}

	if ok {
		j.checkpoint = &cp
	}

	j.tip = journal.Tip{Revision: meta.Base, Hash: baseHash(meta), Epoch: meta.Fence, Base: meta.Base}

	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+segmentSuffix))
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}

	sort.Strings(paths)

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		var first int64
		if _, err := fmt.Sscanf(strings.TrimSuffix(filepath.Base(path), segmentSuffix), "%d", &first); err != nil {
			return fmt.Errorf("%w: unexpected segment name %q", journal.ErrCorrupt, path)
		}

		j.segments = append(j.segments, segmentFile{first: first, path: path})

		if err := j.scan(path, i == len(paths)-1); err != nil {
			return err
		}
	}

	j.opts.logger.Info("journal recovered",
		zap.String("dir", j.dir),
		zap.Int64("revision", j.tip.Revision),
		zap.Int64("base", j.tip.Base),
		zap.Int("segments", len(j.segments)))

	if len(j.segments) > 0 {
		last := j.segments[len(j.segments)-1]

		return j.openForAppend(last.path)
	}

	return nil
}

// scan indexes one segment. A broken tail is cut off only in the last segment.
func (j *Journal) scan(path string, last bool) error {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}
	defer func() { _ = f.Close() }()

	var offset int64

	for {
		payload, err := readFrame(f, offset)
		if errors.Is(err, io.EOF) {
			return nil
		}

		var c commit.Commit
		if err == nil {
			c, err = journal.DecodeRecord(payload)
		}

		if err != nil {
			if !last {
				return fmt.Errorf("%w: segment %s at offset %d: %w", journal.ErrCorrupt, path, offset, err)
			}

			j.opts.logger.Warn("cutting off incomplete journal tail",
				zap.String("segment", path), zap.Int64("offset", offset), zap.Error(err))

			return truncateFile(path, offset)
		}

		size := int64(headerSize + len(payload))

		switch {
		case c.Revision <= j.tip.Base:
			// Dropped after checkpoint but still inside a kept segment.
		case c.Revision != j.tip.Revision+1:
			return fmt.Errorf("%w: revision %d follows %d in %s", journal.ErrCorrupt, c.Revision, j.tip.Revision, path)
		default:
			j.positions = append(j.positions, position{path: path, offset: offset, size: size})
			j.tip.Revision = c.Revision
			j.tip.Hash = c.Hash
			j.tip.Epoch = max(j.tip.Epoch, c.Epoch)
		}

		offset += size
	}
}

func readFrame(r io.ReaderAt, offset int64) ([]byte, error) {
	var header [headerSize]byte

	n, err := r.ReadAt(header[:], offset)
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return nil, io.EOF
	case n < headerSize:
		return nil, fmt.Errorf("short header: %w", io.ErrUnexpectedEOF)
	}

	length := binary.BigEndian.Uint32(header[0:4])
	sum := binary.BigEndian.Uint64(header[4:12])

	if length > maxRecordSize {
		return nil, fmt.Errorf("record length %d exceeds limit", length)
	}

	payload := make([]byte, length)

	n, err = r.ReadAt(payload, offset+headerSize)
	if n < int(length) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}

		return nil, fmt.Errorf("short record: %w", err)
	}

	if xxhash.Sum64(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", journal.ErrCorrupt)
	}

	return payload, nil
}

func frame(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(payload))) //nolint:gosec
	binary.BigEndian.PutUint64(out[4:12], xxhash.Sum64(payload))
	copy(out[headerSize:], payload)

	return out
}

func truncateFile(path string, size int64) error {
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", path, err)
	}

	return nil
}

func (j *Journal) openForAppend(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat segment: %w", err)
	}

	j.current = f
	j.curSize = info.Size()

	return nil
}

func (j *Journal) closeFile() error {
	if j.current == nil {
		return nil
	}

	err := j.current.Close()
	j.current = nil

	return err
}

func (j *Journal) rotate(first int64) error {
	if err := j.closeFile(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}

	path := filepath.Join(j.dir, fmt.Sprintf("%020d%s", first, segmentSuffix))
	j.segments = append(j.segments, segmentFile{first: first, path: path})

	j.opts.logger.Info("opened journal segment", zap.String("path", path))

	return j.openForAppend(path)
}

func (j *Journal) read(pos position) (commit.Commit, error) {
	f, err := os.Open(pos.path)
	if err != nil {
		return commit.Commit{}, fmt.Errorf("failed to open segment: %w", err)
	}
	defer func() { _ = f.Close() }()

	payload, err := readFrame(f, pos.offset)
	if err != nil {
		return commit.Commit{}, err
	}

	return journal.DecodeRecord(payload)
}

func (j *Journal) lookup(rev int64) (commit.Commit, error) {
	i := rev - j.tip.Base - 1
	if i < 0 || i >= int64(len(j.positions)) {
		return commit.Commit{}, fmt.Errorf("revision %d: %w", rev, journal.ErrCompacted)
	}

	c, err := j.read(j.positions[i])

	return c, journal.NewRecordError(rev, err)
}

// Append implements journal.Journal.
func (j *Journal) Append(_ context.Context, c commit.Commit) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return journal.ErrClosed
	}

	dup, err := journal.CheckAppend(j.tip, c, j.lookup)
	if err != nil || dup {
		return err
	}

	payload, err := journal.EncodeRecord(c)
	if err != nil {
		return err
	}

	if j.current == nil || j.curSize >= j.opts.segmentSize {
		if err := j.rotate(c.Revision); err != nil {
			return err
		}
	}

	data := frame(payload)

	if _, err := j.current.Write(data); err != nil {
		_ = j.current.Truncate(j.curSize)
		return fmt.Errorf("failed to write to journal: %w", err)
	}

	if j.opts.syncWrites {
		if err := j.current.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
	}

	j.positions = append(j.positions, position{path: j.current.Name(), offset: j.curSize, size: int64(len(data))})
	j.curSize += int64(len(data))
	j.tip.Revision = c.Revision
	j.tip.Hash = slices.Clone(c.Hash)
	j.tip.Epoch = max(j.tip.Epoch, c.Epoch)

	return nil
}

// Commits implements journal.Journal.
func (j *Journal) Commits(ctx context.Context, lo, hi int64) iter.Seq2[commit.Commit, error] {
	return func(yield func(commit.Commit, error) bool) {
		j.mu.RLock()
		closed, base := j.closed, j.tip.Base
		lo = max(lo, 1)
		hi = min(hi, j.tip.Revision)

		var batch []position
		if lo > base && lo <= hi {
			batch = slices.Clone(j.positions[lo-base-1 : hi-base])
		}
		j.mu.RUnlock()

		switch {
		case closed:
			yield(commit.Commit{}, journal.ErrClosed)
			return
		case lo <= base && lo <= hi:
			yield(commit.Commit{}, fmt.Errorf("revision %d: %w", lo, journal.ErrCompacted))
			return
		}

		for i, pos := range batch {
			if err := ctx.Err(); err != nil {
				yield(commit.Commit{}, err)
				return
			}

			c, err := j.read(pos)
			if err != nil {
				yield(commit.Commit{}, journal.NewRecordError(lo+int64(i), err))
				return
			}

			if !yield(c, nil) {
				return
			}
		}
	}
}

// Tip implements journal.Journal.
func (j *Journal) Tip(_ context.Context) (journal.Tip, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return journal.Tip{}, journal.ErrClosed
	}

	tip := j.tip
	tip.Hash = slices.Clone(tip.Hash)

	return tip, nil
}

// Fence implements journal.Journal.
func (j *Journal) Fence(_ context.Context, epoch uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if epoch <= j.meta.Fence {
		j.tip.Epoch = max(j.tip.Epoch, epoch)
		return nil
	}

	meta := j.meta
	meta.Fence = epoch

	if err := saveMeta(j.dir, meta); err != nil {
		return err
	}

	j.meta = meta
	j.tip.Epoch = max(j.tip.Epoch, epoch)

	return nil
}

// TruncateAfter implements journal.Journal.
func (j *Journal) TruncateAfter(_ context.Context, rev int64, t journal.Truncation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return journal.ErrClosed
	}

	if rev >= j.tip.Revision {
		return nil
	}

	var cpRev int64
	if j.checkpoint != nil {
		cpRev = j.checkpoint.Revision
	}

	if err := journal.CheckTruncate(j.tip, cpRev, rev); err != nil {
		return err
	}

	keep := rev - j.tip.Base
	cut := j.positions[keep]

	hash := baseHash(j.meta)
	if keep > 0 {
		c, err := j.read(j.positions[keep-1])
		if err != nil {
			return journal.NewRecordError(rev, err)
		}

		hash = c.Hash
	} else if j.checkpoint != nil {
		hash = j.checkpoint.Hash
	}

	meta := j.meta
	meta.Truncations = append(slices.Clone(meta.Truncations), t)

	// The audit record goes first so a crash never loses it.
	if err := saveMeta(j.dir, meta); err != nil {
		return err
	}

	j.meta = meta

	if err := j.closeFile(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}

	kept := j.segments[:0]

	for _, seg := range j.segments {
		switch {
		case seg.path == cut.path:
			if err := truncateFile(seg.path, cut.offset); err != nil {
				return err
			}

			kept = append(kept, seg)
		case seg.first > rev:
			if err := os.Remove(seg.path); err != nil {
				return fmt.Errorf("failed to remove segment: %w", err)
			}
		default:
			kept = append(kept, seg)
		}
	}

	j.segments = kept
	j.positions = j.positions[:keep]
	j.tip.Revision = rev
	j.tip.Hash = hash

	if len(j.segments) > 0 {
		return j.openForAppend(j.segments[len(j.segments)-1].path)
	}

	return nil
}

// Truncations implements journal.Journal.
func (j *Journal) Truncations(_ context.Context) ([]journal.Truncation, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return slices.Clone(j.meta.Truncations), nil
}

// SaveCheckpoint implements journal.Journal.
func (j *Journal) SaveCheckpoint(_ context.Context, cp journal.Checkpoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if cp.Revision > j.tip.Revision {
		return fmt.Errorf("%w: checkpoint %d is ahead of tip %d", journal.ErrOutOfOrder, cp.Revision, j.tip.Revision)
	}

	if err := saveCheckpoint(j.dir, cp); err != nil {
		return err
	}

	j.checkpoint = &cp

	return nil
}

// LoadCheckpoint implements journal.Journal.
func (j *Journal) LoadCheckpoint(_ context.Context) (journal.Checkpoint, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.checkpoint == nil {
		return journal.Checkpoint{}, false, nil
	}

	return *j.checkpoint, true, nil
}

// DropThrough implements journal.Journal.
func (j *Journal) DropThrough(_ context.Context, rev int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.checkpoint == nil || j.checkpoint.Revision < rev {
		return fmt.Errorf("revision %d: %w", rev, journal.ErrNotCheckpointed)
	}

	if rev <= j.tip.Base {
		return nil
	}

	meta := j.meta
	meta.Base = rev
	meta.BaseHash = slices.Clone(j.checkpoint.Hash)

	if rev != j.checkpoint.Revision {
		c, err := j.lookup(rev)
		if err != nil {
			return err
		}

		meta.BaseHash = c.Hash
	}

	if err := saveMeta(j.dir, meta); err != nil {
		return err
	}

	j.meta = meta
	j.positions = slices.Clone(j.positions[rev-j.tip.Base:])
	j.tip.Base = rev

	// Whole segments below the new base can go; the last one is always kept.
	kept := j.segments[:0]

	for i, seg := range j.segments {
		if i < len(j.segments)-1 && j.segments[i+1].first <= rev+1 {
			if err := os.Remove(seg.path); err != nil {
				j.opts.logger.Warn("failed to remove dropped segment", zap.String("path", seg.path), zap.Error(err))
				kept = append(kept, seg)
			}

			continue
		}

		kept = append(kept, seg)
	}

	j.segments = kept

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

	return j.closeFile()
}
