// Package archive moves revision history into immutable, self-verifying
// files and back.
//
// An archive file holds the magic "RPRA", a version byte, a length-prefixed
// msgpack header and a compressed stream of [canonical commit, chain hash]
// records. Every archive is re-read and verified by recomputing its chain
// before it enters the manifest, so only verified archives ever justify
// compacting history away.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/internal/fsutil"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/journal/memory"
	"github.com/reprisedb/go-reprise/revstore"
)

const (
	fileExt  = ".rpra"
	dirPerm  = 0o755
	filePerm = 0o644
)

// Source yields the durable commits of a revision range in order.
// Both journal.Journal and *revstore.Store are sources.
type Source interface {
	Commits(ctx context.Context, lo, hi int64) iter.Seq2[commit.Commit, error]
}

// Target receives restored commits.
type Target interface {
	Head() int64
	HeadHash() []byte
	Apply(ctx context.Context, c commit.Commit) error
}

// Store manages the archives of one directory and their manifest.
type Store struct {
	dir     string
	opts    archiveOptions
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	manifest Manifest
}

// New opens the archive directory dir, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	o := options.ApplyOptions(defaultOptions, opts)

	if _, err := o.codec.writer(io.Discard); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	m, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:      dir,
		opts:     o,
		logger:   o.logger,
		metrics:  o.metrics,
		mu:       sync.Mutex{},
		manifest: m,
	}

	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}

	return s, nil
}

// Dir returns the archive directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the location of an archive of the manifest.
func (s *Store) Path(d Descriptor) string {
	if filepath.IsAbs(d.File) {
		return d.File
	}

	return filepath.Join(s.dir, d.File)
}

// List returns the archives of the manifest ordered by first revision.
func (s *Store) List() []Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sorted(s.manifest.Archives)
}

// StreamOut archives the commits lo..hi of src. The file is written under a
// temporary name, synced, renamed into place and verified before it is
// recorded in the manifest.
func (s *Store) StreamOut(ctx context.Context, src Source, lo, hi int64) (Descriptor, error) {
	if lo < 1 || hi < lo {
		return Descriptor{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, lo, hi)
	}

	body, err := os.CreateTemp(s.dir, ".body-*")
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to create temp file: %w", err)
	}

	defer func() {
		_ = body.Close()
		_ = os.Remove(body.Name())
	}()

	h, err := s.writeBody(ctx, body, src, lo, hi)
	if err != nil {
		return Descriptor{}, err
	}

	if s.opts.signer != nil {
		h.Signer = s.opts.signer.Name()

		payload, err := h.signed()
		if err != nil {
			return Descriptor{}, err
		}

		h.Signature, err = s.opts.signer.Sign(payload)
		if err != nil {
			return Descriptor{}, fmt.Errorf("failed to sign archive: %w", err)
		}
	}

	name := fmt.Sprintf("%020d-%020d-%s%s", lo, hi, h.ID[:8], fileExt)
	path := filepath.Join(s.dir, name)

	if err := s.writeFile(path, h, body); err != nil {
		return Descriptor{}, err
	}

	desc, err := s.Verify(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return Descriptor{}, err
	}

	desc.File = name

	if err := s.record(desc); err != nil {
		return Descriptor{}, err
	}

	s.metrics.ArchivesTotal.Inc()
	s.metrics.ArchivedCommitsTotal.Add(float64(desc.Count))

	s.logger.Info("archive written",
		zap.String("id", desc.ID),
		zap.String("file", name),
		zap.Int64("from", lo),
		zap.Int64("to", hi),
		zap.String("codec", string(desc.Codec)))

	return desc, nil
}

// writeBody streams the compressed records into w and returns the header
// describing them.
func (s *Store) writeBody(ctx context.Context, w io.Writer, src Source, lo, hi int64) (header, error) {
	bw := bufio.NewWriter(w)

	cw, err := s.opts.codec.writer(bw)
	if err != nil {
		return header{}, err
	}

	enc := msgpack.NewEncoder(cw)

	var (
		chain    *audit.Chain
		prevHash []byte
		next     = lo
	)

	for c, err := range src.Commits(ctx, lo, hi) {
		if err != nil {
			return header{}, fmt.Errorf("failed to read revision %d: %w", next, err)
		}

		if c.Revision != next {
			return header{}, fmt.Errorf("%w: expected revision %d, got %d", ErrDiscontiguous, next, c.Revision)
		}

		if chain == nil {
			prevHash = c.PrevHash
			if prevHash == nil {
				prevHash = audit.Genesis()
			}

			if lo == 1 && !bytes.Equal(prevHash, audit.Genesis()) {
				return header{}, &audit.ChainMismatchError{
					Index: 0, Revision: 1, Reason: audit.ReasonPrevHash,
					Expected: audit.Genesis(), Got: bytes.Clone(prevHash),
				}
			}

			chain = audit.NewChain(s.opts.hasher, lo-1, prevHash)
		}

		if err := chain.Append(c); err != nil {
			return header{}, err
		}

		canonical, err := audit.Canonicalize(c)
		if err != nil {
			return header{}, err
		}

		if err := writeRecord(enc, canonical, c.Hash); err != nil {
			return header{}, fmt.Errorf("failed to write revision %d: %w", c.Revision, err)
		}

		next++
	}

	if next != hi+1 {
		return header{}, fmt.Errorf("%w: source ended at %d, wanted %d", ErrIncomplete, next-1, hi)
	}

	if err := cw.Close(); err != nil {
		return header{}, fmt.Errorf("failed to flush records: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return header{}, fmt.Errorf("failed to flush records: %w", err)
	}

	_, tip := chain.Tip()

	return header{
		ID:        uuid.NewString(),
		From:      lo,
		To:        hi,
		PrevHash:  prevHash,
		TipHash:   tip,
		Count:     int(hi - lo + 1),
		Codec:     s.opts.codec,
		Hasher:    s.opts.hasher.Name(),
		CreatedAt: time.Now().UTC(),
		Signer:    "",
		Signature: nil,
	}, nil
}

func (s *Store) writeFile(path string, h header, body *os.File) error {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind records: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}

	if err := writePreamble(tmp, h); err != nil {
		return fail(err)
	}

	if _, err := io.Copy(tmp, body); err != nil {
		return fail(fmt.Errorf("failed to copy records: %w", err))
	}

	if err := tmp.Chmod(filePerm); err != nil {
		return fail(fmt.Errorf("failed to chmod archive: %w", err))
	}

	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync archive: %w", err))
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close archive: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename archive: %w", err)
	}

	return fsutil.SyncDir(s.dir)
}

func (s *Store) record(desc Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Manifest{Version: manifestVersion, Archives: append(sorted(s.manifest.Archives), desc)}
	next.Archives = sorted(next.Archives)

	if err := saveManifest(s.dir, next); err != nil {
		return err
	}

	s.manifest = next

	return nil
}

// Verify reads the archive at path and recomputes its chain.
func (s *Store) Verify(ctx context.Context, path string) (Descriptor, error) {
	h, err := s.scan(ctx, path, func(commit.Commit) error { return nil })
	if err != nil {
		return Descriptor{}, err
	}

	return descriptorOf(path, h), nil
}

// Commits streams the verified commits of the archive at path, with chain
// hashes set. A verification failure is yielded as the last error.
func (s *Store) Commits(ctx context.Context, path string) iter.Seq2[commit.Commit, error] {
	return func(yield func(commit.Commit, error) bool) {
		stopped := errors.New("stopped")

		_, err := s.scan(ctx, path, func(c commit.Commit) error {
			if !yield(c, nil) {
				return stopped
			}

			return nil
		})

		if err != nil && !errors.Is(err, stopped) {
			yield(commit.Commit{}, err)
		}
	}
}

// scan verifies the archive at path and hands every commit to fn.
func (s *Store) scan(ctx context.Context, path string, fn func(commit.Commit) error) (header, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return header{}, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)

	h, err := readPreamble(br)
	if err != nil {
		return header{}, errVerify(path, err)
	}

	if err := s.checkSignature(h); err != nil {
		return header{}, errVerify(path, err)
	}

	if h.From < 1 || h.To < h.From || int64(h.Count) != h.To-h.From+1 {
		return header{}, errVerify(path, fmt.Errorf("%w: range [%d, %d] with %d records",
			ErrCorrupt, h.From, h.To, h.Count))
	}

	hs, err := hasher.ByName(h.Hasher)
	if err != nil {
		return header{}, errVerify(path, err)
	}

	r, err := h.Codec.reader(br)
	if err != nil {
		return header{}, errVerify(path, err)
	}

	dec := msgpack.NewDecoder(r)
	chain := audit.NewChain(hs, h.From-1, h.PrevHash)

	for i := range h.Count {
		if err := ctx.Err(); err != nil {
			return header{}, err
		}

		canonical, hash, err := readRecord(dec)
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: %d of %d records", ErrCorrupt, i, h.Count)
		}

		if err != nil {
			return header{}, errVerify(path, err)
		}

		c, err := audit.Decode(canonical)
		if err != nil {
			return header{}, errVerify(path, err)
		}

		if want := h.From + int64(i); c.Revision != want {
			return header{}, errVerify(path, fmt.Errorf("%w: expected revision %d, got %d",
				ErrDiscontiguous, want, c.Revision))
		}

		_, prev := chain.Tip()

		if err := chain.AppendCanonical(c.Revision, canonical, nil, hash); err != nil {
			return header{}, errVerify(path, err)
		}

		c.PrevHash = prev
		c.Hash = hash

		if err := fn(c); err != nil {
			return header{}, err
		}
	}

	if _, _, err := readRecord(dec); !errors.Is(err, io.EOF) {
		return header{}, errVerify(path, fmt.Errorf("%w: trailing data", ErrCorrupt))
	}

	if _, tip := chain.Tip(); !bytes.Equal(tip, h.TipHash) {
		return header{}, errVerify(path, &audit.ChainMismatchError{
			Index: h.Count - 1, Revision: h.To, Reason: audit.ReasonHash,
			Expected: bytes.Clone(h.TipHash), Got: tip,
		})
	}

	return h, nil
}

func (s *Store) checkSignature(h header) error {
	if s.opts.verifier == nil {
		return nil
	}

	if len(h.Signature) == 0 {
		return ErrUnsigned
	}

	payload, err := h.signed()
	if err != nil {
		return err
	}

	if err := s.opts.verifier.Verify(payload, h.Signature); err != nil {
		return fmt.Errorf("bad signature by %s: %w", h.Signer, err)
	}

	return nil
}

// Open returns a read-only revision store over the archive at path. Reads
// below the first archived revision report revstore.ReasonArchived.
func (s *Store) Open(ctx context.Context, path string, opts ...revstore.Option) (*revstore.Store, error) {
	var commits []commit.Commit

	h, err := s.scan(ctx, path, func(c commit.Commit) error {
		commits = append(commits, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	hs, err := hasher.ByName(h.Hasher)
	if err != nil {
		return nil, err
	}

	cp := journal.Checkpoint{Revision: h.From - 1, Hash: h.PrevHash, Entries: nil, Floors: nil}

	if h.From > 1 {
		seen := make(map[string]struct{})

		for _, c := range commits {
			for _, e := range c.Writeset {
				if _, ok := seen[string(e.Key)]; ok {
					continue
				}

				seen[string(e.Key)] = struct{}{}
				cp.Floors = append(cp.Floors, journal.Floor{Key: e.Key, Revision: h.From})
			}
		}
	}

	j := memory.NewFrom(cp)

	for _, c := range commits {
		if err := j.Append(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to load revision %d: %w", c.Revision, err)
		}
	}

	opts = append([]revstore.Option{revstore.WithHasher(hs), revstore.WithLogger(s.logger)}, opts...)
	opts = append(opts, revstore.ReadOnly())

	return revstore.Open(ctx, j, opts...)
}

// Restore verifies the archives at paths and replays them oldest first
// into dst. Archives must be contiguous with each other and with dst;
// commits dst already holds are checked, not applied twice. It returns
// the head of dst after the restore.
func (s *Store) Restore(ctx context.Context, paths []string, dst Target) (int64, error) {
	descs := make([]Descriptor, 0, len(paths))

	for _, path := range paths {
		d, err := s.Verify(ctx, path)
		if err != nil {
			return dst.Head(), err
		}

		descs = append(descs, d)
	}

	head := dst.Head()

	for _, d := range sorted(descs) {
		if d.From > head+1 {
			return head, fmt.Errorf("%w: archive %s starts at %d, head is %d", ErrDiscontiguous, d.File, d.From, head)
		}

		if d.To <= head {
			continue
		}

		for c, err := range s.Commits(ctx, d.File) {
			if err != nil {
				return dst.Head(), err
			}

			if c.Revision <= head {
				continue
			}

			if err := dst.Apply(ctx, c); err != nil {
				return dst.Head(), fmt.Errorf("failed to restore revision %d: %w", c.Revision, err)
			}
		}

		head = dst.Head()

		s.logger.Info("archive restored",
			zap.String("id", d.ID),
			zap.Int64("from", d.From),
			zap.Int64("to", d.To))
	}

	return head, nil
}

// Coverage returns the highest revision r such that verified archives of
// the manifest cover 1..r as one unbroken chain, with the chain hash at r.
func (s *Store) Coverage(ctx context.Context) (int64, []byte, error) {
	var (
		covered int64
		tip     = audit.Genesis()
	)

	for _, d := range s.List() {
		if d.To <= covered {
			continue
		}

		if d.From != covered+1 {
			break
		}

		if !bytes.Equal(d.PrevHash, tip) {
			s.logger.Warn("archive does not link to covered history",
				zap.String("file", d.File),
				zap.Int64("from", d.From))

			break
		}

		if s.opts.reverify {
			if _, err := s.Verify(ctx, s.Path(d)); err != nil {
				if ctx.Err() != nil {
					return 0, nil, ctx.Err()
				}

				s.logger.Warn("archive failed verification", zap.String("file", d.File), zap.Error(err))

				break
			}
		}

		covered, tip = d.To, d.TipHash
	}

	return covered, tip, nil
}

// CompactAfterArchive compacts store with policy, never below the revisions
// the verified archives cover, checkpoints it and drops the archived journal
// prefix. Without archived history it returns ErrNotArchived.
func (s *Store) CompactAfterArchive(
	ctx context.Context,
	store *revstore.Store,
	policy revstore.Policy,
) (revstore.CompactStats, error) {
	covered, tip, err := s.Coverage(ctx)
	if err != nil {
		return revstore.CompactStats{}, err
	}

	if covered == 0 {
		return revstore.CompactStats{}, ErrNotArchived
	}

	if head := store.Head(); covered > head {
		s.logger.Warn("archives reach beyond the store head",
			zap.Int64("covered", covered),
			zap.Int64("head", head))

		return revstore.CompactStats{}, fmt.Errorf("%w: archives cover %d, store head is %d",
			audit.ErrChainMismatch, covered, head)
	}

	for c, err := range store.Commits(ctx, covered, covered) {
		if errors.Is(err, journal.ErrCompacted) {
			break
		}

		if err != nil {
			return revstore.CompactStats{}, err
		}

		if !bytes.Equal(c.Hash, tip) {
			return revstore.CompactStats{}, &audit.ChainMismatchError{
				Index: 0, Revision: covered, Reason: audit.ReasonHash,
				Expected: bytes.Clone(tip), Got: bytes.Clone(c.Hash),
			}
		}
	}

	stats, err := store.CompactAll(ctx, policy, revstore.WithBound(covered), revstore.WithoutCheckpoint())
	if err != nil {
		return revstore.CompactStats{}, err
	}

	if _, err := store.Checkpoint(ctx); err != nil {
		return stats, err
	}

	if err := store.DropJournalThrough(ctx, covered); err != nil {
		return stats, err
	}

	s.logger.Info("compacted archived history",
		zap.Int64("covered", covered),
		zap.Stringer("policy", policy),
		zap.Int("keys", stats.Keys),
		zap.Int("removed", stats.Removed))

	return stats, nil
}
