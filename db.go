package reprise

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/archive"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/composite"
	"github.com/reprisedb/go-reprise/config"
	"github.com/reprisedb/go-reprise/coordinator"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/namer"
	"github.com/reprisedb/go-reprise/replication"
	"github.com/reprisedb/go-reprise/revstore"
	"github.com/reprisedb/go-reprise/tx"
	"github.com/reprisedb/go-reprise/watch"
)

const liveMember = "live"

// mount is an archive served beneath the live store.
type mount struct {
	path  string
	store *revstore.Store
}

// DB is a revisioned transactional key-value database.
//
// Writes go through the commit coordinator into the live revision store.
// Reads go through a composite of the live store and the mounted archives,
// so history compacted away from the live store stays readable as long as
// an archive holding it is mounted.
type DB struct {
	cfg        config.Config
	opts       dbOptions
	logger     *zap.Logger
	metrics    *metrics.Metrics
	hasher     hasher.Hasher
	store      *revstore.Store
	coord      *coordinator.Coordinator
	archives   *archive.Store
	replicator replication.Replicator
	closers    []func() error

	// mu guards epoch, mounts and reader.
	mu     sync.RWMutex
	epoch  commit.Epoch
	mounts []mount
	reader *composite.Store

	// generation changes on every destructive rollback and invalidates
	// transactions begun before it.
	generation atomic.Uint64
	closed     atomic.Bool
}

var _ tx.Executor = (*DB)(nil)

// Open wires a database from cfg: journal, head state, revision store,
// replication, coordinator and archive store. The returned database has
// assumed coordinatorship under a fresh epoch.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (_ *DB, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options.ApplyOptions(defaultOptions, opts)

	logger, err := newLogger(cfg, o)
	if err != nil {
		return nil, err
	}

	h, err := hasher.ByName(cfg.Node.Hasher)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	db := &DB{
		cfg:        cfg,
		opts:       o,
		logger:     logger,
		metrics:    newMetrics(cfg, o),
		hasher:     h,
		store:      nil,
		coord:      nil,
		archives:   nil,
		replicator: nil,
		closers:    nil,
		mu:         sync.RWMutex{},
		epoch:      commit.Epoch{},
		mounts:     nil,
		reader:     nil,
		generation: atomic.Uint64{},
		closed:     atomic.Bool{},
	}

	defer func() {
		if err != nil {
			err = multierr.Append(err, db.release())
		}
	}()

	if err := db.open(ctx); err != nil {
		return nil, err
	}

	for _, path := range cfg.Archive.Mount {
		if err := db.Mount(ctx, path); err != nil {
			return nil, err
		}
	}

	logger.Info("database opened",
		zap.String("journal", cfg.Journal.Kind),
		zap.String("head_state", cfg.HeadState.Kind),
		zap.Int64("head", db.store.Head()),
		zap.Stringer("epoch", db.Epoch()))

	return db, nil
}

func (db *DB) open(ctx context.Context) error {
	j, err := OpenJournal(ctx, db.cfg.Journal, db.logger)
	if err != nil {
		return err
	}

	db.store, err = revstore.Open(ctx, j,
		revstore.WithHasher(db.hasher),
		revstore.WithLogger(db.logger),
		revstore.WithMetrics(db.metrics),
		revstore.WithAuthorizer(db.opts.authorizer))
	if err != nil {
		return multierr.Append(fmt.Errorf("failed to open revision store: %w", err), j.Close())
	}

	db.closers = append(db.closers, db.store.Close)

	heads := db.opts.heads
	if heads == nil {
		var closeHeads func() error

		heads, closeHeads, err = openHeadState(db.cfg.HeadState, j)
		if err != nil {
			return err
		}

		if closeHeads != nil {
			db.closers = append(db.closers, closeHeads)
		}
	}

	replicator, closers, err := openReplicator(ctx, db.cfg.Replication, db.opts.peers, db.logger, db.metrics)
	db.closers = append(db.closers, closers...)

	if err != nil {
		return err
	}

	db.replicator = replicator
	db.closers = append(db.closers, replicator.Close)

	coordOpts := []coordinator.Option{
		coordinator.WithHeadState(heads),
		coordinator.WithReplicator(replicator),
		coordinator.WithAuthorizer(db.opts.authorizer),
		coordinator.WithHasher(db.hasher),
		coordinator.WithLogger(db.logger),
		coordinator.WithMetrics(db.metrics),
		coordinator.WithObserver(db.opts.observers...),
	}

	if db.cfg.Node.ID != "" {
		coordOpts = append(coordOpts, coordinator.WithIdentity(db.cfg.Node.ID))
	}

	db.coord = coordinator.New(db.store, coordOpts...)

	epoch, err := db.coord.AssumeCoordinator(ctx)
	if err != nil {
		return fmt.Errorf("failed to assume coordinator: %w", err)
	}

	db.epoch = epoch

	archiveOpts := []archive.Option{archive.WithMetrics(db.metrics)}

	if db.opts.signer != nil {
		archiveOpts = append(archiveOpts, archive.WithSigner(db.opts.signer))
	}

	if db.opts.verifier != nil {
		archiveOpts = append(archiveOpts, archive.WithVerifier(db.opts.verifier))
	}

	db.archives, err = OpenArchives(db.cfg, db.logger, archiveOpts...)
	if err != nil {
		return err
	}

	return db.rebuildReader()
}

// rebuildReader runs under db.mu or before the database is shared.
func (db *DB) rebuildReader() error {
	members := make([]composite.Member, 0, len(db.mounts)+1)
	members = append(members, composite.Member{Name: liveMember, Backend: db.store, Authoritative: true})

	for _, m := range db.mounts {
		members = append(members, composite.Member{Name: m.path, Backend: m.store, Authoritative: false})
	}

	reader, err := composite.New(members, composite.WithPrimary(liveMember), composite.WithLogger(db.logger))
	if err != nil {
		return fmt.Errorf("failed to build read path: %w", err)
	}

	db.reader = reader

	return nil
}

func (db *DB) view() *composite.Store {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.reader
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return ErrClosed
	}

	return nil
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() config.Config {
	return db.cfg
}

// Head returns the newest visible revision.
func (db *DB) Head() int64 {
	return db.store.Head()
}

// Epoch returns the coordinator epoch the database writes under.
func (db *DB) Epoch() commit.Epoch {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.epoch
}

// Store returns the live revision store.
func (db *DB) Store() *revstore.Store {
	return db.store
}

// Coordinator returns the commit coordinator.
func (db *DB) Coordinator() *coordinator.Coordinator {
	return db.coord
}

// Archives returns the archive store.
func (db *DB) Archives() *archive.Store {
	return db.archives
}

// Get returns the version of key chosen by sel, looking into mounted
// archives for history the live store no longer retains.
func (db *DB) Get(ctx context.Context, key []byte, sel kv.Selector) (kv.Entry, error) {
	if err := db.checkOpen(); err != nil {
		return kv.Entry{}, err
	}

	return db.view().Get(ctx, key, sel) //nolint:wrapcheck
}

// History returns the versions of key with lo <= revision <= hi, newest
// first, tombstones included.
func (db *DB) History(ctx context.Context, key []byte, lo, hi int64) iter.Seq2[kv.Entry, error] {
	if err := db.checkOpen(); err != nil {
		return func(yield func(kv.Entry, error) bool) { yield(kv.Entry{}, err) }
	}

	return db.view().GetRange(ctx, key, lo, hi)
}

// Revisions returns every known revision of key, newest first.
func (db *DB) Revisions(ctx context.Context, key []byte) ([]int64, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	return db.view().ListRevisions(ctx, key) //nolint:wrapcheck
}

// Range returns the live entries selected by opts in key order.
func (db *DB) Range(ctx context.Context, opts ...RangeOption) ([]kv.Entry, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	o := options.ApplyOptions(defaultRangeOptions, opts)

	var out []kv.Entry

	for e, err := range db.view().Scan(ctx, o.start, o.end, o.selector) {
		if err != nil {
			return nil, err
		}

		out = append(out, e)

		if o.limit > 0 && len(out) == o.limit {
			break
		}
	}

	return out, nil
}

// Namespaces groups the live keys stored under namespaces.
func (db *DB) Namespaces(ctx context.Context, sel kv.Selector) (namer.Results, error) {
	entries, err := db.Range(ctx,
		WithKeyRange([]byte{namer.Separator}, []byte{namer.Separator + 1}),
		WithSelector(sel))
	if err != nil {
		return namer.Results{}, err
	}

	return namer.Group(func(yield func([]byte) bool) {
		for _, e := range entries {
			if !yield(e.Key) {
				return
			}
		}
	})
}

// Watch streams the revisions touching key, or every key under it with
// watch.WithPrefix, until ctx is done.
func (db *DB) Watch(ctx context.Context, key []byte, opts ...watch.Option) (<-chan watch.Event, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	return db.store.Watch(ctx, key, opts...) //nolint:wrapcheck
}

// Mount serves the archive at path beneath the live store. A relative path
// is resolved against the archive directory.
func (db *DB) Mount(ctx context.Context, path string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(db.archives.Dir(), path)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if slices.ContainsFunc(db.mounts, func(m mount) bool { return m.path == path }) {
		return fmt.Errorf("%w: %s", ErrAlreadyMounted, path)
	}

	view, err := db.archives.Open(ctx, path, revstore.WithAuthorizer(db.opts.authorizer))
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", path, err)
	}

	db.mounts = append(db.mounts, mount{path: path, store: view})

	if err := db.rebuildReader(); err != nil {
		db.mounts = db.mounts[:len(db.mounts)-1]
		return multierr.Append(err, view.Close())
	}

	db.logger.Info("archive mounted", zap.String("path", path), zap.Int64("head", view.Head()))

	return nil
}

// Unmount stops serving the archive mounted from path.
func (db *DB) Unmount(path string) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(db.archives.Dir(), path)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	i := slices.IndexFunc(db.mounts, func(m mount) bool { return m.path == path })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotMounted, path)
	}

	view := db.mounts[i].store
	db.mounts = slices.Delete(db.mounts, i, i+1)

	if err := db.rebuildReader(); err != nil {
		return err
	}

	return view.Close() //nolint:wrapcheck
}

// Mounted returns the paths of the mounted archives.
func (db *DB) Mounted() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	paths := make([]string, len(db.mounts))
	for i, m := range db.mounts {
		paths[i] = m.path
	}

	return paths
}

// Close stops replication and releases every resource. Transactions still
// open fail with ErrClosed.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	err := db.release()
	if err != nil {
		db.logger.Error("failed to close database", zap.Error(err))
	}

	return err
}

func (db *DB) release() error {
	var errs error

	db.mu.Lock()
	for _, m := range db.mounts {
		errs = multierr.Append(errs, m.store.Close())
	}

	db.mounts = nil
	db.mu.Unlock()

	for _, c := range slices.Backward(db.closers) {
		errs = multierr.Append(errs, c())
	}

	db.closers = nil

	return errs
}
