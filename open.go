package reprise

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/archive"
	"github.com/reprisedb/go-reprise/config"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/headstate"
	etcdhead "github.com/reprisedb/go-reprise/headstate/etcd"
	filehead "github.com/reprisedb/go-reprise/headstate/file"
	"github.com/reprisedb/go-reprise/internal/logging"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/journal/memory"
	"github.com/reprisedb/go-reprise/journal/segment"
	"github.com/reprisedb/go-reprise/journal/sqlite"
	"github.com/reprisedb/go-reprise/replication"
	"github.com/reprisedb/go-reprise/replication/tarantool"
)

func newLogger(cfg config.Config, o dbOptions) (*zap.Logger, error) {
	if o.logger != nil {
		return o.logger, nil
	}

	return logging.New(cfg.Logging) //nolint:wrapcheck
}

func newMetrics(cfg config.Config, o dbOptions) *metrics.Metrics {
	switch {
	case o.registerer != nil:
		return metrics.New(o.registerer)
	case cfg.Metrics.Enabled:
		return metrics.New(prometheus.DefaultRegisterer)
	default:
		return metrics.Discard()
	}
}

// OpenJournal opens the journal selected by cfg.
func OpenJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (journal.Journal, error) {
	switch cfg.Kind {
	case config.JournalSegment:
		j, err := segment.Open(ctx, cfg.Dir,
			segment.WithSegmentSize(cfg.SegmentSize),
			segment.WithSyncWrites(cfg.SyncWrites),
			segment.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open segment journal: %w", err)
		}

		return j, nil
	case config.JournalSQLite:
		j, err := sqlite.Open(ctx, cfg.Path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
		}

		return j, nil
	case config.JournalMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown journal kind %q", cfg.Kind)
	}
}

// openHeadState returns the head state store and, for etcd, the client to
// close with the database.
func openHeadState(cfg config.HeadStateConfig, j journal.Journal) (headstate.Store, func() error, error) {
	switch cfg.Kind {
	case config.HeadStateFile:
		return filehead.New(cfg.Path), nil, nil
	case config.HeadStateMemory:
		return headstate.NewMemory(), nil, nil
	case config.HeadStateSQLite:
		sj, ok := j.(*sqlite.Journal)
		if !ok {
			return nil, nil, fmt.Errorf("head state %q needs the sqlite journal, got %T", cfg.Kind, j)
		}

		return sj.HeadState(), nil, nil
	case config.HeadStateEtcd:
		client, err := etcd.New(etcd.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create etcd client: %w", err)
		}

		return etcdhead.New(client, cfg.Etcd.Key), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown head state kind %q", cfg.Kind)
	}
}

// openReplicator dials the configured peers and builds the quorum over
// them and extra. It returns replication.None without peers.
func openReplicator(
	ctx context.Context,
	cfg config.ReplicationConfig,
	extra []replication.Peer,
	logger *zap.Logger,
	m *metrics.Metrics,
) (replication.Replicator, []func() error, error) {
	var closers []func() error

	peers := make([]replication.Peer, 0, len(cfg.Peers)+len(extra))

	for _, pc := range cfg.Peers {
		conn, err := tarantool.Dial(ctx, pc.Address, pc.User, pc.Password)
		if err != nil {
			return nil, closers, fmt.Errorf("failed to connect to peer %q: %w", pc.Name, err)
		}

		closers = append(closers, conn.Close)
		peers = append(peers, tarantool.New(pc.Name, conn,
			tarantool.WithFunctions(pc.ReplicateFunction, pc.TruncateFunction)))
	}

	peers = append(peers, extra...)

	if len(peers) == 0 {
		return replication.None(), closers, nil
	}

	mode, err := replication.ParseMode(cfg.Mode)
	if err != nil {
		return nil, closers, err
	}

	retrier := replication.NewRetrier(replication.RetrierConfig{
		Workers:   cfg.Retry.Workers,
		QueueSize: cfg.Retry.QueueSize,
		Backoff: replication.Backoff{
			Initial:    cfg.Retry.Initial,
			Max:        cfg.Retry.Max,
			Multiplier: cfg.Retry.Multiplier,
			Attempts:   cfg.Retry.Attempts,
		},
		Logger:  logger,
		Metrics: m,
	})

	opts := []replication.QuorumOption{
		replication.WithMode(mode),
		replication.WithTimeout(cfg.Timeout),
		replication.WithRetrier(retrier),
		replication.WithLogger(logger),
		replication.WithMetrics(m),
	}

	if cfg.Quorum > 0 {
		opts = append(opts, replication.WithRequired(cfg.Quorum))
	}

	q, err := replication.NewQuorum(peers, opts...)
	if err != nil {
		_ = retrier.Close()
		return nil, closers, fmt.Errorf("failed to build replication quorum: %w", err)
	}

	return q, closers, nil
}

// OpenArchives opens the archive store selected by cfg.
func OpenArchives(cfg config.Config, logger *zap.Logger, opts ...archive.Option) (*archive.Store, error) {
	codec, err := archive.ParseCodec(cfg.Archive.Codec)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	h, err := hasher.ByName(cfg.Node.Hasher)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	base := []archive.Option{
		archive.WithCodec(codec),
		archive.WithHasher(h),
		archive.WithReverify(cfg.Archive.Reverify),
		archive.WithLogger(logger),
	}

	s, err := archive.New(cfg.Archive.Dir, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive store: %w", err)
	}

	return s, nil
}
