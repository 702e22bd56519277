package coordinator

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/auth"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/headstate"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/replication"
)

const defaultRollbackAttempts = 8

type coordinatorOptions struct {
	identity         string
	heads            headstate.Store
	replicator       replication.Replicator
	authorizer       auth.Authorizer
	hasher           hasher.Hasher
	logger           *zap.Logger
	metrics          *metrics.Metrics
	observers        []CommitObserver
	rollbackAttempts int
}

// Option configures a Coordinator.
type Option = options.OptionCallback[coordinatorOptions]

func defaultOptions() coordinatorOptions {
	return coordinatorOptions{
		identity:         uuid.NewString(),
		heads:            headstate.NewMemory(),
		replicator:       replication.None(),
		authorizer:       auth.AllowAll(),
		hasher:           hasher.NewSHA256Hasher(),
		logger:           zap.NewNop(),
		metrics:          nil,
		observers:        nil,
		rollbackAttempts: defaultRollbackAttempts,
	}
}

// WithIdentity names the coordinator in the epochs it assumes.
// A random UUID is used by default.
func WithIdentity(identity string) Option {
	return func(o *coordinatorOptions) {
		o.identity = identity
	}
}

// WithHeadState sets where the head record is persisted.
func WithHeadState(s headstate.Store) Option {
	return func(o *coordinatorOptions) {
		o.heads = s
	}
}

// WithReplicator sets the replicator every commit is handed to after apply.
func WithReplicator(r replication.Replicator) Option {
	return func(o *coordinatorOptions) {
		o.replicator = r
	}
}

// WithAuthorizer sets the authorizer consulted for writes and admin operations.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(o *coordinatorOptions) {
		o.authorizer = a
	}
}

// WithHasher sets the chain hasher. It must match the store's hasher.
func WithHasher(h hasher.Hasher) Option {
	return func(o *coordinatorOptions) {
		o.hasher = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *coordinatorOptions) {
		o.logger = l
	}
}

// WithMetrics sets the collectors updated by the coordinator.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *coordinatorOptions) {
		o.metrics = m
	}
}

// WithObserver registers observers notified after every durable commit.
func WithObserver(observers ...CommitObserver) Option {
	return func(o *coordinatorOptions) {
		o.observers = append(o.observers, observers...)
	}
}

// WithRollbackAttempts bounds how often a Soft rollback is retried on conflict.
func WithRollbackAttempts(n int) Option {
	return func(o *coordinatorOptions) {
		if n > 0 {
			o.rollbackAttempts = n
		}
	}
}
