package revstore

import (
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/auth"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/watch"
)

const defaultDegree = 32

type storeOptions struct {
	authorizer auth.Authorizer
	hasher     hasher.Hasher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	hub        *watch.Hub
	degree     int
	readOnly   bool
}

// Option configures a Store.
type Option = options.OptionCallback[storeOptions]

func defaultOptions() storeOptions {
	return storeOptions{
		authorizer: auth.AllowAll(),
		hasher:     hasher.NewSHA256Hasher(),
		logger:     zap.NewNop(),
		metrics:    nil,
		hub:        nil,
		degree:     defaultDegree,
		readOnly:   false,
	}
}

// WithAuthorizer installs the hook consulted before every read.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(o *storeOptions) {
		o.authorizer = a
	}
}

// WithHasher selects the chain hash algorithm used to verify commits.
func WithHasher(h hasher.Hasher) Option {
	return func(o *storeOptions) {
		o.hasher = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *storeOptions) {
		o.logger = l
	}
}

// WithMetrics sets the collectors updated by compaction and checkpoints.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *storeOptions) {
		o.metrics = m
	}
}

// WithHub publishes applied entries to an existing hub instead of a
// private one.
func WithHub(h *watch.Hub) Option {
	return func(o *storeOptions) {
		o.hub = h
	}
}

// WithDegree sets the degree of the underlying B-tree.
func WithDegree(degree int) Option {
	return func(o *storeOptions) {
		o.degree = degree
	}
}

// ReadOnly rejects Apply, Compact and TruncateAfter.
func ReadOnly() Option {
	return func(o *storeOptions) {
		o.readOnly = true
	}
}
