package reprise

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/auth"
	"github.com/reprisedb/go-reprise/coordinator"
	"github.com/reprisedb/go-reprise/crypto"
	"github.com/reprisedb/go-reprise/headstate"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/replication"
)

const defaultTxRetries = 16

type dbOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	authorizer auth.Authorizer
	heads      headstate.Store
	peers      []replication.Peer
	signer     crypto.Signer
	verifier   crypto.Verifier
	observers  []coordinator.CommitObserver
	txRetries  int
}

// Option configures Open.
type Option = options.OptionCallback[dbOptions]

func defaultOptions() dbOptions {
	return dbOptions{
		logger:     nil,
		registerer: nil,
		authorizer: auth.AllowAll(),
		heads:      nil,
		peers:      nil,
		signer:     nil,
		verifier:   nil,
		observers:  nil,
		txRetries:  defaultTxRetries,
	}
}

// WithLogger sets the logger. By default one is built from the logging
// section of the configuration.
func WithLogger(l *zap.Logger) Option {
	return func(o *dbOptions) {
		o.logger = l
	}
}

// WithRegisterer registers the engine metrics on reg, whether or not
// metrics are enabled in the configuration.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *dbOptions) {
		o.registerer = reg
	}
}

// WithAuthorizer sets the authorizer consulted by reads, writes and
// administrative operations.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(o *dbOptions) {
		o.authorizer = a
	}
}

// WithHeadState overrides the head state selected by the configuration.
func WithHeadState(s headstate.Store) Option {
	return func(o *dbOptions) {
		o.heads = s
	}
}

// WithPeers adds replication peers to the ones from the configuration.
func WithPeers(peers ...replication.Peer) Option {
	return func(o *dbOptions) {
		o.peers = append(o.peers, peers...)
	}
}

// WithArchiveSigner signs every archive written.
func WithArchiveSigner(s crypto.Signer) Option {
	return func(o *dbOptions) {
		o.signer = s
	}
}

// WithArchiveVerifier requires every archive read to carry a valid signature.
func WithArchiveVerifier(v crypto.Verifier) Option {
	return func(o *dbOptions) {
		o.verifier = v
	}
}

// WithObserver registers observers notified after every durable commit.
func WithObserver(observers ...coordinator.CommitObserver) Option {
	return func(o *dbOptions) {
		o.observers = append(o.observers, observers...)
	}
}

// WithTxRetries bounds how often a conditional transaction is re-evaluated
// after a conflict.
func WithTxRetries(n int) Option {
	return func(o *dbOptions) {
		if n > 0 {
			o.txRetries = n
		}
	}
}
