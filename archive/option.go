package archive

import (
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/crypto"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/options"
)

type archiveOptions struct {
	codec    Codec
	hasher   hasher.Hasher
	signer   crypto.Signer
	verifier crypto.Verifier
	reverify bool
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Store.
type Option = options.OptionCallback[archiveOptions]

func defaultOptions() archiveOptions {
	return archiveOptions{
		codec:    CodecSnappy,
		hasher:   hasher.NewSHA256Hasher(),
		signer:   nil,
		verifier: nil,
		reverify: true,
		logger:   zap.NewNop(),
		metrics:  nil,
	}
}

// WithCodec sets the compression of new archives.
func WithCodec(c Codec) Option {
	return func(o *archiveOptions) {
		o.codec = c
	}
}

// WithHasher sets the chain hasher recorded in new archives.
func WithHasher(h hasher.Hasher) Option {
	return func(o *archiveOptions) {
		o.hasher = h
	}
}

// WithSigner signs the header of new archives.
func WithSigner(s crypto.Signer) Option {
	return func(o *archiveOptions) {
		o.signer = s
	}
}

// WithVerifier requires every archive read to carry a valid signature.
func WithVerifier(v crypto.Verifier) Option {
	return func(o *archiveOptions) {
		o.verifier = v
	}
}

// WithReverify controls whether CompactAfterArchive re-verifies the
// covering files before trusting the manifest. Enabled by default.
func WithReverify(enabled bool) Option {
	return func(o *archiveOptions) {
		o.reverify = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *archiveOptions) {
		o.logger = l
	}
}

// WithMetrics sets the collectors updated when archives are written.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *archiveOptions) {
		o.metrics = m
	}
}
