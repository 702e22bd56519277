package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/journal"
)

const defaultTimeout = 5 * time.Second

type quorumOptions struct {
	mode     Mode
	required int
	timeout  time.Duration
	retrier  *Retrier
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// QuorumOption configures a Quorum.
type QuorumOption = options.OptionCallback[quorumOptions]

// WithMode selects synchronous or asynchronous delivery.
func WithMode(m Mode) QuorumOption {
	return func(o *quorumOptions) {
		o.mode = m
	}
}

// WithRequired sets how many peers must acknowledge a synchronous commit.
// The default is every peer.
func WithRequired(n int) QuorumOption {
	return func(o *quorumOptions) {
		o.required = n
	}
}

// WithTimeout bounds the wait for a synchronous quorum.
func WithTimeout(d time.Duration) QuorumOption {
	return func(o *quorumOptions) {
		o.timeout = d
	}
}

// WithRetrier hands undelivered commits to r. The quorum closes r.
func WithRetrier(r *Retrier) QuorumOption {
	return func(o *quorumOptions) {
		o.retrier = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) QuorumOption {
	return func(o *quorumOptions) {
		o.logger = l
	}
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) QuorumOption {
	return func(o *quorumOptions) {
		o.metrics = m
	}
}

// Quorum replicates every commit to a fixed set of peers.
type Quorum struct {
	peers []Peer
	opts  quorumOptions
}

var _ Replicator = (*Quorum)(nil)

// NewQuorum creates a replicator over peers.
func NewQuorum(peers []Peer, opts ...QuorumOption) (*Quorum, error) {
	o := options.ApplyOptions(func() quorumOptions {
		return quorumOptions{
			mode:     Sync,
			required: -1,
			timeout:  defaultTimeout,
			retrier:  nil,
			logger:   zap.NewNop(),
			metrics:  nil,
		}
	}, opts)

	if o.required < 0 {
		o.required = len(peers)
	}

	if o.required > len(peers) {
		return nil, fmt.Errorf("%w: %d acknowledgements required from %d peers", ErrInvalidQuorum, o.required, len(peers))
	}

	if o.metrics == nil {
		o.metrics = metrics.Discard()
	}

	return &Quorum{peers: peers, opts: o}, nil
}

// Replicate implements Replicator.
//
// In Sync mode it returns once the required number of peers acknowledged,
// or a *ReplicationTimeoutError when the deadline passes or too many peers
// fail. Peers that did not acknowledge are handed to the retrier either way.
func (q *Quorum) Replicate(ctx context.Context, c commit.Commit) error {
	if len(q.peers) == 0 {
		return nil
	}

	canonical, err := audit.Canonicalize(c)
	if err != nil {
		return err
	}

	if q.opts.mode == Async {
		for _, p := range q.peers {
			q.retry(p, c.Revision, canonical, c.Hash)
		}

		return nil
	}

	return q.replicateSync(ctx, c.Revision, canonical, c.Hash)
}

func (q *Quorum) replicateSync(ctx context.Context, revision int64, canonical, hash []byte) error {
	// Deliveries outlive the caller: stragglers keep going after the quorum
	// is reached and fall back to the retrier on failure.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.opts.timeout)

	var (
		g       errgroup.Group
		mu      sync.Mutex
		acked   int
		errs    error
		reached = make(chan struct{})
		once    sync.Once
	)

	if q.opts.required == 0 {
		once.Do(func() { close(reached) })
	}

	for _, p := range q.peers {
		g.Go(func() error {
			if err := p.Replicate(ctx, revision, canonical, hash); err != nil {
				q.opts.metrics.ReplicationFailuresTotal.WithLabelValues(p.Name()).Inc()

				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("peer %s: %w", p.Name(), err))
				mu.Unlock()

				q.retry(p, revision, canonical, hash)

				return err
			}

			mu.Lock()
			acked++
			done := acked >= q.opts.required
			mu.Unlock()

			if done {
				once.Do(func() { close(reached) })
			}

			return nil
		})
	}

	finished := make(chan struct{})

	go func() {
		_ = g.Wait()

		cancel()
		close(finished)
	}()

	select {
	case <-reached:
		return nil
	case <-finished:
	case <-ctx.Done():
	}

	mu.Lock()
	count, cause := acked, errs
	mu.Unlock()

	if count >= q.opts.required {
		return nil
	}

	if cause == nil {
		cause = ctx.Err()
	}

	q.opts.metrics.ReplicationTimeoutsTotal.Inc()

	q.opts.logger.Warn("replication quorum not reached",
		zap.Int64("revision", revision),
		zap.Int("acked", count),
		zap.Int("required", q.opts.required),
		zap.Error(cause))

	return &ReplicationTimeoutError{Revision: revision, Acked: count, Required: q.opts.required, parent: cause}
}

func (q *Quorum) retry(p Peer, revision int64, canonical, hash []byte) {
	if q.opts.retrier == nil {
		q.opts.logger.Warn("replication delivery not retried",
			zap.String("peer", p.Name()),
			zap.Int64("revision", revision))

		return
	}

	// Enqueue logs its own failures.
	_ = q.opts.retrier.Enqueue(p, revision, canonical, hash)
}

// TruncateAfter implements Replicator. Peers that do not implement
// Truncater are skipped.
func (q *Quorum) TruncateAfter(ctx context.Context, revision int64, t journal.Truncation) error {
	if q.opts.retrier != nil {
		q.opts.retrier.DiscardAfter(revision)
	}

	var errs error

	for _, p := range q.peers {
		truncater, ok := p.(Truncater)
		if !ok {
			q.opts.logger.Warn("peer does not support truncation",
				zap.String("peer", p.Name()),
				zap.Int64("after", revision))

			continue
		}

		if err := truncater.TruncateAfter(ctx, revision, t); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("peer %s: %w", p.Name(), err))
		}
	}

	return errs
}

// Close implements Replicator.
func (q *Quorum) Close() error {
	if q.opts.retrier == nil {
		return nil
	}

	return q.opts.retrier.Close()
}
