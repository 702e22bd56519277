package replication

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/internal/metrics"
	"github.com/reprisedb/go-reprise/internal/workerpool"
)

// Backoff is an exponential retry schedule.
type Backoff struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	// Attempts bounds the deliveries of one revision per drain, 0 is
	// unbounded. An abandoned revision stays in the peer backlog.
	Attempts int `yaml:"attempts"`
}

// DefaultBackoff is used for zero-valued fields.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 50 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2, Attempts: 0}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()

	if b.Initial <= 0 {
		b.Initial = d.Initial
	}

	if b.Max <= 0 {
		b.Max = d.Max
	}

	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}

	return b
}

// Delay returns the wait before attempt n, counting from 1.
func (b Backoff) Delay(n int) time.Duration {
	b = b.withDefaults()

	delay := float64(b.Initial)
	for i := 1; i < n; i++ {
		delay *= b.Multiplier
		if delay >= float64(b.Max) {
			return b.Max
		}
	}

	return time.Duration(delay)
}

// Retrier redelivers commits to peers in the background until they
// acknowledge. It never changes the revision or payload of a commit.
//
// Every peer has a backlog of undelivered revisions, drained in revision
// order by at most one task at a time. A revision stays in the backlog
// until the peer acknowledges it: when the pool queue is full or the
// delivery is abandoned, the backlog is picked up again by the next
// Enqueue for that peer.
type Retrier struct {
	pool    *workerpool.Pool
	backoff Backoff
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	lanes map[string]*lane
}

type delivery struct {
	revision  int64
	canonical []byte
	hash      []byte
}

// lane is the backlog of one peer. Its fields are guarded by Retrier.mu.
type lane struct {
	peer    Peer
	pending []delivery
	running bool
}

func (l *lane) add(d delivery) {
	i, found := slices.BinarySearchFunc(l.pending, d.revision, func(e delivery, rev int64) int {
		return cmp.Compare(e.revision, rev)
	})
	if found {
		return
	}

	l.pending = slices.Insert(l.pending, i, d)
}

func (l *lane) remove(revision int64) {
	l.pending = slices.DeleteFunc(l.pending, func(e delivery) bool { return e.revision == revision })
}

// RetrierConfig configures a Retrier.
type RetrierConfig struct {
	Workers   int
	QueueSize int
	Backoff   Backoff
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// NewRetrier starts a retrier with its own worker pool.
func NewRetrier(cfg RetrierConfig) *Retrier {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Discard()
	}

	return &Retrier{
		pool: workerpool.New(workerpool.Config{
			Name:      "replication-retry",
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			Logger:    cfg.Logger,
		}),
		backoff: cfg.Backoff.withDefaults(),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		mu:      sync.Mutex{},
		lanes:   make(map[string]*lane),
	}
}

// Enqueue adds one revision to the backlog of peer and makes sure the
// backlog is being drained. An error means no drain could be scheduled;
// the revision is kept and retried with the next Enqueue for peer.
func (r *Retrier) Enqueue(peer Peer, revision int64, canonical, hash []byte) error {
	r.mu.Lock()

	l, ok := r.lanes[peer.Name()]
	if !ok {
		l = &lane{peer: peer, pending: nil, running: false}
		r.lanes[peer.Name()] = l
	}

	l.add(delivery{revision: revision, canonical: canonical, hash: hash})

	if l.running {
		r.mu.Unlock()
		return nil
	}

	l.running = true
	r.mu.Unlock()

	task := workerpool.Task{
		ID: "replicate-" + peer.Name(),
		Fn: func(ctx context.Context) error {
			return r.drain(ctx, l)
		},
	}

	if err := r.pool.TrySubmit(task); err != nil {
		r.mu.Lock()
		l.running = false
		backlog := len(l.pending)
		r.mu.Unlock()

		r.logger.Warn("replication delivery deferred",
			zap.String("peer", peer.Name()),
			zap.Int64("revision", revision),
			zap.Int("backlog", backlog),
			zap.Error(err))

		return fmt.Errorf("failed to schedule delivery of revision %d to %s: %w", revision, peer.Name(), err)
	}

	return nil
}

// Pending returns the number of revisions not yet acknowledged by the
// named peer.
func (r *Retrier) Pending(peer string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.lanes[peer]; ok {
		return len(l.pending)
	}

	return 0
}

// DiscardAfter drops every backlogged revision after revision, for every
// peer. It is used when history after revision was truncated.
func (r *Retrier) DiscardAfter(revision int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.lanes {
		l.pending = slices.DeleteFunc(l.pending, func(e delivery) bool { return e.revision > revision })
	}
}

func (r *Retrier) drain(ctx context.Context, l *lane) error {
	for {
		r.mu.Lock()

		if len(l.pending) == 0 {
			l.running = false
			r.mu.Unlock()

			return nil
		}

		d, peer := l.pending[0], l.peer
		r.mu.Unlock()

		if err := r.deliver(ctx, peer, d.revision, d.canonical, d.hash); err != nil {
			r.mu.Lock()
			l.running = false
			r.mu.Unlock()

			return err
		}

		r.mu.Lock()
		l.remove(d.revision)
		r.mu.Unlock()
	}
}

func (r *Retrier) deliver(ctx context.Context, peer Peer, revision int64, canonical, hash []byte) error {
	for attempt := 1; ; attempt++ {
		err := peer.Replicate(ctx, revision, canonical, hash)
		if err == nil {
			return nil
		}

		r.metrics.ReplicationFailuresTotal.WithLabelValues(peer.Name()).Inc()

		if errors.Is(err, context.Canceled) || (r.backoff.Attempts > 0 && attempt >= r.backoff.Attempts) {
			return fmt.Errorf("delivery of revision %d to %s abandoned after %d attempts: %w",
				revision, peer.Name(), attempt, err)
		}

		delay := r.backoff.Delay(attempt)

		r.logger.Debug("replication retry scheduled",
			zap.String("peer", peer.Name()),
			zap.Int64("revision", revision),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		r.metrics.ReplicationRetriesTotal.Inc()
	}
}

// Stats returns the counters of the underlying pool.
func (r *Retrier) Stats() workerpool.Stats {
	return r.pool.Stats()
}

// Close stops redelivery. Pending deliveries are abandoned.
func (r *Retrier) Close() error {
	return r.pool.Stop(5 * time.Second)
}
