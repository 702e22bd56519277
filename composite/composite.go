// Package composite unifies several revision stores behind the read surface
// of a single one.
//
// Writes go to one primary member. Point reads fan out to every member and
// keep the newest answer; range reads lazily merge the members' ordered
// sequences. When two members hold the same revision of a key, the member
// marked authoritative wins, then the member listed first.
package composite

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/revstore"
)

// Backend is the read surface of a member. *revstore.Store implements it.
type Backend interface {
	Head() int64
	Get(ctx context.Context, key []byte, sel kv.Selector) (kv.Entry, error)
	GetRange(ctx context.Context, key []byte, lo, hi int64) iter.Seq2[kv.Entry, error]
	Scan(ctx context.Context, start, end []byte, sel kv.Selector) iter.Seq2[kv.Entry, error]
	Close() error
}

// Writer is implemented by members that can be the primary.
type Writer interface {
	Apply(ctx context.Context, c commit.Commit) error
}

// Member is one store of the composite. Priority follows member order.
type Member struct {
	Name          string
	Backend       Backend
	Authoritative bool
}

// Store is a composite of revision stores.
type Store struct {
	members []Member
	// ranked holds the members in precedence order: authoritative first,
	// then by priority.
	ranked  []Member
	primary string
	writer  Writer
	logger  *zap.Logger
}

// New builds a composite over members.
func New(members []Member, opts ...Option) (*Store, error) {
	o := options.ApplyOptions(defaultOptions, opts)

	if len(members) == 0 {
		return nil, ErrNoMembers
	}

	seen := make(map[string]struct{}, len(members))

	for _, m := range members {
		switch _, dup := seen[m.Name]; {
		case m.Name == "":
			return nil, errors.New("member name is empty")
		case dup:
			return nil, errMember(m.Name, errors.New("duplicate name"))
		case m.Backend == nil:
			return nil, errMember(m.Name, errors.New("no backend"))
		}

		seen[m.Name] = struct{}{}
	}

	s := &Store{
		members: slices.Clone(members),
		ranked:  slices.Clone(members),
		primary: "",
		writer:  nil,
		logger:  o.logger,
	}

	slices.SortStableFunc(s.ranked, func(a, b Member) int {
		switch {
		case a.Authoritative == b.Authoritative:
			return 0
		case a.Authoritative:
			return -1
		default:
			return 1
		}
	})

	if o.primary != "" {
		i := slices.IndexFunc(members, func(m Member) bool { return m.Name == o.primary })
		if i < 0 {
			return nil, errMember(o.primary, errors.New("unknown member"))
		}

		w, ok := members[i].Backend.(Writer)
		if !ok {
			return nil, errMember(o.primary, ErrNotWriter)
		}

		s.primary, s.writer = o.primary, w
	} else if w, ok := members[0].Backend.(Writer); ok {
		s.primary, s.writer = members[0].Name, w
	}

	return s, nil
}

// Members returns the members in priority order.
func (s *Store) Members() []Member {
	return slices.Clone(s.members)
}

// Primary returns the name of the write target, empty when there is none.
func (s *Store) Primary() string {
	return s.primary
}

// Head returns the highest head among the members.
func (s *Store) Head() int64 {
	var head int64

	for _, m := range s.members {
		head = max(head, m.Backend.Head())
	}

	return head
}

// Apply routes c to the primary member.
func (s *Store) Apply(ctx context.Context, c commit.Commit) error {
	if s.writer == nil {
		return ErrNoPrimary
	}

	if err := s.writer.Apply(ctx, c); err != nil {
		return errMember(s.primary, err)
	}

	return nil
}

// answer is what one member knows about a key under a selector.
type answer struct {
	found          bool
	entry          kv.Entry
	archived       int64
	noSuchRevision bool
}

// narrow adapts sel to a member whose head is head. It reports false when
// the member cannot hold the selected version.
func narrow(sel kv.Selector, head int64) (kv.Selector, bool) {
	if head == 0 {
		return sel, false
	}

	r, ok := sel.Revision()
	if !ok {
		return sel, true
	}

	if sel.Kind() == kv.SelectExact {
		return sel, r <= head
	}

	return kv.AsOf(min(r, head)), true
}

func query(ctx context.Context, b Backend, key []byte, sel kv.Selector) (answer, error) {
	sel, ok := narrow(sel, b.Head())
	if !ok {
		return answer{}, nil
	}

	e, err := b.Get(ctx, key, sel)
	if err == nil {
		return answer{found: true, entry: e, archived: 0, noSuchRevision: false}, nil
	}

	var nf *revstore.NotFoundError
	if !errors.As(err, &nf) {
		return answer{}, err
	}

	switch nf.Reason {
	case revstore.ReasonDeleted:
		tombstone := kv.Entry{Key: key, Revision: nf.Revision, Value: nil, Tombstone: true}
		return answer{found: true, entry: tombstone, archived: 0, noSuchRevision: false}, nil
	case revstore.ReasonArchived:
		return answer{found: false, entry: kv.Entry{}, archived: nf.Revision, noSuchRevision: false}, nil
	case revstore.ReasonNoSuchRevision:
		return answer{found: false, entry: kv.Entry{}, archived: 0, noSuchRevision: true}, nil
	default:
		return answer{}, nil
	}
}

// Get returns the newest version of key chosen by sel across all members.
func (s *Store) Get(ctx context.Context, key []byte, sel kv.Selector) (kv.Entry, error) {
	if err := sel.Validate(s.Head()); err != nil {
		return kv.Entry{}, err
	}

	answers := make([]answer, len(s.ranked))
	g, gctx := errgroup.WithContext(ctx)

	for i, m := range s.ranked {
		g.Go(func() error {
			a, err := query(gctx, m.Backend, key, sel)
			if err != nil {
				return errMember(m.Name, err)
			}

			answers[i] = a

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return kv.Entry{}, err
	}

	return pick(key, sel, answers)
}

// pick chooses among answers given in precedence order.
func pick(key []byte, sel kv.Selector, answers []answer) (kv.Entry, error) {
	var (
		best           *answer
		archived       int64
		noSuchRevision bool
	)

	for i := range answers {
		a := &answers[i]

		switch {
		case a.found:
			if best == nil || a.entry.Revision > best.entry.Revision {
				best = a
			}
		case a.archived > 0:
			if archived == 0 || a.archived < archived {
				archived = a.archived
			}
		case a.noSuchRevision:
			noSuchRevision = true
		}
	}

	notFound := func(reason revstore.Reason, rev int64) error {
		return &revstore.NotFoundError{Key: slices.Clone(key), Selector: sel, Reason: reason, Revision: rev}
	}

	switch {
	case best != nil && best.entry.Tombstone:
		return kv.Entry{}, notFound(revstore.ReasonDeleted, best.entry.Revision)
	case best != nil:
		return best.entry, nil
	case archived > 0:
		return kv.Entry{}, notFound(revstore.ReasonArchived, archived)
	case noSuchRevision:
		return kv.Entry{}, notFound(revstore.ReasonNoSuchRevision, 0)
	default:
		return kv.Entry{}, notFound(revstore.ReasonNeverExisted, 0)
	}
}

func (s *Store) memberSeq(m Member, seq iter.Seq2[kv.Entry, error]) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		for e, err := range seq {
			if err != nil {
				yield(kv.Entry{}, errMember(m.Name, err))
				return
			}

			if !yield(e, nil) {
				return
			}
		}
	}
}

// GetRange returns the versions of key with lo <= revision <= hi held by
// any member, newest first, each revision once.
func (s *Store) GetRange(ctx context.Context, key []byte, lo, hi int64) iter.Seq2[kv.Entry, error] {
	seqs := make([]iter.Seq2[kv.Entry, error], 0, len(s.ranked))

	for _, m := range s.ranked {
		seqs = append(seqs, s.memberSeq(m, m.Backend.GetRange(ctx, key, lo, hi)))
	}

	return merge(seqs, newestFirst)
}

// ListRevisions returns every revision of key held by any member, newest first.
func (s *Store) ListRevisions(ctx context.Context, key []byte) ([]int64, error) {
	var revs []int64

	for e, err := range s.GetRange(ctx, key, 0, math.MaxInt64) {
		if err != nil {
			return nil, err
		}

		revs = append(revs, e.Revision)
	}

	return revs, nil
}

// Scan returns the version visible under sel of every key in [start, end)
// known to any member. Deleted keys are skipped. Exact selectors are
// treated as AsOf.
func (s *Store) Scan(ctx context.Context, start, end []byte, sel kv.Selector) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		if err := sel.Validate(s.Head()); err != nil {
			yield(kv.Entry{}, err)
			return
		}

		if r, ok := sel.Revision(); ok {
			sel = kv.AsOf(r)
		}

		seqs := make([]iter.Seq2[kv.Entry, error], 0, len(s.ranked))

		for _, m := range s.ranked {
			msel, ok := narrow(sel, m.Backend.Head())
			if !ok {
				continue
			}

			seqs = append(seqs, s.memberSeq(m, m.Backend.Scan(ctx, start, end, msel)))
		}

		// A key live in one member may be deleted later in another, so every
		// candidate is resolved across all members.
		for candidate, err := range merge(seqs, byKey) {
			if err != nil {
				yield(kv.Entry{}, err)
				return
			}

			e, err := s.Get(ctx, candidate.Key, sel)
			if revstore.IsDeleted(err) {
				continue
			}

			if err != nil {
				yield(kv.Entry{}, fmt.Errorf("failed to resolve %q: %w", candidate.Key, err))
				return
			}

			if !yield(e, nil) {
				return
			}
		}
	}
}

// Close closes every member.
func (s *Store) Close() error {
	var errs error

	for _, m := range s.members {
		if err := m.Backend.Close(); err != nil {
			errs = multierr.Append(errs, errMember(m.Name, err))
		}
	}

	s.logger.Debug("composite store closed", zap.Int("members", len(s.members)))

	return errs
}
