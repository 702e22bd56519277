package composite_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/composite"
	rtesting "github.com/reprisedb/go-reprise/internal/testing"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/revstore"
)

// history builds a store with head revisions. Revisions listed in writes
// apply those entries; the others write the key "pad".
func history(t *testing.T, head int64, writes map[int64]kv.Entry) *revstore.Store {
	t.Helper()

	s := revstore.NewMemory()
	t.Cleanup(func() { _ = s.Close() })

	for rev := int64(1); rev <= head; rev++ {
		e, ok := writes[rev]
		if !ok {
			e = kv.Put([]byte("pad"), []byte(fmt.Sprint(rev)))
		}

		c := rtesting.Seal(t, s.HeadHash(), rev, 1, e)
		require.NoError(t, s.Apply(context.Background(), c))
	}

	return s
}

func put(key, value string) kv.Entry {
	return kv.Put([]byte(key), []byte(value))
}

func collect(t *testing.T, seq iter.Seq2[kv.Entry, error]) []kv.Entry {
	t.Helper()

	var out []kv.Entry

	for e, err := range seq {
		require.NoError(t, err)

		out = append(out, e)
	}

	return out
}

// readOnly hides the Apply method of a backend.
type readOnly struct {
	composite.Backend
}

type failingClose struct {
	composite.Backend

	err error
}

func (f failingClose) Close() error {
	return f.err
}

type failingRange struct {
	composite.Backend
}

func (failingRange) GetRange(context.Context, []byte, int64, int64) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		yield(kv.Entry{}, errors.New("disk on fire"))
	}
}

func TestGetRangeAuthoritative(t *testing.T) {
	t.Parallel()

	a := history(t, 3, map[int64]kv.Entry{3: put("k1", "x")})
	b := history(t, 3, map[int64]kv.Entry{3: put("k1", "y")})

	tests := []struct {
		name     string
		members  []composite.Member
		expected string
	}{
		{
			name: "authoritative wins",
			members: []composite.Member{
				{Name: "a", Backend: a, Authoritative: false},
				{Name: "b", Backend: b, Authoritative: true},
			},
			expected: "y",
		},
		{
			name: "priority breaks ties",
			members: []composite.Member{
				{Name: "a", Backend: a, Authoritative: false},
				{Name: "b", Backend: b, Authoritative: false},
			},
			expected: "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := composite.New(tt.members)
			require.NoError(t, err)

			got := collect(t, s.GetRange(context.Background(), []byte("k1"), 0, 10))
			require.Len(t, got, 1)
			assert.Equal(t, int64(3), got[0].Revision)
			assert.Equal(t, tt.expected, string(got[0].Value))

			e, err := s.Get(context.Background(), []byte("k1"), kv.Latest())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(e.Value))
		})
	}
}

// reference merge-sorts every member sequence and removes duplicate
// revisions, keeping the entry of the highest-precedence member.
func reference(t *testing.T, members []composite.Member, key []byte, lo, hi int64) []kv.Entry {
	t.Helper()

	type ranked struct {
		entry kv.Entry
		rank  int
	}

	order := slices.Clone(members)
	slices.SortStableFunc(order, func(a, b composite.Member) int {
		switch {
		case a.Authoritative == b.Authoritative:
			return 0
		case a.Authoritative:
			return -1
		default:
			return 1
		}
	})

	var all []ranked

	for rank, m := range order {
		for _, e := range collect(t, m.Backend.GetRange(context.Background(), key, lo, hi)) {
			all = append(all, ranked{entry: e, rank: rank})
		}
	}

	slices.SortStableFunc(all, func(a, b ranked) int {
		if a.entry.Revision != b.entry.Revision {
			return int(b.entry.Revision - a.entry.Revision)
		}

		return a.rank - b.rank
	})

	var out []kv.Entry

	for _, r := range all {
		if len(out) > 0 && out[len(out)-1].Revision == r.entry.Revision {
			continue
		}

		out = append(out, r.entry)
	}

	return out
}

func TestGetRangeMatchesReferenceMerge(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 42)) //nolint:gosec

	for round := range 50 {
		head := int64(5 + rng.IntN(20))
		members := make([]composite.Member, 2+rng.IntN(3))

		for i := range members {
			writes := make(map[int64]kv.Entry)

			for rev := int64(1); rev <= head; rev++ {
				switch rng.IntN(4) {
				case 0:
					writes[rev] = put("k", fmt.Sprintf("m%d-r%d", i, rev))
				case 1:
					writes[rev] = kv.Delete([]byte("k"))
				}
			}

			members[i] = composite.Member{
				Name:          fmt.Sprintf("m%d", i),
				Backend:       history(t, head, writes),
				Authoritative: rng.IntN(3) == 0,
			}
		}

		s, err := composite.New(members)
		require.NoError(t, err)

		lo, hi := rng.Int64N(head+1), rng.Int64N(head+2)

		expected := reference(t, members, []byte("k"), lo, hi)
		got := collect(t, s.GetRange(context.Background(), []byte("k"), lo, hi))

		require.Equal(t, expected, got, "round %d", round)
	}
}

func TestGetRangeStopsEarly(t *testing.T) {
	t.Parallel()

	a := history(t, 4, map[int64]kv.Entry{1: put("k", "1"), 3: put("k", "3")})
	b := history(t, 4, map[int64]kv.Entry{2: put("k", "2"), 4: put("k", "4")})

	s, err := composite.New([]composite.Member{
		{Name: "a", Backend: a, Authoritative: false},
		{Name: "b", Backend: b, Authoritative: false},
	})
	require.NoError(t, err)

	var revs []int64

	for e, err := range s.GetRange(context.Background(), []byte("k"), 0, 10) {
		require.NoError(t, err)

		revs = append(revs, e.Revision)
		if len(revs) == 2 {
			break
		}
	}

	assert.Equal(t, []int64{4, 3}, revs)

	all, err := s.ListRevisions(context.Background(), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 2, 1}, all)
}

func TestGetRangeMemberError(t *testing.T) {
	t.Parallel()

	a := history(t, 1, map[int64]kv.Entry{1: put("k", "1")})

	s, err := composite.New([]composite.Member{
		{Name: "a", Backend: a, Authoritative: false},
		{Name: "broken", Backend: failingRange{a}, Authoritative: false},
	})
	require.NoError(t, err)

	var got error

	for _, err := range s.GetRange(context.Background(), []byte("k"), 0, 10) {
		got = err
	}

	var merr *composite.MemberError
	require.ErrorAs(t, got, &merr)
	assert.Equal(t, "broken", merr.Member)
}

func TestGet(t *testing.T) {
	t.Parallel()

	a := history(t, 5, map[int64]kv.Entry{2: put("k", "old")})
	b := history(t, 4, map[int64]kv.Entry{4: put("k", "new")})
	d := history(t, 6, map[int64]kv.Entry{1: put("k", "first"), 6: kv.Delete([]byte("k"))})

	s, err := composite.New([]composite.Member{
		{Name: "a", Backend: a, Authoritative: false},
		{Name: "b", Backend: b, Authoritative: false},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Head())

	tests := []struct {
		name     string
		sel      kv.Selector
		expected string
		reason   revstore.Reason
	}{
		{"latest", kv.Latest(), "new", 0},
		{"as of before newer member", kv.AsOf(3), "old", 0},
		{"as of beyond a member head", kv.AsOf(5), "new", 0},
		{"exact in one member", kv.Exact(2), "old", 0},
		{"exact in other member", kv.Exact(4), "new", 0},
		{"exact without write", kv.Exact(3), "", revstore.ReasonNoSuchRevision},
		{"as of before any write", kv.AsOf(1), "", revstore.ReasonNeverExisted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, err := s.Get(context.Background(), []byte("k"), tt.sel)
			if tt.expected == "" {
				var nf *revstore.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, tt.reason, nf.Reason)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(e.Value))
		})
	}

	_, err = s.Get(context.Background(), []byte("k"), kv.AsOf(9))
	require.ErrorIs(t, err, kv.ErrRevisionOutOfRange)

	withTombstone, err := composite.New([]composite.Member{
		{Name: "a", Backend: a, Authoritative: false},
		{Name: "b", Backend: b, Authoritative: false},
		{Name: "d", Backend: d, Authoritative: false},
	})
	require.NoError(t, err)

	_, err = withTombstone.Get(context.Background(), []byte("k"), kv.Latest())
	require.True(t, revstore.IsDeleted(err), "got %v", err)

	e, err := withTombstone.Get(context.Background(), []byte("k"), kv.AsOf(5))
	require.NoError(t, err)
	assert.Equal(t, "new", string(e.Value))
}

func TestGetFillsArchivedHistory(t *testing.T) {
	t.Parallel()

	live := history(t, 3, map[int64]kv.Entry{1: put("k", "a"), 3: put("k", "c")})

	_, err := live.Compact(context.Background(), []byte("k"), revstore.KeepLastN(1))
	require.NoError(t, err)

	alone, err := composite.New([]composite.Member{{Name: "live", Backend: live, Authoritative: true}})
	require.NoError(t, err)

	_, err = alone.Get(context.Background(), []byte("k"), kv.AsOf(2))
	require.True(t, revstore.IsArchived(err), "got %v", err)

	old := history(t, 2, map[int64]kv.Entry{1: put("k", "a")})

	s, err := composite.New([]composite.Member{
		{Name: "live", Backend: live, Authoritative: true},
		{Name: "archive", Backend: readOnly{old}, Authoritative: false},
	})
	require.NoError(t, err)

	e, err := s.Get(context.Background(), []byte("k"), kv.AsOf(2))
	require.NoError(t, err)
	assert.Equal(t, "a", string(e.Value))
	assert.Equal(t, int64(1), e.Revision)
}

func TestScan(t *testing.T) {
	t.Parallel()

	a := history(t, 2, map[int64]kv.Entry{1: put("x", "1"), 2: put("y", "1")})
	b := history(t, 4, map[int64]kv.Entry{
		1: put("x", "0"),
		3: kv.Delete([]byte("x")),
		4: put("w", "1"),
	})
	b2 := history(t, 1, map[int64]kv.Entry{1: put("z", "1")})

	s, err := composite.New([]composite.Member{
		{Name: "a", Backend: a, Authoritative: false},
		{Name: "b", Backend: b, Authoritative: false},
		{Name: "c", Backend: b2, Authoritative: false},
	})
	require.NoError(t, err)

	keys := func(entries []kv.Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, string(e.Key)+"="+string(e.Value))
		}

		return out
	}

	latest := collect(t, s.Scan(context.Background(), []byte("w"), nil, kv.Latest()))
	assert.Equal(t, []string{"w=1", "y=1", "z=1"}, keys(latest))

	asOf := collect(t, s.Scan(context.Background(), []byte("w"), nil, kv.AsOf(2)))
	assert.Equal(t, []string{"x=1", "y=1", "z=1"}, keys(asOf))
}

func TestApplyRoutesToPrimary(t *testing.T) {
	t.Parallel()

	a := history(t, 1, nil)
	b := history(t, 1, nil)

	s, err := composite.New([]composite.Member{
		{Name: "a", Backend: a, Authoritative: false},
		{Name: "b", Backend: b, Authoritative: false},
	}, composite.WithPrimary("b"))
	require.NoError(t, err)
	assert.Equal(t, "b", s.Primary())

	c := rtesting.Seal(t, b.HeadHash(), 2, 1, put("k", "v"))
	require.NoError(t, s.Apply(context.Background(), c))

	assert.Equal(t, int64(2), b.Head())
	assert.Equal(t, int64(1), a.Head())

	e, err := s.Get(context.Background(), []byte("k"), kv.Latest())
	require.NoError(t, err)
	assert.Equal(t, "v", string(e.Value))

	view, err := composite.New([]composite.Member{{Name: "ro", Backend: readOnly{a}, Authoritative: false}})
	require.NoError(t, err)
	assert.Empty(t, view.Primary())
	require.ErrorIs(t, view.Apply(context.Background(), c), composite.ErrNoPrimary)
}

func TestNew_negative(t *testing.T) {
	t.Parallel()

	a := history(t, 1, nil)

	tests := []struct {
		name     string
		members  []composite.Member
		opts     []composite.Option
		expected error
	}{
		{"no members", nil, nil, composite.ErrNoMembers},
		{"primary cannot write", []composite.Member{
			{Name: "a", Backend: readOnly{a}, Authoritative: false},
		}, []composite.Option{composite.WithPrimary("a")}, composite.ErrNotWriter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := composite.New(tt.members, tt.opts...)
			require.ErrorIs(t, err, tt.expected)
		})
	}

	_, err := composite.New([]composite.Member{
		{Name: "a", Backend: a, Authoritative: false},
		{Name: "a", Backend: a, Authoritative: false},
	})
	require.Error(t, err)

	_, err = composite.New([]composite.Member{{Name: "a", Backend: a, Authoritative: false}},
		composite.WithPrimary("missing"))

	var merr *composite.MemberError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "missing", merr.Member)
}

func TestClose(t *testing.T) {
	t.Parallel()

	errA := errors.New("a failed")
	errB := errors.New("b failed")

	a := history(t, 1, nil)

	s, err := composite.New([]composite.Member{
		{Name: "a", Backend: failingClose{Backend: a, err: errA}, Authoritative: false},
		{Name: "b", Backend: failingClose{Backend: a, err: errB}, Authoritative: false},
		{Name: "c", Backend: failingClose{Backend: a, err: nil}, Authoritative: false},
	})
	require.NoError(t, err)

	err = s.Close()
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}
