package revstore

import (
	"bytes"
	"math"

	"github.com/google/btree"

	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/kv"
)

// snapshot is an immutable view of the store. Writers clone it, mutate
// the clone and publish it; readers use whatever pointer they loaded.
type snapshot struct {
	entries *btree.BTreeG[kv.Entry]
	floors  *btree.BTreeG[journal.Floor]
	head    int64
	hash    []byte
}

func floorLess(a, b journal.Floor) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

func emptySnapshot(degree int) *snapshot {
	return &snapshot{
		entries: btree.NewG(degree, kv.Less),
		floors:  btree.NewG(degree, floorLess),
		head:    0,
		hash:    []byte{},
	}
}

func (s *snapshot) clone() *snapshot {
	return &snapshot{
		entries: s.entries.Clone(),
		floors:  s.floors.Clone(),
		head:    s.head,
		hash:    s.hash,
	}
}

func (s *snapshot) floor(key []byte) int64 {
	f, ok := s.floors.Get(journal.Floor{Key: key, Revision: 0})
	if !ok {
		return 0
	}

	return f.Revision
}

// visible returns the newest version of key at or below bound.
func (s *snapshot) visible(key []byte, bound int64) (kv.Entry, bool) {
	var (
		found kv.Entry
		ok    bool
	)

	s.entries.AscendGreaterOrEqual(kv.Entry{Key: key, Revision: bound}, func(e kv.Entry) bool {
		if bytes.Equal(e.Key, key) {
			found, ok = e, true
		}

		return false
	})

	return found, ok
}

func (s *snapshot) exact(key []byte, rev int64) (kv.Entry, bool) {
	return s.entries.Get(kv.Entry{Key: key, Revision: rev})
}

func (s *snapshot) exists(key []byte) bool {
	_, ok := s.visible(key, math.MaxInt64)
	return ok
}

// versions calls fn for every retained version of key, newest first.
func (s *snapshot) versions(key []byte, hi int64, fn func(kv.Entry) bool) {
	s.entries.AscendGreaterOrEqual(kv.Entry{Key: key, Revision: hi}, func(e kv.Entry) bool {
		if !bytes.Equal(e.Key, key) {
			return false
		}

		return fn(e)
	})
}

func (s *snapshot) revisions(key []byte) []int64 {
	var revs []int64

	s.versions(key, math.MaxInt64, func(e kv.Entry) bool {
		revs = append(revs, e.Revision)
		return true
	})

	return revs
}

// keys calls fn with the newest version at or below bound of every key
// in [start, end). A nil end is unbounded.
func (s *snapshot) keys(start, end []byte, bound int64, fn func(kv.Entry) bool) {
	var done []byte

	s.entries.AscendGreaterOrEqual(kv.Entry{Key: start, Revision: math.MaxInt64}, func(e kv.Entry) bool {
		if end != nil && bytes.Compare(e.Key, end) >= 0 {
			return false
		}

		if (done != nil && bytes.Equal(done, e.Key)) || e.Revision > bound {
			return true
		}

		done = e.Key

		return fn(e)
	})
}

func (s *snapshot) insert(c []kv.Entry, rev int64) {
	for _, e := range c {
		e = e.Clone()
		e.Revision = rev

		if e.Tombstone {
			e.Value = nil
		} else if e.Value == nil {
			e.Value = []byte{}
		}

		s.entries.ReplaceOrInsert(e)
	}
}

func (s *snapshot) checkpoint() journal.Checkpoint {
	cp := journal.Checkpoint{
		Revision: s.head,
		Hash:     bytes.Clone(s.hash),
		Entries:  make([]kv.Entry, 0, s.entries.Len()),
		Floors:   make([]journal.Floor, 0, s.floors.Len()),
	}

	s.entries.Ascend(func(e kv.Entry) bool {
		cp.Entries = append(cp.Entries, e)
		return true
	})

	s.floors.Ascend(func(f journal.Floor) bool {
		cp.Floors = append(cp.Floors, f)
		return true
	})

	return cp
}

func snapshotFromCheckpoint(degree int, cp journal.Checkpoint) *snapshot {
	s := emptySnapshot(degree)

	for _, e := range cp.Entries {
		e = e.Clone()
		if !e.Tombstone && e.Value == nil {
			e.Value = []byte{}
		}

		s.entries.ReplaceOrInsert(e)
	}

	for _, f := range cp.Floors {
		s.floors.ReplaceOrInsert(journal.Floor{Key: bytes.Clone(f.Key), Revision: f.Revision})
	}

	s.head = cp.Revision
	s.hash = bytes.Clone(cp.Hash)

	if s.hash == nil {
		s.hash = []byte{}
	}

	return s
}
