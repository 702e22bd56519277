package composite

import (
	"bytes"
	"cmp"
	"iter"

	"github.com/reprisedb/go-reprise/kv"
)

// newestFirst orders versions of one key by descending revision.
func newestFirst(a, b kv.Entry) int {
	return cmp.Compare(b.Revision, a.Revision)
}

// byKey orders entries by ascending key.
func byKey(a, b kv.Entry) int {
	return bytes.Compare(a.Key, b.Key)
}

type cursor struct {
	next  func() (kv.Entry, error, bool)
	entry kv.Entry
	live  bool
}

func (c *cursor) advance() error {
	e, err, ok := c.next()

	switch {
	case !ok:
		c.live = false
	case err != nil:
		c.live = false
		return err
	default:
		c.entry, c.live = e, true
	}

	return nil
}

// merge lazily merges sequences that are each sorted by order. Entries that
// order as equal are duplicates: the one from the earliest sequence wins and
// the rest are skipped. Sequences are pulled only as far as the consumer
// ranges.
func merge(seqs []iter.Seq2[kv.Entry, error], order func(a, b kv.Entry) int) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		cursors := make([]*cursor, 0, len(seqs))

		for _, seq := range seqs {
			next, stop := iter.Pull2(seq)
			defer stop()

			c := &cursor{next: next, entry: kv.Entry{}, live: false}
			if err := c.advance(); err != nil {
				yield(kv.Entry{}, err)
				return
			}

			cursors = append(cursors, c)
		}

		for {
			var best *cursor

			for _, c := range cursors {
				if c.live && (best == nil || order(c.entry, best.entry) < 0) {
					best = c
				}
			}

			if best == nil {
				return
			}

			out := best.entry

			for _, c := range cursors {
				if !c.live || order(c.entry, out) != 0 {
					continue
				}

				if err := c.advance(); err != nil {
					yield(kv.Entry{}, err)
					return
				}
			}

			if !yield(out, nil) {
				return
			}
		}
	}
}
