package reprise

import (
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/kv"
)

// rangeOptions contains configuration options for range operations.
type rangeOptions struct {
	start    []byte      // Inclusive lower key bound.
	end      []byte      // Exclusive upper key bound, nil is unbounded.
	limit    int         // Maximum number of results to return.
	selector kv.Selector // Revision the range is read at.
}

// RangeOption is a function that configures range operation options.
type RangeOption = options.OptionCallback[rangeOptions]

func defaultRangeOptions() rangeOptions {
	return rangeOptions{start: nil, end: nil, limit: 0, selector: kv.Latest()}
}

// WithPrefix configures a range operation to filter keys by the specified prefix.
func WithPrefix(prefix []byte) RangeOption {
	return func(opts *rangeOptions) {
		opts.start = prefix
		opts.end = prefixEnd(prefix)
	}
}

// WithKeyRange limits a range operation to keys in [start, end).
func WithKeyRange(start, end []byte) RangeOption {
	return func(opts *rangeOptions) {
		opts.start = start
		opts.end = end
	}
}

// WithLimit configures a range operation to limit the number of results returned.
func WithLimit(limit int) RangeOption {
	return func(opts *rangeOptions) {
		opts.limit = limit
	}
}

// WithSelector reads the range at the revision chosen by sel.
// Exact selectors are treated as AsOf.
func WithSelector(sel kv.Selector) RangeOption {
	return func(opts *rangeOptions) {
		opts.selector = sel
	}
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)

	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}

	return nil
}
