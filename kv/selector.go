package kv

import (
	"errors"
	"fmt"

	"github.com/tarantool/go-option"
)

// ErrRevisionOutOfRange is returned when a selector names a revision that
// is not positive or lies beyond the visible head.
var ErrRevisionOutOfRange = errors.New("revision out of range")

// SelectorKind tells how a selector picks a version.
type SelectorKind int

const (
	// SelectLatest picks the newest version.
	SelectLatest SelectorKind = iota
	// SelectAsOf picks the newest version at or before a revision.
	SelectAsOf
	// SelectExact picks the version written exactly at a revision.
	SelectExact
)

func (k SelectorKind) String() string {
	switch k {
	case SelectLatest:
		return "Latest"
	case SelectAsOf:
		return "AsOf"
	case SelectExact:
		return "Exact"
	default:
		return "Unknown"
	}
}

// Selector chooses which version of a key a read returns.
type Selector struct {
	kind     SelectorKind
	revision option.Generic[int64]
}

// Latest selects the newest version of a key.
func Latest() Selector {
	return Selector{kind: SelectLatest, revision: option.None[int64]()}
}

// AsOf selects the version visible at revision r.
func AsOf(r int64) Selector {
	return Selector{kind: SelectAsOf, revision: option.Some(r)}
}

// Exact selects the version committed exactly at revision r.
func Exact(r int64) Selector {
	return Selector{kind: SelectExact, revision: option.Some(r)}
}

// Kind returns the selector kind.
func (s Selector) Kind() SelectorKind {
	return s.kind
}

// Revision returns the revision bound of the selector, if any.
func (s Selector) Revision() (int64, bool) {
	return s.revision.Get()
}

// Bound returns the highest revision the selector may observe when the
// visible head is head.
func (s Selector) Bound(head int64) int64 {
	return s.revision.UnwrapOr(head)
}

// Validate checks the selector against the visible head.
func (s Selector) Validate(head int64) error {
	r, ok := s.revision.Get()
	if !ok {
		return nil
	}

	if r <= 0 || r > head {
		return fmt.Errorf("%w: %s(%d), head is %d", ErrRevisionOutOfRange, s.kind, r, head)
	}

	return nil
}

func (s Selector) String() string {
	if r, ok := s.revision.Get(); ok {
		return fmt.Sprintf("%s(%d)", s.kind, r)
	}

	return s.kind.String()
}
