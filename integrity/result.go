package integrity

import (
	"github.com/tarantool/go-option"
)

// ValidatedResult represents a validated record.
type ValidatedResult[T any] struct {
	Name     string
	Revision int64
	Value    option.Generic[T]
	Error    error
}

// Event reports that a record changed at Revision.
type Event struct {
	Name     string
	Revision int64
	Deleted  bool
}
