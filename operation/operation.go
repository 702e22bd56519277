// Package operation provides the operations a conditional transaction
// executes in its Then and Else branches.
package operation

import (
	"github.com/tarantool/go-option"

	"github.com/reprisedb/go-reprise/kv"
)

// Option configures an operation.
type Option struct {
	prefix   bool
	selector option.Generic[kv.Selector]
}

// WithPrefix makes a Get or Delete apply to every key starting with the
// operation key.
func WithPrefix() Option {
	return Option{prefix: true, selector: option.None[kv.Selector]()}
}

// WithSelector makes a Get read the version chosen by sel instead of the
// transaction snapshot. Such reads are not validated at commit.
func WithSelector(sel kv.Selector) Option {
	return Option{prefix: false, selector: option.Some(sel)}
}

// Operation represents a storage operation to be executed.
// This is used within transactions and other operation contexts.
type Operation struct {
	typ     Type
	key     []byte
	value   []byte
	options []Option
}

// Get reads key.
func Get(key []byte, opts ...Option) Operation {
	return Operation{typ: TypeGet, key: key, value: nil, options: opts}
}

// Put writes value to key.
func Put(key, value []byte, opts ...Option) Operation {
	return Operation{typ: TypePut, key: key, value: value, options: opts}
}

// Delete removes key.
func Delete(key []byte, opts ...Option) Operation {
	return Operation{typ: TypeDelete, key: key, value: nil, options: opts}
}

// Type returns the operation type.
func (o Operation) Type() Type {
	return o.typ
}

// Key returns the target key.
func (o Operation) Key() []byte {
	return o.key
}

// Value returns the data for put operations, nil for get and delete.
func (o Operation) Value() []byte {
	return o.value
}

// Options returns the options the operation was built with.
func (o Operation) Options() []Option {
	return o.options
}

// IsPrefix reports whether the operation applies to a key prefix.
func (o Operation) IsPrefix() bool {
	for _, opt := range o.options {
		if opt.prefix {
			return true
		}
	}

	return false
}

// Selector returns the selector of a Get, if one was given.
func (o Operation) Selector() option.Generic[kv.Selector] {
	for _, opt := range o.options {
		if opt.selector.IsSome() {
			return opt.selector
		}
	}

	return option.None[kv.Selector]()
}
