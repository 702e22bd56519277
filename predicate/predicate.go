// Package predicate provides types and interfaces for conditional operations.
// It defines predicate logic used in transactional conditional execution.
package predicate

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"

	"github.com/tarantool/go-option"

	"github.com/reprisedb/go-reprise/kv"
)

// ErrInvalidValueType is returned when a predicate value has a type the
// target cannot be compared with.
var ErrInvalidValueType = errors.New("invalid predicate value type")

// Predicate represents a condition used for conditional operations.
// Predicates are used in transactions to specify conditions for execution.
type Predicate interface {
	// Key returns the key that this predicate applies to.
	Key() []byte
	// Operation returns the comparison operation (Equal, NotEqual, Greater, Less).
	Operation() Op
	// Target returns what aspect of the key to compare (Version, Value).
	Target() Target
	// Value returns the comparison value for the predicate.
	Value() any
}

type predicate struct {
	key    []byte
	op     Op
	target Target
	value  any
}

func (p predicate) Key() []byte    { return p.key }
func (p predicate) Operation() Op  { return p.op }
func (p predicate) Target() Target { return p.target }
func (p predicate) Value() any     { return p.value }

// ValueEqual holds when the value of key equals value, a []byte or string.
func ValueEqual(key []byte, value any) Predicate {
	return predicate{key: key, op: OpEqual, target: TargetValue, value: value}
}

// ValueNotEqual holds when key is absent or its value differs from value.
func ValueNotEqual(key []byte, value any) Predicate {
	return predicate{key: key, op: OpNotEqual, target: TargetValue, value: value}
}

// VersionEqual holds when the newest revision of key equals version.
// An absent key has version 0.
func VersionEqual(key []byte, version int64) Predicate {
	return predicate{key: key, op: OpEqual, target: TargetVersion, value: version}
}

// VersionNotEqual holds when the newest revision of key differs from version.
func VersionNotEqual(key []byte, version int64) Predicate {
	return predicate{key: key, op: OpNotEqual, target: TargetVersion, value: version}
}

// VersionGreater holds when the newest revision of key is above version.
func VersionGreater(key []byte, version int64) Predicate {
	return predicate{key: key, op: OpGreater, target: TargetVersion, value: version}
}

// VersionLess holds when the newest revision of key is below version.
func VersionLess(key []byte, version int64) Predicate {
	return predicate{key: key, op: OpLess, target: TargetVersion, value: version}
}

// Evaluate checks p against the current live version of its key, None when
// the key is absent or deleted.
func Evaluate(p Predicate, current option.Generic[kv.Entry]) (bool, error) {
	e, live := current.Get()

	switch p.Target() {
	case TargetVersion:
		version, ok := p.Value().(int64)
		if !ok {
			return false, fmt.Errorf("%w: %T for %s", ErrInvalidValueType, p.Value(), p.Target())
		}

		var revision int64
		if live {
			revision = e.Revision
		}

		return p.Operation().holds(cmp.Compare(revision, version)), nil
	case TargetValue:
		var expected []byte

		switch v := p.Value().(type) {
		case []byte:
			expected = v
		case string:
			expected = []byte(v)
		default:
			return false, fmt.Errorf("%w: %T for %s", ErrInvalidValueType, p.Value(), p.Target())
		}

		if !live {
			return p.Operation() == OpNotEqual, nil
		}

		return p.Operation().holds(bytes.Compare(e.Value, expected)), nil
	default:
		return false, fmt.Errorf("unknown predicate target %s", p.Target())
	}
}
