package integrity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get for a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidName is returned for record names that cannot form a key.
	ErrInvalidName = errors.New("invalid name")
	// ErrPredicateFailed is returned by Put or Delete when predicates are
	// specified and do not hold. Use [WithPutPredicates] or
	// [WithDeletePredicates] to specify predicates.
	ErrPredicateFailed = errors.New("predicate check failed")
	// ErrHasherNotFound is matched by validation errors for a hash with no
	// configured hasher.
	ErrHasherNotFound = errors.New("hasher not found")
	// ErrHashMismatch is matched by validation errors for a wrong hash.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrSignatureFailed is matched by validation errors for a missing or
	// invalid signature.
	ErrSignatureFailed = errors.New("signature verification failed")
)

// SealError reports a failure to build the envelope of a record.
type SealError struct {
	Stage  string
	parent error
}

func errSeal(stage string, parent error) error {
	return SealError{Stage: stage, parent: parent}
}

// Error returns a string representation of the seal error.
func (e SealError) Error() string {
	if e.parent == nil {
		return "failed to " + e.Stage
	}

	return fmt.Sprintf("failed to %s: %s", e.Stage, e.parent)
}

// Unwrap returns the underlying error.
func (e SealError) Unwrap() error {
	return e.parent
}

// ValidationError represents a single failed check of a record.
type ValidationError struct {
	text   string
	parent error
}

// Error returns a string representation of the validation error.
func (e ValidationError) Error() string {
	if e.parent == nil {
		return e.text
	}

	return fmt.Sprintf("%s: %s", e.text, e.parent)
}

// Unwrap returns the underlying error.
func (e ValidationError) Unwrap() error {
	return e.parent
}

func errHashMissing(name string) error {
	return ValidationError{
		text:   fmt.Sprintf("hash %q not verified (missing)", name),
		parent: ErrHasherNotFound,
	}
}

func errHashMismatch(name string, expected, got []byte) error {
	return ValidationError{
		text:   fmt.Sprintf("hash mismatch for %q", name),
		parent: hashMismatchDetailError{expected: expected, got: got},
	}
}

type hashMismatchDetailError struct {
	expected []byte
	got      []byte
}

func (h hashMismatchDetailError) Error() string {
	return fmt.Sprintf("expected %s, got %s", hex.EncodeToString(h.expected), hex.EncodeToString(h.got))
}

func (h hashMismatchDetailError) Unwrap() error {
	return ErrHashMismatch
}

func errFailedToHash(name string, parent error) error {
	return ValidationError{
		text:   fmt.Sprintf("failed to calculate hash %q", name),
		parent: parent,
	}
}

func errSignatureMissing(name string) error {
	return ValidationError{
		text:   fmt.Sprintf("signature %q not verified (missing)", name),
		parent: ErrSignatureFailed,
	}
}

func errSignatureInvalid(name string, parent error) error {
	return ValidationError{
		text:   fmt.Sprintf("signature verification failed for %q", name),
		parent: errors.Join(ErrSignatureFailed, parent),
	}
}

func errFailedToDecode(parent error) error {
	return ValidationError{
		text:   "failed to decode record",
		parent: parent,
	}
}

// AggregatedError collects every failed check of a record.
type AggregatedError struct {
	parent []error
}

// Unwrap returns the collected errors.
func (e *AggregatedError) Unwrap() []error {
	return e.parent
}

// Append adds err unless it is nil.
func (e *AggregatedError) Append(err error) {
	if err != nil {
		e.parent = append(e.parent, err)
	}
}

// Error returns a string representation of the aggregated error.
func (e *AggregatedError) Error() string {
	switch len(e.parent) {
	case 0:
		return ""
	case 1:
		return e.parent[0].Error()
	default:
		parts := make([]string, 0, len(e.parent))
		for _, p := range e.parent {
			parts = append(parts, p.Error())
		}

		return "aggregated error: " + strings.Join(parts, ", ")
	}
}

// Finalize returns nil without errors, the only error, or e itself.
func (e *AggregatedError) Finalize() error {
	switch len(e.parent) {
	case 0:
		return nil
	case 1:
		return e.parent[0]
	default:
		return e
	}
}
