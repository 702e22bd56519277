// Package hasher provides the digest algorithms used by the audit chain
// and archive signing.
package hasher

import (
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
)

var (
	// ErrDataIsNil is returned if the passed data is nil.
	ErrDataIsNil = errors.New("data is nil")
	// ErrUnknownHasher is returned by ByName for an unsupported algorithm.
	ErrUnknownHasher = errors.New("unknown hasher")
)

// Hasher is the interface that chain hashers must implement.
// Implementations are safe for concurrent use.
type Hasher interface {
	// Name returns the algorithm name recorded in archive headers.
	Name() string
	// Hash returns the digest of the concatenation of parts.
	Hash(parts ...[]byte) ([]byte, error)
	// Size returns the digest length in bytes.
	Size() int
}

type stdHasher struct {
	name string
	size int
	ctor func() hash.Hash
}

// NewSHA256Hasher creates a SHA-256 hasher. It is the default chain hash.
func NewSHA256Hasher() Hasher {
	return stdHasher{name: "sha256", size: sha256.Size, ctor: sha256.New}
}

// NewSHA512Hasher creates a SHA-512 hasher.
func NewSHA512Hasher() Hasher {
	return stdHasher{name: "sha512", size: sha512.Size, ctor: sha512.New}
}

// NewSHA1Hasher creates a SHA-1 hasher. It exists for compatibility
// with legacy archives only.
func NewSHA1Hasher() Hasher {
	return stdHasher{name: "sha1", size: sha1.Size, ctor: sha1.New} //nolint:gosec
}

// ByName returns the hasher registered under name.
func ByName(name string) (Hasher, error) {
	switch name {
	case "sha256", "":
		return NewSHA256Hasher(), nil
	case "sha512":
		return NewSHA512Hasher(), nil
	case "sha1":
		return NewSHA1Hasher(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
	}
}

// Name implements Hasher interface.
func (h stdHasher) Name() string {
	return h.name
}

// Size implements Hasher interface.
func (h stdHasher) Size() int {
	return h.size
}

// Hash implements Hasher interface.
func (h stdHasher) Hash(parts ...[]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, ErrDataIsNil
	}

	digest := h.ctor()

	for _, part := range parts {
		if part == nil {
			return nil, ErrDataIsNil
		}

		n, err := digest.Write(part)
		if n < len(part) || err != nil {
			return nil, fmt.Errorf("failed to write data: %w", err)
		}
	}

	return digest.Sum(nil), nil
}
