package namer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName is matched by InvalidNameError.
	ErrInvalidName = errors.New("invalid namespace name")
	// ErrInvalidKey is matched by InvalidKeyError.
	ErrInvalidKey = errors.New("invalid namespaced key")
)

// InvalidKeyError represents an error for invalid key format.
type InvalidKeyError struct {
	Key     []byte
	Problem string
}

func (e InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid key %q: %s", e.Key, e.Problem)
}

// Unwrap returns ErrInvalidKey.
func (e InvalidKeyError) Unwrap() error {
	return ErrInvalidKey
}

func errInvalidKey(key []byte, problem string) error {
	return InvalidKeyError{
		Key:     key,
		Problem: problem,
	}
}

// InvalidNameError represents an error for invalid name format.
type InvalidNameError struct {
	Name    string
	Problem string
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Problem)
}

// Unwrap returns ErrInvalidName.
func (e InvalidNameError) Unwrap() error {
	return ErrInvalidName
}

func errInvalidName(name string, problem string) error {
	return InvalidNameError{
		Name:    name,
		Problem: problem,
	}
}
