// Package auth defines the authorization hook the engine calls before every
// read and write. Policy evaluation lives outside the engine.
package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrForbidden is the sentinel matched by ForbiddenError.
var ErrForbidden = errors.New("forbidden")

// Op is the kind of access being authorized.
type Op int

const (
	// OpRead covers every read of a key.
	OpRead Op = iota
	// OpWrite covers puts and deletes.
	OpWrite
	// OpAdmin covers administrative operations such as rollback and compaction.
	OpAdmin
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpAdmin:
		return "Admin"
	default:
		return "Unknown"
	}
}

// Principal identifies the caller on whose behalf an operation runs.
type Principal struct {
	// Name is the principal identity.
	Name string
	// Roles are free-form attributes consulted by authorizers.
	Roles []string
}

// Anonymous is the principal used when the context carries none.
var Anonymous = Principal{Name: "anonymous", Roles: nil} //nolint:gochecknoglobals

// Authorizer decides whether principal may perform op on key.
// A non-nil error denies the operation.
type Authorizer interface {
	Authorize(ctx context.Context, op Op, key []byte, principal Principal) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, op Op, key []byte, principal Principal) error

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, op Op, key []byte, principal Principal) error {
	return f(ctx, op, key, principal)
}

// AllowAll returns an authorizer that permits everything.
func AllowAll() Authorizer {
	return AuthorizerFunc(func(context.Context, Op, []byte, Principal) error { return nil })
}

// ForbiddenError reports a denied operation. It is surfaced to the caller
// and never retried.
type ForbiddenError struct {
	Op        Op
	Key       []byte
	Principal string
	parent    error
}

// Error implements error interface.
func (e *ForbiddenError) Error() string {
	msg := fmt.Sprintf("forbidden: %s on %q for %q", e.Op, e.Key, e.Principal)
	if e.parent != nil && !errors.Is(e.parent, ErrForbidden) {
		msg += ": " + e.parent.Error()
	}

	return msg
}

// Unwrap returns the authorizer's reason together with ErrForbidden.
func (e *ForbiddenError) Unwrap() []error {
	if e.parent == nil {
		return []error{ErrForbidden}
	}

	return []error{ErrForbidden, e.parent}
}

// Check runs the authorizer for the principal carried by ctx and wraps a
// denial into *ForbiddenError.
func Check(ctx context.Context, a Authorizer, op Op, key []byte) error {
	if a == nil {
		return nil
	}

	principal := PrincipalFrom(ctx)

	if err := a.Authorize(ctx, op, key, principal); err != nil {
		var forbidden *ForbiddenError
		if errors.As(err, &forbidden) {
			return err
		}

		return &ForbiddenError{Op: op, Key: key, Principal: principal.Name, parent: err}
	}

	return nil
}

// CheckAll authorizes op on every key, stopping at the first denial.
func CheckAll(ctx context.Context, a Authorizer, op Op, keys [][]byte) error {
	for _, key := range keys {
		if err := Check(ctx, a, op, key); err != nil {
			return err
		}
	}

	return nil
}
