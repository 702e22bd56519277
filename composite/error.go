package composite

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMembers is returned by New without members.
	ErrNoMembers = errors.New("composite store needs at least one member")
	// ErrNoPrimary is returned by Apply when no member accepts writes.
	ErrNoPrimary = errors.New("composite store has no primary")
	// ErrNotWriter is returned when the primary member cannot apply commits.
	ErrNotWriter = errors.New("member does not accept writes")
)

// MemberError reports a misconfigured or failing member.
type MemberError struct {
	Member string
	parent error
}

func errMember(name string, parent error) error {
	return &MemberError{Member: name, parent: parent}
}

// Error implements error interface.
func (e *MemberError) Error() string {
	return fmt.Sprintf("member %q: %s", e.Member, e.parent)
}

// Unwrap returns the member failure.
func (e *MemberError) Unwrap() error {
	return e.parent
}
