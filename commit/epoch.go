package commit

import (
	"errors"
	"fmt"
)

// ErrStaleEpoch is the sentinel matched by StaleEpochError.
var ErrStaleEpoch = errors.New("stale epoch")

// Epoch is the fencing token of a coordinator. At most one coordinator
// assigns revisions under a given epoch ID.
type Epoch struct {
	// ID grows strictly with every coordinator takeover.
	ID uint64 `msgpack:"id"          yaml:"id"`
	// Coordinator is the identity of the node holding the epoch.
	Coordinator string `msgpack:"coordinator" yaml:"coordinator"`
}

// IsZero reports whether no epoch was ever assumed.
func (e Epoch) IsZero() bool {
	return e.ID == 0 && e.Coordinator == ""
}

// Newer reports whether e supersedes other.
func (e Epoch) Newer(other Epoch) bool {
	return e.ID > other.ID
}

func (e Epoch) String() string {
	return fmt.Sprintf("%d@%s", e.ID, e.Coordinator)
}

// StaleEpochError reports an operation attempted under a superseded epoch.
// The caller must re-discover the current coordinator.
type StaleEpochError struct {
	// Given is the epoch presented by the caller.
	Given Epoch
	// Current is the newest epoch known to the component that rejected it.
	Current Epoch
}

// Error implements error interface.
func (e *StaleEpochError) Error() string {
	return fmt.Sprintf("stale epoch %s, current is %s", e.Given, e.Current)
}

// Unwrap makes the error match ErrStaleEpoch.
func (e *StaleEpochError) Unwrap() error {
	return ErrStaleEpoch
}
