package coordinator

// TxnState is the lifecycle state of a transaction as driven by its owner.
//
//	Open -> Validating -> Committed
//	Open -> Validating -> Conflicted -> Rectified -> Validating ...
//	                                 -> Aborted
type TxnState int

const (
	// StateOpen accepts reads and writes.
	StateOpen TxnState = iota
	// StateValidating is submitted to Prepare.
	StateValidating
	// StateCommitted has a durable revision.
	StateCommitted
	// StateConflicted failed optimistic validation and awaits Rectify or Abort.
	StateConflicted
	// StateRectified was rebased onto a newer snapshot and is about to be
	// validated again.
	StateRectified
	// StateAborted is final; nothing was committed.
	StateAborted
)

func (s TxnState) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateValidating:
		return "Validating"
	case StateCommitted:
		return "Committed"
	case StateConflicted:
		return "Conflicted"
	case StateRectified:
		return "Rectified"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

var transitions = map[TxnState][]TxnState{ //nolint:gochecknoglobals
	StateOpen:       {StateValidating, StateAborted},
	StateValidating: {StateCommitted, StateConflicted, StateAborted},
	StateConflicted: {StateRectified, StateAborted},
	StateRectified:  {StateValidating, StateConflicted, StateAborted},
}

// CanTransition reports whether a transaction may move from s to next.
func (s TxnState) CanTransition(next TxnState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Final reports whether no further transition is possible.
func (s TxnState) Final() bool {
	return s == StateCommitted || s == StateAborted
}
