package tx

import "github.com/reprisedb/go-reprise/kv"

// RequestResponse represents the response for an individual transaction operation.
type RequestResponse struct {
	// Values holds the entries read by a Get, empty for writes.
	Values []kv.Entry
}

// Response contains the result of a transaction execution.
type Response struct {
	// Succeeded indicates whether the transaction predicates evaluated to true.
	Succeeded bool
	// Revision is the revision the writes were committed at, or the snapshot
	// the transaction read when the chosen branch wrote nothing.
	Revision int64
	// Results contains the responses for each operation of the chosen branch.
	Results []RequestResponse
}
