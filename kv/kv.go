// Package kv provides the revisioned key-value data structures shared by
// every store of the engine.
package kv

import "bytes"

// Entry is a single version of a key.
// Entries are immutable once committed: an overwrite is a new Entry at a
// higher revision, a delete is a tombstone Entry.
type Entry struct {
	// Key is the opaque key the entry belongs to.
	Key []byte
	// Revision is the commit revision that produced the entry.
	Revision int64
	// Value is the stored value, nil for tombstones.
	Value []byte
	// Tombstone marks a deletion.
	Tombstone bool
}

// Put creates a value entry without a revision, as used in writesets.
func Put(key, value []byte) Entry {
	return Entry{Key: key, Revision: 0, Value: value, Tombstone: false}
}

// Delete creates a tombstone entry without a revision, as used in writesets.
func Delete(key []byte) Entry {
	return Entry{Key: key, Revision: 0, Value: nil, Tombstone: true}
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := e
	out.Key = bytes.Clone(e.Key)

	if e.Value != nil {
		out.Value = bytes.Clone(e.Value)
	}

	return out
}

// Equal reports whether two entries describe the same version.
func (e Entry) Equal(other Entry) bool {
	return e.Revision == other.Revision &&
		e.Tombstone == other.Tombstone &&
		bytes.Equal(e.Key, other.Key) &&
		bytes.Equal(e.Value, other.Value)
}

// Less orders entries by key ascending, then by revision descending.
// This is the physical order used by revision stores.
func Less(a, b Entry) bool {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}

	return a.Revision > b.Revision
}
