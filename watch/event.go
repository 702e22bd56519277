// Package watch provides change notification for committed keys.
package watch

// Event reports that key changed at revision.
type Event struct {
	// Key is the changed key.
	Key []byte
	// Revision is the commit revision of the change.
	Revision int64
	// Tombstone is set when the change deleted the key.
	Tombstone bool
}
