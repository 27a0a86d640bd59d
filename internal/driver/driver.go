// Package driver defines the persistence contract a bowl depends on, and
// provides two implementations: an in-memory driver for tests and
// ephemeral replicas, and a modernc.org/sqlite-backed driver for durable
// shares. Spec §6 defines the contract: append-with-replace keyed by
// (path, author); iteration by local index and by path; an expiry scan;
// atomic assignment of new local indexes; and recovery of
// highestLocalIndex on open.
package driver

import "github.com/earthcask/earthcask/internal/doc"

// Driver is the uniform contract every persistence backend honors. The
// bowl is the sole owner of a Driver instance (spec §5: "The driver is
// owned exclusively by its bowl; concurrent drivers over the same
// persistent backend are undefined").
type Driver interface {
	// HighestLocalIndex returns the highest local index assigned so far:
	// the value recovered from the backing store at open time (0 if
	// empty), advanced by every Put since.
	HighestLocalIndex() int

	// Put assigns the next local index atomically, replacing any
	// existing document at (d.Path, d.Author), and persists d. It
	// returns the stored copy with LocalIndex populated.
	Put(d doc.Document) (doc.Document, error)

	// Delete removes the document stored at (path, author), if any.
	Delete(path, author string) error

	// AllByLocalIndex returns every stored document ordered by
	// LocalIndex ascending.
	AllByLocalIndex() ([]doc.Document, error)

	// AllByPath returns every stored document ordered by path order
	// (path ASC, timestamp DESC, signature DESC).
	AllByPath() ([]doc.Document, error)

	// PurgeExpired deletes every document whose DeleteAfter has passed
	// as of nowMicros, returning the count removed.
	PurgeExpired(nowMicros int64) (int, error)

	// Close releases any resources (file handles, connections) held by
	// the driver.
	Close() error
}
