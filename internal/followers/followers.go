// Package followers implements the two follower kinds described in
// spec §4.2: synchronous followers, driven inline by the bowl before
// upsert returns, and asynchronous followers, which catch up on their
// own cooperative task in batches. Both advance strictly in LocalIndex
// order and expose the sleeping/running/quitting state machine from
// spec §4.2/§5.
package followers

import (
	"fmt"
	"sync"

	"github.com/earthcask/earthcask/internal/doc"
)

// WriteEvent is what the bowl hands to every follower for each document
// it visits, whether freshly accepted or replayed during catch-up (spec
// §4.1 "broadcast a write event"). PreviousDocSameAuthor and
// PreviousLatestDoc are nil for replayed (catch-up) documents — they
// only carry meaning at the moment of original acceptance.
type WriteEvent struct {
	Doc                   doc.Document
	IsLatest              bool
	PreviousDocSameAuthor *doc.Document
	PreviousLatestDoc     *doc.Document
}

// Callback is invoked once per WriteEvent, in increasing LocalIndex
// order. It must be cheap and non-blocking for sync followers (spec
// §4.2).
type Callback func(WriteEvent) error

// ErrorHandler receives a callback failure. It is never nil in a
// constructed follower: the constructors replace a nil handler with a
// no-op.
type ErrorHandler func(error)

// State is the follower lifecycle from spec §4.2: sleeping -> running ->
// sleeping, with a terminal quitting state reached only via unsubscribe.
type State int

const (
	Sleeping State = iota
	Running
	Quitting
)

func (s State) String() string {
	switch s {
	case Sleeping:
		return "sleeping"
	case Running:
		return "running"
	case Quitting:
		return "quitting"
	default:
		return "unknown"
	}
}

// DocSource is what an async follower needs from its owning bowl: the
// current high-water mark, and a way to read accepted documents in
// LocalIndex order starting from an index. Implemented by *bowl.Bowl;
// defined here (rather than imported from bowl) so followers has no
// dependency on bowl and bowl can depend on followers instead.
type DocSource interface {
	HighestLocalIndex() int
	DocsFromIndex(startIndex, limit int) []doc.Document
	IsLatestAtPath(path string, localIndex int) bool
}

// errTransitionToRunning is a programmer error per spec §4.2: "A
// transition into running while already running is a programmer error."
func errTransitionToRunning(name string) error {
	return fmt.Errorf("follower %q: transition to running while already running", name)
}

// stateBox is the shared mutex-protected state+nextIndex pair both
// follower kinds embed.
type stateBox struct {
	mu        sync.Mutex
	state     State
	nextIndex int
}

func (b *stateBox) snapshot() (State, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.nextIndex
}
