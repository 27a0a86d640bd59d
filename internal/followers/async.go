package followers

import (
	"context"
	"runtime"
)

// DefaultBatchSize is the recommended async-follower batch size from
// spec §4.2.
const DefaultBatchSize = 40

// AsyncFollower runs on its own goroutine, processing accepted documents
// in batches and yielding between batches so the rest of the runtime
// stays responsive. It transitions to Sleeping once it has caught up to
// the source's current high-water mark, and wakes on every subsequent
// accepted upsert.
type AsyncFollower struct {
	name      string
	source    DocSource
	cb        Callback
	onErr     ErrorHandler
	batchSize int

	box  stateBox
	wake chan struct{}
	done chan struct{}
}

// NewAsyncFollower constructs an async follower starting at nextIndex.
// Call Start to begin its catch-up/sleep loop.
func NewAsyncFollower(name string, nextIndex int, source DocSource, cb Callback, onErr ErrorHandler) *AsyncFollower {
	if onErr == nil {
		onErr = func(error) {}
	}
	f := &AsyncFollower{
		name:      name,
		source:    source,
		cb:        cb,
		onErr:     onErr,
		batchSize: DefaultBatchSize,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	f.box.state = Sleeping
	f.box.nextIndex = nextIndex
	return f
}

func (f *AsyncFollower) Name() string { return f.name }

func (f *AsyncFollower) NextIndex() int {
	_, next := f.box.snapshot()
	return next
}

func (f *AsyncFollower) State() State {
	s, _ := f.box.snapshot()
	return s
}

// Wake notifies a sleeping follower that new documents may be
// available. Safe to call from any goroutine, including from inside an
// upsert (spec §4.2: "Each accepted upsert wakes sleeping async
// followers").
func (f *AsyncFollower) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Quit transitions the follower to Quitting. An in-flight batch
// observes the flag at its next iteration and stops without further
// callbacks (spec §4.2, §5).
func (f *AsyncFollower) Quit() {
	f.box.mu.Lock()
	f.box.state = Quitting
	f.box.mu.Unlock()
	f.Wake()
}

// Done reports a channel closed once the follower's run loop has
// exited, for callers that want to wait out a Quit.
func (f *AsyncFollower) Done() <-chan struct{} {
	return f.done
}

// Start runs the catch-up/sleep loop until ctx is cancelled or Quit is
// called. It must be called exactly once.
func (f *AsyncFollower) Start(ctx context.Context) {
	go f.run(ctx)
}

func (f *AsyncFollower) run(ctx context.Context) {
	defer close(f.done)

	for {
		if f.quitting() {
			return
		}

		progressed := f.runBatches(ctx)
		if f.quitting() {
			return
		}
		if progressed {
			continue // more might be waiting; check again before sleeping
		}

		f.setState(Sleeping)
		select {
		case <-ctx.Done():
			return
		case <-f.wake:
			if f.quitting() {
				return
			}
		}
	}
}

// runBatches drains everything currently available up to the source's
// high-water mark, yielding between batches, and reports whether it
// delivered anything.
func (f *AsyncFollower) runBatches(ctx context.Context) bool {
	delivered := false
	for {
		if f.quitting() {
			return delivered
		}
		select {
		case <-ctx.Done():
			return delivered
		default:
		}

		next := f.NextIndex()
		batch := f.source.DocsFromIndex(next, f.batchSize)
		if len(batch) == 0 {
			return delivered
		}

		f.setState(Running)
		for _, d := range batch {
			if f.quitting() {
				return delivered
			}
			evt := WriteEvent{
				Doc:      d,
				IsLatest: f.source.IsLatestAtPath(d.Path, d.LocalIndex),
			}
			if err := f.cb(evt); err != nil {
				f.onErr(err)
			}
			f.advancePast(d.LocalIndex)
		}
		delivered = true

		if len(batch) < f.batchSize {
			return delivered
		}
		runtime.Gosched() // yield between batches
	}
}

func (f *AsyncFollower) quitting() bool {
	s, _ := f.box.snapshot()
	return s == Quitting
}

func (f *AsyncFollower) setState(s State) {
	f.box.mu.Lock()
	if f.box.state != Quitting {
		f.box.state = s
	}
	f.box.mu.Unlock()
}

func (f *AsyncFollower) advancePast(localIndex int) {
	f.box.mu.Lock()
	if localIndex >= f.box.nextIndex {
		f.box.nextIndex = localIndex + 1
	}
	f.box.mu.Unlock()
}
