package bowl

import (
	"context"

	"github.com/earthcask/earthcask/internal/followers"
)

// dispatch delivers evt to every sync follower inline (before Upsert
// returns, spec §4.2) and wakes every async follower so its own task
// picks the new document up.
func (b *Bowl) dispatch(evt WriteEvent, syncF []*followers.SyncFollower, asyncF []*followers.AsyncFollower) {
	for _, f := range syncF {
		f.Deliver(evt)
	}
	for _, f := range asyncF {
		f.Wake()
	}
}

// RegisterSyncFollower registers a synchronous follower starting at
// nextIndex. Per spec §4.2, every retained document with LocalIndex >=
// nextIndex is delivered to cb before this call returns.
func (b *Bowl) RegisterSyncFollower(name string, nextIndex int, cb followers.Callback, onErr followers.ErrorHandler) (*followers.SyncFollower, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	f := followers.NewSyncFollower(name, nextIndex, cb, onErr)

	b.mu.Lock()
	backlog := b.catchUpLocked(nextIndex)
	b.syncFollowers = append(b.syncFollowers, f)
	b.mu.Unlock()

	for _, evt := range backlog {
		f.Deliver(evt)
	}
	return f, nil
}

// RegisterAsyncFollower registers an asynchronous follower starting at
// nextIndex and starts its catch-up/sleep task.
func (b *Bowl) RegisterAsyncFollower(ctx context.Context, name string, nextIndex int, cb followers.Callback, onErr followers.ErrorHandler) (*followers.AsyncFollower, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	f := followers.NewAsyncFollower(name, nextIndex, b, cb, onErr)

	b.mu.Lock()
	b.asyncFollowers = append(b.asyncFollowers, f)
	b.mu.Unlock()

	f.Start(ctx)
	return f, nil
}

// UnregisterFollower transitions f to quitting. Accepts either follower
// kind.
func (b *Bowl) UnregisterFollower(f interface{ Quit() }) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	f.Quit()
	return nil
}

// catchUpLocked builds the ordered backlog of write events for
// documents with LocalIndex >= nextIndex. Callers must hold b.mu.
func (b *Bowl) catchUpLocked(nextIndex int) []WriteEvent {
	var evts []WriteEvent
	for idx := nextIndex; idx <= b.highestLocalIndex; idx++ {
		d, ok := b.byLocalIndex[idx]
		if !ok {
			continue
		}
		seq := b.byPath[d.Path]
		isLatest := len(seq) > 0 && seq[0] == d
		evts = append(evts, WriteEvent{Doc: *d, IsLatest: isLatest})
	}
	return evts
}
