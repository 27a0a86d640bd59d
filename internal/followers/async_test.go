package followers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/earthcask/earthcask/internal/doc"
)

// fakeSource is an in-memory DocSource good enough to drive the
// async follower's catch-up/sleep loop in tests.
type fakeSource struct {
	mu   sync.Mutex
	docs []doc.Document
}

func (s *fakeSource) add(localIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc.Document{Path: "/x", LocalIndex: localIndex})
}

func (s *fakeSource) HighestLocalIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.docs) == 0 {
		return 0
	}
	return s.docs[len(s.docs)-1].LocalIndex
}

func (s *fakeSource) DocsFromIndex(startIndex, limit int) []doc.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []doc.Document
	for _, d := range s.docs {
		if d.LocalIndex >= startIndex {
			out = append(out, d)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func (s *fakeSource) IsLatestAtPath(path string, localIndex int) bool {
	return true
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAsyncFollowerCatchesUpAndSleeps(t *testing.T) {
	src := &fakeSource{}
	src.add(1)
	src.add(2)

	var mu sync.Mutex
	var delivered []int
	f := NewAsyncFollower("test", 1, src, func(evt WriteEvent) error {
		mu.Lock()
		delivered = append(delivered, evt.Doc.LocalIndex)
		mu.Unlock()
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	})
	waitFor(t, time.Second, func() bool { return f.State() == Sleeping })
}

func TestAsyncFollowerWakesOnNewDoc(t *testing.T) {
	src := &fakeSource{}
	src.add(1)

	var mu sync.Mutex
	var delivered []int
	f := NewAsyncFollower("test", 1, src, func(evt WriteEvent) error {
		mu.Lock()
		delivered = append(delivered, evt.Doc.LocalIndex)
		mu.Unlock()
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	})

	src.add(2)
	f.Wake()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	})
}

func TestAsyncFollowerQuitStopsLoop(t *testing.T) {
	src := &fakeSource{}
	f := NewAsyncFollower("test", 1, src, func(WriteEvent) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	waitFor(t, time.Second, func() bool { return f.State() == Sleeping })
	f.Quit()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() channel never closed after Quit")
	}
	assert.Equal(t, Quitting, f.State())
}
