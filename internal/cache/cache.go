// Package cache implements ReplicaCache, the read-through memoizer
// described in spec §4.3: it wraps a bowl's closed read API, keeps one
// entry per distinct (operation, arguments) call, and refreshes every
// held entry the moment the underlying bowl accepts a write.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/earthcask/earthcask/internal/bowl"
	"github.com/earthcask/earthcask/internal/bowlerr"
	"github.com/earthcask/earthcask/internal/doc"
	"github.com/earthcask/earthcask/internal/followers"
)

// defaultTTL is "effectively infinite" per spec §4.3; test harnesses
// override it with WithTTL to something like 10ms.
const defaultTTL = 100 * 365 * 24 * time.Hour

// Source is the subset of *bowl.Bowl the cache wraps and watches.
type Source interface {
	GetAllDocs() []doc.Document
	GetLatestDocs() []doc.Document
	GetAllDocsAtPath(path string) []doc.Document
	GetLatestDocAtPath(path string) (*doc.Document, bool)
	QueryDocs(q bowl.Query) []doc.Document

	HighestLocalIndex() int
	RegisterSyncFollower(name string, nextIndex int, cb followers.Callback, onErr followers.ErrorHandler) (*followers.SyncFollower, error)
	UnregisterFollower(f interface{ Quit() }) error
}

// Notifier is called once per cache key refreshed after a write, per
// spec §4.3 "a cacheUpdated notification per recomputation".
type Notifier func(key string)

type entry struct {
	value     any
	recompute func() any
}

// ReplicaCache is a read-through memoizer over a Source.
type ReplicaCache struct {
	mu       sync.Mutex
	source   Source
	follower *followers.SyncFollower
	version  uint64
	lru      *lru.LRU[string, entry]
	onUpdate Notifier
	closed   bool
}

// Option configures a ReplicaCache at construction.
type Option func(*ReplicaCache)

// WithTTL overrides the default effectively-infinite entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *ReplicaCache) { c.lru = lru.NewLRU[string, entry](0, nil, ttl) }
}

// WithOnUpdate registers a callback invoked once per cache key
// recomputed after a write.
func WithOnUpdate(fn Notifier) Option {
	return func(c *ReplicaCache) { c.onUpdate = fn }
}

// New wraps source. The cache registers itself as a synchronous
// follower so every accepted write bumps its version and refreshes
// whatever keys are currently held, before the triggering write call
// returns.
func New(source Source, opts ...Option) (*ReplicaCache, error) {
	c := &ReplicaCache{
		source:   source,
		lru:      lru.NewLRU[string, entry](0, nil, defaultTTL),
		onUpdate: func(string) {},
	}
	for _, opt := range opts {
		opt(c)
	}

	f, err := source.RegisterSyncFollower("replica-cache", source.HighestLocalIndex()+1, c.onWrite, func(error) {})
	if err != nil {
		return nil, err
	}
	c.follower = f
	return c, nil
}

func (c *ReplicaCache) onWrite(followers.WriteEvent) error {
	c.mu.Lock()
	c.version++
	keys := c.lru.Keys()
	stale := make(map[string]entry, len(keys))
	for _, k := range keys {
		if e, ok := c.lru.Peek(k); ok {
			stale[k] = e
		}
	}
	c.mu.Unlock()

	for k, e := range stale {
		fresh := e.recompute()
		c.mu.Lock()
		if !c.closed {
			c.lru.Add(k, entry{value: fresh, recompute: e.recompute})
		}
		c.mu.Unlock()
		c.onUpdate(k)
	}
	return nil
}

func (c *ReplicaCache) getOrCompute(key string, compute func() any) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &bowlerr.ClosedError{What: "cache"}
	}
	if e, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value := compute()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &bowlerr.ClosedError{What: "cache"}
	}
	c.lru.Add(key, entry{value: value, recompute: compute})
	return value, nil
}

// GetAllDocs is the memoized form of the bowl's getAllDocs.
func (c *ReplicaCache) GetAllDocs() ([]doc.Document, error) {
	v, err := c.getOrCompute("getAllDocs", func() any { return c.source.GetAllDocs() })
	if err != nil {
		return nil, err
	}
	return v.([]doc.Document), nil
}

// GetLatestDocs is the memoized form of the bowl's getLatestDocs.
func (c *ReplicaCache) GetLatestDocs() ([]doc.Document, error) {
	v, err := c.getOrCompute("getLatestDocs", func() any { return c.source.GetLatestDocs() })
	if err != nil {
		return nil, err
	}
	return v.([]doc.Document), nil
}

// GetAllDocsAtPath is the memoized form of the bowl's
// getAllDocsAtPath(p).
func (c *ReplicaCache) GetAllDocsAtPath(path string) ([]doc.Document, error) {
	key := "getAllDocsAtPath:" + path
	v, err := c.getOrCompute(key, func() any { return c.source.GetAllDocsAtPath(path) })
	if err != nil {
		return nil, err
	}
	return v.([]doc.Document), nil
}

type latestAtPathResult struct {
	doc *doc.Document
	ok  bool
}

// GetLatestDocAtPath is the memoized form of the bowl's
// getLatestDocAtPath(p).
func (c *ReplicaCache) GetLatestDocAtPath(path string) (*doc.Document, bool, error) {
	key := "getLatestDocAtPath:" + path
	v, err := c.getOrCompute(key, func() any {
		d, ok := c.source.GetLatestDocAtPath(path)
		return latestAtPathResult{doc: d, ok: ok}
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(latestAtPathResult)
	return r.doc, r.ok, nil
}

// QueryDocs is the memoized form of the bowl's queryDocs(q).
func (c *ReplicaCache) QueryDocs(q bowl.Query) ([]doc.Document, error) {
	key := "queryDocs:" + queryKey(q)
	v, err := c.getOrCompute(key, func() any { return c.source.QueryDocs(q) })
	if err != nil {
		return nil, err
	}
	return v.([]doc.Document), nil
}

// Version reports the number of writes this cache has observed, for
// tests that assert on invalidation behavior.
func (c *ReplicaCache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Close stops the cache's follower and discards every held entry.
// Idempotent: a second call reports a closed error.
func (c *ReplicaCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &bowlerr.ClosedError{What: "cache"}
	}
	c.closed = true
	c.lru.Purge()
	c.mu.Unlock()

	return c.source.UnregisterFollower(c.follower)
}

// queryKey renders q into a deterministic string suitable as a cache
// key. Query is a closed, JSON-tagged-free value type, so encoding/json
// gives a stable encoding without hand-rolled field enumeration.
func queryKey(q bowl.Query) string {
	b, err := json.Marshal(q)
	if err != nil {
		// Query holds only value types and pointers to strings and
		// integers; Marshal
		// cannot fail in practice. Fall back to a %+v rendering rather
		// than panicking.
		return fmt.Sprintf("%+v", q)
	}
	return string(b)
}
