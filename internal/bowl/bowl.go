// Package bowl implements the per-share document store: the ordered,
// indexed, append-projecting state machine described in spec §4.1. It
// enforces the write/upsert rules, runs the closed query engine, and
// drives the follower subsystem (package followers) on every accepted
// document.
package bowl

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/earthcask/earthcask/internal/bowlerr"
	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/doc"
	"github.com/earthcask/earthcask/internal/driver"
	"github.com/earthcask/earthcask/internal/followers"
	"github.com/earthcask/earthcask/internal/validate"
)

// UpsertResult classifies the outcome of an upsert, per spec §4.1.
type UpsertResult int

const (
	Invalid UpsertResult = iota
	Obsolete
	AlreadyHadIt
	AcceptedButNotLatest
	AcceptedAndLatest
)

func (r UpsertResult) String() string {
	switch r {
	case Invalid:
		return "Invalid"
	case Obsolete:
		return "Obsolete"
	case AlreadyHadIt:
		return "AlreadyHadIt"
	case AcceptedButNotLatest:
		return "AcceptedButNotLatest"
	case AcceptedAndLatest:
		return "AcceptedAndLatest"
	default:
		return "Unknown"
	}
}

// WriteEvent is re-exported so callers of bowl don't need to import
// followers directly.
type WriteEvent = followers.WriteEvent

// expirySweepInterval is the recurring-sweep period from spec §4.1.
const expirySweepInterval = time.Hour

type pathAuthorKey struct {
	path   string
	author string
}

// Bowl is the in-memory state machine over a Driver for one share.
type Bowl struct {
	mu sync.Mutex

	shareAddr string
	drv       driver.Driver
	validator validate.Validator
	cryptoSvc crypto.Service
	now       func() int64 // now_micros(), injected for tests
	logger    *zap.SugaredLogger

	byLocalIndex map[int]*doc.Document
	byPathAuthor map[pathAuthorKey]*doc.Document
	byPath       map[string][]*doc.Document // newest-first, per spec I3

	highestLocalIndex int

	syncFollowers  []*followers.SyncFollower
	asyncFollowers []*followers.AsyncFollower

	sweepStop chan struct{}
	sweepDone chan struct{}
	closed    bool
}

// Option configures a Bowl at construction.
type Option func(*Bowl)

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Bowl) { b.logger = l }
}

// WithClock overrides now_micros(); defaults to time.Now in
// microseconds. Tests inject a controllable clock here.
func WithClock(now func() int64) Option {
	return func(b *Bowl) { b.now = now }
}

// WithValidator overrides the default path/address/document validator.
func WithValidator(v validate.Validator) Option {
	return func(b *Bowl) { b.validator = v }
}

// WithCrypto overrides the default crypto service.
func WithCrypto(c crypto.Service) Option {
	return func(b *Bowl) { b.cryptoSvc = c }
}

// Open constructs a Bowl over drv for shareAddr, replaying the driver's
// contents into memory, purging anything already expired (spec I5), and
// scheduling the recurring expiry sweep.
func Open(shareAddr string, drv driver.Driver, opts ...Option) (*Bowl, error) {
	b := &Bowl{
		shareAddr:    shareAddr,
		drv:          drv,
		validator:    validate.NewDefault(),
		cryptoSvc:    crypto.NewService(),
		now:          nowMicros,
		logger:       zap.NewNop().Sugar(),
		byLocalIndex: make(map[int]*doc.Document),
		byPathAuthor: make(map[pathAuthorKey]*doc.Document),
		byPath:       make(map[string][]*doc.Document),
		sweepStop:    make(chan struct{}),
		sweepDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	if _, err := drv.PurgeExpired(b.now()); err != nil {
		return nil, &bowlerr.DriverError{Op: "PurgeExpired", Err: err}
	}

	docs, err := drv.AllByLocalIndex()
	if err != nil {
		return nil, &bowlerr.DriverError{Op: "AllByLocalIndex", Err: err}
	}
	for i := range docs {
		d := docs[i]
		b.indexDocument(&d)
		if d.LocalIndex > b.highestLocalIndex {
			b.highestLocalIndex = d.LocalIndex
		}
	}
	if hi := drv.HighestLocalIndex(); hi > b.highestLocalIndex {
		b.highestLocalIndex = hi
	}

	go b.sweepLoop()

	return b, nil
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}

// indexDocument inserts d into all three in-memory indexes without
// touching the driver; used by Open while rebuilding from the driver and
// by Upsert after drv.Put has stored d.
func (b *Bowl) indexDocument(d *doc.Document) {
	key := pathAuthorKey{d.Path, d.Author}
	b.byPathAuthor[key] = d
	b.byLocalIndex[d.LocalIndex] = d
	b.byPath[d.Path] = insertSorted(b.byPath[d.Path], d)
}

func insertSorted(seq []*doc.Document, d *doc.Document) []*doc.Document {
	idx := sort.Search(len(seq), func(i int) bool {
		return doc.PathOrderLess(d, seq[i]) || !doc.PathOrderLess(seq[i], d)
	})
	seq = append(seq, nil)
	copy(seq[idx+1:], seq[idx:])
	seq[idx] = d
	return seq
}

func removeFromSeq(seq []*doc.Document, d *doc.Document) []*doc.Document {
	for i, cur := range seq {
		if cur == d {
			return append(seq[:i], seq[i+1:]...)
		}
	}
	return seq
}

// ShareAddress returns the address of the share this bowl backs.
func (b *Bowl) ShareAddress() string { return b.shareAddr }

// HighestLocalIndex implements followers.DocSource.
func (b *Bowl) HighestLocalIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.highestLocalIndex
}

// DocsFromIndex implements followers.DocSource: returns up to limit
// retained documents with LocalIndex >= startIndex, ascending.
func (b *Bowl) DocsFromIndex(startIndex, limit int) []doc.Document {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []doc.Document
	for idx := startIndex; idx <= b.highestLocalIndex && len(out) < limit; idx++ {
		if d, ok := b.byLocalIndex[idx]; ok {
			out = append(out, *d)
		}
	}
	return out
}

// IsLatestAtPath implements followers.DocSource.
func (b *Bowl) IsLatestAtPath(path string, localIndex int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.byPath[path]
	return len(seq) > 0 && seq[0].LocalIndex == localIndex
}

// Close stops the expiry sweep and marks every registered follower
// quitting (spec §4.5: "Stops all sessions, marks followers quitting").
func (b *Bowl) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &bowlerr.ClosedError{What: "bowl"}
	}
	b.closed = true
	syncF := append([]*followers.SyncFollower(nil), b.syncFollowers...)
	asyncF := append([]*followers.AsyncFollower(nil), b.asyncFollowers...)
	b.mu.Unlock()

	close(b.sweepStop)
	<-b.sweepDone

	for _, f := range syncF {
		f.Quit()
	}
	for _, f := range asyncF {
		f.Quit()
	}
	return b.drv.Close()
}

func (b *Bowl) checkOpen() error {
	if b.closed {
		return &bowlerr.ClosedError{What: "bowl"}
	}
	return nil
}

func (b *Bowl) sweepLoop() {
	defer close(b.sweepDone)
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.sweepStop:
			return
		case <-ticker.C:
			if err := b.sweepExpired(); err != nil {
				b.logger.Warnw("expiry sweep failed", "share", b.shareAddr, "error", err)
			}
		}
	}
}

func (b *Bowl) sweepExpired() error {
	b.mu.Lock()
	now := b.now()
	var expired []*doc.Document
	for _, d := range b.byLocalIndex {
		if d.Expired(now) {
			expired = append(expired, d)
		}
	}
	for _, d := range expired {
		b.removeDocLocked(d)
	}
	b.mu.Unlock()

	for _, d := range expired {
		if err := b.drv.Delete(d.Path, d.Author); err != nil {
			return fmt.Errorf("delete expired %s@%s: %w", d.Path, d.Author, err)
		}
	}
	return nil
}

// removeDocLocked removes d from all three in-memory indexes. Callers
// must hold b.mu.
func (b *Bowl) removeDocLocked(d *doc.Document) {
	key := pathAuthorKey{d.Path, d.Author}
	if cur, ok := b.byPathAuthor[key]; ok && cur == d {
		delete(b.byPathAuthor, key)
	}
	if cur, ok := b.byLocalIndex[d.LocalIndex]; ok && cur == d {
		delete(b.byLocalIndex, d.LocalIndex)
	}
	b.byPath[d.Path] = removeFromSeq(b.byPath[d.Path], d)
	if len(b.byPath[d.Path]) == 0 {
		delete(b.byPath, d.Path)
	}
}
