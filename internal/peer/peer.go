// Package peer implements the Peer from spec §4.4: a collection of
// Replicas (bowls) indexed by share address, identified by a stable
// peerId used during the sync handshake.
package peer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/earthcask/earthcask/internal/bowl"
	"github.com/earthcask/earthcask/internal/bowlerr"
)

// Peer owns a set of bowls, one per share address it participates in.
type Peer struct {
	mu       sync.RWMutex
	id       string
	replicas map[string]*bowl.Bowl
	onChange []func()
	closed   bool
}

// Option configures a Peer at construction.
type Option func(*Peer)

// WithID overrides the generated peerId. Tests use this for
// deterministic handshake fixtures.
func WithID(id string) Option {
	return func(p *Peer) { p.id = id }
}

// New constructs an empty Peer with a random peerId.
func New(opts ...Option) *Peer {
	p := &Peer{
		id:       uuid.NewString(),
		replicas: make(map[string]*bowl.Bowl),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns this peer's stable peerId.
func (p *Peer) ID() string { return p.id }

// AddReplica registers b under shareAddr and notifies every OnChange
// hook so attached syncers re-negotiate common shares (spec §4.4).
func (p *Peer) AddReplica(shareAddr string, b *bowl.Bowl) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &bowlerr.ClosedError{What: "peer"}
	}
	if _, exists := p.replicas[shareAddr]; exists {
		p.mu.Unlock()
		return fmt.Errorf("peer: replica for %s is already registered", shareAddr)
	}
	p.replicas[shareAddr] = b
	hooks := append([]func(){}, p.onChange...)
	p.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	return nil
}

// RemoveReplica unregisters the replica for shareAddr and notifies
// every OnChange hook. It does not close the underlying bowl; the
// caller retains ownership of it.
func (p *Peer) RemoveReplica(shareAddr string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &bowlerr.ClosedError{What: "peer"}
	}
	if _, exists := p.replicas[shareAddr]; !exists {
		p.mu.Unlock()
		return fmt.Errorf("peer: no replica registered for %s", shareAddr)
	}
	delete(p.replicas, shareAddr)
	hooks := append([]func(){}, p.onChange...)
	p.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	return nil
}

// Replica returns the bowl registered for shareAddr, if any.
func (p *Peer) Replica(shareAddr string) (*bowl.Bowl, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.replicas[shareAddr]
	return b, ok
}

// Shares returns every share address this peer currently replicates.
func (p *Peer) Shares() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.replicas))
	for addr := range p.replicas {
		out = append(out, addr)
	}
	return out
}

// OnChange registers fn to run after every AddReplica/RemoveReplica.
// SyncCoordinator uses this to re-run saltedHandshake and spawn or tear
// down SyncSessions for the shares that changed.
func (p *Peer) OnChange(fn func()) {
	p.mu.Lock()
	p.onChange = append(p.onChange, fn)
	p.mu.Unlock()
}

// Close closes every replica this peer owns, aggregating failures, and
// marks the peer itself closed. Idempotent: a second call reports a
// closed error.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &bowlerr.ClosedError{What: "peer"}
	}
	p.closed = true
	replicas := make([]*bowl.Bowl, 0, len(p.replicas))
	for _, b := range p.replicas {
		replicas = append(replicas, b)
	}
	p.mu.Unlock()

	var result *multierror.Error
	for _, b := range replicas {
		if err := b.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
