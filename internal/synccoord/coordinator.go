package synccoord

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/earthcask/earthcask/internal/bowlerr"
	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/peer"
	"github.com/earthcask/earthcask/internal/rpc"
)

// Coordinator is the SyncCoordinator from spec §4.5: constructed over a
// Peer and an established duplex RPC connection (here, a rpc.Bag), it
// negotiates the set of shares both sides replicate and runs one
// session per common share. Per spec §4.4, adding or removing a
// replica on the attached Peer re-negotiates the common-share set and
// spawns or tears down sessions accordingly, for as long as the
// coordinator is running.
type Coordinator struct {
	p      *peer.Peer
	bag    rpc.Bag
	hasher crypto.Hasher
	logger *zap.SugaredLogger

	mu             sync.Mutex
	started        bool
	closed         bool
	partnerID      string
	sessions       map[string]*session
	sessionCancels map[string]context.CancelFunc
	status         Status
	updates        chan Status
	cancel         context.CancelFunc
	group          *errgroup.Group
	groupCtx       context.Context
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithHasher overrides the salted-handshake hasher. Defaults to
// crypto.NewService().
func WithHasher(h crypto.Hasher) Option {
	return func(c *Coordinator) { c.hasher = h }
}

// New constructs a Coordinator over p and bag. Call Start to run the
// handshake and spawn sessions.
func New(p *peer.Peer, bag rpc.Bag, opts ...Option) *Coordinator {
	c := &Coordinator{
		p:              p,
		bag:            bag,
		hasher:         crypto.NewService(),
		logger:         zap.NewNop().Sugar(),
		sessions:       make(map[string]*session),
		sessionCancels: make(map[string]context.CancelFunc),
		status:         make(Status),
		updates:        make(chan Status, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PartnerID returns the partner's peerId recorded during Start's
// handshake. Empty until Start succeeds.
func (c *Coordinator) PartnerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partnerID
}

// StatusUpdates returns a channel of status snapshots; each send
// replaces any unread prior snapshot, so a slow reader always observes
// the most current state rather than a stale backlog.
func (c *Coordinator) StatusUpdates() <-chan Status {
	return c.updates
}

// Status returns the coordinator's current status snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.clone()
}

// Start performs saltedHandshake (spec §4.5 step 1), intersects common
// shares, and spawns one SyncSession per common share (step 2). It
// also attaches an OnChange hook to the Peer so that later
// AddReplica/RemoveReplica calls re-negotiate and re-diff sessions
// (spec §4.4) for the remaining lifetime of the coordinator.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &bowlerr.ClosedError{What: "synccoordinator"}
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	common, err := c.negotiate(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	c.mu.Lock()
	c.cancel = cancel
	c.group = group
	c.groupCtx = groupCtx
	c.mu.Unlock()

	c.spawnSessions(groupCtx, common)
	c.p.OnChange(func() { c.handleShareChange(ctx) })

	return nil
}

// negotiate runs saltedHandshake against the current local share set
// and returns the shares both sides replicate.
func (c *Coordinator) negotiate(ctx context.Context) ([]string, error) {
	salt := uuid.NewString()
	localShares := c.p.Shares()
	salted := make([]string, len(localShares))
	for i, share := range localShares {
		salted[i] = c.hasher.Hash([]byte(salt + share))
	}

	resp, err := c.bag.SaltedHandshake(ctx, rpc.HandshakeRequest{Salt: salt, SaltedShares: salted})
	if err != nil {
		return nil, &bowlerr.NetworkError{Op: "saltedHandshake", Err: err}
	}

	partnerSalted := make(map[string]bool, len(resp.SaltedShares))
	for _, h := range resp.SaltedShares {
		partnerSalted[h] = true
	}

	var common []string
	for i, share := range localShares {
		if partnerSalted[salted[i]] {
			common = append(common, share)
		}
	}

	c.mu.Lock()
	c.partnerID = resp.PeerID
	c.mu.Unlock()

	return common, nil
}

// spawnSessions starts one SyncSession per share in wanted that isn't
// already running, parented to parentCtx so Close (or a later
// teardownSessions) can stop it.
func (c *Coordinator) spawnSessions(parentCtx context.Context, wanted []string) {
	for _, share := range wanted {
		c.mu.Lock()
		if _, exists := c.sessions[share]; exists {
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		replica, ok := c.p.Replica(share)
		if !ok {
			continue
		}

		sessCtx, sessCancel := context.WithCancel(parentCtx)
		sess := newSession(share, replica, c.bag, c.logger, c.onStatus)

		c.mu.Lock()
		c.sessions[share] = sess
		c.sessionCancels[share] = sessCancel
		c.status[share] = ShareStatus{}
		group := c.group
		c.mu.Unlock()

		group.Go(func() error { return sess.run(sessCtx) })
	}
}

// teardownSessions cancels and forgets every running session whose
// share is not in keep.
func (c *Coordinator) teardownSessions(keep map[string]bool) {
	c.mu.Lock()
	var toCancel []context.CancelFunc
	for share, cancel := range c.sessionCancels {
		if !keep[share] {
			toCancel = append(toCancel, cancel)
			delete(c.sessionCancels, share)
			delete(c.sessions, share)
			delete(c.status, share)
		}
	}
	c.mu.Unlock()

	for _, cancel := range toCancel {
		cancel()
	}
}

// handleShareChange is the Peer.OnChange hook: it re-negotiates common
// shares and spawns/tears down sessions to match, per spec §4.4.
func (c *Coordinator) handleShareChange(ctx context.Context) {
	c.mu.Lock()
	closed := c.closed
	groupCtx := c.groupCtx
	c.mu.Unlock()
	if closed || groupCtx == nil {
		return
	}

	common, err := c.negotiate(ctx)
	if err != nil {
		c.logger.Warnw("synccoord: re-negotiation after share change failed", "error", err)
		return
	}

	keep := make(map[string]bool, len(common))
	for _, share := range common {
		keep[share] = true
	}

	c.teardownSessions(keep)
	c.spawnSessions(groupCtx, common)
}

func (c *Coordinator) onStatus(share string, st ShareStatus) {
	c.mu.Lock()
	c.status[share] = st
	snapshot := c.status.clone()
	c.mu.Unlock()

	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snapshot:
	default:
	}
}

// SyncUntilCaughtUp blocks until every common share reports CaughtUp in
// a single status round, or ctx is cancelled (spec §4.5
// "syncUntilCaughtUp").
func (c *Coordinator) SyncUntilCaughtUp(ctx context.Context) error {
	if c.Status().caughtUpAll() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-c.updates:
			if !ok {
				return &bowlerr.ClosedError{What: "synccoordinator"}
			}
			if st.caughtUpAll() {
				return nil
			}
		}
	}
}

// Close stops every session, marking their local-write followers
// quitting, and waits for the session goroutines to exit. The
// coordinator keeps its Bag reference; Close neither closes nor drops
// it. Idempotent: a second call reports a closed error.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &bowlerr.ClosedError{What: "synccoordinator"}
	}
	c.closed = true
	cancel := c.cancel
	group := c.group
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}
