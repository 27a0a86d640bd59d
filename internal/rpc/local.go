package rpc

import (
	"context"
	"time"

	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/doc"
	"github.com/earthcask/earthcask/internal/peer"
)

// DefaultPollInterval bounds how long GetShareState's long-poll waits
// before returning the share's current state unchanged.
const DefaultPollInterval = 2 * time.Second

// LocalBag implements Bag directly over a Peer living in the same
// process. Tests and a single-binary deployment use this instead of
// httprpc to exercise SyncCoordinator without a real socket.
type LocalBag struct {
	p            *peer.Peer
	hasher       crypto.Hasher
	pollInterval time.Duration
}

// NewLocalBag wraps p. hasher defaults to crypto.NewService().
func NewLocalBag(p *peer.Peer, hasher crypto.Hasher) *LocalBag {
	if hasher == nil {
		hasher = crypto.NewService()
	}
	return &LocalBag{p: p, hasher: hasher, pollInterval: DefaultPollInterval}
}

// WithPollInterval overrides the long-poll bound; tests use a short one.
func (b *LocalBag) WithPollInterval(d time.Duration) *LocalBag {
	b.pollInterval = d
	return b
}

func (b *LocalBag) SaltedHandshake(_ context.Context, req HandshakeRequest) (HandshakeResponse, error) {
	shares := b.p.Shares()
	salted := make([]string, 0, len(shares))
	for _, s := range shares {
		salted = append(salted, b.hasher.Hash([]byte(req.Salt+s)))
	}
	return HandshakeResponse{PeerID: b.p.ID(), SaltedShares: salted}, nil
}

func (b *LocalBag) AllShareStates(ctx context.Context) ([]ShareState, error) {
	shares := b.p.Shares()
	out := make([]ShareState, 0, len(shares))
	for _, s := range shares {
		st, err := b.GetShareState(ctx, s, -1)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (b *LocalBag) GetShareState(ctx context.Context, share string, otherIndex int) (ShareState, error) {
	replica, ok := b.p.Replica(share)
	if !ok {
		return ShareState{}, ErrUnknownShare
	}

	if hi := replica.HighestLocalIndex(); hi > otherIndex {
		return ShareState{Share: share, HighestLocalIndex: hi}, nil
	}

	deadline := time.NewTimer(b.pollInterval)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ShareState{Share: share, HighestLocalIndex: replica.HighestLocalIndex()}, ctx.Err()
		case <-deadline.C:
			return ShareState{Share: share, HighestLocalIndex: replica.HighestLocalIndex()}, nil
		case <-ticker.C:
			if hi := replica.HighestLocalIndex(); hi > otherIndex {
				return ShareState{Share: share, HighestLocalIndex: hi}, nil
			}
		}
	}
}

func (b *LocalBag) GetDocs(_ context.Context, share string, fromIndex, limit int) ([]doc.Document, error) {
	replica, ok := b.p.Replica(share)
	if !ok {
		return nil, ErrUnknownShare
	}
	return replica.DocsFromIndex(fromIndex, limit), nil
}
