// Package rpc defines the syncer bag: the four remote-callable methods
// a SyncCoordinator needs from its partner (spec §4.5), independent of
// how the call actually crosses the wire. LocalBag (local.go) serves a
// Peer in-process; internal/rpc/httprpc carries the same bag
// over HTTP via gin on the server side and net/http on the client side.
package rpc

import (
	"context"
	"errors"

	"github.com/earthcask/earthcask/internal/doc"
)

// ErrUnknownShare is returned by GetShareState/GetDocs when the remote
// peer does not currently replicate the requested share.
var ErrUnknownShare = errors.New("rpc: peer does not replicate that share")

// ShareState is a point-in-time summary of one replica, as seen from
// the remote side of a Bag call.
type ShareState struct {
	Share             string `json:"share"`
	HighestLocalIndex int    `json:"highestLocalIndex"`
}

// HandshakeRequest carries the caller's per-connection salt and the
// salted hash of each share it replicates.
type HandshakeRequest struct {
	Salt         string   `json:"salt"`
	SaltedShares []string `json:"saltedShares"`
}

// HandshakeResponse carries the partner's peerId and the same salt
// applied to its own shares, so the two salted sets are comparable.
type HandshakeResponse struct {
	PeerID       string   `json:"peerId"`
	SaltedShares []string `json:"saltedShares"`
}

// Bag is the set of methods a SyncCoordinator calls on its partner.
// GetShareState is a long-poll: the implementation should block (up to
// some bounded interval) until the share's HighestLocalIndex exceeds
// otherIndex, standing in for the "push notification over the same RPC
// channel" spec §4.5 describes for a true duplex transport.
type Bag interface {
	SaltedHandshake(ctx context.Context, req HandshakeRequest) (HandshakeResponse, error)
	AllShareStates(ctx context.Context) ([]ShareState, error)
	GetShareState(ctx context.Context, share string, otherIndex int) (ShareState, error)
	GetDocs(ctx context.Context, share string, fromIndex, limit int) ([]doc.Document, error)
}
