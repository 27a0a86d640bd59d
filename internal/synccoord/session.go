package synccoord

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/earthcask/earthcask/internal/bowl"
	"github.com/earthcask/earthcask/internal/bowlerr"
	"github.com/earthcask/earthcask/internal/doc"
	"github.com/earthcask/earthcask/internal/followers"
	"github.com/earthcask/earthcask/internal/rpc"
)

// batchLimit is the spec §4.5 cap: "request up to 10 documents".
const batchLimit = 10

// session runs the per-share pull loop from spec §4.5 "Per-share
// SyncSession loop". One session pulls a single share from one
// partner; sessions for different shares run independently (spec §4.5
// "Backpressure/fairness").
type session struct {
	share   string
	replica *bowl.Bowl
	bag     rpc.Bag
	logger  *zap.SugaredLogger
	publish func(share string, st ShareStatus)

	mu                        sync.Mutex
	partnerMaxLocalIndexSoFar int
	pulled                    int
	caughtUp                  bool
	lastSeenPartnerIndex      int
}

func newSession(share string, replica *bowl.Bowl, bag rpc.Bag, logger *zap.SugaredLogger, publish func(string, ShareStatus)) *session {
	return &session{share: share, replica: replica, bag: bag, logger: logger, publish: publish}
}

func (s *session) snapshotLocked() ShareStatus {
	return ShareStatus{
		Pulled:              s.pulled,
		CaughtUp:            s.caughtUp,
		PartnerHighestIndex: s.lastSeenPartnerIndex,
		LocalHighestIndex:   s.replica.HighestLocalIndex(),
	}
}

func (s *session) publishSnapshot() {
	s.mu.Lock()
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(s.share, st)
}

// run drives the session until ctx is cancelled (coordinator Close).
// It also registers an async follower on the local replica purely to
// refresh LocalHighestIndex in the published status as soon as a local
// write lands, independent of the partner's pull cadence.
func (s *session) run(ctx context.Context) error {
	f, err := s.replica.RegisterAsyncFollower(ctx, "synccoord:"+s.share, s.replica.HighestLocalIndex()+1,
		func(followers.WriteEvent) error { s.publishSnapshot(); return nil },
		func(err error) { s.logger.Warnw("synccoord local-write follower error", "share", s.share, "error", err) },
	)
	if err == nil {
		defer f.Quit()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		state, err := s.getShareStateWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.lastSeenPartnerIndex = state.HighestLocalIndex
		caughtUp := s.partnerMaxLocalIndexSoFar >= state.HighestLocalIndex
		s.caughtUp = caughtUp
		s.mu.Unlock()
		s.publishSnapshot()

		if caughtUp {
			continue // bag.GetShareState itself long-polls for the next change
		}

		if err := s.pullOneBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *session) pullOneBatch(ctx context.Context) error {
	s.mu.Lock()
	from := s.partnerMaxLocalIndexSoFar + 1
	s.mu.Unlock()

	docs, err := s.getDocsWithRetry(ctx, from)
	if err != nil {
		return err
	}

	for i := range docs {
		if _, err := s.replica.Upsert(docs[i]); err != nil {
			s.logger.Warnw("synccoord: rejected document from partner", "share", s.share, "path", docs[i].Path, "error", err)
		}
		if docs[i].LocalIndex > s.partnerMaxLocalIndexSoFar {
			s.mu.Lock()
			s.partnerMaxLocalIndexSoFar = docs[i].LocalIndex
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.pulled += len(docs)
	s.caughtUp = false
	s.mu.Unlock()
	s.publishSnapshot()
	return nil
}

func (s *session) getShareStateWithRetry(ctx context.Context) (rpc.ShareState, error) {
	var state rpc.ShareState
	s.mu.Lock()
	otherIndex := s.partnerMaxLocalIndexSoFar
	s.mu.Unlock()

	op := func() error {
		st, err := s.bag.GetShareState(ctx, s.share, otherIndex)
		if err != nil {
			return &bowlerr.NetworkError{Op: "getShareState", Err: err}
		}
		state = st
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	return state, err
}

func (s *session) getDocsWithRetry(ctx context.Context, fromIndex int) ([]doc.Document, error) {
	var docs []doc.Document
	op := func() error {
		d, err := s.bag.GetDocs(ctx, s.share, fromIndex, batchLimit)
		if err != nil {
			return &bowlerr.NetworkError{Op: "getDocs", Err: err}
		}
		docs = d
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	return docs, err
}
