package bowl

import (
	"fmt"

	"github.com/earthcask/earthcask/internal/bowlerr"
	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/doc"
	"github.com/earthcask/earthcask/internal/followers"
)

// Write constructs, signs, and upserts a new document authored by kp at
// path, per spec §4.1. The timestamp is chosen to beat the current
// latest at path even if authored by someone else.
func (b *Bowl) Write(kp *crypto.Keypair, path, content string) (UpsertResult, *doc.Document, error) {
	if err := b.checkOpen(); err != nil {
		return Invalid, nil, err
	}

	b.mu.Lock()
	now := b.now()
	ts := now
	if seq := b.byPath[path]; len(seq) > 0 {
		if latest := seq[0].Timestamp + 1; latest > ts {
			ts = latest
		}
	}
	b.mu.Unlock()

	d := doc.Document{
		Path:          path,
		Author:        kp.Address,
		Timestamp:     ts,
		Content:       content,
		ContentLength: len(content),
		ContentHash:   b.cryptoSvc.Hash([]byte(content)),
	}

	sig, err := b.cryptoSvc.Sign(kp, d.SignableBytes())
	if err != nil {
		return Invalid, nil, fmt.Errorf("sign document: %w", err)
	}
	d.Signature = sig

	result, err := b.Upsert(d)
	if err != nil {
		return result, nil, err
	}
	stored, _ := b.GetDocAtPathByAuthor(path, kp.Address)
	return result, stored, nil
}

// Upsert stores an already-signed document, enforcing spec §4.1's
// acceptance rules, or rejects it per the ValidationError / Obsolete /
// AlreadyHadIt outcomes.
func (b *Bowl) Upsert(d doc.Document) (UpsertResult, error) {
	if err := b.checkOpen(); err != nil {
		return Invalid, err
	}

	if err := b.validateDoc(&d); err != nil {
		return Invalid, nil //nolint:nilerr // Invalid is a normal outcome, not a propagated error
	}

	b.mu.Lock()

	key := pathAuthorKey{d.Path, d.Author}
	existing, hadPrior := b.byPathAuthor[key]

	if hadPrior {
		switch {
		case d.Timestamp == existing.Timestamp && d.Signature == existing.Signature:
			b.mu.Unlock()
			return AlreadyHadIt, nil
		case doc.OverwriteLess(&d, existing):
			b.mu.Unlock()
			return Obsolete, nil
		}
	}

	prevLatestAtPath := (*doc.Document)(nil)
	if seq := b.byPath[d.Path]; len(seq) > 0 {
		prevLatestAtPath = seq[0]
	}

	// The hadPrior check, removeDocLocked, and drv.Put/indexDocument
	// below all stay under the same lock acquisition (spec §5: upsert
	// is atomic with respect to other upserts). Releasing the lock
	// between the check and the index update would let a second
	// concurrent Upsert for the same (path, author) observe a
	// momentarily-empty byPathAuthor entry, skip the Obsolete/
	// AlreadyHadIt check, and insert an un-deduped duplicate.
	if hadPrior {
		b.removeDocLocked(existing)
	}

	stored, err := b.drv.Put(d)
	if err != nil {
		b.mu.Unlock()
		return Invalid, &bowlerr.DriverError{Op: "Put", Err: err}
	}

	if stored.LocalIndex > b.highestLocalIndex {
		b.highestLocalIndex = stored.LocalIndex
	}
	storedPtr := &stored
	b.indexDocument(storedPtr)

	isLatest := b.byPath[stored.Path][0] == storedPtr
	var previousLatestDoc *doc.Document
	if isLatest && prevLatestAtPath != nil && prevLatestAtPath != existing {
		cp := *prevLatestAtPath
		previousLatestDoc = &cp
	}
	var previousSameAuthor *doc.Document
	if hadPrior {
		cp := *existing
		previousSameAuthor = &cp
	}
	syncF := append([]*followers.SyncFollower(nil), b.syncFollowers...)
	asyncF := append([]*followers.AsyncFollower(nil), b.asyncFollowers...)
	now := b.now()
	b.mu.Unlock()

	evt := WriteEvent{
		Doc:                   stored,
		IsLatest:              isLatest,
		PreviousDocSameAuthor: previousSameAuthor,
		PreviousLatestDoc:     previousLatestDoc,
	}
	b.dispatch(evt, syncF, asyncF)

	if stored.Expired(now) {
		b.expireImmediately(&stored)
	}

	if isLatest {
		return AcceptedAndLatest, nil
	}
	return AcceptedButNotLatest, nil
}

func (b *Bowl) expireImmediately(d *doc.Document) {
	b.mu.Lock()
	b.removeDocLocked(d)
	b.mu.Unlock()
	if err := b.drv.Delete(d.Path, d.Author); err != nil {
		b.logger.Warnw("failed to sweep immediately-expired document", "path", d.Path, "author", d.Author, "error", err)
	}
}

func (b *Bowl) validateDoc(d *doc.Document) error {
	if err := b.validator.Path(d.Path); err != nil {
		return &bowlerr.ValidationError{Reason: err.Error()}
	}
	if err := b.validator.AuthorAddress(d.Author); err != nil {
		return &bowlerr.ValidationError{Reason: err.Error()}
	}
	if err := b.validator.Timestamp(d.Timestamp, b.now()); err != nil {
		return &bowlerr.ValidationError{Reason: err.Error()}
	}
	if !b.validator.PathOwnedBy(d.Path, d.Author) {
		return &bowlerr.ValidationError{Reason: fmt.Sprintf("%s is not permitted to write %s", d.Author, d.Path)}
	}
	wantHash := b.cryptoSvc.Hash([]byte(d.Content))
	if d.ContentHash != wantHash || d.ContentLength != len(d.Content) {
		return &bowlerr.ValidationError{Reason: "content hash/length mismatch"}
	}
	ok, err := b.cryptoSvc.Verify(d.Author, d.SignableBytes(), d.Signature)
	if err != nil || !ok {
		return &bowlerr.SignatureMismatch{Path: d.Path, Author: d.Author}
	}
	return nil
}

// GetDocAtPathByAuthor is a small internal helper used by Write to
// return the freshly stored document to its caller.
func (b *Bowl) GetDocAtPathByAuthor(path, author string) (*doc.Document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.byPathAuthor[pathAuthorKey{path, author}]
	if !ok {
		return nil, false
	}
	cp := *d
	return &cp, true
}
