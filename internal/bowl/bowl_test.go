package bowl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/doc"
	"github.com/earthcask/earthcask/internal/driver"
)

func newTestBowl(t *testing.T, now func() int64) (*Bowl, *crypto.Keypair) {
	t.Helper()
	kp, err := crypto.GenerateKeypair("alice")
	require.NoError(t, err, "GenerateKeypair")
	if now == nil {
		now = func() int64 { return time.Now().UnixMicro() }
	}
	b, err := Open("+todos.abcdef", driver.NewMemory(), WithClock(now))
	require.NoError(t, err, "Open")
	t.Cleanup(func() { b.Close() })
	return b, kp
}

func TestWriteAcceptedAndLatest(t *testing.T) {
	b, kp := newTestBowl(t, nil)

	result, stored, err := b.Write(kp, "/todos/1", "buy milk")
	require.NoError(t, err, "Write")
	assert.Equal(t, AcceptedAndLatest, result)
	assert.Equal(t, "buy milk", stored.Content)
	assert.Equal(t, 1, stored.LocalIndex)
}

func TestWriteSamePathLaterWinsAndEarlierIsObsolete(t *testing.T) {
	tick := int64(1000)
	now := func() int64 { tick++; return tick }
	b, kp := newTestBowl(t, now)

	_, first, err := b.Write(kp, "/todos/1", "buy milk")
	require.NoError(t, err, "first Write")

	result, second, err := b.Write(kp, "/todos/1", "buy bread")
	require.NoError(t, err, "second Write")
	assert.Equal(t, AcceptedAndLatest, result)
	assert.Equal(t, "buy bread", second.Content)

	// Replaying the first (now-stale) document by value should be
	// rejected as Obsolete, not silently accepted.
	result, err = b.Upsert(*first)
	require.NoError(t, err, "Upsert(first)")
	assert.Equal(t, Obsolete, result)
}

func TestUpsertAlreadyHadIt(t *testing.T) {
	b, kp := newTestBowl(t, nil)

	_, stored, err := b.Write(kp, "/todos/1", "buy milk")
	require.NoError(t, err, "Write")

	result, err := b.Upsert(*stored)
	require.NoError(t, err, "Upsert(stored)")
	assert.Equal(t, AlreadyHadIt, result)
}

func TestUpsertRejectsBadSignature(t *testing.T) {
	b, kp := newTestBowl(t, nil)

	_, stored, err := b.Write(kp, "/todos/1", "buy milk")
	require.NoError(t, err, "Write")
	tampered := *stored
	tampered.Content = "buy a yacht"
	// ContentLength/ContentHash deliberately NOT recomputed: signature
	// now covers content that doesn't match what's being inserted.

	result, err := b.Upsert(tampered)
	require.NoError(t, err, "Upsert(tampered) returned an error instead of Invalid")
	assert.Equal(t, Invalid, result)
}

func TestUpsertRejectsMalformedPath(t *testing.T) {
	b, kp := newTestBowl(t, nil)

	d := sampleDoc(t, kp, "not-a-path", "x")
	result, err := b.Upsert(d)
	require.NoError(t, err, "Upsert returned an error instead of Invalid")
	assert.Equal(t, Invalid, result)
}

func TestDifferentAuthorsAtSamePathBothRetained(t *testing.T) {
	b, alice := newTestBowl(t, nil)
	bob, err := crypto.GenerateKeypair("bob")
	require.NoError(t, err, "GenerateKeypair")

	_, _, err = b.Write(alice, "/todos/1", "alice's note")
	require.NoError(t, err, "alice Write")
	_, _, err = b.Write(bob, "/todos/1", "bob's note")
	require.NoError(t, err, "bob Write")

	docs := b.GetAllDocsAtPath("/todos/1")
	assert.Len(t, docs, 2, "one document per author")
}

// TestConcurrentUpsertSamePathAuthorStaysDeduped races many goroutines
// upserting distinct revisions of the same (path, author) through
// Upsert's check-remove-index sequence. Upsert must treat that
// sequence as one critical section (spec §5) so no two revisions are
// ever retained side by side in byPath.
func TestConcurrentUpsertSamePathAuthorStaysDeduped(t *testing.T) {
	b, kp := newTestBowl(t, nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc := crypto.NewService()
			content := "rev"
			d := doc.Document{
				Path:          "/todos/1",
				Author:        kp.Address,
				Timestamp:     int64(1000 + i),
				Content:       content,
				ContentLength: len(content),
				ContentHash:   svc.Hash([]byte(content)),
			}
			sig, err := svc.Sign(kp, d.SignableBytes())
			require.NoError(t, err, "Sign")
			d.Signature = sig
			_, err = b.Upsert(d)
			require.NoError(t, err, "Upsert")
		}(i)
	}
	wg.Wait()

	docs := b.GetAllDocsAtPath("/todos/1")
	assert.Len(t, docs, 1, "at most one document retained per (path, author) even under concurrent upserts")
}

func TestExpiredDocumentSweptImmediately(t *testing.T) {
	// The clock starts at wall-clock time so sampleDocWithDeleteAfter's
	// time.Now() timestamp stays within the validator's clock skew.
	tick := time.Now().UnixMicro()
	now := func() int64 { tick += 10; return tick }
	b, kp := newTestBowl(t, now)

	content := "ephemeral"
	d := sampleDocWithDeleteAfter(t, kp, "/todos/temp", content, now()-1)

	result, err := b.Upsert(d)
	require.NoError(t, err, "Upsert")
	assert.Equal(t, AcceptedAndLatest, result, "accept-then-sweep")

	_, ok := b.GetLatestDocAtPath("/todos/temp")
	assert.False(t, ok, "an already-expired document must be swept immediately, not retained")
}

func TestCloseIsIdempotentError(t *testing.T) {
	b, _ := newTestBowl(t, nil)
	require.NoError(t, b.Close(), "first Close")
	assert.Error(t, b.Close(), "second Close must return a ClosedError")
}

func TestWriteAfterCloseFails(t *testing.T) {
	b, kp := newTestBowl(t, nil)
	require.NoError(t, b.Close(), "Close")
	_, _, err := b.Write(kp, "/todos/1", "x")
	assert.Error(t, err, "Write after Close must fail")
}

// sampleDoc builds a document at path with the given content, signed by
// kp, for exercising Upsert directly rather than through Write.
func sampleDoc(t *testing.T, kp *crypto.Keypair, path, content string) doc.Document {
	t.Helper()
	return sampleDocWithDeleteAfter(t, kp, path, content, 0)
}

func sampleDocWithDeleteAfter(t *testing.T, kp *crypto.Keypair, path, content string, deleteAfter int64) doc.Document {
	t.Helper()
	svc := crypto.NewService()
	d := doc.Document{
		Path:          path,
		Author:        kp.Address,
		Timestamp:     time.Now().UnixMicro(),
		Content:       content,
		ContentLength: len(content),
		ContentHash:   svc.Hash([]byte(content)),
		DeleteAfter:   deleteAfter,
	}
	sig, err := svc.Sign(kp, d.SignableBytes())
	require.NoError(t, err, "Sign")
	d.Signature = sig
	return d
}
