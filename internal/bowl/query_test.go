package bowl

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/earthcask/earthcask/internal/crypto"
)

func seedQueryBowl(t *testing.T) (*Bowl, *crypto.Keypair, *crypto.Keypair) {
	t.Helper()
	tick := int64(1000)
	now := func() int64 { tick += 10; return tick }
	b, alice := newTestBowl(t, now)
	bob, err := crypto.GenerateKeypair("bob")
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	writes := []struct {
		kp      *crypto.Keypair
		path    string
		content string
	}{
		{alice, "/todos/1", "alice milk"},
		{bob, "/todos/1", "bob milk"},
		{alice, "/todos/2", "alice bread"},
		{alice, "/notes/a", "a note"},
	}
	for _, w := range writes {
		if _, _, err := b.Write(w.kp, w.path, w.content); err != nil {
			t.Fatalf("Write(%s): %v", w.path, err)
		}
	}
	return b, alice, bob
}

func TestQueryLatestReturnsOnePerPath(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	docs := b.QueryDocs(Query{History: HistoryLatest})
	if len(docs) != 3 {
		t.Fatalf("latest query returned %d docs, want 3 (one per distinct path)", len(docs))
	}
}

func TestQueryAllReturnsEveryRetainedDocument(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	docs := b.QueryDocs(Query{History: HistoryAll})
	if len(docs) != 4 {
		t.Fatalf("all-history query returned %d docs, want 4 (one per (path,author))", len(docs))
	}
}

func TestQueryPathStartsWith(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	prefix := "/todos/"
	docs := b.QueryDocs(Query{History: HistoryAll, Filter: Filter{PathStartsWith: &prefix}})
	for _, d := range docs {
		if d.Path[:len(prefix)] != prefix {
			t.Errorf("doc at %q does not match prefix filter %q", d.Path, prefix)
		}
	}
	if len(docs) != 3 {
		t.Fatalf("prefix-filtered query returned %d docs, want 3", len(docs))
	}
}

func TestQueryPathEndsWithIsSuffixMatch(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	suffix := "/1"
	docs := b.QueryDocs(Query{History: HistoryAll, Filter: Filter{PathEndsWith: &suffix}})
	if len(docs) != 2 {
		t.Fatalf("suffix-filtered query returned %d docs, want 2 (both authors at /todos/1)", len(docs))
	}
}

func TestQueryAuthorFilter(t *testing.T) {
	b, _, bob := seedQueryBowl(t)

	docs := b.QueryDocs(Query{History: HistoryAll, Filter: Filter{Author: &bob.Address}})
	if len(docs) != 1 {
		t.Fatalf("author-filtered query returned %d docs, want 1", len(docs))
	}
	if docs[0].Author != bob.Address {
		t.Fatalf("filtered doc author = %q, want %q", docs[0].Author, bob.Address)
	}
}

func TestQueryOrderByPathDesc(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	docs := b.QueryDocs(Query{History: HistoryLatest, OrderBy: OrderPathDesc})
	for i := 1; i < len(docs); i++ {
		if docs[i-1].Path < docs[i].Path {
			t.Fatalf("docs not in descending path order: %q before %q", docs[i-1].Path, docs[i].Path)
		}
	}
}

func TestQueryLimit(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	docs := b.QueryDocs(Query{History: HistoryAll, Limit: 2})
	if len(docs) != 2 {
		t.Fatalf("limited query returned %d docs, want 2", len(docs))
	}
}

func TestQueryStartAtLocalIndex(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	all := b.QueryDocs(Query{History: HistoryAll, OrderBy: OrderLocalIndexAsc})
	if len(all) < 2 {
		t.Fatal("need at least two docs for this test")
	}
	from := all[1].LocalIndex

	docs := b.QueryDocs(Query{
		History: HistoryAll,
		OrderBy: OrderLocalIndexAsc,
		StartAt: StartAt{LocalIndex: from, HasLocalIndex: true},
	})
	if len(docs) != len(all)-1 {
		t.Fatalf("StartAt-bounded query returned %d docs, want %d", len(docs), len(all)-1)
	}
	if docs[0].LocalIndex != from {
		t.Fatalf("StartAt bound is inclusive: first doc LocalIndex = %d, want %d", docs[0].LocalIndex, from)
	}
}

func TestQueryPathsDedupesAndSorts(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	paths := b.QueryPaths(Query{History: HistoryAll})
	want := []string{"/notes/a", "/todos/1", "/todos/2"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("QueryPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestGetLatestDocAtPath(t *testing.T) {
	b, _, _ := seedQueryBowl(t)

	d, ok := b.GetLatestDocAtPath("/todos/1")
	if !ok {
		t.Fatal("expected a latest document at /todos/1")
	}
	if d.Path != "/todos/1" {
		t.Fatalf("d.Path = %q, want /todos/1", d.Path)
	}

	if _, ok := b.GetLatestDocAtPath("/does/not/exist"); ok {
		t.Fatal("GetLatestDocAtPath for an unwritten path must report not-found")
	}
}
