package bowl

import (
	"sort"
	"strings"

	"github.com/earthcask/earthcask/internal/doc"
)

// History selects the base document set a query evaluates over (spec
// §4.1).
type History string

const (
	HistoryLatest History = "latest"
	HistoryAll    History = "all"
)

// OrderBy selects the query's sort axis and direction.
type OrderBy string

const (
	OrderPathAsc        OrderBy = "path ASC"
	OrderPathDesc       OrderBy = "path DESC"
	OrderLocalIndexAsc  OrderBy = "localIndex ASC"
	OrderLocalIndexDesc OrderBy = "localIndex DESC"
)

// StartAt is an inclusive bound on the query's sort axis: ASC orders
// treat it as a lower bound, DESC orders as an upper bound. Ignored
// when its axis doesn't match OrderBy.
type StartAt struct {
	Path          string
	HasPath       bool
	LocalIndex    int
	HasLocalIndex bool
}

// Filter is the closed set of predicates from spec §4.1. All present
// fields AND together.
type Filter struct {
	Path            *string
	PathStartsWith  *string
	PathEndsWith    *string
	Author          *string
	Timestamp       *int64
	TimestampGt     *int64
	TimestampLt     *int64
	ContentLength   *int
	ContentLengthGt *int
	ContentLengthLt *int
}

// Query is the closed query shape from spec §4.1.
type Query struct {
	History History
	OrderBy OrderBy
	StartAt StartAt
	Filter  Filter
	Limit   int // 0 means unlimited
}

func (q Query) historyOrDefault() History {
	if q.History == "" {
		return HistoryLatest
	}
	return q.History
}

func (q Query) orderByOrDefault() OrderBy {
	if q.OrderBy == "" {
		return OrderPathAsc
	}
	return q.OrderBy
}

// QueryDocs evaluates q against the bowl's current state: select base
// set -> sort -> skip to StartAt -> filter -> accumulate to Limit (spec
// §4.1 "Evaluation order").
func (b *Bowl) QueryDocs(q Query) []doc.Document {
	b.mu.Lock()
	base := b.baseSetLocked(q.historyOrDefault())
	b.mu.Unlock()

	orderBy := q.orderByOrDefault()
	sortDocs(base, orderBy)

	start := startIndex(base, orderBy, q.StartAt)
	base = base[start:]

	var out []doc.Document
	for _, d := range base {
		if !matchesFilter(d, q.Filter) {
			continue
		}
		out = append(out, *d)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// QueryPaths returns the unique paths present in QueryDocs(q), ascending
// unless OrderBy is path DESC (spec §4.1).
func (b *Bowl) QueryPaths(q Query) []string {
	docs := b.QueryDocs(q)
	seen := make(map[string]bool, len(docs))
	var paths []string
	for _, d := range docs {
		if !seen[d.Path] {
			seen[d.Path] = true
			paths = append(paths, d.Path)
		}
	}
	sort.Strings(paths)
	if q.orderByOrDefault() == OrderPathDesc {
		reverseStrings(paths)
	}
	return paths
}

// QueryAuthors returns the unique authors present in QueryDocs(q),
// ascending.
func (b *Bowl) QueryAuthors(q Query) []string {
	docs := b.QueryDocs(q)
	seen := make(map[string]bool, len(docs))
	var authors []string
	for _, d := range docs {
		if !seen[d.Author] {
			seen[d.Author] = true
			authors = append(authors, d.Author)
		}
	}
	sort.Strings(authors)
	return authors
}

// GetAllDocs returns every retained document (history=all, path ASC).
func (b *Bowl) GetAllDocs() []doc.Document {
	return b.QueryDocs(Query{History: HistoryAll})
}

// GetLatestDocs returns exactly one document per path (the path's
// element 0), path ASC.
func (b *Bowl) GetLatestDocs() []doc.Document {
	return b.QueryDocs(Query{History: HistoryLatest})
}

// GetAllDocsAtPath returns every retained document at path, newest
// first.
func (b *Bowl) GetAllDocsAtPath(path string) []doc.Document {
	p := path
	return b.QueryDocs(Query{History: HistoryAll, Filter: Filter{Path: &p}, OrderBy: OrderPathAsc})
}

// GetLatestDocAtPath returns the path's current latest document, if
// any.
func (b *Bowl) GetLatestDocAtPath(path string) (*doc.Document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.byPath[path]
	if len(seq) == 0 {
		return nil, false
	}
	cp := *seq[0]
	return &cp, true
}

// baseSetLocked returns the query's base document set. Callers must
// hold b.mu.
func (b *Bowl) baseSetLocked(h History) []*doc.Document {
	if h == HistoryAll {
		out := make([]*doc.Document, 0, len(b.byLocalIndex))
		for _, d := range b.byLocalIndex {
			out = append(out, d)
		}
		return out
	}
	out := make([]*doc.Document, 0, len(b.byPath))
	for _, seq := range b.byPath {
		if len(seq) > 0 {
			out = append(out, seq[0])
		}
	}
	return out
}

func sortDocs(docs []*doc.Document, orderBy OrderBy) {
	switch orderBy {
	case OrderPathAsc:
		sort.Slice(docs, func(i, j int) bool { return doc.PathOrderLess(docs[i], docs[j]) })
	case OrderPathDesc:
		sort.Slice(docs, func(i, j int) bool { return doc.PathOrderLess(docs[j], docs[i]) })
	case OrderLocalIndexAsc:
		sort.Slice(docs, func(i, j int) bool { return docs[i].LocalIndex < docs[j].LocalIndex })
	case OrderLocalIndexDesc:
		sort.Slice(docs, func(i, j int) bool { return docs[i].LocalIndex > docs[j].LocalIndex })
	default:
		sort.Slice(docs, func(i, j int) bool { return doc.PathOrderLess(docs[i], docs[j]) })
	}
}

// startIndex finds the first position in the already-sorted docs slice
// that satisfies StartAt as an inclusive bound on orderBy's axis.
// StartAt is ignored when its populated field doesn't match the axis.
func startIndex(docs []*doc.Document, orderBy OrderBy, start StartAt) int {
	switch orderBy {
	case OrderPathAsc:
		if !start.HasPath {
			return 0
		}
		return sort.Search(len(docs), func(i int) bool { return docs[i].Path >= start.Path })
	case OrderPathDesc:
		if !start.HasPath {
			return 0
		}
		return sort.Search(len(docs), func(i int) bool { return docs[i].Path <= start.Path })
	case OrderLocalIndexAsc:
		if !start.HasLocalIndex {
			return 0
		}
		return sort.Search(len(docs), func(i int) bool { return docs[i].LocalIndex >= start.LocalIndex })
	case OrderLocalIndexDesc:
		if !start.HasLocalIndex {
			return 0
		}
		return sort.Search(len(docs), func(i int) bool { return docs[i].LocalIndex <= start.LocalIndex })
	default:
		return 0
	}
}

// matchesFilter reports whether d satisfies every populated predicate
// in f (spec §4.1: "all present filters AND together").
func matchesFilter(d *doc.Document, f Filter) bool {
	if f.Path != nil && d.Path != *f.Path {
		return false
	}
	if f.PathStartsWith != nil && !strings.HasPrefix(d.Path, *f.PathStartsWith) {
		return false
	}
	if f.PathEndsWith != nil && !strings.HasSuffix(d.Path, *f.PathEndsWith) {
		return false
	}
	if f.Author != nil && d.Author != *f.Author {
		return false
	}
	if f.Timestamp != nil && d.Timestamp != *f.Timestamp {
		return false
	}
	if f.TimestampGt != nil && d.Timestamp <= *f.TimestampGt {
		return false
	}
	if f.TimestampLt != nil && d.Timestamp >= *f.TimestampLt {
		return false
	}
	if f.ContentLength != nil && d.ContentLength != *f.ContentLength {
		return false
	}
	if f.ContentLengthGt != nil && d.ContentLength <= *f.ContentLengthGt {
		return false
	}
	if f.ContentLengthLt != nil && d.ContentLength >= *f.ContentLengthLt {
		return false
	}
	return true
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
