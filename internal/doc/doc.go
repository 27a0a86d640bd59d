// Package doc defines the Document type and the two total orders the
// bowl relies on: the overwrite order (who wins at a given path+author)
// and the path order (how a path's retained documents are sorted).
package doc

import "strings"

// Document is a signed, immutable record. Every field except LocalIndex
// is covered by Signature (see SignableBytes); LocalIndex is assigned by
// the owning bowl at
// upsert time and is never part of what's signed or transmitted as
// authoritative (spec §3).
type Document struct {
	Path          string `json:"path"`
	Author        string `json:"author"`
	Timestamp     int64  `json:"timestamp"` // microseconds since epoch
	Content       string `json:"content"`
	ContentHash   string `json:"contentHash"`
	ContentLength int    `json:"contentLength"`
	Signature     string `json:"signature"`

	Format      string `json:"format,omitempty"`
	DeleteAfter int64  `json:"deleteAfter,omitempty"` // microseconds since epoch, 0 = never

	LocalIndex int `json:"_localIndex"`
}

// Expired reports whether the document's DeleteAfter has passed, given a
// now_micros() reading.
func (d *Document) Expired(nowMicros int64) bool {
	return d.DeleteAfter > 0 && d.DeleteAfter <= nowMicros
}

// SignableBytes returns the byte sequence that Signature covers: every
// field except LocalIndex, in a fixed order so signing is deterministic.
func (d *Document) SignableBytes() []byte {
	var b strings.Builder
	b.WriteString(d.Path)
	b.WriteByte(0)
	b.WriteString(d.Author)
	b.WriteByte(0)
	writeInt64(&b, d.Timestamp)
	b.WriteByte(0)
	b.WriteString(d.Content)
	b.WriteByte(0)
	b.WriteString(d.ContentHash)
	b.WriteByte(0)
	writeInt64(&b, int64(d.ContentLength))
	b.WriteByte(0)
	b.WriteString(d.Format)
	b.WriteByte(0)
	writeInt64(&b, d.DeleteAfter)
	return []byte(b.String())
}

func writeInt64(b *strings.Builder, v int64) {
	// Deterministic, not required to be human-readable.
	if v < 0 {
		b.WriteByte('-')
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	if v == 0 {
		i--
		buf[i] = '0'
	}
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	b.Write(buf[i:])
}

// OverwriteLess reports whether a loses to b under the overwrite order:
// (timestamp DESC, signature DESC). a loses if b has a strictly later
// timestamp, or equal timestamp and a lexicographically smaller
// signature.
func OverwriteLess(a, b *Document) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Signature < b.Signature
}

// PathOrderLess implements the per-path newest-first ordering: path ASC,
// timestamp DESC, signature DESC.
func PathOrderLess(a, b *Document) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.Signature > b.Signature
}
