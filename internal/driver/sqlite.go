package driver

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/earthcask/earthcask/internal/doc"
)

// SQLite is a Driver backed by a single sqlite file holding one share's
// documents in one table. Unlike the teacher's hand-rolled WAL + JSON
// snapshot (the Memory driver is a plain map with no durability at
// all), durable shares get real transactional storage: every Put runs inside
// a transaction that deletes the prior (path, author) row and inserts
// the replacement, so a crash mid-write can never leave both rows
// behind.
type SQLite struct {
	mu      sync.Mutex
	db      *sql.DB
	highest int
}

// OpenSQLite opens (creating if necessary) a sqlite-backed driver at
// path, recovering highestLocalIndex from MAX(local_index) per spec §6.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite connections aren't safely shared for writes

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLite{db: db}
	row := db.QueryRow(`SELECT COALESCE(MAX(local_index), 0) FROM documents`)
	if err := row.Scan(&s.highest); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover highest local index: %w", err)
	}
	return s, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path TEXT NOT NULL,
	author TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	content_length INTEGER NOT NULL,
	signature TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT '',
	delete_after INTEGER NOT NULL DEFAULT 0,
	local_index INTEGER NOT NULL,
	PRIMARY KEY (path, author)
);
CREATE INDEX IF NOT EXISTS idx_documents_local_index ON documents(local_index);
CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
`

func (s *SQLite) HighestLocalIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highest
}

func (s *SQLite) Put(d doc.Document) (doc.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return doc.Document{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	nextIndex := s.highest + 1
	d.LocalIndex = nextIndex

	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ? AND author = ?`, d.Path, d.Author); err != nil {
		return doc.Document{}, fmt.Errorf("delete prior: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO documents (path, author, timestamp, content, content_hash, content_length, signature, format, delete_after, local_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Path, d.Author, d.Timestamp, d.Content, d.ContentHash, d.ContentLength, d.Signature, d.Format, d.DeleteAfter, d.LocalIndex,
	); err != nil {
		return doc.Document{}, fmt.Errorf("insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return doc.Document{}, fmt.Errorf("commit: %w", err)
	}

	s.highest = nextIndex
	return d, nil
}

func (s *SQLite) Delete(path, author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM documents WHERE path = ? AND author = ?`, path, author)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (s *SQLite) AllByLocalIndex() ([]doc.Document, error) {
	return s.query(`SELECT path, author, timestamp, content, content_hash, content_length, signature, format, delete_after, local_index FROM documents ORDER BY local_index ASC`)
}

func (s *SQLite) AllByPath() ([]doc.Document, error) {
	docs, err := s.query(`SELECT path, author, timestamp, content, content_hash, content_length, signature, format, delete_after, local_index FROM documents`)
	if err != nil {
		return nil, err
	}
	sortByPathOrder(docs)
	return docs, nil
}

func sortByPathOrder(docs []doc.Document) {
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0 && doc.PathOrderLess(&docs[j], &docs[j-1]); j-- {
			docs[j], docs[j-1] = docs[j-1], docs[j]
		}
	}
}

func (s *SQLite) query(q string) ([]doc.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []doc.Document
	for rows.Next() {
		var d doc.Document
		if err := rows.Scan(&d.Path, &d.Author, &d.Timestamp, &d.Content, &d.ContentHash, &d.ContentLength, &d.Signature, &d.Format, &d.DeleteAfter, &d.LocalIndex); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) PurgeExpired(nowMicros int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM documents WHERE delete_after > 0 AND delete_after <= ?`, nowMicros)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
