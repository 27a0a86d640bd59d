package driver

import (
	"sort"
	"sync"

	"github.com/earthcask/earthcask/internal/doc"
)

// memoryKey identifies a stored document the way the driver contract
// requires: by (path, author).
type memoryKey struct {
	path   string
	author string
}

// Memory is an in-memory Driver. It keeps data only for the lifetime of
// the process — fine for tests and for shares whose owner doesn't need
// durability, mirroring the teacher's Store before its WAL is added.
type Memory struct {
	mu         sync.RWMutex
	byKey      map[memoryKey]doc.Document
	highest    int
}

// NewMemory returns an empty in-memory driver.
func NewMemory() *Memory {
	return &Memory{byKey: make(map[memoryKey]doc.Document)}
}

func (m *Memory) HighestLocalIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highest
}

func (m *Memory) Put(d doc.Document) (doc.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.highest++
	d.LocalIndex = m.highest
	m.byKey[memoryKey{d.Path, d.Author}] = d
	return d, nil
}

func (m *Memory) Delete(path, author string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byKey, memoryKey{path, author})
	return nil
}

func (m *Memory) AllByLocalIndex() ([]doc.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]doc.Document, 0, len(m.byKey))
	for _, d := range m.byKey {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalIndex < out[j].LocalIndex })
	return out, nil
}

func (m *Memory) AllByPath() ([]doc.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]doc.Document, 0, len(m.byKey))
	for _, d := range m.byKey {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return doc.PathOrderLess(&out[i], &out[j]) })
	return out, nil
}

func (m *Memory) PurgeExpired(nowMicros int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, d := range m.byKey {
		if d.Expired(nowMicros) {
			delete(m.byKey, k)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }
