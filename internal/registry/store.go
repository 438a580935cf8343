package registry

import (
	"sort"
	"sync"
)

// Store holds registry records keyed by name.
//
// Implementations must be safe for concurrent use. Records are passed by
// value so a Store never shares mutable state with its caller.
type Store interface {
	Load(name string) (Record, bool)
	Save(rec Record)
	Delete(name string)
	List() []Record
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Load implements Store.
func (s *MemoryStore) Load(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[name]
	return rec, ok
}

// Save implements Store.
func (s *MemoryStore) Save(rec Record) {
	s.mu.Lock()
	s.records[rec.Name] = rec
	s.mu.Unlock()
}

// Delete implements Store.
func (s *MemoryStore) Delete(name string) {
	s.mu.Lock()
	delete(s.records, name)
	s.mu.Unlock()
}

// List implements Store. Records are sorted by name.
func (s *MemoryStore) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
