package registry

import (
	"context"
	"sort"
	"sync"

	"blindbid.org/internal/chain"
)

// MemStore keeps records in process memory.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (s *MemStore) Get(_ context.Context, name string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[name], nil
}

func (s *MemStore) Put(_ context.Context, name string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = rec
	return nil
}

func (s *MemStore) NamesOwnedBy(_ context.Context, owner chain.Identity) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, rec := range s.records {
		if rec.Owner == owner {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
