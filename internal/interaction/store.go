package interaction

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore holds interaction records in memory, safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("interaction: duplicate id %s", record.ID)
	}
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *record
	return &cp, nil
}

func (s *MemoryStore) Update(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, record.ID)
	}
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByAgent(addr common.Address, limit int) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, record := range s.records {
		if record.From == addr || record.To == addr {
			cp := *record
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].InitiatedAt.After(out[j].InitiatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Count returns the number of interaction records held.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SuccessRate reports the share of the agent's interactions that completed.
// samples == 0 means no history. Implements the trust engine's interaction
// history source.
func (s *MemoryStore) SuccessRate(addr common.Address) (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	completed, total := 0, 0
	for _, record := range s.records {
		if record.From != addr && record.To != addr {
			continue
		}
		total++
		if record.Completed {
			completed++
		}
	}

	if total == 0 {
		return 0, 0
	}
	return float64(completed) / float64(total), total
}
