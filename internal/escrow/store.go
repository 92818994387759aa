package escrow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is an in-memory Store safe for concurrent use. It hands out
// copies so callers can never mutate stored state without going through the
// manager.
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
		return fmt.Errorf("escrow: duplicate id %s", record.ID)
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
		if record.Payer == addr || record.Payee == addr {
			cp := *record
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Count returns the number of escrows held.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CompletionRate reports the share of the agent's terminal escrows that
// completed successfully. samples == 0 means no escrow history yet; active
// escrows are not evidence either way. Implements the trust engine's
// payment-history source.
func (s *MemoryStore) CompletionRate(addr common.Address) (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	completed, terminal := 0, 0
	for _, record := range s.records {
		if record.Payer != addr && record.Payee != addr {
			continue
		}
		if !record.IsTerminal() {
			continue
		}
		terminal++
		if record.Status == StatusCompleted {
			completed++
		}
	}

	if terminal == 0 {
		return 0, 0
	}
	return float64(completed) / float64(terminal), terminal
}
