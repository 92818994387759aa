package reputation

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// BoostLedger accumulates trust boosts from completed settlements and
// interactions. Every application is keyed by an externally-stable
// identifier (settlement tx hash, interaction id) and applied at most once,
// so lifecycle replays can never double-credit.
type BoostLedger struct {
	mu      sync.Mutex
	applied map[string]struct{}
	totals  map[common.Address]int
}

// NewBoostLedger creates an empty ledger.
func NewBoostLedger() *BoostLedger {
	return &BoostLedger{
		applied: make(map[string]struct{}),
		totals:  make(map[common.Address]int),
	}
}

// Apply credits amount to every address under the idempotency key.
// Returns false without crediting if the key was already applied.
func (l *BoostLedger) Apply(key string, amount int, addrs ...common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.applied[key]; done {
		return false
	}
	l.applied[key] = struct{}{}

	for _, addr := range addrs {
		l.totals[addr] += amount
	}
	return true
}

// Boosts returns the accumulated boost total for an address.
// Implements the trust engine's boost source.
func (l *BoostLedger) Boosts(addr common.Address) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[addr]
}

// Applied reports whether an idempotency key has been consumed.
func (l *BoostLedger) Applied(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, done := l.applied[key]
	return done
}
