// Package custody holds signing material for permissionless agents.
//
// Permissioned agents are signed for by the shared operator key and never
// appear here. Permissionless agents hold their own key, loaded from config
// at startup or added by an explicit registration call.
package custody

import (
	"crypto/ecdsa"
	"errors"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNotFound   = errors.New("custody: entry not found")
	ErrInvalidKey = errors.New("custody: invalid private key")
)

// Entry pairs a custody id with its signing key. The address is always
// derived from the key, never stored independently, so the two cannot drift.
type Entry struct {
	ID      string
	Address common.Address
	key     *ecdsa.PrivateKey
}

// Key returns the entry's signing key.
func (e *Entry) Key() *ecdsa.PrivateKey { return e.key }

// Registry is an in-memory store of custody entries, safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Entry
	byAddress map[common.Address]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*Entry),
		byAddress: make(map[common.Address]*Entry),
	}
}

// Load seeds the registry from id→hex-key pairs (startup config).
// Returns the number of entries loaded; malformed keys are skipped and
// reported through the returned error slice rather than aborting the load.
func (r *Registry) Load(keys map[string]string) (int, []error) {
	var errs []error
	loaded := 0
	for id, hexKey := range keys {
		if err := r.Put(id, hexKey); err != nil {
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	return loaded, errs
}

// Put adds or replaces an entry. The address is derived from the key.
func (r *Registry) Put(id, hexKey string) error {
	if id == "" {
		return errors.New("custody: id required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return ErrInvalidKey
	}

	entry := &Entry{
		ID:      id,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Replacing an entry must also drop its old address mapping.
	if old, ok := r.byID[id]; ok {
		delete(r.byAddress, old.Address)
	}
	r.byID[id] = entry
	r.byAddress[entry.Address] = entry
	return nil
}

// Get returns the entry for a custody id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// FindByAddress returns the entry controlling the given address.
func (r *Registry) FindByAddress(addr common.Address) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byAddress[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Has reports whether a custody entry exists for the id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
