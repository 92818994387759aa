// Package identity resolves ambiguous agent references into canonical records.
//
// A reference may be a service id, a custody id, or a chain address; the
// resolver tries each interpretation in a fixed fallback order and merges
// registry, custody and cached data into one AgentRecord.
package identity

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/custody"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/logging"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/retry"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/traces"
)

var (
	ErrNotFound            = errors.New("identity: agent not found")
	ErrRegistryUnavailable = errors.New("identity: registry unavailable")
	ErrServiceIDTaken      = errors.New("identity: service id already registered")
)

// Resolver turns references into AgentRecords and owns the serviceId cache
// and the serviceId→address index over on-chain metadata.
type Resolver struct {
	gateway     chain.Gateway
	custody     *custody.Registry
	operatorKey *ecdsa.PrivateKey

	mu    sync.RWMutex
	cache map[string]*AgentRecord      // serviceId → locally-registered record
	index map[string]common.Address    // serviceId → address, from on-chain metadata
}

// NewResolver creates a resolver. operatorKey signs registrations for
// permissioned agents; it may be nil in read-only deployments.
func NewResolver(gateway chain.Gateway, custodyReg *custody.Registry, operatorKey *ecdsa.PrivateKey) *Resolver {
	return &Resolver{
		gateway:     gateway,
		custody:     custodyReg,
		operatorKey: operatorKey,
		cache:       make(map[string]*AgentRecord),
		index:       make(map[string]common.Address),
	}
}

// WarmIndex builds the serviceId→address index by enumerating the registry
// once. Steady-state lookups never scan; registrations maintain the index
// incrementally. Failures leave the index cold, which only costs extra
// not-found responses until the next warm attempt.
func (r *Resolver) WarmIndex(ctx context.Context) error {
	var agents []chain.AgentOnChain
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		agents, err = r.gateway.ListAgents(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("warm index: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		if s, ok := ParseMetadata(a.MetadataBlob).(Structured); ok {
			r.index[s.ServiceID] = a.Address
		}
	}
	logging.L(ctx).Info("serviceId index warmed", "entries", len(r.index))
	return nil
}

// Resolve maps a reference to its canonical AgentRecord.
//
// Order: serviceId cache → custody registry → address-shaped on-chain read →
// serviceId index → not found. Read failures at any step fall through to the
// next; ErrRegistryUnavailable is returned only when a step errored and no
// later step produced a record, so transient upstream failures never make a
// resolvable agent unreachable and callers can still tell "no such agent"
// from "registry down".
func (r *Resolver) Resolve(ctx context.Context, reference string) (*AgentRecord, error) {
	ctx, span := traces.StartResolveSpan(ctx, reference)
	defer span.End()

	sawUpstreamErr := false

	// Step 1: known serviceId.
	r.mu.RLock()
	cached, inCache := r.cache[reference]
	r.mu.RUnlock()
	if inCache {
		rec, err := r.refreshCached(ctx, cached)
		if err == nil {
			metrics.ResolutionsTotal.WithLabelValues("service_id").Inc()
			return rec, nil
		}
		logging.L(ctx).Warn("cached agent refresh failed, falling through",
			"reference", reference, "error", err)
		sawUpstreamErr = true
	}

	// Step 2: custody id.
	if entry, err := r.custody.Get(reference); err == nil {
		rec, err := r.fromCustody(ctx, entry)
		if err == nil {
			metrics.ResolutionsTotal.WithLabelValues("custody").Inc()
			return rec, nil
		}
		logging.L(ctx).Warn("custody-backed read failed, falling through",
			"reference", reference, "error", err)
		sawUpstreamErr = true
	}

	// Step 3: address-shaped reference.
	if common.IsHexAddress(reference) {
		addr := common.HexToAddress(reference)
		rec, err := r.fromAddress(ctx, addr)
		if err == nil {
			metrics.ResolutionsTotal.WithLabelValues("address").Inc()
			return rec, nil
		}
		if errors.Is(err, chain.ErrNotFound) {
			// Not on chain yet, but a custody entry for the address
			// still identifies the agent.
			if entry, cerr := r.custody.FindByAddress(addr); cerr == nil {
				rec, err := r.fromCustody(ctx, entry)
				if err == nil {
					metrics.ResolutionsTotal.WithLabelValues("address").Inc()
					return rec, nil
				}
				sawUpstreamErr = true
			}
		} else {
			sawUpstreamErr = true
		}
	}

	// Step 4: serviceId index over on-chain metadata.
	r.mu.RLock()
	addr, indexed := r.index[reference]
	r.mu.RUnlock()
	if indexed {
		rec, err := r.fromAddress(ctx, addr)
		if err == nil {
			metrics.ResolutionsTotal.WithLabelValues("index").Inc()
			return rec, nil
		}
		if !errors.Is(err, chain.ErrNotFound) {
			sawUpstreamErr = true
		}
	}

	if sawUpstreamErr {
		metrics.ResolutionsTotal.WithLabelValues("upstream_error").Inc()
		return nil, fmt.Errorf("%w: resolving %q", ErrRegistryUnavailable, reference)
	}
	metrics.ResolutionsTotal.WithLabelValues("not_found").Inc()
	return nil, fmt.Errorf("%w: %q", ErrNotFound, reference)
}

// refreshCached merges a cached record with a fresh on-chain read.
func (r *Resolver) refreshCached(ctx context.Context, cached *AgentRecord) (*AgentRecord, error) {
	rec := *cached // copy; cache entries are never handed out directly

	if rec.ChainAddress == (common.Address{}) {
		return &rec, nil
	}

	onchain, err := r.gateway.ReadAgent(ctx, rec.ChainAddress)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			// Registered locally but the on-chain write hasn't landed yet.
			return &rec, nil
		}
		return nil, err
	}

	// Same merge as the address path, so the record does not depend on
	// which reference scheme the caller used.
	r.mergeOnChain(ctx, &rec, onchain)
	r.foldCustody(&rec)
	if rec.ServiceID == "" {
		rec.ServiceID = cached.ServiceID
	}
	return &rec, nil
}

// fromCustody builds a record for a custody-registry reference. Custody
// entries are permissionless by definition.
func (r *Resolver) fromCustody(ctx context.Context, entry *custody.Entry) (*AgentRecord, error) {
	rec := &AgentRecord{
		ChainAddress:  entry.Address,
		WalletAddress: entry.Address.Hex(),
		PaymentMode:   Permissionless,
		Capabilities:  []string{},
		Active:        true,
	}

	onchain, err := r.gateway.ReadAgent(ctx, entry.Address)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			// Custody key exists but the agent never registered on-chain.
			rec.ServiceID = entry.ID
			rec.CustomTrustBase = ComputeTrustBase(Unstructured{}, nil)
			return rec, nil
		}
		return nil, err
	}

	r.mergeOnChain(ctx, rec, onchain)
	if rec.ServiceID == "" {
		rec.ServiceID = entry.ID
	}
	return rec, nil
}

// fromAddress builds a record from a bare chain address.
func (r *Resolver) fromAddress(ctx context.Context, addr common.Address) (*AgentRecord, error) {
	onchain, err := r.gateway.ReadAgent(ctx, addr)
	if err != nil {
		return nil, err
	}

	rec := &AgentRecord{
		ChainAddress: addr,
		PaymentMode:  Permissioned,
		Capabilities: []string{},
	}
	r.mergeOnChain(ctx, rec, onchain)
	r.foldCustody(rec)

	return rec, nil
}

// foldCustody overlays custody state onto rec. Custody presence is ground
// truth for who can sign: it always wins over whatever the metadata claims.
func (r *Resolver) foldCustody(rec *AgentRecord) {
	if entry, err := r.custody.FindByAddress(rec.ChainAddress); err == nil {
		rec.PaymentMode = Permissionless
		rec.WalletAddress = entry.Address.Hex()
		if rec.ServiceID == "" {
			rec.ServiceID = entry.ID
		}
	}
}

// mergeOnChain folds registry data and parsed metadata into rec.
func (r *Resolver) mergeOnChain(ctx context.Context, rec *AgentRecord, onchain *chain.AgentOnChain) {
	rec.Name = onchain.Name
	rec.Active = onchain.Active

	meta := ParseMetadata(onchain.MetadataBlob)
	if s, ok := meta.(Structured); ok {
		rec.ServiceID = s.ServiceID
		rec.PaymentMode = s.PaymentMode
		if s.WalletAddress != "" {
			rec.WalletAddress = s.WalletAddress
		}
		if len(s.Capabilities) > 0 {
			rec.Capabilities = s.Capabilities
		}
	}
	rec.CustomTrustBase = ComputeTrustBase(meta, rec.Capabilities)

	// Best effort: the official registry id only affects trust weighting,
	// so an unreachable reputation registry must not fail resolution.
	if id, err := r.gateway.OfficialRegistryID(ctx, rec.ChainAddress); err == nil {
		rec.OfficialRegistryID = id
	}
}

// RegisterRequest describes a new agent registration.
type RegisterRequest struct {
	ServiceID    string      `json:"serviceId" binding:"required"`
	Name         string      `json:"name" binding:"required"`
	Capabilities []string    `json:"capabilities"`
	PaymentMode  PaymentMode `json:"paymentMode"`
	// CustodyKey is the agent's own hex signing key; required for
	// permissionless registration, forbidden otherwise.
	CustodyKey string `json:"custodyKey,omitempty"`
}

// Register writes the agent on-chain and then records the canonical
// serviceId mapping in the cache and the index. Cache and index are updated
// only after the ledger write succeeds.
func (r *Resolver) Register(ctx context.Context, req RegisterRequest) (*AgentRecord, error) {
	if strings.TrimSpace(req.ServiceID) == "" {
		return nil, errors.New("identity: serviceId required")
	}

	r.mu.RLock()
	_, taken := r.cache[req.ServiceID]
	if !taken {
		_, taken = r.index[req.ServiceID]
	}
	r.mu.RUnlock()
	if taken {
		return nil, fmt.Errorf("%w: %q", ErrServiceIDTaken, req.ServiceID)
	}

	mode := req.PaymentMode
	if mode == "" {
		mode = Permissioned
	}

	signer := r.operatorKey
	var walletAddr string
	if mode == Permissionless {
		if req.CustodyKey == "" {
			return nil, errors.New("identity: custodyKey required for permissionless registration")
		}
		if err := r.custody.Put(req.ServiceID, req.CustodyKey); err != nil {
			return nil, err
		}
		entry, err := r.custody.Get(req.ServiceID)
		if err != nil {
			return nil, err
		}
		signer = entry.Key()
		walletAddr = entry.Address.Hex()
	} else if req.CustodyKey != "" {
		return nil, errors.New("identity: custodyKey only valid for permissionless registration")
	}

	if signer == nil {
		return nil, errors.New("identity: no signing key available for registration")
	}

	meta := Structured{
		ServiceID:     req.ServiceID,
		PaymentMode:   mode,
		WalletAddress: walletAddr,
		Capabilities:  req.Capabilities,
	}

	addr, txRes, err := r.gateway.RegisterAgent(ctx, signer, req.Name, EncodeMetadata(meta))
	if err != nil {
		return nil, err
	}

	rec := &AgentRecord{
		ServiceID:       req.ServiceID,
		Name:            req.Name,
		ChainAddress:    addr,
		WalletAddress:   walletAddr,
		PaymentMode:     mode,
		Capabilities:    req.Capabilities,
		CustomTrustBase: ComputeTrustBase(meta, req.Capabilities),
		Active:          true,
		RegisteredAt:    time.Now().UTC(),
	}
	if rec.Capabilities == nil {
		rec.Capabilities = []string{}
	}

	r.mu.Lock()
	r.cache[req.ServiceID] = rec
	r.index[req.ServiceID] = addr
	r.mu.Unlock()

	logging.L(ctx).Info("agent registered",
		"service_id", req.ServiceID,
		"address", addr.Hex(),
		"payment_mode", mode,
		"tx", txRes.TxHash)

	out := *rec
	return &out, nil
}
