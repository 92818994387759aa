// Package escrow owns the payment-in-trust state machine.
//
// Flow:
//  1. Payer creates an escrow → funds locked on the ledger, status active
//  2. Release → funds to payee, status completed, trust established
//  3. Refund → funds back to payer, status refunded, no trust change
//  4. Dispute → status disputed, frozen pending off-chain resolution
//
// Every transition out of active is terminal.
package escrow

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/audit"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/custody"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/idgen"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/logging"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/reputation"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/syncutil"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/traces"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/validation"
)

var (
	ErrNotFound        = errors.New("escrow: not found")
	ErrAlreadyResolved = errors.New("escrow: already resolved")
	ErrInvalidSigning  = errors.New("escrow: exactly one signing credential required")
)

// ReleaseBoost is the trust credit applied to both parties on release.
const ReleaseBoost = 2

// Status of an escrow.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
	StatusDisputed  Status = "disputed"
)

// Record is one escrow.
type Record struct {
	ID            string         `json:"id"`
	Payer         common.Address `json:"payer"`
	Payee         common.Address `json:"payee"`
	Amount        string         `json:"amount"` // wei, base-10
	Description   string         `json:"description,omitempty"`
	Status        Status         `json:"status"`
	SettlementTx  string         `json:"settlementTx,omitempty"`
	DisputeReason string         `json:"disputeReason,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// IsTerminal reports whether the escrow reached a final state.
func (r *Record) IsTerminal() bool {
	return r.Status != StatusActive
}

// SigningContext selects who signs the ledger write. Exactly one of the
// three fields must be set.
type SigningContext struct {
	// UseOperator signs with the platform operator key.
	UseOperator bool `json:"useOperator,omitempty"`
	// PrivateKey is a caller-held hex key (demo custodial mode).
	PrivateKey string `json:"privateKey,omitempty"`
	// PreSignedTx is a hex-encoded raw transaction (production mode).
	PreSignedTx string `json:"preSignedTx,omitempty"`
}

// orOperator defaults an empty context to operator signing. Release and
// refund accept an absent context; create does not.
func (s SigningContext) orOperator() SigningContext {
	if !s.UseOperator && s.PrivateKey == "" && s.PreSignedTx == "" {
		s.UseOperator = true
	}
	return s
}

// Validate enforces the exactly-one rule.
func (s SigningContext) Validate() error {
	n := 0
	if s.UseOperator {
		n++
	}
	if s.PrivateKey != "" {
		n++
	}
	if s.PreSignedTx != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidSigning, n)
	}
	return nil
}

// CreateRequest creates an escrow. Payer and Payee are agent references in
// any scheme the resolver accepts.
type CreateRequest struct {
	Payer       string         `json:"payer" binding:"required"`
	Payee       string         `json:"payee" binding:"required"`
	Amount      string         `json:"amount" binding:"required"`
	Description string         `json:"description"`
	Signing     SigningContext `json:"signing"`
}

// Store persists escrow records.
type Store interface {
	Create(record *Record) error
	Get(id string) (*Record, error)
	Update(record *Record) error
	ListByAgent(addr common.Address, limit int) []*Record
}

// Manager drives the escrow state machine.
type Manager struct {
	store       Store
	gateway     chain.Gateway
	resolver    *identity.Resolver
	custody     *custody.Registry
	operatorKey *ecdsa.PrivateKey
	boosts      *reputation.BoostLedger
	emitter     *audit.Emitter
	locks       *syncutil.ContextShardedMutex
}

// NewManager creates an escrow manager.
func NewManager(store Store, gateway chain.Gateway, resolver *identity.Resolver, custodyReg *custody.Registry, operatorKey *ecdsa.PrivateKey, boosts *reputation.BoostLedger, emitter *audit.Emitter) *Manager {
	return &Manager{
		store:       store,
		gateway:     gateway,
		resolver:    resolver,
		custody:     custodyReg,
		operatorKey: operatorKey,
		boosts:      boosts,
		emitter:     emitter,
		locks:       syncutil.NewContextShardedMutex(),
	}
}

// Create resolves both parties, writes the escrow to the ledger and records
// it locally as active.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	if errs := validation.Validate(
		validation.Required("payer", req.Payer),
		validation.Required("payee", req.Payee),
		validation.PositiveAmount("amount", req.Amount),
		validation.MaxLen("description", req.Description, 1024),
	); len(errs) > 0 {
		return nil, errs
	}
	if err := req.Signing.Validate(); err != nil {
		return nil, err
	}

	payer, err := m.resolver.Resolve(ctx, req.Payer)
	if err != nil {
		return nil, fmt.Errorf("resolve payer: %w", err)
	}
	payee, err := m.resolver.Resolve(ctx, req.Payee)
	if err != nil {
		return nil, fmt.Errorf("resolve payee: %w", err)
	}
	if payer.ChainAddress == payee.ChainAddress {
		return nil, validation.Errorf("payee", "payer and payee cannot be the same agent")
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return nil, validation.Errorf("amount", "must be a base-10 integer amount")
	}

	record := &Record{
		ID:          idgen.WithPrefix("esc_"),
		Payer:       payer.ChainAddress,
		Payee:       payee.ChainAddress,
		Amount:      req.Amount,
		Description: req.Description,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
	}

	ctx, span := traces.StartEscrowSpan(ctx, "create", record.ID)
	defer span.End()

	// Once the ledger write is in flight it runs to completion even if the
	// client disconnects.
	writeCtx := context.WithoutCancel(ctx)

	res, err := m.write(writeCtx, req.Signing, payer, func(key *ecdsa.PrivateKey) (*chain.TxResult, error) {
		return m.gateway.CreateEscrow(writeCtx, key, record.ID, record.Payer, record.Payee, amount, record.Description)
	})
	if err != nil {
		return nil, err
	}

	if err := m.store.Create(record); err != nil {
		return nil, err
	}

	metrics.EscrowsCreatedTotal.Inc()
	m.emit("escrow.created", record, res.TxHash)
	logging.L(ctx).Info("escrow created",
		"escrow_id", record.ID,
		"payer", record.Payer.Hex(),
		"payee", record.Payee.Hex(),
		"amount", record.Amount,
		"tx", res.TxHash)

	out := *record
	return &out, nil
}

// Release pays out an active escrow and establishes trust: both parties are
// credited +2, keyed by the settlement transaction so a replay of the same
// settlement can never double-credit.
func (m *Manager) Release(ctx context.Context, id string, signing SigningContext) (*Record, error) {
	ctx, span := traces.StartEscrowSpan(ctx, "release", id)
	defer span.End()

	signing = signing.orOperator()

	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	record, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if record.IsTerminal() {
		return nil, fmt.Errorf("%w: escrow %s is %s", ErrAlreadyResolved, id, record.Status)
	}
	if err := signing.Validate(); err != nil {
		return nil, err
	}

	writeCtx := context.WithoutCancel(ctx)
	payer := m.agentFor(record.Payer)

	res, err := m.write(writeCtx, signing, payer, func(key *ecdsa.PrivateKey) (*chain.TxResult, error) {
		return m.gateway.ReleaseEscrow(writeCtx, key, id)
	})
	if err != nil {
		// Ledger failures surface verbatim: no retry, no state change.
		return nil, err
	}

	now := time.Now().UTC()
	record.Status = StatusCompleted
	record.CompletedAt = &now
	record.SettlementTx = res.TxHash
	if err := m.store.Update(record); err != nil {
		return nil, err
	}

	// Trust establishment, idempotent on the settlement tx.
	if m.boosts.Apply(res.TxHash, ReleaseBoost, record.Payer, record.Payee) {
		logging.L(ctx).Info("trust established",
			"escrow_id", id, "settlement_tx", res.TxHash, "boost", ReleaseBoost)
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	m.emit("escrow.released", record, res.TxHash)

	out := *record
	return &out, nil
}

// Refund returns the funds to the payer. No trust boost: only completed,
// mutually-beneficial exchanges build trust.
func (m *Manager) Refund(ctx context.Context, id string, signing SigningContext) (*Record, error) {
	ctx, span := traces.StartEscrowSpan(ctx, "refund", id)
	defer span.End()

	signing = signing.orOperator()

	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	record, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if record.IsTerminal() {
		return nil, fmt.Errorf("%w: escrow %s is %s", ErrAlreadyResolved, id, record.Status)
	}
	if err := signing.Validate(); err != nil {
		return nil, err
	}

	writeCtx := context.WithoutCancel(ctx)
	payer := m.agentFor(record.Payer)

	res, err := m.write(writeCtx, signing, payer, func(key *ecdsa.PrivateKey) (*chain.TxResult, error) {
		return m.gateway.RefundEscrow(writeCtx, key, id)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record.Status = StatusRefunded
	record.CompletedAt = &now
	record.SettlementTx = res.TxHash
	if err := m.store.Update(record); err != nil {
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusRefunded)).Inc()
	m.emit("escrow.refunded", record, res.TxHash)

	out := *record
	return &out, nil
}

// Dispute freezes an active escrow pending off-chain resolution. Signed by
// the operator: disputes are a platform action, not a party action.
func (m *Manager) Dispute(ctx context.Context, id, reason string) (*Record, error) {
	ctx, span := traces.StartEscrowSpan(ctx, "dispute", id)
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, validation.Errorf("reason", "is required")
	}

	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	record, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if record.IsTerminal() {
		return nil, fmt.Errorf("%w: escrow %s is %s", ErrAlreadyResolved, id, record.Status)
	}

	writeCtx := context.WithoutCancel(ctx)
	res, err := m.gateway.DisputeEscrow(writeCtx, m.operatorKey, id, reason)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record.Status = StatusDisputed
	record.DisputeReason = reason
	record.CompletedAt = &now
	record.SettlementTx = res.TxHash
	if err := m.store.Update(record); err != nil {
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	m.emit("escrow.disputed", record, res.TxHash)

	out := *record
	return &out, nil
}

// Get returns an escrow by id.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	return m.store.Get(id)
}

// ListByAgent returns escrows where the agent is payer or payee.
func (m *Manager) ListByAgent(ctx context.Context, reference string, limit int) ([]*Record, error) {
	agent, err := m.resolver.Resolve(ctx, reference)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return m.store.ListByAgent(agent.ChainAddress, limit), nil
}

// write dispatches a ledger write according to the signing context.
func (m *Manager) write(ctx context.Context, signing SigningContext, payer *identity.AgentRecord, fn func(key *ecdsa.PrivateKey) (*chain.TxResult, error)) (*chain.TxResult, error) {
	switch {
	case signing.PreSignedTx != "":
		raw, err := hex.DecodeString(strings.TrimPrefix(signing.PreSignedTx, "0x"))
		if err != nil {
			return nil, validation.Errorf("preSignedTx", "must be hex-encoded")
		}
		return m.gateway.SubmitPreSigned(ctx, raw)

	case signing.PrivateKey != "":
		key, err := chain.ParseKey(signing.PrivateKey)
		if err != nil {
			return nil, err
		}
		return fn(key)

	default: // operator
		key := m.operatorKey
		// A permissionless payer signs with its own custody key even in
		// operator mode; custody is ground truth for who can sign.
		if payer != nil && payer.PaymentMode == identity.Permissionless {
			if entry, err := m.custody.FindByAddress(payer.ChainAddress); err == nil {
				key = entry.Key()
			}
		}
		if key == nil {
			return nil, errors.New("escrow: no operator key configured")
		}
		return fn(key)
	}
}

// agentFor builds a minimal record for an address already known to a stored
// escrow, avoiding a full resolution on every transition.
func (m *Manager) agentFor(addr common.Address) *identity.AgentRecord {
	rec := &identity.AgentRecord{ChainAddress: addr, PaymentMode: identity.Permissioned}
	if _, err := m.custody.FindByAddress(addr); err == nil {
		rec.PaymentMode = identity.Permissionless
	}
	return rec
}

func (m *Manager) emit(topic string, record *Record, txHash string) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(topic, map[string]interface{}{
		"escrowId": record.ID,
		"payer":    record.Payer.Hex(),
		"payee":    record.Payee.Hex(),
		"amount":   record.Amount,
		"status":   record.Status,
		"tx":       txHash,
	})
}
