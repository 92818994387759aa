// Package interaction owns the agent-to-agent interaction state machine.
//
// The machine has two states: initiated and completed. Initiation is gated
// on the target's hybrid trust score; completion credits both parties and is
// idempotent, so a caller retrying after a timeout cannot double-credit.
// Records that are never completed stay initiated; reconciliation of stale
// records is a manual process.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/audit"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/idgen"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/logging"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/reputation"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/syncutil"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/traces"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/trust"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/validation"
)

var (
	ErrNotFound          = errors.New("interaction: not found")
	ErrTrustGateRejected = errors.New("interaction: target below trust threshold")
)

// CompletionBoost is the trust credit applied to both parties on completion.
const CompletionBoost = 1

// Record is one capability invocation between two agents.
type Record struct {
	ID          string         `json:"id"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Capability  string         `json:"capability"`
	Completed   bool           `json:"completed"`
	TargetTrust int            `json:"targetTrust"`
	InitiatedAt time.Time      `json:"initiatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// InitiateRequest starts an interaction. From and To are agent references.
type InitiateRequest struct {
	From       string `json:"from" binding:"required"`
	To         string `json:"to" binding:"required"`
	Capability string `json:"capability" binding:"required"`
}

// Manager drives the interaction state machine.
type Manager struct {
	store    *MemoryStore
	resolver *identity.Resolver
	engine   *trust.Engine
	boosts   *reputation.BoostLedger
	emitter  *audit.Emitter
	locks    *syncutil.ContextShardedMutex
}

// NewManager creates an interaction manager.
func NewManager(store *MemoryStore, resolver *identity.Resolver, engine *trust.Engine, boosts *reputation.BoostLedger, emitter *audit.Emitter) *Manager {
	return &Manager{
		store:    store,
		resolver: resolver,
		engine:   engine,
		boosts:   boosts,
		emitter:  emitter,
		locks:    syncutil.NewContextShardedMutex(),
	}
}

// Initiate gates on the target's hybrid trust and records the interaction.
// A rejection is a distinct condition from not-found or upstream failure so
// callers can tell "agent rejected" from "agent missing".
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (*Record, error) {
	if errs := validation.Validate(
		validation.Required("from", req.From),
		validation.Required("to", req.To),
		validation.Required("capability", req.Capability),
		validation.MaxLen("capability", req.Capability, 128),
	); len(errs) > 0 {
		return nil, errs
	}

	from, err := m.resolver.Resolve(ctx, req.From)
	if err != nil {
		return nil, fmt.Errorf("resolve from: %w", err)
	}
	to, err := m.resolver.Resolve(ctx, req.To)
	if err != nil {
		return nil, fmt.Errorf("resolve to: %w", err)
	}

	snapshot := m.engine.Compute(ctx, to)
	if !m.engine.MeetsGate(snapshot) {
		metrics.InteractionsTotal.WithLabelValues("gate_rejected").Inc()
		return nil, fmt.Errorf("%w: trust %d, threshold %.0f",
			ErrTrustGateRejected, snapshot.Final, m.engine.Threshold())
	}

	record := &Record{
		ID:          idgen.WithPrefix("int_"),
		From:        from.ChainAddress,
		To:          to.ChainAddress,
		Capability:  req.Capability,
		TargetTrust: snapshot.Final,
		InitiatedAt: time.Now().UTC(),
	}

	ctx, span := traces.StartInteractionSpan(ctx, "initiate", record.ID)
	defer span.End()

	if err := m.store.Create(record); err != nil {
		return nil, err
	}

	metrics.InteractionsTotal.WithLabelValues("initiated").Inc()
	m.emit("interaction.initiated", record)
	logging.L(ctx).Info("interaction initiated",
		"interaction_id", record.ID,
		"from", record.From.Hex(),
		"to", record.To.Hex(),
		"capability", record.Capability,
		"target_trust", record.TargetTrust)

	out := *record
	return &out, nil
}

// Complete flips the record to completed and credits both parties +1, keyed
// by the interaction id. Completing an already-completed interaction is a
// no-op success: the caller may be retrying after a lost response.
func (m *Manager) Complete(ctx context.Context, id string) (*Record, error) {
	ctx, span := traces.StartInteractionSpan(ctx, "complete", id)
	defer span.End()

	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	record, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	if record.Completed {
		return record, nil
	}

	now := time.Now().UTC()
	record.Completed = true
	record.CompletedAt = &now
	if err := m.store.Update(record); err != nil {
		return nil, err
	}

	if m.boosts.Apply(record.ID, CompletionBoost, record.From, record.To) {
		logging.L(ctx).Info("interaction completed",
			"interaction_id", record.ID, "boost", CompletionBoost)
	}

	metrics.InteractionsTotal.WithLabelValues("completed").Inc()
	m.emit("interaction.completed", record)

	out := *record
	return &out, nil
}

// Get returns an interaction by id.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	return m.store.Get(id)
}

// ListByAgent returns interactions the agent participates in.
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

func (m *Manager) emit(topic string, record *Record) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(topic, map[string]interface{}{
		"interactionId": record.ID,
		"from":          record.From.Hex(),
		"to":            record.To.Hex(),
		"capability":    record.Capability,
		"completed":     record.Completed,
	})
}
