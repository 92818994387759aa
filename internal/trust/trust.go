// Package trust computes the hybrid 0-100 trust score.
//
// Four signals feed the score: the registration-time heuristic plus applied
// boosts (custom), the official registry's average rating (official), the
// agent's interaction success rate, and its escrow completion rate. Signals
// fail independently; an unavailable signal has its weight redistributed
// proportionally across the rest, so the reported weights always sum to 1.0
// over whatever was available.
package trust

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/logging"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
)

// Weights are the blend proportions before renormalization. They must sum
// to 1.0 (validated at config load).
type Weights struct {
	Custom            float64 `json:"custom"`
	Official          float64 `json:"official"`
	TxSuccess         float64 `json:"txSuccess"`
	PaymentCompletion float64 `json:"paymentCompletion"`
}

// DefaultWeights returns the standard blend.
func DefaultWeights() Weights {
	return Weights{Custom: 0.3, Official: 0.4, TxSuccess: 0.2, PaymentCompletion: 0.1}
}

// Component is one signal's contribution to a snapshot.
type Component struct {
	Value     float64 `json:"value"`
	Weight    float64 `json:"weight"` // renormalized weight actually applied
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"` // why unavailable
}

// Snapshot is a point-in-time computed score. Never persisted; always
// recomputed on read. The breakdown is fully populated even when every
// signal is unavailable, so callers always see a consistent shape.
type Snapshot struct {
	Final                 int       `json:"final"`
	Custom                Component `json:"custom"`
	Official              Component `json:"official"`
	TxSuccess             Component `json:"txSuccess"`
	PaymentCompletion     Component `json:"paymentCompletion"`
	OfficialFeedbackCount int       `json:"officialFeedbackCount"`
}

// FeedbackReader reads the official reputation registry.
type FeedbackReader interface {
	ReadFeedback(ctx context.Context, addr common.Address) ([]chain.FeedbackRecord, error)
}

// InteractionHistory reports an agent's interaction outcomes.
// samples == 0 means no history.
type InteractionHistory interface {
	SuccessRate(addr common.Address) (rate float64, samples int)
}

// PaymentHistory reports an agent's escrow outcomes.
type PaymentHistory interface {
	CompletionRate(addr common.Address) (rate float64, samples int)
}

// BoostSource supplies accumulated trust boosts for the custom signal.
type BoostSource interface {
	Boosts(addr common.Address) int
}

// Engine computes hybrid trust scores.
type Engine struct {
	weights      Weights
	gate         float64
	feedback     FeedbackReader
	interactions InteractionHistory
	payments     PaymentHistory
	boosts       BoostSource
}

// NewEngine creates an engine. Any history source may be nil, in which case
// that signal is simply never available.
func NewEngine(weights Weights, gateThreshold float64, feedback FeedbackReader, interactions InteractionHistory, payments PaymentHistory, boosts BoostSource) *Engine {
	return &Engine{
		weights:      weights,
		gate:         gateThreshold,
		feedback:     feedback,
		interactions: interactions,
		payments:     payments,
		boosts:       boosts,
	}
}

// Threshold returns the trust-gate threshold.
func (e *Engine) Threshold() float64 { return e.gate }

// MeetsGate reports whether a snapshot clears the interaction gate.
func (e *Engine) MeetsGate(s *Snapshot) bool {
	return float64(s.Final) >= e.gate
}

// Compute builds a snapshot for the agent. It never returns an error for a
// valid record: upstream failures mark the affected signal unavailable with
// a reason, and the remaining weights are renormalized.
func (e *Engine) Compute(ctx context.Context, agent *identity.AgentRecord) *Snapshot {
	metrics.TrustComputationsTotal.Inc()

	s := &Snapshot{}

	s.Custom = e.customSignal(agent)
	s.Official, s.OfficialFeedbackCount = e.officialSignal(ctx, agent)
	s.TxSuccess = e.txSignal(agent)
	s.PaymentCompletion = e.paymentSignal(agent)

	e.renormalize(s)

	sum := s.Custom.Value*s.Custom.Weight +
		s.Official.Value*s.Official.Weight +
		s.TxSuccess.Value*s.TxSuccess.Weight +
		s.PaymentCompletion.Value*s.PaymentCompletion.Weight

	final := int(math.Round(sum))
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	s.Final = final

	metrics.TrustScore.Observe(float64(final))
	return s
}

// customSignal blends the registration heuristic with accumulated boosts.
func (e *Engine) customSignal(agent *identity.AgentRecord) Component {
	value := float64(agent.CustomTrustBase)
	if e.boosts != nil {
		value += float64(e.boosts.Boosts(agent.ChainAddress))
	}
	if value > 100 {
		value = 100
	}

	if value <= 0 {
		return unavailable("no heuristic score")
	}
	return Component{Value: value, Available: true}
}

// officialSignal averages non-revoked registry ratings. Requires an official
// registry id and at least one feedback entry.
func (e *Engine) officialSignal(ctx context.Context, agent *identity.AgentRecord) (Component, int) {
	if agent.OfficialRegistryID == 0 {
		return unavailable("not in official registry"), 0
	}
	if e.feedback == nil {
		return unavailable("no feedback source configured"), 0
	}

	records, err := e.feedback.ReadFeedback(ctx, agent.ChainAddress)
	if err != nil {
		// Degrade, never fail: an unreachable registry is an
		// unavailable signal, not an error.
		metrics.TrustSignalUnavailableTotal.WithLabelValues("official").Inc()
		logging.L(ctx).Warn("official registry unreachable during trust computation",
			"address", agent.ChainAddress.Hex(), "error", err)
		if errors.Is(err, chain.ErrNotFound) {
			return unavailable("no official feedback"), 0
		}
		return unavailable(fmt.Sprintf("registry unreachable: %v", err)), 0
	}

	var sum float64
	count := 0
	for _, rec := range records {
		if rec.Revoked {
			continue
		}
		sum += float64(rec.Rating)
		count++
	}
	if count == 0 {
		return unavailable("zero feedback count"), 0
	}

	return Component{Value: sum / float64(count), Available: true}, count
}

func (e *Engine) txSignal(agent *identity.AgentRecord) Component {
	if e.interactions == nil {
		return unavailable("no interaction history source")
	}
	rate, samples := e.interactions.SuccessRate(agent.ChainAddress)
	if samples == 0 {
		metrics.TrustSignalUnavailableTotal.WithLabelValues("tx_success").Inc()
		return unavailable("no interaction history")
	}
	return Component{Value: rate * 100, Available: true}
}

func (e *Engine) paymentSignal(agent *identity.AgentRecord) Component {
	if e.payments == nil {
		return unavailable("no payment history source")
	}
	rate, samples := e.payments.CompletionRate(agent.ChainAddress)
	if samples == 0 {
		metrics.TrustSignalUnavailableTotal.WithLabelValues("payment_completion").Inc()
		return unavailable("no escrow history")
	}
	return Component{Value: rate * 100, Available: true}
}

// renormalize spreads unavailable signals' weight proportionally over the
// available ones so applied weights still sum to 1.0.
func (e *Engine) renormalize(s *Snapshot) {
	type slot struct {
		comp *Component
		base float64
	}
	slots := []slot{
		{&s.Custom, e.weights.Custom},
		{&s.Official, e.weights.Official},
		{&s.TxSuccess, e.weights.TxSuccess},
		{&s.PaymentCompletion, e.weights.PaymentCompletion},
	}

	var total float64
	for _, sl := range slots {
		if sl.comp.Available {
			total += sl.base
		}
	}

	for _, sl := range slots {
		if sl.comp.Available && total > 0 {
			sl.comp.Weight = sl.base / total
		} else {
			sl.comp.Weight = 0
		}
	}
}

func unavailable(reason string) Component {
	return Component{Available: false, Reason: reason}
}
