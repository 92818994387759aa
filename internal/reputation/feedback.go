// Package reputation owns the feedback pathway to the official registry and
// the boost ledger that feeds the trust engine's custom signal.
package reputation

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/audit"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/custody"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/logging"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/validation"
)

var (
	ErrSelfFeedback = errors.New("reputation: self-feedback forbidden")
)

// SubmitRequest carries one feedback submission. From and To are agent
// references in any scheme the resolver accepts.
type SubmitRequest struct {
	From             string  `json:"from" binding:"required"`
	To               string  `json:"to" binding:"required"`
	Rating           float64 `json:"rating"`
	Tag1             string  `json:"tag1,omitempty"`
	Tag2             string  `json:"tag2,omitempty"`
	PaymentProofHash string  `json:"paymentProofHash,omitempty"`
}

// Service validates and submits feedback to the official registry.
type Service struct {
	gateway     chain.Gateway
	resolver    *identity.Resolver
	custody     *custody.Registry
	operatorKey *ecdsa.PrivateKey
	emitter     *audit.Emitter
}

// NewService creates the feedback service.
func NewService(gateway chain.Gateway, resolver *identity.Resolver, custodyReg *custody.Registry, operatorKey *ecdsa.PrivateKey, emitter *audit.Emitter) *Service {
	return &Service{
		gateway:     gateway,
		resolver:    resolver,
		custody:     custodyReg,
		operatorKey: operatorKey,
		emitter:     emitter,
	}
}

// Submit validates the request, normalizes the rating to 0-100, and writes
// the feedback through the ledger gateway. Ledger failures are returned
// verbatim; audit failures are not.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*chain.TxResult, error) {
	if err := validation.Rating("rating", req.Rating); err != nil {
		return nil, err
	}

	from, err := s.resolver.Resolve(ctx, req.From)
	if err != nil {
		return nil, fmt.Errorf("resolve from: %w", err)
	}
	to, err := s.resolver.Resolve(ctx, req.To)
	if err != nil {
		return nil, fmt.Errorf("resolve to: %w", err)
	}

	// Self-feedback is checked on the canonical address, so an agent
	// cannot rate itself through a different reference scheme.
	if from.ChainAddress == to.ChainAddress {
		return nil, ErrSelfFeedback
	}

	rating := uint8(validation.NormalizeRating(req.Rating))

	var proofHash [32]byte
	if req.PaymentProofHash != "" {
		proofHash = common.HexToHash(req.PaymentProofHash)
	}

	signer, err := s.signerFor(from)
	if err != nil {
		return nil, err
	}

	res, err := s.gateway.SubmitFeedback(ctx, signer, to.ChainAddress, rating, req.Tag1, req.Tag2, proofHash)
	if err != nil {
		return nil, err
	}

	metrics.FeedbackSubmittedTotal.Inc()
	if s.emitter != nil {
		s.emitter.Emit("feedback.submitted", map[string]interface{}{
			"from":   from.ChainAddress.Hex(),
			"to":     to.ChainAddress.Hex(),
			"rating": rating,
			"tx":     res.TxHash,
		})
	}

	logging.L(ctx).Info("feedback submitted",
		"from", from.ChainAddress.Hex(),
		"to", to.ChainAddress.Hex(),
		"rating", rating,
		"tx", res.TxHash)

	return res, nil
}

// signerFor picks the signing key for an agent: its own custody key when
// permissionless, the operator key otherwise.
func (s *Service) signerFor(agent *identity.AgentRecord) (*ecdsa.PrivateKey, error) {
	if agent.PaymentMode == identity.Permissionless {
		if entry, err := s.custody.FindByAddress(agent.ChainAddress); err == nil {
			return entry.Key(), nil
		}
	}
	if s.operatorKey == nil {
		return nil, errors.New("reputation: no signing key available")
	}
	return s.operatorKey, nil
}
