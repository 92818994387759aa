package trust

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
)

var testAddr = common.HexToAddress("0xabcdef0123456789abcdef0123456789abcdef01")

type stubFeedback struct {
	records []chain.FeedbackRecord
	err     error
}

func (s *stubFeedback) ReadFeedback(ctx context.Context, addr common.Address) ([]chain.FeedbackRecord, error) {
	return s.records, s.err
}

type stubHistory struct {
	rate    float64
	samples int
}

func (s *stubHistory) SuccessRate(addr common.Address) (float64, int)    { return s.rate, s.samples }
func (s *stubHistory) CompletionRate(addr common.Address) (float64, int) { return s.rate, s.samples }

type stubBoosts struct{ boosts int }

func (s *stubBoosts) Boosts(addr common.Address) int { return s.boosts }

func weightSum(s *Snapshot) float64 {
	return s.Custom.Weight + s.Official.Weight + s.TxSuccess.Weight + s.PaymentCompletion.Weight
}

func TestCompute_AllSignalsAvailable(t *testing.T) {
	engine := NewEngine(DefaultWeights(), 40,
		&stubFeedback{records: []chain.FeedbackRecord{
			{Rating: 80}, {Rating: 90},
		}},
		&stubHistory{rate: 1.0, samples: 4},
		&stubHistory{rate: 0.5, samples: 2},
		&stubBoosts{},
	)

	agent := &identity.AgentRecord{
		ChainAddress:       testAddr,
		CustomTrustBase:    60,
		OfficialRegistryID: 7,
	}

	s := engine.Compute(context.Background(), agent)

	// 60*0.3 + 85*0.4 + 100*0.2 + 50*0.1 = 18 + 34 + 20 + 5 = 77
	assert.Equal(t, 77, s.Final)
	assert.Equal(t, 2, s.OfficialFeedbackCount)
	assert.InDelta(t, 1.0, weightSum(s), 1e-9)
	assert.True(t, s.Custom.Available)
	assert.True(t, s.Official.Available)
	assert.True(t, s.TxSuccess.Available)
	assert.True(t, s.PaymentCompletion.Available)
}

func TestCompute_ScenarioNoOfficialOnePayment(t *testing.T) {
	// No official registry id, custom 60, one completed payment, zero
	// interactions: only custom and paymentCompletion participate, with
	// weights renormalized to 0.75/0.25.
	engine := NewEngine(DefaultWeights(), 40,
		&stubFeedback{},
		&stubHistory{samples: 0},
		&stubHistory{rate: 1.0, samples: 1},
		&stubBoosts{},
	)

	agent := &identity.AgentRecord{
		ChainAddress:    testAddr,
		CustomTrustBase: 60,
	}

	s := engine.Compute(context.Background(), agent)

	assert.False(t, s.Official.Available)
	assert.False(t, s.TxSuccess.Available)
	assert.InDelta(t, 0.75, s.Custom.Weight, 1e-9)
	assert.InDelta(t, 0.25, s.PaymentCompletion.Weight, 1e-9)
	assert.InDelta(t, 1.0, weightSum(s), 1e-9)

	// round(60*0.75 + 100*0.25) = round(45 + 25) = 70
	assert.Equal(t, 70, s.Final)
}

func TestCompute_NothingAvailable(t *testing.T) {
	engine := NewEngine(DefaultWeights(), 40,
		&stubFeedback{},
		&stubHistory{samples: 0},
		&stubHistory{samples: 0},
		&stubBoosts{},
	)

	agent := &identity.AgentRecord{ChainAddress: testAddr, CustomTrustBase: 0}

	s := engine.Compute(context.Background(), agent)

	require.NotNil(t, s)
	assert.Equal(t, 0, s.Final)

	// The breakdown is fully populated even with nothing available.
	for _, c := range []Component{s.Custom, s.Official, s.TxSuccess, s.PaymentCompletion} {
		assert.False(t, c.Available)
		assert.NotEmpty(t, c.Reason)
		assert.Zero(t, c.Weight)
		assert.Zero(t, c.Value)
	}
}

func TestCompute_OfficialRegistryUnreachableDegrades(t *testing.T) {
	engine := NewEngine(DefaultWeights(), 40,
		&stubFeedback{err: fmt.Errorf("%w: timeout", chain.ErrUpstream)},
		&stubHistory{rate: 1.0, samples: 1},
		&stubHistory{rate: 1.0, samples: 1},
		&stubBoosts{},
	)

	agent := &identity.AgentRecord{
		ChainAddress:       testAddr,
		CustomTrustBase:    50,
		OfficialRegistryID: 3,
	}

	// Must not panic or error: unreachable registry is just an
	// unavailable signal with a recorded reason.
	s := engine.Compute(context.Background(), agent)
	assert.False(t, s.Official.Available)
	assert.Contains(t, s.Official.Reason, "unreachable")
	assert.InDelta(t, 1.0, weightSum(s), 1e-9)

	// custom 0.3, tx 0.2, payment 0.1 renormalized over 0.6:
	// round(50*0.5 + 100*(1/3) + 100*(1/6)) = round(25+33.33+16.67) = 75
	assert.Equal(t, 75, s.Final)
}

func TestCompute_RevokedFeedbackExcluded(t *testing.T) {
	engine := NewEngine(DefaultWeights(), 40,
		&stubFeedback{records: []chain.FeedbackRecord{
			{Rating: 100},
			{Rating: 0, Revoked: true},
		}},
		&stubHistory{samples: 0},
		&stubHistory{samples: 0},
		&stubBoosts{},
	)

	agent := &identity.AgentRecord{
		ChainAddress:       testAddr,
		CustomTrustBase:    0,
		OfficialRegistryID: 1,
	}

	s := engine.Compute(context.Background(), agent)
	assert.Equal(t, 1, s.OfficialFeedbackCount)
	assert.Equal(t, float64(100), s.Official.Value)
}

func TestCompute_BoostsFeedCustomSignal(t *testing.T) {
	engine := NewEngine(DefaultWeights(), 40,
		&stubFeedback{},
		&stubHistory{samples: 0},
		&stubHistory{samples: 0},
		&stubBoosts{boosts: 4},
	)

	agent := &identity.AgentRecord{ChainAddress: testAddr, CustomTrustBase: 60}

	s := engine.Compute(context.Background(), agent)
	assert.Equal(t, float64(64), s.Custom.Value)
	assert.Equal(t, 64, s.Final)
}

func TestCompute_FinalClampedTo100(t *testing.T) {
	engine := NewEngine(DefaultWeights(), 40,
		&stubFeedback{},
		&stubHistory{samples: 0},
		&stubHistory{samples: 0},
		&stubBoosts{boosts: 1000},
	)

	agent := &identity.AgentRecord{ChainAddress: testAddr, CustomTrustBase: 90}

	s := engine.Compute(context.Background(), agent)
	assert.Equal(t, 100, s.Final)
	assert.Equal(t, float64(100), s.Custom.Value)
}

func TestCompute_NilSourcesNeverPanic(t *testing.T) {
	engine := NewEngine(DefaultWeights(), 40, nil, nil, nil, nil)
	agent := &identity.AgentRecord{
		ChainAddress:       testAddr,
		CustomTrustBase:    40,
		OfficialRegistryID: 9,
	}

	s := engine.Compute(context.Background(), agent)
	assert.Equal(t, 40, s.Final)
	assert.False(t, s.Official.Available)
}

func TestMeetsGate(t *testing.T) {
	engine := NewEngine(DefaultWeights(), 40, nil, nil, nil, nil)

	assert.False(t, engine.MeetsGate(&Snapshot{Final: 39}))
	assert.True(t, engine.MeetsGate(&Snapshot{Final: 40}))
	assert.True(t, engine.MeetsGate(&Snapshot{Final: 100}))
}

func TestCompute_WeightSumInvariantAcrossAvailability(t *testing.T) {
	// Every availability combination keeps applied weights summing to 1.0
	// (or exactly 0 when nothing is available).
	for _, official := range []bool{true, false} {
		for _, tx := range []bool{true, false} {
			for _, pay := range []bool{true, false} {
				var fb FeedbackReader = &stubFeedback{}
				officialID := int64(0)
				if official {
					fb = &stubFeedback{records: []chain.FeedbackRecord{{Rating: 50}}}
					officialID = 1
				}
				txSamples, paySamples := 0, 0
				if tx {
					txSamples = 1
				}
				if pay {
					paySamples = 1
				}

				engine := NewEngine(DefaultWeights(), 40, fb,
					&stubHistory{rate: 1, samples: txSamples},
					&stubHistory{rate: 1, samples: paySamples},
					&stubBoosts{})

				agent := &identity.AgentRecord{
					ChainAddress:       testAddr,
					CustomTrustBase:    50,
					OfficialRegistryID: officialID,
				}

				s := engine.Compute(context.Background(), agent)
				assert.InDelta(t, 1.0, weightSum(s), 1e-9,
					"official=%v tx=%v pay=%v", official, tx, pay)
				assert.GreaterOrEqual(t, s.Final, 0)
				assert.LessOrEqual(t, s.Final, 100)
			}
		}
	}
}
