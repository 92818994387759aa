// Package chaintest provides an in-memory Gateway fake for tests.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
)

// FakeGateway implements chain.Gateway against in-memory maps. Zero value
// is not usable; call New.
type FakeGateway struct {
	mu sync.Mutex

	Agents      map[common.Address]chain.AgentOnChain
	OfficialIDs map[common.Address]int64
	Feedback    map[common.Address][]chain.FeedbackRecord

	// ReadErr fails every read; WriteErr fails every write.
	ReadErr  error
	WriteErr error

	// Calls records every gateway method invoked, in order.
	Calls []string

	txCounter int
}

var _ chain.Gateway = (*FakeGateway)(nil)

// New creates an empty fake.
func New() *FakeGateway {
	return &FakeGateway{
		Agents:      make(map[common.Address]chain.AgentOnChain),
		OfficialIDs: make(map[common.Address]int64),
		Feedback:    make(map[common.Address][]chain.FeedbackRecord),
	}
}

// CallCount returns how many times a method was invoked.
func (f *FakeGateway) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *FakeGateway) record(method string) {
	f.Calls = append(f.Calls, method)
}

func (f *FakeGateway) nextTx() *chain.TxResult {
	f.txCounter++
	return &chain.TxResult{
		TxHash:      fmt.Sprintf("0xtx%04d", f.txCounter),
		BlockNumber: uint64(f.txCounter),
	}
}

func (f *FakeGateway) ReadAgent(ctx context.Context, addr common.Address) (*chain.AgentOnChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ReadAgent")
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	a, ok := f.Agents[addr]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", chain.ErrNotFound, addr.Hex())
	}
	return &a, nil
}

func (f *FakeGateway) ListAgents(ctx context.Context) ([]chain.AgentOnChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListAgents")
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	out := make([]chain.AgentOnChain, 0, len(f.Agents))
	for _, a := range f.Agents {
		out = append(out, a)
	}
	return out, nil
}

func (f *FakeGateway) RegisterAgent(ctx context.Context, key *ecdsa.PrivateKey, name, metadataBlob string) (common.Address, *chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RegisterAgent")
	if f.WriteErr != nil {
		return common.Address{}, nil, f.WriteErr
	}
	addr := chain.KeyAddress(key)
	f.Agents[addr] = chain.AgentOnChain{Address: addr, Name: name, MetadataBlob: metadataBlob, Active: true}
	return addr, f.nextTx(), nil
}

func (f *FakeGateway) CreateEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string, payer, payee common.Address, amount *big.Int, description string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateEscrow")
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	return f.nextTx(), nil
}

func (f *FakeGateway) ReleaseEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ReleaseEscrow")
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	return f.nextTx(), nil
}

func (f *FakeGateway) RefundEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RefundEscrow")
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	return f.nextTx(), nil
}

func (f *FakeGateway) DisputeEscrow(ctx context.Context, key *ecdsa.PrivateKey, id, reason string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DisputeEscrow")
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	return f.nextTx(), nil
}

func (f *FakeGateway) OfficialRegistryID(ctx context.Context, addr common.Address) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("OfficialRegistryID")
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	id, ok := f.OfficialIDs[addr]
	if !ok || id == 0 {
		return 0, chain.ErrNotFound
	}
	return id, nil
}

func (f *FakeGateway) SubmitFeedback(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, rating uint8, tag1, tag2 string, proofHash [32]byte) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SubmitFeedback")
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	f.Feedback[to] = append(f.Feedback[to], chain.FeedbackRecord{
		From: chain.KeyAddress(key), To: to, Rating: rating, Tag1: tag1, Tag2: tag2,
	})
	return f.nextTx(), nil
}

func (f *FakeGateway) ReadFeedback(ctx context.Context, addr common.Address) ([]chain.FeedbackRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ReadFeedback")
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return append([]chain.FeedbackRecord(nil), f.Feedback[addr]...), nil
}

func (f *FakeGateway) SubmitPreSigned(ctx context.Context, rawTx []byte) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SubmitPreSigned")
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	return f.nextTx(), nil
}

func (f *FakeGateway) Close() error { return nil }
