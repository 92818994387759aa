package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// mockClient is a hand-rolled EthClient for unit tests.
type mockClient struct {
	callFn    func(call ethereum.CallMsg) ([]byte, error)
	sendErr   error
	sentTxs   []*types.Transaction
	receiptFn func(hash common.Hash) (*types.Receipt, error)
}

func (m *mockClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (m *mockClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (m *mockClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sentTxs = append(m.sentTxs, tx)
	return nil
}

func (m *mockClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if m.receiptFn != nil {
		return m.receiptFn(hash)
	}
	return &types.Receipt{Status: 1, BlockNumber: big.NewInt(42), GasUsed: 50_000}, nil
}

func (m *mockClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if m.callFn != nil {
		return m.callFn(call)
	}
	return nil, errors.New("no call handler")
}

func (m *mockClient) Close() {}

func newTestGateway(t *testing.T, client EthClient) *EthGateway {
	t.Helper()
	g, err := New(Config{
		RPCURL:             "http://localhost:8545",
		ChainID:            84532,
		IdentityContract:   "0x1111111111111111111111111111111111111111",
		EscrowContract:     "0x2222222222222222222222222222222222222222",
		ReputationContract: "0x3333333333333333333333333333333333333333",
	}, WithClient(client))
	require.NoError(t, err)
	return g
}

// packOutputs encodes method return values the way the contract would.
func packOutputs(t *testing.T, rawABI, method string, values ...interface{}) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	require.NoError(t, err)
	out, err := parsed.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey(testKey)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, KeyAddress(key))

	// 0x prefix is accepted.
	key2, err := ParseKey("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, KeyAddress(key), KeyAddress(key2))

	_, err = ParseKey("zz")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEscrowKey_Deterministic(t *testing.T) {
	a := EscrowKey("esc_abc")
	b := EscrowKey("esc_abc")
	c := EscrowKey("esc_def")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestReadAgent(t *testing.T) {
	addr := common.HexToAddress("0xabcdef0123456789abcdef0123456789abcdef01")

	t.Run("registered agent", func(t *testing.T) {
		client := &mockClient{callFn: func(call ethereum.CallMsg) ([]byte, error) {
			return packOutputs(t, identityRegistryABI, "getAgent",
				"translator", `{"serviceId":"translator"}`, true), nil
		}}
		g := newTestGateway(t, client)

		agent, err := g.ReadAgent(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, "translator", agent.Name)
		assert.Equal(t, `{"serviceId":"translator"}`, agent.MetadataBlob)
		assert.True(t, agent.Active)
		assert.Equal(t, addr, agent.Address)
	})

	t.Run("unregistered address is not found", func(t *testing.T) {
		client := &mockClient{callFn: func(call ethereum.CallMsg) ([]byte, error) {
			return packOutputs(t, identityRegistryABI, "getAgent", "", "", false), nil
		}}
		g := newTestGateway(t, client)

		_, err := g.ReadAgent(context.Background(), addr)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rpc failure is upstream error", func(t *testing.T) {
		client := &mockClient{callFn: func(call ethereum.CallMsg) ([]byte, error) {
			return nil, errors.New("connection refused")
		}}
		g := newTestGateway(t, client)

		_, err := g.ReadAgent(context.Background(), addr)
		assert.ErrorIs(t, err, ErrUpstream)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestOfficialRegistryID(t *testing.T) {
	addr := common.HexToAddress("0xabcdef0123456789abcdef0123456789abcdef01")

	t.Run("registered", func(t *testing.T) {
		client := &mockClient{callFn: func(call ethereum.CallMsg) ([]byte, error) {
			return packOutputs(t, reputationRegistryABI, "getAgentId", big.NewInt(1337)), nil
		}}
		g := newTestGateway(t, client)

		id, err := g.OfficialRegistryID(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, int64(1337), id)
	})

	t.Run("zero id is not found", func(t *testing.T) {
		client := &mockClient{callFn: func(call ethereum.CallMsg) ([]byte, error) {
			return packOutputs(t, reputationRegistryABI, "getAgentId", big.NewInt(0)), nil
		}}
		g := newTestGateway(t, client)

		_, err := g.OfficialRegistryID(context.Background(), addr)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReleaseEscrow_SignsAndSends(t *testing.T) {
	client := &mockClient{}
	g := newTestGateway(t, client)

	key, err := ParseKey(testKey)
	require.NoError(t, err)

	res, err := g.ReleaseEscrow(context.Background(), key, "esc_test1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxHash)
	assert.Equal(t, uint64(42), res.BlockNumber)
	assert.Equal(t, uint64(7), res.Nonce)
	require.Len(t, client.sentTxs, 1)

	// Tx targets the escrow contract and carries calldata.
	sent := client.sentTxs[0]
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), *sent.To())
	assert.NotEmpty(t, sent.Data())
}

func TestTransact_SendFailureIsUpstream(t *testing.T) {
	client := &mockClient{sendErr: errors.New("nonce too low")}
	g := newTestGateway(t, client)

	key, err := ParseKey(testKey)
	require.NoError(t, err)

	_, err = g.RefundEscrow(context.Background(), key, "esc_test2")
	assert.ErrorIs(t, err, ErrUpstream)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "refundEscrow", callErr.Op)
	assert.NotEmpty(t, callErr.TxHash)
}

func TestTransact_RevertedReceipt(t *testing.T) {
	client := &mockClient{receiptFn: func(hash common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: 0}, nil
	}}
	g := newTestGateway(t, client)

	key, err := ParseKey(testKey)
	require.NoError(t, err)

	_, err = g.ReleaseEscrow(context.Background(), key, "esc_test3")
	assert.ErrorIs(t, err, ErrTxFailed)
}

func TestTransact_NilKey(t *testing.T) {
	g := newTestGateway(t, &mockClient{})
	_, err := g.ReleaseEscrow(context.Background(), nil, "esc_test4")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
