// Package chain is the ledger gateway: all reads and writes against the
// on-chain agent identity registry, escrow contract and official reputation
// registry go through here.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
)

var (
	ErrNotFound      = errors.New("chain: not found on ledger")
	ErrUpstream      = errors.New("chain: ledger unavailable")
	ErrTxFailed      = errors.New("chain: transaction reverted")
	ErrTimeout       = errors.New("chain: operation timed out")
	ErrInvalidKey    = errors.New("chain: invalid private key")
	ErrRPCConnection = errors.New("chain: RPC connection failed")
)

// CallError wraps gateway failures with the operation that failed.
type CallError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *CallError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Gateway is the full ledger surface the rest of the platform consumes.
type Gateway interface {
	// Identity registry
	ReadAgent(ctx context.Context, addr common.Address) (*AgentOnChain, error)
	ListAgents(ctx context.Context) ([]AgentOnChain, error)
	RegisterAgent(ctx context.Context, key *ecdsa.PrivateKey, name, metadataBlob string) (common.Address, *TxResult, error)

	// Escrow contract
	CreateEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string, payer, payee common.Address, amount *big.Int, description string) (*TxResult, error)
	ReleaseEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string) (*TxResult, error)
	RefundEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string) (*TxResult, error)
	DisputeEscrow(ctx context.Context, key *ecdsa.PrivateKey, id, reason string) (*TxResult, error)

	// Official reputation registry
	OfficialRegistryID(ctx context.Context, addr common.Address) (int64, error)
	SubmitFeedback(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, rating uint8, tag1, tag2 string, proofHash [32]byte) (*TxResult, error)
	ReadFeedback(ctx context.Context, addr common.Address) ([]FeedbackRecord, error)

	// Pre-signed transactions (production signing mode: the caller signed
	// offline and hands us the raw blob).
	SubmitPreSigned(ctx context.Context, rawTx []byte) (*TxResult, error)

	Close() error
}

// EthClient abstracts go-ethereum's client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

const (
	// DefaultGasLimit is used when estimation fails.
	DefaultGasLimit = uint64(300000)

	// ConfirmationPollInterval between receipt checks.
	ConfirmationPollInterval = 2 * time.Second

	// DefaultConfirmationTimeout for waiting on transactions.
	DefaultConfirmationTimeout = 45 * time.Second
)

// Config for creating a gateway.
type Config struct {
	RPCURL             string
	ChainID            int64
	IdentityContract   string
	EscrowContract     string
	ReputationContract string
}

// Option configures the gateway.
type Option func(*EthGateway)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(g *EthGateway) {
		g.client = client
	}
}

// EthGateway implements Gateway over a JSON-RPC endpoint.
type EthGateway struct {
	client        EthClient
	chainID       *big.Int
	identityAddr  common.Address
	escrowAddr    common.Address
	repAddr       common.Address
	identityABI   abi.ABI
	escrowABI     abi.ABI
	reputationABI abi.ABI
}

var _ Gateway = (*EthGateway)(nil)

// New creates a gateway. If no client is injected it dials the RPC URL.
func New(cfg Config, opts ...Option) (*EthGateway, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain ID required")
	}

	identityABI, err := abi.JSON(strings.NewReader(identityRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse identity ABI: %w", err)
	}
	escrowABI, err := abi.JSON(strings.NewReader(escrowContractABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow ABI: %w", err)
	}
	reputationABI, err := abi.JSON(strings.NewReader(reputationRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse reputation ABI: %w", err)
	}

	g := &EthGateway{
		chainID:       big.NewInt(cfg.ChainID),
		identityAddr:  common.HexToAddress(cfg.IdentityContract),
		escrowAddr:    common.HexToAddress(cfg.EscrowContract),
		repAddr:       common.HexToAddress(cfg.ReputationContract),
		identityABI:   identityABI,
		escrowABI:     escrowABI,
		reputationABI: reputationABI,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		g.client = client
	}

	return g, nil
}

// ParseKey parses a hex private key, with or without 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// KeyAddress derives the address controlled by a private key.
func KeyAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// EscrowKey hashes an escrow ID string into the bytes32 key the contract uses.
func EscrowKey(id string) [32]byte {
	return crypto.Keccak256Hash([]byte(id))
}

// -----------------------------------------------------------------------------
// Identity registry
// -----------------------------------------------------------------------------

// ReadAgent fetches an agent's registry entry by address.
// Returns ErrNotFound when the address has never registered.
func (g *EthGateway) ReadAgent(ctx context.Context, addr common.Address) (*AgentOnChain, error) {
	out, err := g.call(ctx, "readAgent", g.identityAddr, g.identityABI, "getAgent", addr)
	if err != nil {
		return nil, err
	}

	agent := &AgentOnChain{Address: addr}
	if err := unpackInto(g.identityABI, "getAgent", out, &agent.Name, &agent.MetadataBlob, &agent.Active); err != nil {
		return nil, &CallError{Op: "readAgent", Err: err}
	}

	// The contract returns zero values for unregistered addresses.
	if agent.Name == "" && agent.MetadataBlob == "" && !agent.Active {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, addr.Hex())
	}

	return agent, nil
}

// ListAgents enumerates every registered agent. Used only to warm the
// resolver's serviceId index at startup; steady-state lookups never scan.
func (g *EthGateway) ListAgents(ctx context.Context) ([]AgentOnChain, error) {
	out, err := g.call(ctx, "listAgents", g.identityAddr, g.identityABI, "getAgentCount")
	if err != nil {
		return nil, err
	}

	var count *big.Int
	if err := unpackInto(g.identityABI, "getAgentCount", out, &count); err != nil {
		return nil, &CallError{Op: "listAgents", Err: err}
	}

	n := count.Int64()
	agents := make([]AgentOnChain, 0, n)
	for i := int64(0); i < n; i++ {
		out, err := g.call(ctx, "listAgents", g.identityAddr, g.identityABI, "getAgentByIndex", big.NewInt(i))
		if err != nil {
			return nil, err
		}
		var a AgentOnChain
		if err := unpackInto(g.identityABI, "getAgentByIndex", out, &a.Address, &a.Name, &a.MetadataBlob, &a.Active); err != nil {
			return nil, &CallError{Op: "listAgents", Err: err}
		}
		agents = append(agents, a)
	}

	return agents, nil
}

// RegisterAgent writes a new registry entry signed by key. The registered
// address is the key's address.
func (g *EthGateway) RegisterAgent(ctx context.Context, key *ecdsa.PrivateKey, name, metadataBlob string) (common.Address, *TxResult, error) {
	addr := KeyAddress(key)

	res, err := g.transact(ctx, "registerAgent", key, g.identityAddr, g.identityABI, "registerAgent", name, metadataBlob)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, res, nil
}

// -----------------------------------------------------------------------------
// Escrow contract
// -----------------------------------------------------------------------------

// CreateEscrow locks funds under the hashed escrow ID.
func (g *EthGateway) CreateEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string, payer, payee common.Address, amount *big.Int, description string) (*TxResult, error) {
	return g.transact(ctx, "createEscrow", key, g.escrowAddr, g.escrowABI, "createEscrow",
		EscrowKey(id), payer, payee, amount, description)
}

// ReleaseEscrow pays out the escrow to the payee.
func (g *EthGateway) ReleaseEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string) (*TxResult, error) {
	return g.transact(ctx, "releaseEscrow", key, g.escrowAddr, g.escrowABI, "releaseEscrow", EscrowKey(id))
}

// RefundEscrow returns the escrowed funds to the payer.
func (g *EthGateway) RefundEscrow(ctx context.Context, key *ecdsa.PrivateKey, id string) (*TxResult, error) {
	return g.transact(ctx, "refundEscrow", key, g.escrowAddr, g.escrowABI, "refundEscrow", EscrowKey(id))
}

// DisputeEscrow freezes the escrow pending off-chain resolution.
func (g *EthGateway) DisputeEscrow(ctx context.Context, key *ecdsa.PrivateKey, id, reason string) (*TxResult, error) {
	return g.transact(ctx, "disputeEscrow", key, g.escrowAddr, g.escrowABI, "disputeEscrow", EscrowKey(id), reason)
}

// -----------------------------------------------------------------------------
// Official reputation registry
// -----------------------------------------------------------------------------

// OfficialRegistryID returns the agent's id in the official registry,
// or ErrNotFound if the agent never registered there (contract returns 0).
func (g *EthGateway) OfficialRegistryID(ctx context.Context, addr common.Address) (int64, error) {
	out, err := g.call(ctx, "officialRegistryId", g.repAddr, g.reputationABI, "getAgentId", addr)
	if err != nil {
		return 0, err
	}

	var id *big.Int
	if err := unpackInto(g.reputationABI, "getAgentId", out, &id); err != nil {
		return 0, &CallError{Op: "officialRegistryId", Err: err}
	}
	if id.Sign() == 0 {
		return 0, fmt.Errorf("%w: no official registry entry for %s", ErrNotFound, addr.Hex())
	}
	return id.Int64(), nil
}

// SubmitFeedback writes one reputation entry. rating must already be
// normalized to the 0-100 scale.
func (g *EthGateway) SubmitFeedback(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, rating uint8, tag1, tag2 string, proofHash [32]byte) (*TxResult, error) {
	return g.transact(ctx, "submitFeedback", key, g.repAddr, g.reputationABI, "submitFeedback",
		to, rating, tag1, tag2, proofHash)
}

// ReadFeedback returns every non-paginated feedback entry for an address.
func (g *EthGateway) ReadFeedback(ctx context.Context, addr common.Address) ([]FeedbackRecord, error) {
	out, err := g.call(ctx, "readFeedback", g.repAddr, g.reputationABI, "getFeedbackCount", addr)
	if err != nil {
		return nil, err
	}

	var count *big.Int
	if err := unpackInto(g.reputationABI, "getFeedbackCount", out, &count); err != nil {
		return nil, &CallError{Op: "readFeedback", Err: err}
	}

	n := count.Int64()
	records := make([]FeedbackRecord, 0, n)
	for i := int64(0); i < n; i++ {
		out, err := g.call(ctx, "readFeedback", g.repAddr, g.reputationABI, "getFeedback", addr, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		rec := FeedbackRecord{To: addr}
		if err := unpackInto(g.reputationABI, "getFeedback", out, &rec.From, &rec.Rating, &rec.Tag1, &rec.Tag2, &rec.ProofHash, &rec.Revoked); err != nil {
			return nil, &CallError{Op: "readFeedback", Err: err}
		}
		records = append(records, rec)
	}

	return records, nil
}

// -----------------------------------------------------------------------------
// Transaction plumbing
// -----------------------------------------------------------------------------

// SubmitPreSigned broadcasts a transaction that was signed out of process.
func (g *EthGateway) SubmitPreSigned(ctx context.Context, rawTx []byte) (*TxResult, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return nil, &CallError{Op: "submitPreSigned", Err: fmt.Errorf("decode raw tx: %w", err)}
	}

	if err := g.client.SendTransaction(ctx, tx); err != nil {
		metrics.ChainCallsTotal.WithLabelValues("submitPreSigned", "error").Inc()
		return nil, &CallError{Op: "submitPreSigned", TxHash: tx.Hash().Hex(), Err: fmt.Errorf("%w: %v", ErrUpstream, err)}
	}

	metrics.ChainCallsTotal.WithLabelValues("submitPreSigned", "ok").Inc()
	return g.waitMined(ctx, "submitPreSigned", tx.Hash())
}

// transact packs, signs, sends and waits for a contract call.
func (g *EthGateway) transact(ctx context.Context, op string, key *ecdsa.PrivateKey, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) (*TxResult, error) {
	if key == nil {
		return nil, &CallError{Op: op, Err: ErrInvalidKey}
	}
	from := KeyAddress(key)

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, &CallError{Op: op, Err: fmt.Errorf("pack %s: %w", method, err)}
	}

	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(op, "error").Inc()
		return nil, &CallError{Op: op, Err: fmt.Errorf("%w: nonce: %v", ErrUpstream, err)}
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(op, "error").Inc()
		return nil, &CallError{Op: op, Err: fmt.Errorf("%w: gas price: %v", ErrUpstream, err)}
	}

	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), key)
	if err != nil {
		return nil, &CallError{Op: op, Err: fmt.Errorf("sign: %w", err)}
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		metrics.ChainCallsTotal.WithLabelValues(op, "error").Inc()
		return nil, &CallError{Op: op, TxHash: signedTx.Hash().Hex(), Err: fmt.Errorf("%w: %v", ErrUpstream, err)}
	}

	metrics.ChainCallsTotal.WithLabelValues(op, "ok").Inc()

	res, err := g.waitMined(ctx, op, signedTx.Hash())
	if err != nil {
		return nil, err
	}
	res.Nonce = nonce
	return res, nil
}

// waitMined polls for the receipt until mined or timeout.
func (g *EthGateway) waitMined(ctx context.Context, op string, hash common.Hash) (*TxResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &CallError{Op: op, TxHash: hash.Hex(), Err: ErrTimeout}
			}
			return nil, ctx.Err()

		case <-ticker.C:
			receipt, err := g.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Not yet mined, keep polling.
				continue
			}

			if receipt.Status == 0 {
				return nil, &CallError{Op: op, TxHash: hash.Hex(), Err: ErrTxFailed}
			}

			return &TxResult{
				TxHash:      hash.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
	}
}

// call performs a read-only contract call.
func (g *EthGateway) call(ctx context.Context, op string, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, &CallError{Op: op, Err: fmt.Errorf("pack %s: %w", method, err)}
	}

	out, err := g.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(op, "error").Inc()
		return nil, &CallError{Op: op, Err: fmt.Errorf("%w: %v", ErrUpstream, err)}
	}

	metrics.ChainCallsTotal.WithLabelValues(op, "ok").Inc()
	return out, nil
}

// unpackInto unpacks ABI outputs into the given pointers.
func unpackInto(contractABI abi.ABI, method string, data []byte, targets ...interface{}) error {
	values, err := contractABI.Unpack(method, data)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != len(targets) {
		return fmt.Errorf("unpack %s: got %d values, want %d", method, len(values), len(targets))
	}
	for i, v := range values {
		if err := assign(targets[i], v); err != nil {
			return fmt.Errorf("unpack %s output %d: %w", method, i, err)
		}
	}
	return nil
}

func assign(target, value interface{}) error {
	switch t := target.(type) {
	case *string:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		*t = s
	case *bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		*t = b
	case *uint8:
		u, ok := value.(uint8)
		if !ok {
			return fmt.Errorf("expected uint8, got %T", value)
		}
		*t = u
	case **big.Int:
		b, ok := value.(*big.Int)
		if !ok {
			return fmt.Errorf("expected *big.Int, got %T", value)
		}
		*t = b
	case *common.Address:
		a, ok := value.(common.Address)
		if !ok {
			return fmt.Errorf("expected address, got %T", value)
		}
		*t = a
	case *[32]byte:
		h, ok := value.([32]byte)
		if !ok {
			return fmt.Errorf("expected bytes32, got %T", value)
		}
		*t = h
	default:
		return fmt.Errorf("unsupported target type %T", target)
	}
	return nil
}

// Close closes the underlying client connection.
func (g *EthGateway) Close() error {
	if g.client != nil {
		g.client.Close()
	}
	return nil
}
