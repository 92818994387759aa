package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AgentOnChain is the raw registry view of an agent, before the identity
// resolver merges it with custody and cache data.
type AgentOnChain struct {
	Address      common.Address
	Name         string
	MetadataBlob string
	Active       bool
}

// FeedbackRecord is one reputation entry read from the official registry.
type FeedbackRecord struct {
	From      common.Address
	To        common.Address
	Rating    uint8 // 0-100
	Tag1      string
	Tag2      string
	ProofHash [32]byte
	Revoked   bool
}

// TxResult describes a submitted (and optionally mined) transaction.
type TxResult struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Nonce       uint64
}

// EscrowOnChain is the contract's view of an escrow.
type EscrowOnChain struct {
	Payer     common.Address
	Payee     common.Address
	Amount    *big.Int
	Status    uint8
	CreatedAt time.Time
}
