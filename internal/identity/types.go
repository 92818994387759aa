package identity

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentMode distinguishes who signs for an agent.
type PaymentMode string

const (
	// Permissioned agents are signed for by the shared operator key.
	Permissioned PaymentMode = "permissioned"
	// Permissionless agents hold their own key in the custody registry.
	Permissionless PaymentMode = "permissionless"
)

// AgentRecord is the canonical merged view of one agent.
type AgentRecord struct {
	ServiceID          string         `json:"serviceId,omitempty"`
	Name               string         `json:"name,omitempty"`
	ChainAddress       common.Address `json:"chainAddress"`
	WalletAddress      string         `json:"walletAddress,omitempty"`
	PaymentMode        PaymentMode    `json:"paymentMode"`
	Capabilities       []string       `json:"capabilities"`
	OfficialRegistryID int64          `json:"officialRegistryId,omitempty"`
	CustomTrustBase    int            `json:"customTrustBase"`
	Active             bool           `json:"active"`
	RegisteredAt       time.Time      `json:"registeredAt,omitempty"`
}

// Metadata is the parsed form of an agent's on-chain metadata blob.
// Exactly one of the two variants applies.
type Metadata interface {
	isMetadata()
}

// Structured metadata carries the fields the platform wrote at registration.
type Structured struct {
	ServiceID     string      `json:"serviceId"`
	PaymentMode   PaymentMode `json:"paymentMode,omitempty"`
	WalletAddress string      `json:"walletAddress,omitempty"`
	Capabilities  []string    `json:"capabilities,omitempty"`
}

// Unstructured metadata is anything we could not parse; kept verbatim.
type Unstructured struct {
	Raw string
}

func (Structured) isMetadata()   {}
func (Unstructured) isMetadata() {}

// ParseMetadata classifies a metadata blob. A blob is Structured only if it
// is valid JSON carrying a serviceId; everything else is Unstructured, and
// callers default paymentMode to permissioned for those.
func ParseMetadata(blob string) Metadata {
	var s Structured
	if err := json.Unmarshal([]byte(blob), &s); err != nil || s.ServiceID == "" {
		return Unstructured{Raw: blob}
	}
	if s.PaymentMode != Permissioned && s.PaymentMode != Permissionless {
		s.PaymentMode = Permissioned
	}
	return s
}

// EncodeMetadata renders the structured blob written on registration.
func EncodeMetadata(s Structured) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ComputeTrustBase derives the registration-time heuristic score from
// metadata completeness and capability count.
func ComputeTrustBase(meta Metadata, capabilities []string) int {
	score := 30

	if s, ok := meta.(Structured); ok {
		score += 20
		if s.WalletAddress != "" {
			score += 10
		}
	}

	caps := len(capabilities)
	if caps > 5 {
		caps = 5
	}
	score += caps * 8

	if score > 100 {
		score = 100
	}
	return score
}
