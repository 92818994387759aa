// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Blockchain settings
	RPCURL             string
	ChainID            int64
	OperatorKey        string // Hex-encoded shared operator key, signs for permissioned agents
	IdentityContract   string // Agent identity registry contract
	EscrowContract     string // Escrow contract
	ReputationContract string // Official reputation registry contract

	// Custody: seed signing keys for permissionless agents, loaded at startup.
	// Format: "agent-id=hexkey;other-id=hexkey"
	CustodyKeys map[string]string

	// Trust scoring
	TrustWeightCustom   float64
	TrustWeightOfficial float64
	TrustWeightTx       float64
	TrustWeightPayment  float64
	TrustGateThreshold  int

	// Audit log sink endpoint (optional; audit is disabled if not set)
	AuditSinkURL string

	// Observability
	OTLPEndpoint string

	// Security
	RateLimitRPM int
}

// Base Sepolia defaults
const (
	DefaultRPCURL   = "https://sepolia.base.org"
	DefaultChainID  = 84532 // Base Sepolia
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultTrustWeightCustom   = 0.3
	DefaultTrustWeightOfficial = 0.4
	DefaultTrustWeightTx       = 0.2
	DefaultTrustWeightPayment  = 0.1
	DefaultTrustGateThreshold  = 40

	DefaultRateLimit = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		RPCURL:              getEnv("RPC_URL", DefaultRPCURL),
		ChainID:             getEnvInt64("CHAIN_ID", DefaultChainID),
		OperatorKey:         os.Getenv("OPERATOR_KEY"), // Required, no default
		IdentityContract:    os.Getenv("IDENTITY_CONTRACT"),
		EscrowContract:      os.Getenv("ESCROW_CONTRACT"),
		ReputationContract:  os.Getenv("REPUTATION_CONTRACT"),
		CustodyKeys:         parseCustodyKeys(os.Getenv("CUSTODY_KEYS")),
		TrustWeightCustom:   getEnvFloat("TRUST_WEIGHT_CUSTOM", DefaultTrustWeightCustom),
		TrustWeightOfficial: getEnvFloat("TRUST_WEIGHT_OFFICIAL", DefaultTrustWeightOfficial),
		TrustWeightTx:       getEnvFloat("TRUST_WEIGHT_TX", DefaultTrustWeightTx),
		TrustWeightPayment:  getEnvFloat("TRUST_WEIGHT_PAYMENT", DefaultTrustWeightPayment),
		TrustGateThreshold:  int(getEnvInt64("TRUST_GATE_THRESHOLD", DefaultTrustGateThreshold)),
		AuditSinkURL:        os.Getenv("AUDIT_SINK_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.OperatorKey == "" {
		return fmt.Errorf("OPERATOR_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := strings.TrimPrefix(c.OperatorKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("OPERATOR_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	sum := c.TrustWeightCustom + c.TrustWeightOfficial + c.TrustWeightTx + c.TrustWeightPayment
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("trust weights must sum to 1.0, got %.3f", sum)
	}

	if c.TrustGateThreshold < 0 || c.TrustGateThreshold > 100 {
		return fmt.Errorf("TRUST_GATE_THRESHOLD must be in [0,100]")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// parseCustodyKeys parses "id=hexkey;id2=hexkey2" into a map.
// Malformed segments are skipped rather than failing startup.
func parseCustodyKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}
	for _, seg := range strings.Split(raw, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		id, key, ok := strings.Cut(seg, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(key) == "" {
			continue
		}
		keys[strings.TrimSpace(id)] = strings.TrimSpace(key)
	}
	return keys
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
