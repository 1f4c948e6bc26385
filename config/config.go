package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// Token is a wagerable ERC20 token
type Token struct {
	Symbol  string
	Address ethtypes.Address0xHex
}

// Config holds all application configuration
type Config struct {
	// Ledger configuration
	RPCURL              string
	ChainID             int64 // 0 adopts the chain reported by the node
	GameContract        ethtypes.Address0xHex
	PrivateKey          string
	GasEstimateFactor   float64
	ReceiptPollInterval time.Duration

	// Token configuration
	SupportedTokens []Token
	DefaultToken    string // symbol of the token selected at startup

	// Wager configuration
	PollInterval         time.Duration // bet status polling cadence
	RevokeStaleAllowance bool          // reset an unused approval to zero

	// NATS configuration
	NATSEnabled bool
	NATSServers string // NATS server addresses (comma-separated)

	// OpenTelemetry configuration
	OTelEnabled              bool
	OTelExporterType         string // "console", "otlp" or "none"
	OTelOTLPEndpoint         string
	OTelServiceName          string
	OTelExportIntervalMillis int

	// Logging
	LogLevel string

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	// If instance is already set (e.g., by tests), return it
	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = Load()
		if err != nil {
			if os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		// Ledger
		RPCURL:              getEnvWithDefault("RPC_URL", "http://localhost:8545"),
		ChainID:             getInt64(os.Getenv("CHAIN_ID"), 0),
		PrivateKey:          os.Getenv("PRIVATE_KEY"),
		GasEstimateFactor:   getFloat(os.Getenv("GAS_ESTIMATE_FACTOR"), 1.5),
		ReceiptPollInterval: getMillis(os.Getenv("RECEIPT_POLL_INTERVAL_MS"), 2*time.Second),

		// Tokens
		DefaultToken: os.Getenv("DEFAULT_TOKEN"),

		// Wager
		PollInterval:         getMillis(os.Getenv("POLL_INTERVAL_MS"), 2*time.Second),
		RevokeStaleAllowance: getBool(os.Getenv("REVOKE_STALE_ALLOWANCE"), true),

		// NATS
		NATSEnabled: getBool(os.Getenv("NATS_ENABLED"), false),
		NATSServers: getEnvWithDefault("NATS_SERVERS", "nats://localhost:4222"),

		// OpenTelemetry
		OTelEnabled:              getBool(os.Getenv("OTEL_ENABLED"), false),
		OTelExporterType:         getEnvWithDefault("OTEL_EXPORTER_TYPE", "console"),
		OTelOTLPEndpoint:         getEnvWithDefault("OTEL_OTLP_ENDPOINT", "localhost:4317"),
		OTelServiceName:          getEnvWithDefault("OTEL_SERVICE_NAME", "coinflip"),
		OTelExportIntervalMillis: int(getInt64(os.Getenv("OTEL_EXPORT_INTERVAL_MS"), 10000)),

		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
	}

	if addr := os.Getenv("GAME_CONTRACT_ADDRESS"); addr != "" {
		game, err := ethtypes.NewAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid GAME_CONTRACT_ADDRESS: %w", err)
		}
		config.GameContract = *game
	} else if config.Environment != "test" {
		return nil, fmt.Errorf("GAME_CONTRACT_ADDRESS is required")
	}

	tokens, err := ParseSupportedTokens(os.Getenv("SUPPORTED_TOKENS"))
	if err != nil {
		return nil, err
	}
	config.SupportedTokens = tokens

	if config.DefaultToken == "" && len(tokens) > 0 {
		config.DefaultToken = tokens[0].Symbol
	}

	if config.Environment != "test" {
		if len(config.SupportedTokens) == 0 {
			return nil, fmt.Errorf("SUPPORTED_TOKENS is required")
		}
		if _, ok := config.TokenBySymbol(config.DefaultToken); !ok {
			return nil, fmt.Errorf("DEFAULT_TOKEN %q is not in SUPPORTED_TOKENS", config.DefaultToken)
		}
	}

	return config, nil
}

// ParseSupportedTokens parses a "SYMBOL=0xaddress,..." list
func ParseSupportedTokens(value string) ([]Token, error) {
	var tokens []Token
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		symbol, addr, found := strings.Cut(entry, "=")
		symbol = strings.TrimSpace(symbol)
		if !found || symbol == "" {
			return nil, fmt.Errorf("invalid SUPPORTED_TOKENS entry %q: expected SYMBOL=0xaddress", entry)
		}
		address, err := ethtypes.NewAddress(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("invalid address for token %s: %w", symbol, err)
		}
		tokens = append(tokens, Token{Symbol: symbol, Address: *address})
	}
	return tokens, nil
}

// TokenBySymbol looks up a supported token, ignoring case
func (c *Config) TokenBySymbol(symbol string) (Token, bool) {
	for _, t := range c.SupportedTokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return Token{}, false
}

// ResolveToken returns the named token, or the default token when symbol is empty
func (c *Config) ResolveToken(symbol string) (Token, error) {
	if symbol == "" {
		symbol = c.DefaultToken
	}
	token, ok := c.TokenBySymbol(symbol)
	if !ok {
		return Token{}, fmt.Errorf("unsupported token %q", symbol)
	}
	return token, nil
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
		return parsed
	}
	return defaultValue
}

func getFloat(value string, defaultValue float64) float64 {
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return parsed
	}
	return defaultValue
}

func getBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

func getMillis(value string, defaultValue time.Duration) time.Duration {
	if ms := getInt64(value, 0); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		RPCURL:               "http://localhost:8545",
		GameContract:         *ethtypes.MustNewAddress("0x3333333333333333333333333333333333333333"),
		GasEstimateFactor:    1.5,
		ReceiptPollInterval:  10 * time.Millisecond,
		PollInterval:         10 * time.Millisecond,
		RevokeStaleAllowance: true,
		SupportedTokens: []Token{
			{Symbol: "USDC", Address: *ethtypes.MustNewAddress("0x2222222222222222222222222222222222222222")},
		},
		DefaultToken:     "USDC",
		OTelExporterType: "none",
		OTelServiceName:  "coinflip",
		LogLevel:         "info",
		Environment:      "test",
	}
}
