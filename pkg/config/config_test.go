// Copyright 2025 Certen Protocol
//
// Unit tests for configuration validation and the symbol mapping table.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Symbols: []string{"BTCUSDT"},
		SymbolMappings: SymbolMappings{
			"BTCUSDT": {SourceBinance: "BTCUSDT"},
		},
		Sources: map[string]SourceConfig{},
		BatchProcessing: BatchProcessingConfig{
			RPCEndpoint:             "https://rpc.example.org:10332",
			ContractScriptHash:      "0x" + "ab12cd34ef567890ab12cd34ef567890ab12cd34",
			TEEAccountPrivateKey:    "key",
			MasterAccountPrivateKey: "key",
			MaxBatchSize:            50,
		},
		Attestation: AttestationConfig{BaseDirectory: "/tmp/att", RetentionDays: 7},
		Run:         RunConfig{IntervalSeconds: 60},
	}
}

// ============================================================================
// Validation
// ============================================================================

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Valid configuration rejected: %v", err)
	}
}

func TestHTTPEndpointRejectedExceptLocalhost(t *testing.T) {
	cfg := validConfig()
	cfg.BatchProcessing.RPCEndpoint = "http://rpc.example.org:10332"
	if err := cfg.Validate(); err == nil {
		t.Error("Plain HTTP for a remote node must be rejected")
	}

	cfg.BatchProcessing.RPCEndpoint = "http://localhost:10332"
	if err := cfg.Validate(); err != nil {
		t.Errorf("HTTP to localhost must be allowed: %v", err)
	}
}

func TestContractHashValidation(t *testing.T) {
	bad := []string{
		"",
		"ab12cd34ef567890ab12cd34ef567890ab12cd34", // missing 0x
		"0xab12",                                   // too short
		"0xZZ12cd34ef567890ab12cd34ef567890ab12cd34",
	}
	for _, hash := range bad {
		cfg := validConfig()
		cfg.BatchProcessing.ContractScriptHash = hash
		if err := cfg.Validate(); err == nil {
			t.Errorf("Contract hash %q must be rejected", hash)
		}
	}
}

func TestBatchSizeBounds(t *testing.T) {
	for _, size := range []int{0, -1, 101} {
		cfg := validConfig()
		cfg.BatchProcessing.MaxBatchSize = size
		if err := cfg.Validate(); err == nil {
			t.Errorf("Batch size %d must be rejected", size)
		}
	}
	for _, size := range []int{1, 100} {
		cfg := validConfig()
		cfg.BatchProcessing.MaxBatchSize = size
		if err := cfg.Validate(); err != nil {
			t.Errorf("Batch size %d must be accepted: %v", size, err)
		}
	}
}

func TestValidationCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.BatchProcessing.RPCEndpoint = ""
	cfg.BatchProcessing.TEEAccountPrivateKey = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "NEO_RPC_ENDPOINT") || !strings.Contains(msg, "TEE_ACCOUNT_PRIVATE_KEY") {
		t.Errorf("Expected all failures reported together, got: %s", msg)
	}
}

// ============================================================================
// Canonical symbols
// ============================================================================

func TestCanonicalSymbolRules(t *testing.T) {
	valid := []string{"BTCUSDT", "ETH", "NEO123"}
	invalid := []string{"", "BT", "btcusdt", "BTC-USDT", "BTC USD"}

	for _, s := range valid {
		if !IsCanonicalSymbol(s) {
			t.Errorf("%q must be accepted", s)
		}
	}
	for _, s := range invalid {
		if IsCanonicalSymbol(s) {
			t.Errorf("%q must be rejected", s)
		}
	}
}

// ============================================================================
// Symbol mapping table
// ============================================================================

func TestLoadSymbolConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.yaml")
	content := `
symbols:
  - BTCUSDT
  - ETHUSDT
symbolMappings:
  BTCUSDT:
    binance: BTCUSDT
    coinbase: BTC-USD
    kraken: XXBTZUSD
  ETHUSDT:
    binance: ETHUSDT
    okex: ETH-USDT
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write symbol file: %v", err)
	}

	symbols, mappings, err := LoadSymbolConfig(path)
	if err != nil {
		t.Fatalf("LoadSymbolConfig failed: %v", err)
	}
	if len(symbols) != 2 {
		t.Errorf("Expected 2 symbols, got %v", symbols)
	}
	if mappings.ProviderSymbol("BTCUSDT", SourceCoinbase) != "BTC-USD" {
		t.Error("Mapping lookup failed")
	}
	if mappings.ProviderSymbol("ETHUSDT", SourceCoinbase) != "" {
		t.Error("Missing mapping must resolve to empty string")
	}
}

func TestLoadSymbolConfigRejectsUnmappedSymbol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.yaml")
	content := `
symbols:
  - BTCUSDT
  - ORPHAN
symbolMappings:
  BTCUSDT:
    binance: BTCUSDT
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write symbol file: %v", err)
	}

	if _, _, err := LoadSymbolConfig(path); err == nil {
		t.Error("Symbol without a mapping entry must be rejected")
	}
}

func TestValidateMappings(t *testing.T) {
	symbols := []string{"BTCUSDT"}

	ok := SymbolMappings{"BTCUSDT": {SourceBinance: "BTCUSDT"}}
	if err := ValidateMappings(symbols, ok); err != nil {
		t.Errorf("Valid mappings rejected: %v", err)
	}

	unknownSource := SymbolMappings{"BTCUSDT": {"bitfinex": "tBTCUSD"}}
	if err := ValidateMappings(symbols, unknownSource); err == nil {
		t.Error("Unknown source name must be rejected")
	}

	allEmpty := SymbolMappings{"BTCUSDT": {SourceBinance: ""}}
	if err := ValidateMappings(symbols, allEmpty); err == nil {
		t.Error("Symbol unsupported everywhere must be rejected")
	}
}

func TestSupportedByIsSorted(t *testing.T) {
	m := SymbolMappings{
		"ZZZUSD": {SourceBinance: "ZZZUSD"},
		"AAAUSD": {SourceBinance: "AAAUSD"},
	}
	got := m.SupportedBy(SourceBinance, []string{"ZZZUSD", "AAAUSD"})
	if len(got) != 2 || got[0] != "AAAUSD" {
		t.Errorf("Expected sorted symbols, got %v", got)
	}
}

func TestSourceTimeoutDefault(t *testing.T) {
	if (SourceConfig{}).Timeout() != 10*time.Second {
		t.Error("Zero timeout must default to 10s")
	}
	if (SourceConfig{TimeoutSeconds: 3}).Timeout() != 3*time.Second {
		t.Error("Configured timeout not honored")
	}
}
