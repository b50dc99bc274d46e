package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SourceConfig holds the per-provider connection settings.
type SourceConfig struct {
	BaseURL         string  `yaml:"baseUrl"`
	TimeoutSeconds  int     `yaml:"timeoutSeconds"`
	APIKey          string  `yaml:"apiKey"`
	APISecret       string  `yaml:"apiSecret"`
	Passphrase      string  `yaml:"passphrase"`
	TokensPerSecond float64 `yaml:"tokensPerSecond"`
}

// Timeout returns the configured per-request timeout.
func (s SourceConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// BatchProcessingConfig holds the on-chain submission settings.
type BatchProcessingConfig struct {
	RPCEndpoint               string
	NetworkMagic              uint32
	ContractScriptHash        string
	TEEAccountAddress         string
	TEEAccountPrivateKey      string
	MasterAccountAddress      string
	MasterAccountPrivateKey   string
	MaxBatchSize              int
	MaxFeePerBatch            int64 // fractions of GAS (1e-8 units)
	CheckAndTransferTeeAssets bool
	ValidUntilBlockOffset     uint32
	ConfirmPollInterval       time.Duration
	ConfirmTimeout            time.Duration
	MaxRetryAttempts          int
}

// AttestationConfig holds the attestation store settings.
type AttestationConfig struct {
	BaseDirectory string
	RetentionDays int
}

// RunConfig holds the cycle scheduling settings.
type RunConfig struct {
	Continuous      bool
	DurationMinutes int
	IntervalSeconds int
}

// RunEnvironment carries the metadata of the hosting TEE run, used as
// attestation signature material.
type RunEnvironment struct {
	RunID     string
	RunNumber string
	RepoOwner string
	RepoName  string
	Workflow  string
	CommitSHA string
	Actor     string
}

// ServerConfig holds the status/metrics HTTP server settings.
type ServerConfig struct {
	Enabled    bool
	ListenAddr string
}

// Config holds all configuration for the price feed service.
type Config struct {
	// Symbol universe
	Symbols        []string
	SymbolMappings SymbolMappings

	// Per-source settings, keyed by source name
	Sources map[string]SourceConfig

	BatchProcessing BatchProcessingConfig
	Attestation     AttestationConfig
	Run             RunConfig
	RunEnv          RunEnvironment
	Server          ServerConfig

	// Collector
	CollectTimeout time.Duration
	MaxParallelism int
	MaxClockSkew   time.Duration
}

// Load reads configuration from the environment, after best-effort
// loading of a .env file, and loads the symbol configuration from the
// YAML file named by SYMBOL_CONFIG_PATH.
//
// Required variables have no defaults. Call Validate() after Load()
// before starting the service.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Sources: map[string]SourceConfig{},

		BatchProcessing: BatchProcessingConfig{
			RPCEndpoint:               getEnv("NEO_RPC_ENDPOINT", ""),
			NetworkMagic:              uint32(getEnvInt64("NEO_NETWORK_MAGIC", 860833102)),
			ContractScriptHash:        getEnv("ORACLE_CONTRACT_HASH", ""),
			TEEAccountAddress:         getEnv("TEE_ACCOUNT_ADDRESS", ""),
			TEEAccountPrivateKey:      getEnv("TEE_ACCOUNT_PRIVATE_KEY", ""),
			MasterAccountAddress:      getEnv("MASTER_ACCOUNT_ADDRESS", ""),
			MasterAccountPrivateKey:   getEnv("MASTER_ACCOUNT_PRIVATE_KEY", ""),
			MaxBatchSize:              getEnvInt("MAX_BATCH_SIZE", 50),
			MaxFeePerBatch:            getEnvInt64("MAX_FEE_PER_BATCH", 10_0000_0000),
			CheckAndTransferTeeAssets: getEnvBool("CHECK_AND_TRANSFER_TEE_ASSETS", false),
			ValidUntilBlockOffset:     uint32(getEnvInt("VALID_UNTIL_BLOCK_OFFSET", 100)),
			ConfirmPollInterval:       getEnvDuration("CONFIRM_POLL_INTERVAL", 2*time.Second),
			ConfirmTimeout:            getEnvDuration("CONFIRM_TIMEOUT", 90*time.Second),
			MaxRetryAttempts:          getEnvInt("MAX_RETRY_ATTEMPTS", 3),
		},

		Attestation: AttestationConfig{
			BaseDirectory: getEnv("ATTESTATION_DIR", "./attestations"),
			RetentionDays: getEnvInt("ATTESTATION_RETENTION_DAYS", 7),
		},

		Run: RunConfig{
			Continuous:      getEnvBool("RUN_CONTINUOUS", false),
			DurationMinutes: getEnvInt("RUN_DURATION_MINUTES", 0),
			IntervalSeconds: getEnvInt("RUN_INTERVAL_SECONDS", 60),
		},

		RunEnv: RunEnvironment{
			RunID:     getEnv("GITHUB_RUN_ID", ""),
			RunNumber: getEnv("GITHUB_RUN_NUMBER", ""),
			RepoOwner: getEnv("GITHUB_REPOSITORY_OWNER", ""),
			RepoName:  repoNameFromSlug(getEnv("GITHUB_REPOSITORY", "")),
			Workflow:  getEnv("GITHUB_WORKFLOW", ""),
			CommitSHA: getEnv("GITHUB_SHA", ""),
			Actor:     getEnv("GITHUB_ACTOR", ""),
		},

		Server: ServerConfig{
			Enabled:    getEnvBool("STATUS_SERVER_ENABLED", false),
			ListenAddr: getEnv("STATUS_SERVER_ADDR", "0.0.0.0:8080"),
		},

		CollectTimeout: getEnvDuration("COLLECT_TIMEOUT", 30*time.Second),
		MaxParallelism: getEnvInt("COLLECT_MAX_PARALLELISM", 6),
		MaxClockSkew:   getEnvDuration("MAX_CLOCK_SKEW", 30*time.Second),
	}

	for _, name := range KnownSources {
		prefix := strings.ToUpper(name)
		cfg.Sources[name] = SourceConfig{
			BaseURL:         getEnv(prefix+"_BASE_URL", defaultBaseURLs[name]),
			TimeoutSeconds:  getEnvInt(prefix+"_TIMEOUT_SECONDS", 10),
			APIKey:          getEnv(prefix+"_API_KEY", ""),
			APISecret:       getEnv(prefix+"_API_SECRET", ""),
			Passphrase:      getEnv(prefix+"_PASSPHRASE", ""),
			TokensPerSecond: getEnvFloat(prefix+"_TOKENS_PER_SECOND", 5),
		}
	}

	symbolPath := getEnv("SYMBOL_CONFIG_PATH", "config/symbols.yaml")
	symbols, mappings, err := LoadSymbolConfig(symbolPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load symbol configuration from %s: %w", symbolPath, err)
	}
	cfg.Symbols = symbols
	cfg.SymbolMappings = mappings

	return cfg, nil
}

// Validate checks that all required configuration is present and well
// formed. All failures are reported together.
func (c *Config) Validate() error {
	var errs []string

	bp := c.BatchProcessing
	if bp.RPCEndpoint == "" {
		errs = append(errs, "NEO_RPC_ENDPOINT is required but not set")
	} else if err := validateRPCEndpoint(bp.RPCEndpoint); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateContractHash(bp.ContractScriptHash); err != nil {
		errs = append(errs, err.Error())
	}
	if bp.TEEAccountPrivateKey == "" {
		errs = append(errs, "TEE_ACCOUNT_PRIVATE_KEY is required but not set")
	}
	if bp.MasterAccountPrivateKey == "" {
		errs = append(errs, "MASTER_ACCOUNT_PRIVATE_KEY is required but not set")
	}
	if bp.MaxBatchSize < 1 || bp.MaxBatchSize > 100 {
		errs = append(errs, fmt.Sprintf("MAX_BATCH_SIZE must be in [1, 100], got %d", bp.MaxBatchSize))
	}

	if len(c.Symbols) == 0 {
		errs = append(errs, "symbol configuration must list at least one symbol")
	}
	for _, sym := range c.Symbols {
		if !IsCanonicalSymbol(sym) {
			errs = append(errs, fmt.Sprintf("symbol %q is not a canonical symbol (uppercase alphanumerics, >= 3 chars)", sym))
		}
	}

	if c.Attestation.BaseDirectory == "" {
		errs = append(errs, "ATTESTATION_DIR must not be empty")
	}
	if c.Attestation.RetentionDays <= 0 {
		errs = append(errs, "ATTESTATION_RETENTION_DAYS must be positive")
	}

	if c.Run.Continuous && c.Run.IntervalSeconds <= 0 {
		errs = append(errs, "RUN_INTERVAL_SECONDS must be positive in continuous mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateRPCEndpoint enforces HTTPS for non-local RPC nodes.
func validateRPCEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("NEO_RPC_ENDPOINT is not a valid URL: %v", err)
	}
	host := u.Hostname()
	local := host == "localhost" || host == "127.0.0.1" || host == "::1"
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" && local {
		return nil
	}
	return fmt.Errorf("NEO_RPC_ENDPOINT must use https (http is only allowed for localhost), got %s", endpoint)
}

// validateContractHash requires a 0x-prefixed 40-hex script hash.
func validateContractHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("ORACLE_CONTRACT_HASH is required but not set")
	}
	if !strings.HasPrefix(hash, "0x") || len(hash) != 42 {
		return fmt.Errorf("ORACLE_CONTRACT_HASH must be a 0x-prefixed 40-hex script hash, got %q", hash)
	}
	for _, r := range hash[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return fmt.Errorf("ORACLE_CONTRACT_HASH contains non-hex character %q", r)
		}
	}
	return nil
}

// IsCanonicalSymbol reports whether s is a valid canonical symbol:
// uppercase alphanumerics, at least 3 characters.
func IsCanonicalSymbol(s string) bool {
	if len(s) < 3 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func repoNameFromSlug(slug string) string {
	if i := strings.IndexByte(slug, '/'); i >= 0 {
		return slug[i+1:]
	}
	return slug
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
