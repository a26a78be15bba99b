package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"nftescrow/crypto"
)

// EnvPrefix prefixes every environment override, e.g. ESCROW_RPC_ADDRESS.
const EnvPrefix = "ESCROW_"

type Config struct {
	RPCAddress         string        `toml:"RPCAddress" yaml:"RPCAddress" env:"RPC_ADDRESS"`
	DataDir            string        `toml:"DataDir" yaml:"DataDir" env:"DATA_DIR"`
	Environment        string        `toml:"Environment" yaml:"Environment" env:"ENV"`
	Admin              string        `toml:"Admin" yaml:"Admin" env:"ADMIN"`
	PlatformFeeBps     uint32        `toml:"PlatformFeeBps" yaml:"PlatformFeeBps" env:"PLATFORM_FEE_BPS"`
	CommitmentText     string        `toml:"CommitmentText" yaml:"CommitmentText" env:"COMMITMENT_TEXT"`
	Commitment         string        `toml:"Commitment,omitempty" yaml:"Commitment,omitempty" env:"COMMITMENT"`
	DurationUnit       time.Duration `toml:"DurationUnit" yaml:"DurationUnit" env:"DURATION_UNIT"`
	BuyerEarlyCancel   bool          `toml:"BuyerEarlyCancel" yaml:"BuyerEarlyCancel" env:"BUYER_EARLY_CANCEL"`
	Paused             bool          `toml:"Paused" yaml:"Paused" env:"PAUSED"`
	JWTSecret          string        `toml:"JWTSecret" yaml:"JWTSecret" env:"JWT_SECRET"`
	RateLimitPerSecond float64       `toml:"RateLimitPerSecond" yaml:"RateLimitPerSecond" env:"RATE_LIMIT_PER_SECOND"`
	RateLimitBurst     int           `toml:"RateLimitBurst" yaml:"RateLimitBurst" env:"RATE_LIMIT_BURST"`
	IndexerDriver      string        `toml:"IndexerDriver" yaml:"IndexerDriver" env:"INDEXER_DRIVER"`
	IndexerDSN         string        `toml:"IndexerDSN" yaml:"IndexerDSN" env:"INDEXER_DSN"`
	LogLevel           string        `toml:"LogLevel" yaml:"LogLevel" env:"LOG_LEVEL"`
	LogFile            string        `toml:"LogFile" yaml:"LogFile" env:"LOG_FILE"`
	LogMaxSizeMB       int           `toml:"LogMaxSizeMB" yaml:"LogMaxSizeMB" env:"LOG_MAX_SIZE_MB"`
	LogMaxBackups      int           `toml:"LogMaxBackups" yaml:"LogMaxBackups" env:"LOG_MAX_BACKUPS"`
	Telemetry          Telemetry     `toml:"telemetry" yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Collections        []Contract    `toml:"Collections" yaml:"Collections"`
	Tokens             []Contract    `toml:"Tokens" yaml:"Tokens"`
}

// Telemetry configures the OpenTelemetry exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"Endpoint" env:"ENDPOINT"`
	Insecure bool   `toml:"Insecure" yaml:"Insecure" env:"INSECURE"`
	Traces   bool   `toml:"Traces" yaml:"Traces" env:"TRACES"`
	Metrics  bool   `toml:"Metrics" yaml:"Metrics" env:"METRICS"`
}

// Contract names a faucet collection or token the daemon registers at start.
type Contract struct {
	Name   string `toml:"Name" yaml:"Name"`
	Symbol string `toml:"Symbol" yaml:"Symbol"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists, then applies environment overrides and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		RPCAddress:         ":8080",
		DataDir:            "./escrow-data",
		Environment:        "local",
		Admin:              crypto.FormatAddress(crypto.AddressFromSeed("admin")),
		PlatformFeeBps:     20,
		CommitmentText:     "nftescrow-local",
		DurationUnit:       24 * time.Hour,
		RateLimitPerSecond: 10,
		RateLimitBurst:     20,
		IndexerDriver:      "sqlite",
		LogLevel:           "info",
		LogMaxSizeMB:       100,
		LogMaxBackups:      5,
		Collections:        []Contract{{Name: "faucet", Symbol: "FNFT"}},
		Tokens:             []Contract{{Name: "faucet", Symbol: "FTKN"}},
	}
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
		return nil
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
		}
		return nil
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.IndexerDriver) == "" {
		c.IndexerDriver = "sqlite"
	}
	if strings.TrimSpace(c.IndexerDSN) == "" && strings.EqualFold(c.IndexerDriver, "sqlite") {
		c.IndexerDSN = filepath.Join(c.DataDir, "index.db")
	}
	if c.DurationUnit == 0 {
		c.DurationUnit = 24 * time.Hour
	}
	if c.Collections == nil {
		c.Collections = []Contract{}
	}
	if c.Tokens == nil {
		c.Tokens = []Contract{}
	}
}

// AdminAddress parses the configured administrator.
func (c *Config) AdminAddress() ([20]byte, error) {
	return crypto.ParseAddress(c.Admin)
}

// CommitmentHash returns the commitment bound at platform initialisation. An
// explicit hex Commitment wins over hashing CommitmentText.
func (c *Config) CommitmentHash() ([32]byte, error) {
	if strings.TrimSpace(c.Commitment) != "" {
		return crypto.ParseCommitment(c.Commitment)
	}
	return crypto.Commitment(c.CommitmentText), nil
}

// LevelDBPath is where the node keeps its state.
func (c *Config) LevelDBPath() string {
	return filepath.Join(c.DataDir, "state")
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	default:
		return toml.NewEncoder(f).Encode(cfg)
	}
}
