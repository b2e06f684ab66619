// Package config loads the runtime settings shared by the chainguard
// binaries: a YAML file, then environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/env"
)

const (
	DefaultChainID         = 11155111
	DefaultContractAddress = "0x957c8f2527f9f7a8ad53ae7d76dcd435108b27d3"
)

// Config captures the runtime settings for the synchronizer and action CLI.
type Config struct {
	Chain     ChainConfig              `yaml:"chain"`
	Account   string                   `yaml:"account"`
	Feeds     []entity.FeedConfig      `yaml:"feeds"`
	Assets    []string                 `yaml:"assets"`
	Constants entity.ProtocolConstants `yaml:"constants"`
	Sync      SyncConfig               `yaml:"sync"`
	Redis     RedisConfig              `yaml:"redis"`
	Postgres  PostgresConfig           `yaml:"postgres"`
	SNS       SNSConfig                `yaml:"sns"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	HTTP      HTTPConfig               `yaml:"http"`
}

// ChainConfig locates the ledger.
type ChainConfig struct {
	ID              int64   `yaml:"id"`
	RPCURL          string  `yaml:"rpc_url"`
	ContractAddress string  `yaml:"contract_address"`
	RequestsPerSec  float64 `yaml:"requests_per_second"`
}

// SyncConfig holds the timing of the background loops and actions.
type SyncConfig struct {
	RefreshInterval      time.Duration `yaml:"refresh_interval"`
	PricePollInterval    time.Duration `yaml:"price_poll_interval"`
	RefreshTimeout       time.Duration `yaml:"refresh_timeout"`
	CoalesceWindow       time.Duration `yaml:"coalesce_window"`
	SettlementTimeout    time.Duration `yaml:"settlement_timeout"`
	LateSettlementWindow time.Duration `yaml:"late_settlement_window"`
	MaxRetries           int           `yaml:"max_retries"`
}

// RedisConfig enables the shared snapshot cache when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// PostgresConfig enables snapshot history when URL is set.
type PostgresConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

// SNSConfig enables notifications when TopicARN is set.
type SNSConfig struct {
	TopicARN string `yaml:"topic_arn"`
	Region   string `yaml:"region"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the Sepolia deployment settings.
func Default() Config {
	return Config{
		Chain: ChainConfig{
			ID:              DefaultChainID,
			ContractAddress: DefaultContractAddress,
			RequestsPerSec:  10,
		},
		Feeds: []entity.FeedConfig{
			{Symbol: "USDC", FeedIndex: 0},
			{Symbol: "ETH", FeedIndex: 1},
			{Symbol: "BTC", FeedIndex: 2},
		},
		Assets:    []string{"USDC", "ETH", "BTC"},
		Constants: entity.DefaultProtocolConstants(),
		Sync: SyncConfig{
			RefreshInterval:      30 * time.Second,
			PricePollInterval:    10 * time.Second,
			RefreshTimeout:       2 * time.Minute,
			CoalesceWindow:       250 * time.Millisecond,
			SettlementTimeout:    2 * time.Minute,
			LateSettlementWindow: 15 * time.Minute,
			MaxRetries:           3,
		},
		Redis: RedisConfig{
			TTL:       24 * time.Hour,
			KeyPrefix: "chainguard",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "chainguard",
			Environment: "development",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		if cfg, err = Parse(raw); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. It does not apply the environment.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.Chain.RPCURL = env.Get("RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.ContractAddress = env.Get("CONTRACT_ADDRESS", cfg.Chain.ContractAddress)
	cfg.Chain.ID = env.GetInt64("CHAIN_ID", cfg.Chain.ID)
	cfg.Account = env.Get("ACCOUNT_ADDRESS", cfg.Account)
	cfg.Sync.RefreshInterval = env.GetDuration("REFRESH_INTERVAL", cfg.Sync.RefreshInterval)
	cfg.Sync.PricePollInterval = env.GetDuration("PRICE_POLL_INTERVAL", cfg.Sync.PricePollInterval)
	cfg.Redis.Addr = env.Get("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = env.Get("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Postgres.URL = env.Get("DATABASE_URL", cfg.Postgres.URL)
	cfg.SNS.TopicARN = env.Get("SNS_TOPIC_ARN", cfg.SNS.TopicARN)
	cfg.SNS.Region = env.Get("AWS_REGION", cfg.SNS.Region)
	cfg.Telemetry.OTLPEndpoint = env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.Environment = env.Get("ENVIRONMENT", cfg.Telemetry.Environment)
	cfg.HTTP.Addr = env.Get("HTTP_ADDR", cfg.HTTP.Addr)
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	defaults := Default()

	cfg.Chain.RPCURL = strings.TrimSpace(cfg.Chain.RPCURL)
	cfg.Chain.ContractAddress = strings.TrimSpace(cfg.Chain.ContractAddress)
	if cfg.Chain.ContractAddress == "" {
		cfg.Chain.ContractAddress = defaults.Chain.ContractAddress
	}
	if cfg.Chain.ID == 0 {
		cfg.Chain.ID = defaults.Chain.ID
	}
	cfg.Account = strings.TrimSpace(cfg.Account)

	for i := range cfg.Feeds {
		cfg.Feeds[i].Symbol = strings.ToUpper(strings.TrimSpace(cfg.Feeds[i].Symbol))
	}
	assets := make([]string, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		if trimmed := strings.ToUpper(strings.TrimSpace(a)); trimmed != "" {
			assets = append(assets, trimmed)
		}
	}
	cfg.Assets = assets

	cfg.Sync.normalize(defaults.Sync)

	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = defaults.Redis.TTL
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = defaults.Redis.KeyPrefix
	}
	cfg.Postgres.URL = strings.TrimSpace(cfg.Postgres.URL)
	cfg.SNS.TopicARN = strings.TrimSpace(cfg.SNS.TopicARN)
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
	cfg.HTTP.Addr = strings.TrimSpace(cfg.HTTP.Addr)
}

func (cfg *SyncConfig) normalize(defaults SyncConfig) {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.PricePollInterval <= 0 {
		cfg.PricePollInterval = defaults.PricePollInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaults.RefreshTimeout
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = defaults.CoalesceWindow
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = defaults.SettlementTimeout
	}
	if cfg.LateSettlementWindow <= 0 {
		cfg.LateSettlementWindow = defaults.LateSettlementWindow
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if !common.IsHexAddress(cfg.Chain.ContractAddress) {
		return fmt.Errorf("chain: invalid contract address %q", cfg.Chain.ContractAddress)
	}
	if cfg.Account != "" && !common.IsHexAddress(cfg.Account) {
		return fmt.Errorf("invalid account address %q", cfg.Account)
	}
	if len(cfg.Feeds) == 0 {
		return fmt.Errorf("feeds: at least one price feed must be configured")
	}
	seen := make(map[string]bool, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		if f.Symbol == "" {
			return fmt.Errorf("feeds: symbol is required")
		}
		if seen[f.Symbol] {
			return fmt.Errorf("feeds: duplicate symbol %s", f.Symbol)
		}
		seen[f.Symbol] = true
	}
	c := cfg.Constants
	if c.LiquidationThresholdBps <= 0 || c.LiquidationThresholdBps > 10000 {
		return fmt.Errorf("constants: liquidationThresholdBps must be in (0, 10000]")
	}
	if c.RatePrecision <= 0 || c.USDPrecision <= 0 {
		return fmt.Errorf("constants: precisions must be positive")
	}
	return nil
}

// ContractAddress returns the parsed lending pool address.
func (cfg Config) ContractAddress() common.Address {
	return common.HexToAddress(cfg.Chain.ContractAddress)
}

// AccountAddress returns the configured account, or the zero address.
func (cfg Config) AccountAddress() common.Address {
	if cfg.Account == "" {
		return common.Address{}
	}
	return common.HexToAddress(cfg.Account)
}
