package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.Chain.ID != 11155111 {
		t.Errorf("expected Sepolia chain ID, got %d", cfg.Chain.ID)
	}
	if cfg.ContractAddress() != common.HexToAddress(DefaultContractAddress) {
		t.Errorf("expected default contract, got %s", cfg.ContractAddress().Hex())
	}
	wantFeeds := map[string]uint64{"USDC": 0, "ETH": 1, "BTC": 2}
	for _, f := range cfg.Feeds {
		if idx, ok := wantFeeds[f.Symbol]; !ok || idx != f.FeedIndex {
			t.Errorf("unexpected feed %s at %d", f.Symbol, f.FeedIndex)
		}
	}
	if cfg.Sync.RefreshInterval != 30*time.Second || cfg.Sync.PricePollInterval != 10*time.Second {
		t.Errorf("expected 30s/10s intervals, got %v/%v", cfg.Sync.RefreshInterval, cfg.Sync.PricePollInterval)
	}
}

func TestParse(t *testing.T) {
	raw := []byte(`
chain:
  id: 1
  rpc_url: "  https://rpc.example  "
account: "0xA11CE00000000000000000000000000000000001"
feeds:
  - symbol: " eth "
    feedIndex: 4
assets: ["eth", "", " wbtc "]
sync:
  refresh_interval: 1m
  coalesce_window: 0s
redis:
  addr: localhost:6379
`)
	cfg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Chain.ID != 1 {
		t.Errorf("expected chain 1, got %d", cfg.Chain.ID)
	}
	if cfg.Chain.RPCURL != "https://rpc.example" {
		t.Errorf("expected trimmed RPC URL, got %q", cfg.Chain.RPCURL)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].Symbol != "ETH" || cfg.Feeds[0].FeedIndex != 4 {
		t.Errorf("unexpected feeds %+v", cfg.Feeds)
	}
	if strings.Join(cfg.Assets, ",") != "ETH,WBTC" {
		t.Errorf("expected assets ETH,WBTC, got %v", cfg.Assets)
	}
	if cfg.Sync.RefreshInterval != time.Minute {
		t.Errorf("expected 1m refresh, got %v", cfg.Sync.RefreshInterval)
	}
	if cfg.Sync.CoalesceWindow != 250*time.Millisecond {
		t.Errorf("expected default coalesce window, got %v", cfg.Sync.CoalesceWindow)
	}
	if cfg.Sync.PricePollInterval != 10*time.Second {
		t.Errorf("expected default price interval, got %v", cfg.Sync.PricePollInterval)
	}
	if cfg.Redis.KeyPrefix != "chainguard" {
		t.Errorf("expected default key prefix, got %q", cfg.Redis.KeyPrefix)
	}
	if cfg.AccountAddress() != common.HexToAddress("0xA11CE00000000000000000000000000000000001") {
		t.Errorf("unexpected account %s", cfg.AccountAddress().Hex())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"bad yaml", "chain: [", "decode config"},
		{"bad contract", "chain:\n  contract_address: nope", "invalid contract address"},
		{"bad account", "account: 0x12", "invalid account address"},
		{"no feeds", "feeds: []", "at least one price feed"},
		{"empty symbol", "feeds:\n  - symbol: ''", "symbol is required"},
		{"duplicate symbol", "feeds:\n  - symbol: eth\n  - symbol: ETH\n    feedIndex: 1", "duplicate symbol ETH"},
		{"bad threshold", "constants:\n  liquidationThresholdBps: 20000", "liquidationThresholdBps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chainguard.yaml")
	if err := os.WriteFile(path, []byte("chain:\n  rpc_url: http://file\nredis:\n  addr: file:6379\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("RPC_URL", "http://env")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("SNS_TOPIC_ARN", "arn:aws:sns:us-east-1:1:topic")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("REFRESH_INTERVAL", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chain.RPCURL != "http://env" {
		t.Errorf("expected env RPC URL, got %q", cfg.Chain.RPCURL)
	}
	if cfg.Redis.Addr != "file:6379" {
		t.Errorf("expected file redis addr, got %q", cfg.Redis.Addr)
	}
	if cfg.Postgres.URL != "postgres://env/db" {
		t.Errorf("expected env database URL, got %q", cfg.Postgres.URL)
	}
	if cfg.SNS.TopicARN != "arn:aws:sns:us-east-1:1:topic" {
		t.Errorf("expected env topic, got %q", cfg.SNS.TopicARN)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("expected env OTLP endpoint, got %q", cfg.Telemetry.OTLPEndpoint)
	}
	if cfg.Sync.RefreshInterval != 45*time.Second {
		t.Errorf("expected 45s refresh, got %v", cfg.Sync.RefreshInterval)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", "not-an-address")
	if _, err := Load(""); err == nil {
		t.Fatal("expected invalid env contract address to fail")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
