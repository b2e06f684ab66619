// Package main runs the position synchronizer for one account: it polls
// price feed health, keeps the account snapshot fresh on a timer and on
// ledger events, fans snapshots out to the configured cache, history and
// notification sinks, and serves health checks plus a read API over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	httpapi "github.com/archon-research/chainguard/internal/adapters/inbound/http"
	"github.com/archon-research/chainguard/internal/adapters/outbound/evm"
	"github.com/archon-research/chainguard/internal/adapters/outbound/telemetry"
	"github.com/archon-research/chainguard/internal/config"
	"github.com/archon-research/chainguard/internal/pkg/blockchain"
	"github.com/archon-research/chainguard/internal/pkg/env"
	"github.com/archon-research/chainguard/internal/pkg/retry"
	"github.com/archon-research/chainguard/internal/services/event_reactor"
	"github.com/archon-research/chainguard/internal/services/position_sync"
	"github.com/archon-research/chainguard/internal/services/price_health"
)

const meterName = "github.com/archon-research/chainguard"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	configPath string
	account    string
	logFormat  string
	once       bool
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("position-sync", flag.ContinueOnError)
	configPath := fs.String("config", env.Get("CHAINGUARD_CONFIG", ""), "Path to YAML config file")
	account := fs.String("account", "", "Account to synchronize (overrides ACCOUNT_ADDRESS)")
	logFormat := fs.String("log-format", "text", "Log format: text or json")
	once := fs.Bool("once", false, "Refresh once, print the snapshot as JSON and exit")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if *logFormat != "text" && *logFormat != "json" {
		return cliConfig{}, fmt.Errorf("unknown log format %q", *logFormat)
	}
	return cliConfig{
		configPath: *configPath,
		account:    *account,
		logFormat:  *logFormat,
		once:       *once,
	}, nil
}

func newLogger(format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: env.ParseLogLevel(slog.LevelInfo)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cli, err := parseFlags(args)
	if err != nil {
		return err
	}

	logger := newLogger(cli.logFormat, os.Stderr)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cli.account != "" {
		cfg.Account = cli.account
	}
	account := cfg.AccountAddress()
	if account == (common.Address{}) {
		return fmt.Errorf("account not provided (use -account flag or ACCOUNT_ADDRESS env var)")
	}
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("RPC URL not provided (set chain.rpc_url or RPC_URL env var)")
	}

	logger.Info("starting position synchronizer",
		"chainID", cfg.Chain.ID,
		"contract", cfg.Chain.ContractAddress,
		"account", account.Hex())

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-position-sync",
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer shutdownWithTimeout(logger, "tracer", shutdownTracer)

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-position-sync",
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownWithTimeout(logger, "metrics", shutdownMetrics)

	metrics, err := telemetry.NewMetrics(meterName)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("connecting to ledger node: %w", err)
	}
	defer client.Close()

	gateway, err := evm.NewGateway(client, nil, evm.Config{
		ContractAddress:   cfg.ContractAddress(),
		ChainID:           big.NewInt(cfg.Chain.ID),
		RequestsPerSecond: cfg.Chain.RequestsPerSec,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating ledger gateway: %w", err)
	}
	logger.Info("ledger node connected")

	checkLedger(ctx, gateway, cfg, logger)

	downstream, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := downstream.Close(); err != nil {
			logger.Warn("failed to close downstream sinks", "error", err)
		}
	}()

	monitor, err := price_health.NewService(price_health.Config{
		ChainID:      cfg.Chain.ID,
		Feeds:        cfg.Feeds,
		PollInterval: cfg.Sync.PricePollInterval,
		Logger:       logger,
		Metrics:      metrics,
	}, gateway, downstream.events)
	if err != nil {
		return fmt.Errorf("creating price monitor: %w", err)
	}

	synchronizer, err := position_sync.NewService(position_sync.Config{
		ChainID:         cfg.Chain.ID,
		Assets:          cfg.Assets,
		RefreshInterval: cfg.Sync.RefreshInterval,
		RefreshTimeout:  cfg.Sync.RefreshTimeout,
		Retry:           readRetry(cfg.Sync.MaxRetries),
		Logger:          logger,
		Metrics:         metrics,
	}, gateway, monitor, downstream.publishers...)
	if err != nil {
		return fmt.Errorf("creating synchronizer: %w", err)
	}

	if cli.once {
		snap, err := synchronizer.Refresh(ctx, account)
		if err != nil {
			return fmt.Errorf("refreshing %s: %w", account.Hex(), err)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	reactor, err := event_reactor.NewReactor(event_reactor.Config{
		CoalesceWindow: cfg.Sync.CoalesceWindow,
		Retry:          readRetry(cfg.Sync.MaxRetries),
		Logger:         logger,
		Metrics:        metrics,
	}, gateway, synchronizer)
	if err != nil {
		return fmt.Errorf("creating event reactor: %w", err)
	}

	api, err := httpapi.NewHandler(httpapi.HandlerConfig{
		Account:                 account,
		LiquidationThresholdBps: cfg.Constants.LiquidationThresholdBps,
		Logger:                  logger,
	}, synchronizer, monitor)
	if err != nil {
		return fmt.Errorf("creating http handler: %w", err)
	}
	var shuttingDown atomic.Bool
	server := httpapi.NewServer(httpapi.ServerConfig{Addr: cfg.HTTP.Addr, Logger: logger}, synchronizer, &shuttingDown, api)

	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("starting price monitor: %w", err)
	}
	if err := synchronizer.Start(ctx, account); err != nil {
		return fmt.Errorf("starting synchronizer: %w", err)
	}
	if err := reactor.Bind(ctx, account); err != nil {
		// Bind has already retried transient failures. What remains is a
		// configuration problem such as an RPC endpoint without subscriptions;
		// snapshots still follow the periodic refresh.
		logger.Error("failed to subscribe to ledger events", "error", err)
	}
	go logNotices(reactor.Notices(), logger)

	if cfg.HTTP.Addr != "" {
		if err := server.Start(); err != nil {
			return fmt.Errorf("starting http server: %w", err)
		}
	}

	logger.Info("synchronizer started")
	<-ctx.Done()
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		reactor.Stop()
		if err := synchronizer.Stop(); err != nil {
			logger.Error("error stopping synchronizer", "error", err)
		}
		if err := monitor.Stop(); err != nil {
			logger.Error("error stopping price monitor", "error", err)
		}
		if cfg.HTTP.Addr != "" {
			if err := server.Shutdown(5 * time.Second); err != nil {
				logger.Error("error stopping http server", "error", err)
			}
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}

// readRetry is the policy for ledger reads and resubscribes.
func readRetry(maxRetries int) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = maxRetries
	cfg.Jitter = true
	return cfg
}

// checkLedger compares the contract's constants with the configured ones and
// reports whether maintenance is due. Neither check blocks startup.
func checkLedger(ctx context.Context, q blockchain.Querier, cfg config.Config, logger *slog.Logger) {
	onChain, err := blockchain.ReadConstants(ctx, q)
	if err != nil {
		logger.Warn("failed to read protocol constants", "error", err)
	} else {
		for _, field := range cfg.Constants.Diff(onChain) {
			logger.Warn("configured protocol constant differs from ledger", "field", field)
		}
	}

	due, err := blockchain.CheckUpkeep(ctx, q)
	if err != nil {
		logger.Warn("failed to read upkeep status", "error", err)
		return
	}
	logger.Info("ledger upkeep status", "due", due)
}

func logNotices(notices <-chan event_reactor.Notice, logger *slog.Logger) {
	for n := range notices {
		logger.Info(n.Message,
			"event", n.Event,
			"account", n.Account.Hex(),
			"tx", n.TxHash.Hex())
	}
}

func shutdownWithTimeout(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", "provider", name, "error", err)
	}
}
