// Package main submits one account action to the lending pool and reports
// its outcome:
//
//	position-action verify <did>
//	position-action deposit <amount-eth>
//	position-action borrow <amount-eth>
//	position-action liquidate <address>
//	position-action status
//
// The signing key is read from PRIVATE_KEY.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	"github.com/archon-research/chainguard/internal/adapters/outbound/evm"
	"github.com/archon-research/chainguard/internal/config"
	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/env"
	"github.com/archon-research/chainguard/internal/pkg/retry"
	"github.com/archon-research/chainguard/internal/services/action_orchestrator"
	"github.com/archon-research/chainguard/internal/services/position_sync"
	"github.com/archon-research/chainguard/internal/services/price_health"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type command struct {
	name string
	arg  string
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("missing command (verify, deposit, borrow, liquidate, status)")
	}
	cmd := command{name: strings.ToLower(args[0])}
	switch cmd.name {
	case "status":
		if len(args) != 1 {
			return command{}, errors.New("status takes no arguments")
		}
	case "verify", "deposit", "borrow", "liquidate":
		if len(args) != 2 {
			return command{}, fmt.Errorf("%s takes exactly one argument", cmd.name)
		}
		cmd.arg = args[1]
	default:
		return command{}, fmt.Errorf("unknown command %q", args[0])
	}
	return cmd, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	fs := flag.NewFlagSet("position-action", flag.ContinueOnError)
	configPath := fs.String("config", env.Get("CHAINGUARD_CONFIG", ""), "Path to YAML config file")
	verbose := fs.Bool("v", false, "Log progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cmd, err := parseCommand(fs.Args())
	if err != nil {
		return err
	}

	level := env.ParseLogLevel(slog.LevelWarn)
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Chain.RPCURL == "" {
		return errors.New("RPC URL not provided (set chain.rpc_url or RPC_URL env var)")
	}
	key := os.Getenv("PRIVATE_KEY")
	if key == "" {
		return errors.New("PRIVATE_KEY environment variable is required")
	}
	signer, err := evm.NewKeySigner(key)
	if err != nil {
		return err
	}
	account := signer.Address()

	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("connecting to ledger node: %w", err)
	}
	defer client.Close()

	gateway, err := evm.NewGateway(client, signer, evm.Config{
		ContractAddress:   cfg.ContractAddress(),
		ChainID:           big.NewInt(cfg.Chain.ID),
		SettlementTimeout: cfg.Sync.SettlementTimeout,
		RequestsPerSecond: cfg.Chain.RequestsPerSec,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating ledger gateway: %w", err)
	}

	monitor, err := price_health.NewService(price_health.Config{
		ChainID: cfg.Chain.ID,
		Feeds:   cfg.Feeds,
		Logger:  logger,
	}, gateway, nil)
	if err != nil {
		return fmt.Errorf("creating price monitor: %w", err)
	}

	readPolicy := retry.DefaultConfig()
	readPolicy.MaxRetries = cfg.Sync.MaxRetries
	synchronizer, err := position_sync.NewService(position_sync.Config{
		ChainID:        cfg.Chain.ID,
		Assets:         cfg.Assets,
		RefreshTimeout: cfg.Sync.RefreshTimeout,
		Retry:          readPolicy,
		Logger:         logger,
	}, gateway, monitor)
	if err != nil {
		return fmt.Errorf("creating synchronizer: %w", err)
	}
	defer synchronizer.Stop()

	orchestrator, err := action_orchestrator.NewService(action_orchestrator.Config{
		ChainID:           cfg.Chain.ID,
		Account:           account,
		SettlementTimeout: cfg.Sync.SettlementTimeout,
		Logger:            logger,
	}, gateway, synchronizer, monitor, nil)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	defer orchestrator.Stop()

	// Prime feed health and the snapshot so advisories reflect the ledger.
	monitor.CheckAll(ctx)
	before, refreshErr := synchronizer.Refresh(ctx, account)
	if refreshErr != nil {
		fmt.Fprintln(stdout, "warning:", entity.UserMessage(refreshErr))
	}

	if cmd.name == "status" {
		if refreshErr != nil {
			return refreshErr
		}
		printSnapshot(stdout, before, cfg.Constants.LiquidationThresholdBps)
		return nil
	}

	for _, a := range orchestrator.Advisories(account) {
		fmt.Fprintln(stdout, "advisory:", a)
	}

	result, err := dispatch(ctx, orchestrator, cmd)
	printResult(stdout, cmd, result, err, cfg.Constants.LiquidationThresholdBps)
	return err
}

func dispatch(ctx context.Context, o *action_orchestrator.Service, cmd command) (*action_orchestrator.Result, error) {
	switch cmd.name {
	case "verify":
		return o.VerifyIdentity(ctx, cmd.arg)
	case "deposit":
		return o.DepositCollateral(ctx, cmd.arg)
	case "borrow":
		return o.Borrow(ctx, cmd.arg)
	case "liquidate":
		if !common.IsHexAddress(cmd.arg) {
			return nil, &entity.ValidationError{Field: "address", Reason: "not a hex address"}
		}
		return o.Liquidate(ctx, common.HexToAddress(cmd.arg))
	}
	return nil, fmt.Errorf("unknown command %q", cmd.name)
}

func printResult(w io.Writer, cmd command, result *action_orchestrator.Result, err error, thresholdBps int64) {
	if result != nil && result.Action != nil {
		fmt.Fprintf(w, "%s: tx %s\n", cmd.name, result.Action.TxHash.Hex())
	}
	if err != nil {
		outcome := entity.OutcomeFailed
		if result != nil {
			outcome = result.Outcome
		}
		fmt.Fprintf(w, "%s: %s: %s\n", cmd.name, outcome, entity.UserMessage(err))
		return
	}
	fmt.Fprintf(w, "%s: %s in block %d\n", cmd.name, result.Outcome, result.Receipt.BlockNumber)
	if result.Snapshot != nil {
		printSnapshot(w, result.Snapshot, thresholdBps)
	}
}

func printSnapshot(w io.Writer, s *entity.AccountSnapshot, thresholdBps int64) {
	hf := s.HealthFactor(thresholdBps)
	fmt.Fprintf(w, "account:      %s\n", s.Account.Hex())
	fmt.Fprintf(w, "verified:     %t\n", s.IsVerified)
	fmt.Fprintf(w, "collateral:   %s ETH\n", s.CollateralBalance)
	fmt.Fprintf(w, "borrowed:     %s ETH\n", s.BorrowedAmount)
	fmt.Fprintf(w, "risk:         %s\n", s.RiskLevel())
	fmt.Fprintf(w, "health:       %s (%s)\n", entity.FormatHealthFactor(hf), entity.ClassifyHealthFactor(hf))
	if s.EmergencyMode() {
		fmt.Fprintf(w, "emergency:    unhealthy feeds %s\n", strings.Join(s.Feeds.Unhealthy(), ", "))
	}
	if degraded := s.DegradedAssets(); len(degraded) > 0 {
		fmt.Fprintf(w, "degraded:     %s\n", strings.Join(degraded, ", "))
	}
}
