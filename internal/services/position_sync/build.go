package position_sync

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/blockchain"
	"github.com/archon-research/chainguard/internal/pkg/retry"
)

// required runs a required read with the retry policy and wraps a final
// failure as a RefreshError for step.
func required[T any](ctx context.Context, s *Service, account common.Address, step string, read func(context.Context) (T, error)) (T, error) {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Debug("retrying ledger read", "account", account.Hex(), "step", step, "attempt", attempt, "backoff", backoff, "error", err)
	}
	v, err := retry.Do(ctx, s.config.Retry, entity.IsRetryable, onRetry, func() (T, error) {
		return read(ctx)
	})
	if err != nil {
		var zero T
		return zero, &entity.RefreshError{Account: account, Step: step, Err: err}
	}
	return v, nil
}

// build reads the ledger and assembles one snapshot. Any required read
// failure aborts the whole build.
func (s *Service) build(ctx context.Context, account common.Address, generation uint64) (*entity.AccountSnapshot, error) {
	verified, err := required(ctx, s, account, StepAccess, func(ctx context.Context) (bool, error) {
		return blockchain.CheckUserAccess(ctx, s.ledger, account)
	})
	if err != nil {
		return nil, err
	}
	deposit, err := required(ctx, s, account, StepDeposit, func(ctx context.Context) (entity.Amount, error) {
		return blockchain.GetDepositBalance(ctx, s.ledger, account)
	})
	if err != nil {
		return nil, err
	}
	borrowed, err := required(ctx, s, account, StepBorrowed, func(ctx context.Context) (entity.Amount, error) {
		return blockchain.GetBorrowedAmount(ctx, s.ledger, account)
	})
	if err != nil {
		return nil, err
	}

	snap := &entity.AccountSnapshot{
		Account:           account,
		ChainID:           s.config.ChainID,
		Generation:        generation,
		IsVerified:        verified,
		CollateralBalance: deposit,
		BorrowedAmount:    borrowed,
		LiquidationPrice:  entity.ZeroAmount(entity.EtherDecimals),
	}

	if s.feeds != nil {
		snap.Feeds = s.feeds.CheckAll(ctx)
	}
	if snap.Feeds == nil {
		snap.Feeds = entity.FeedHealthSet{}
	}

	if verified {
		if err := s.readVerified(ctx, snap); err != nil {
			return nil, err
		}
		snap.Assets = s.readAssets(ctx)
	}

	snap.RefreshedAt = s.config.Now()
	return snap, nil
}

// readVerified fills the sections only a verified account has. The reads run
// concurrently and the first failure cancels the rest.
func (s *Service) readVerified(ctx context.Context, snap *entity.AccountSnapshot) error {
	account := snap.Account
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := required(gctx, s, account, StepPosition, func(ctx context.Context) (*entity.UserPosition, error) {
			return blockchain.GetUserPosition(ctx, s.ledger, account)
		})
		snap.Position = v
		return err
	})
	g.Go(func() error {
		v, err := required(gctx, s, account, StepDIDProfile, func(ctx context.Context) (*entity.DIDProfile, error) {
			return blockchain.GetDIDInfo(ctx, s.ledger, account)
		})
		snap.DIDProfile = v
		return err
	})
	g.Go(func() error {
		v, err := required(gctx, s, account, StepCollateralRatio, func(ctx context.Context) (int64, error) {
			return blockchain.GetCollateralRatio(ctx, s.ledger, account)
		})
		snap.CollateralRatioBps = v
		return err
	})
	g.Go(func() error {
		v, err := required(gctx, s, account, StepLiquidationPrice, func(ctx context.Context) (entity.Amount, error) {
			return blockchain.GetLiquidationPrice(ctx, s.ledger, account)
		})
		if err == nil {
			snap.LiquidationPrice = v
		}
		return err
	})

	return g.Wait()
}

// readAssets reads rate and info for every configured asset concurrently.
// A failing asset becomes a Degraded entry and never affects the others.
func (s *Service) readAssets(ctx context.Context) map[string]entity.AssetRate {
	assets := make(map[string]entity.AssetRate, len(s.config.Assets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, symbol := range s.config.Assets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rate := s.readAsset(ctx, symbol)
			mu.Lock()
			assets[symbol] = rate
			mu.Unlock()
		}()
	}
	wg.Wait()
	return assets
}

func (s *Service) readAsset(ctx context.Context, symbol string) entity.AssetRate {
	out := entity.AssetRate{Symbol: symbol}

	info, err := blockchain.GetAssetInfo(ctx, s.ledger, symbol)
	if err != nil {
		return s.degraded(out, err)
	}
	out.Info = info

	bps, err := blockchain.GetDynamicBorrowRate(ctx, s.ledger, symbol)
	if err != nil {
		return s.degraded(out, err)
	}
	out.DynamicRateBps = bps
	return out
}

func (s *Service) degraded(out entity.AssetRate, err error) entity.AssetRate {
	s.logger.Warn("asset read failed", "symbol", out.Symbol, "error", err)
	return entity.AssetRate{
		Symbol:   out.Symbol,
		Degraded: true,
		Error:    entity.UserMessage(err),
	}
}
