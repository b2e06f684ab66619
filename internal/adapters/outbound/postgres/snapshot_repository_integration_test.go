//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/testutil"
)

var alice = common.HexToAddress("0xA11CE00000000000000000000000000000000001")

func snapshotAt(generation uint64, at time.Time) *entity.AccountSnapshot {
	return &entity.AccountSnapshot{
		Account:            alice,
		ChainID:            11155111,
		Generation:         generation,
		RefreshedAt:        at,
		IsVerified:         true,
		CollateralBalance:  entity.NewAmount(testutil.Ether(2), 18),
		BorrowedAmount:     entity.NewAmount(testutil.Ether(1), 18),
		CollateralRatioBps: 17500,
		Assets: map[string]entity.AssetRate{
			"ETH":  {Symbol: "ETH", DynamicRateBps: 500},
			"USDC": {Symbol: "USDC", Degraded: true, Error: "Network error"},
		},
	}
}

func TestSnapshotRepository_Integration(t *testing.T) {
	pool, _, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	repo, err := NewSnapshotRepository(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewSnapshotRepository: %v", err)
	}
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("missing account returns nil", func(t *testing.T) {
		got, err := repo.LatestSnapshot(ctx, 11155111, common.HexToAddress("0x01"))
		if err != nil {
			t.Fatalf("LatestSnapshot: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	for i := uint64(1); i <= 3; i++ {
		if err := repo.PublishSnapshot(ctx, snapshotAt(i, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("PublishSnapshot %d: %v", i, err)
		}
	}

	t.Run("latest is newest refresh", func(t *testing.T) {
		got, err := repo.LatestSnapshot(ctx, 11155111, alice)
		if err != nil {
			t.Fatalf("LatestSnapshot: %v", err)
		}
		if got == nil || got.Generation != 3 {
			t.Fatalf("expected generation 3, got %+v", got)
		}
		if !got.CollateralBalance.Equal(entity.NewAmount(testutil.Ether(2), 18)) {
			t.Errorf("expected collateral 2, got %s", got.CollateralBalance)
		}
		if d := got.DegradedAssets(); len(d) != 1 || d[0] != "USDC" {
			t.Errorf("expected USDC degraded, got %v", d)
		}
	})

	t.Run("list is newest first and limited", func(t *testing.T) {
		got, err := repo.ListSnapshots(ctx, 11155111, alice, 2)
		if err != nil {
			t.Fatalf("ListSnapshots: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 snapshots, got %d", len(got))
		}
		if got[0].Generation != 3 || got[1].Generation != 2 {
			t.Errorf("expected generations 3,2, got %d,%d", got[0].Generation, got[1].Generation)
		}
	})

	t.Run("generation restart after reset still orders by time", func(t *testing.T) {
		if err := repo.PublishSnapshot(ctx, snapshotAt(1, base.Add(time.Hour))); err != nil {
			t.Fatalf("PublishSnapshot: %v", err)
		}
		got, err := repo.LatestSnapshot(ctx, 11155111, alice)
		if err != nil {
			t.Fatalf("LatestSnapshot: %v", err)
		}
		if !got.RefreshedAt.Equal(base.Add(time.Hour)) {
			t.Errorf("expected newest refresh, got %v", got.RefreshedAt)
		}
	})

	t.Run("stored columns are queryable", func(t *testing.T) {
		var risk string
		var emergency bool
		err := pool.QueryRow(ctx,
			`SELECT risk_level, emergency_mode FROM account_snapshot
			 WHERE account = $1 ORDER BY id DESC LIMIT 1`,
			accountKey(alice)).Scan(&risk, &emergency)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if risk != string(entity.RiskModerate) {
			t.Errorf("expected risk %s, got %s", entity.RiskModerate, risk)
		}
		if emergency {
			t.Error("expected emergency_mode false")
		}
	})
}
