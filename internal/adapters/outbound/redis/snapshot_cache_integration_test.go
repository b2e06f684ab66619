//go:build integration

package redis

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

// setupRedis creates a Redis container and returns a connected SnapshotCache.
func setupRedis(t *testing.T, ttl time.Duration) (*SnapshotCache, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	cache, err := NewSnapshotCache(Config{
		Addr:      fmt.Sprintf("%s:%s", host, port.Port()),
		TTL:       ttl,
		KeyPrefix: "test",
	}, nil)
	if err != nil {
		t.Fatalf("failed to create snapshot cache: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := cache.Ping(ctx); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	cleanup := func() {
		cache.Close()
		container.Terminate(ctx)
	}
	return cache, cleanup
}

func testSnapshot(generation uint64) *entity.AccountSnapshot {
	return &entity.AccountSnapshot{
		Account:            common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
		ChainID:            11155111,
		Generation:         generation,
		RefreshedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		IsVerified:         true,
		CollateralBalance:  entity.NewAmount(big.NewInt(2_000_000_000_000_000_000), entity.EtherDecimals),
		BorrowedAmount:     entity.ZeroAmount(entity.EtherDecimals),
		LiquidationPrice:   entity.ZeroAmount(entity.EtherDecimals),
		CollateralRatioBps: 20000,
		Feeds: entity.FeedHealthSet{
			"ETH": {Symbol: "ETH", FeedIndex: 1, IsHealthy: true},
		},
	}
}

func TestPublishSnapshot_AndGetSnapshot(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	want := testSnapshot(3)
	if err := cache.PublishSnapshot(ctx, want); err != nil {
		t.Fatalf("PublishSnapshot: %v", err)
	}

	got, err := cache.GetSnapshot(ctx, want.ChainID, want.Account)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.Generation != 3 || !got.IsVerified || got.CollateralRatioBps != 20000 {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if !got.CollateralBalance.Equal(want.CollateralBalance) {
		t.Errorf("expected collateral %s, got %s", want.CollateralBalance, got.CollateralBalance)
	}
	if !got.Feeds["ETH"].IsHealthy {
		t.Error("expected ETH feed to round trip")
	}
}

func TestPublishSnapshot_KeepsNewerGeneration(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	if err := cache.PublishSnapshot(ctx, testSnapshot(5)); err != nil {
		t.Fatalf("PublishSnapshot: %v", err)
	}
	older := testSnapshot(4)
	older.IsVerified = false
	if err := cache.PublishSnapshot(ctx, older); err != nil {
		t.Fatalf("PublishSnapshot: %v", err)
	}

	got, err := cache.GetSnapshot(ctx, older.ChainID, older.Account)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got.Generation != 5 || !got.IsVerified {
		t.Errorf("expected generation 5 to survive, got %+v", got)
	}
}

func TestGetSnapshot_MissingReturnsNil(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()

	got, err := cache.GetSnapshot(context.Background(), 1, common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSnapshot_Expires(t *testing.T) {
	cache, cleanup := setupRedis(t, 200*time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	s := testSnapshot(1)
	if err := cache.PublishSnapshot(ctx, s); err != nil {
		t.Fatalf("PublishSnapshot: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	got, err := cache.GetSnapshot(ctx, s.ChainID, s.Account)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got != nil {
		t.Error("expected snapshot to expire")
	}
}

func TestDeleteSnapshot(t *testing.T) {
	cache, cleanup := setupRedis(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	s := testSnapshot(1)
	_ = cache.PublishSnapshot(ctx, s)
	if err := cache.DeleteSnapshot(ctx, s.ChainID, s.Account); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	got, _ := cache.GetSnapshot(ctx, s.ChainID, s.Account)
	if got != nil {
		t.Error("expected snapshot deleted")
	}
}
