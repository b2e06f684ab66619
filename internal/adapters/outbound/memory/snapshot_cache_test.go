package memory

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

func TestSnapshotCache_KeepsNewestGeneration(t *testing.T) {
	ctx := context.Background()
	cache := NewSnapshotCache()
	account := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")

	newer := &entity.AccountSnapshot{Account: account, ChainID: 1, Generation: 5, IsVerified: true}
	older := &entity.AccountSnapshot{Account: account, ChainID: 1, Generation: 3}

	if err := cache.PublishSnapshot(ctx, newer); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := cache.PublishSnapshot(ctx, older); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := cache.GetSnapshot(ctx, 1, account)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Generation != 5 || !got.IsVerified {
		t.Fatalf("expected generation 5 to survive, got %+v", got)
	}

	missing, _ := cache.GetSnapshot(ctx, 2, account)
	if missing != nil {
		t.Errorf("expected no snapshot for another chain, got %+v", missing)
	}
}

func TestSnapshotCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cache := NewSnapshotCache()
	account := common.HexToAddress("0x01")
	_ = cache.PublishSnapshot(ctx, &entity.AccountSnapshot{
		Account: account,
		Feeds:   entity.FeedHealthSet{"ETH": {IsHealthy: true}},
	})

	got, _ := cache.GetSnapshot(ctx, 0, account)
	got.Feeds["ETH"] = entity.PriceFeedHealth{IsHealthy: false}

	again, _ := cache.GetSnapshot(ctx, 0, account)
	if again.EmergencyMode() {
		t.Error("mutating a returned snapshot leaked into the cache")
	}
}
