package abis

import (
	"testing"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

func TestGetLendingPoolABI(t *testing.T) {
	parsed, err := GetLendingPoolABI()
	if err != nil {
		t.Fatalf("failed to parse ABI: %v", err)
	}

	for _, name := range entity.ConsumedEvents {
		if _, ok := parsed.Events[string(name)]; !ok {
			t.Errorf("expected event %s in ABI", name)
		}
	}

	for _, kind := range []entity.ActionKind{
		entity.ActionVerifyIdentity, entity.ActionDeposit, entity.ActionBorrow, entity.ActionLiquidate,
		entity.ActionAddAsset, entity.ActionSetStaleThreshold, entity.ActionPause,
	} {
		if _, ok := parsed.Methods[kind.Method()]; !ok {
			t.Errorf("expected method %s for %s in ABI", kind.Method(), kind)
		}
	}

	if !parsed.Methods["deposit"].IsPayable() {
		t.Error("expected deposit to be payable")
	}
}
