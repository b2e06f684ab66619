package event_reactor

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

// Notice is a user-facing message derived from a ledger event.
type Notice struct {
	Event   entity.LedgerEventName `json:"event"`
	Account common.Address         `json:"account"`
	Message string                 `json:"message"`
	TxHash  common.Hash            `json:"txHash"`
	At      time.Time              `json:"at"`
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func ether(v *big.Int) string {
	return entity.NewAmount(v, entity.EtherDecimals).String()
}

// noticeText returns the message for ev, or "" when the event has none.
func noticeText(ev entity.LedgerEvent) string {
	switch ev.Name {
	case entity.EventAccessGranted:
		return "Access granted, identity verified"
	case entity.EventAccessDenied:
		return "Access denied: " + ev.Reason
	case entity.EventDIDVerified:
		return fmt.Sprintf("DID %s verified, credit score %d", ev.DID, bigOrZero(ev.CreditScore))
	case entity.EventLiquidationExecuted:
		return fmt.Sprintf("Position liquidated: %s ETH collateral seized, %s ETH debt repaid", ether(ev.Collateral), ether(ev.Debt))
	case entity.EventInterestRateUpdated:
		return fmt.Sprintf("Interest rate updated for %s: %s%%", ev.Asset, entity.NewAmount(ev.RateBps, 2).String())
	case entity.EventAssetAdded:
		return fmt.Sprintf("New asset available: %s", ev.Asset)
	}
	return ""
}
