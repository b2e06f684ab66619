package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerEventName is the contract event name.
type LedgerEventName string

const (
	EventAccessGranted                  LedgerEventName = "AccessGranted"
	EventAccessDenied                   LedgerEventName = "AccessDenied"
	EventDIDVerified                    LedgerEventName = "DIDVerified"
	EventLiquidationExecuted            LedgerEventName = "LiquidationExecuted"
	EventInterestRateUpdated            LedgerEventName = "InterestRateUpdated"
	EventCreditScoreUpdated             LedgerEventName = "CreditScoreUpdated"
	EventAssetAdded                     LedgerEventName = "AssetAdded"
	EventPriceDataStaleThresholdUpdated LedgerEventName = "PriceDataStaleThresholdUpdated"
)

// ConsumedEvents lists every event the event reactor subscribes to.
var ConsumedEvents = []LedgerEventName{
	EventAccessGranted,
	EventAccessDenied,
	EventDIDVerified,
	EventLiquidationExecuted,
	EventInterestRateUpdated,
	EventCreditScoreUpdated,
	EventAssetAdded,
	EventPriceDataStaleThresholdUpdated,
}

// LedgerEvent is a decoded contract log. Subject is nil for events that are
// not about a single account (rate updates, asset additions).
type LedgerEvent struct {
	Name        LedgerEventName
	Subject     *common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	// Removed is set when the log was dropped by a chain reorganization.
	Removed bool

	Reason      string   // AccessDenied
	DID         string   // DIDVerified
	CreditScore *big.Int // DIDVerified, CreditScoreUpdated
	Collateral  *big.Int // LiquidationExecuted
	Debt        *big.Int // LiquidationExecuted
	Asset       string   // InterestRateUpdated, AssetAdded
	RateBps     *big.Int // InterestRateUpdated
	FeedIndex   *big.Int // AssetAdded
	Threshold   *big.Int // PriceDataStaleThresholdUpdated
}

// Global reports whether the event applies to every account.
func (e LedgerEvent) Global() bool {
	return e.Subject == nil
}
