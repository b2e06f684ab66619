package entity

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UserPosition mirrors the ledger's position tuple. USD values carry 8 decimals.
type UserPosition struct {
	CollateralValueUSD Amount    `json:"collateralValueUsd"`
	BorrowedValueUSD   Amount    `json:"borrowedValueUsd"`
	LastInterestUpdate time.Time `json:"lastInterestUpdate"`
	IsLiquidatable     bool      `json:"isLiquidatable"`
}

// DIDProfile mirrors the ledger's DID registry entry for an account.
type DIDProfile struct {
	DID              string    `json:"did"`
	VerificationTime time.Time `json:"verificationTime"`
	CreditScore      int64     `json:"creditScore"`
	IsActive         bool      `json:"isActive"`
	ReputationPoints int64     `json:"reputationPoints"`
	TotalBorrowed    Amount    `json:"totalBorrowed"`
	TotalRepaid      Amount    `json:"totalRepaid"`
}

// AssetInfo mirrors the ledger's supported asset entry.
type AssetInfo struct {
	Symbol              string `json:"symbol"`
	PriceFeedIndex      uint64 `json:"priceFeedIndex"`
	BaseBorrowRateBps   int64  `json:"baseBorrowRateBps"`
	CollateralFactorBps int64  `json:"collateralFactorBps"`
	IsActive            bool   `json:"isActive"`
}

// AssetRate is the per-asset section of a snapshot. A Degraded entry means the
// rate or info read failed during the refresh that produced it; its numeric
// fields are not meaningful.
type AssetRate struct {
	Symbol         string     `json:"symbol"`
	Info           *AssetInfo `json:"info,omitempty"`
	DynamicRateBps int64      `json:"dynamicRateBps"`
	Degraded       bool       `json:"degraded"`
	Error          string     `json:"error,omitempty"`
}

// AccountSnapshot is a consistent view of one account as of a single refresh.
// Snapshots are immutable once published; updates publish a new value.
type AccountSnapshot struct {
	Account            common.Address       `json:"account"`
	ChainID            int64                `json:"chainId"`
	Generation         uint64               `json:"generation"`
	RefreshedAt        time.Time            `json:"refreshedAt"`
	IsVerified         bool                 `json:"isVerified"`
	CollateralBalance  Amount               `json:"collateralBalance"`
	BorrowedAmount     Amount               `json:"borrowedAmount"`
	Position           *UserPosition        `json:"position,omitempty"`
	DIDProfile         *DIDProfile          `json:"didProfile,omitempty"`
	CollateralRatioBps int64                `json:"collateralRatioBps"`
	LiquidationPrice   Amount               `json:"liquidationPrice"`
	Feeds              FeedHealthSet        `json:"feeds"`
	Assets             map[string]AssetRate `json:"assets,omitempty"`
}

// EmergencyMode is derived from the snapshot's feed health on every call.
func (s *AccountSnapshot) EmergencyMode() bool {
	return EmergencyState(s.Feeds)
}

// DegradedAssets returns the symbols whose per-asset reads failed, sorted.
func (s *AccountSnapshot) DegradedAssets() []string {
	var out []string
	for symbol, a := range s.Assets {
		if a.Degraded {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

// HealthFactor computes collateral * threshold / debt from the position's USD
// values. Without a position or without debt it is +Inf.
func (s *AccountSnapshot) HealthFactor(liquidationThresholdBps int64) float64 {
	if s.Position == nil {
		return HealthFactor(Amount{}, Amount{}, liquidationThresholdBps)
	}
	return HealthFactor(s.Position.CollateralValueUSD, s.Position.BorrowedValueUSD, liquidationThresholdBps)
}

// RiskLevel classifies the ledger's collateral ratio. Accounts without debt are safe.
func (s *AccountSnapshot) RiskLevel() RiskLevel {
	if s.BorrowedAmount.IsZero() {
		return RiskSafe
	}
	return ClassifyCollateralRatio(s.CollateralRatioBps)
}

// Clone returns a copy that shares no mutable state with s.
func (s *AccountSnapshot) Clone() *AccountSnapshot {
	out := *s
	out.CollateralBalance = NewAmount(s.CollateralBalance.Raw, s.CollateralBalance.Decimals)
	out.BorrowedAmount = NewAmount(s.BorrowedAmount.Raw, s.BorrowedAmount.Decimals)
	out.LiquidationPrice = NewAmount(s.LiquidationPrice.Raw, s.LiquidationPrice.Decimals)
	if s.Position != nil {
		p := *s.Position
		out.Position = &p
	}
	if s.DIDProfile != nil {
		d := *s.DIDProfile
		out.DIDProfile = &d
	}
	out.Feeds = s.Feeds.Clone()
	if s.Assets != nil {
		out.Assets = make(map[string]AssetRate, len(s.Assets))
		for k, v := range s.Assets {
			if v.Info != nil {
				info := *v.Info
				v.Info = &info
			}
			out.Assets[k] = v
		}
	}
	return &out
}
