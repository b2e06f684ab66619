package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/blockchain"
)

// AccountState is the ledger-side state of one account.
type AccountState struct {
	Verified         bool
	Deposit          *big.Int
	Borrowed         *big.Int
	Position         blockchain.UserPositionTuple
	DID              blockchain.DIDInfoTuple
	RatioBps         int64
	LiquidationPrice *big.Int
}

// LedgerState is an in-memory lending pool that answers read queries the way
// the contract does. Use it as MockLedger.QueryFn.
type LedgerState struct {
	mu sync.Mutex

	Accounts map[common.Address]*AccountState
	Feeds    map[uint64]blockchain.FeedHealthResult
	Assets   map[string]blockchain.AssetInfoTuple
	Rates    map[string]int64

	// MethodErrors fails every query of a method.
	MethodErrors map[string]error
	// AssetErrors fails asset info and rate reads for a symbol.
	AssetErrors map[string]error
	// FeedErrors fails health checks for a feed index.
	FeedErrors map[uint64]error
}

// DefaultFeeds is the USDC/ETH/BTC feed layout of the deployed pool.
var DefaultFeeds = []entity.FeedConfig{
	{Symbol: "USDC", FeedIndex: 0},
	{Symbol: "ETH", FeedIndex: 1},
	{Symbol: "BTC", FeedIndex: 2},
}

// NewLedgerState returns a ledger with three healthy feeds and matching assets.
func NewLedgerState() *LedgerState {
	updated := big.NewInt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	prices := map[uint64]int64{0: 100_000_000, 1: 250_000_000_000, 2: 6_000_000_000_000}
	rates := map[string]int64{"USDC": 300, "ETH": 500, "BTC": 450}

	l := &LedgerState{
		Accounts:     make(map[common.Address]*AccountState),
		Feeds:        make(map[uint64]blockchain.FeedHealthResult),
		Assets:       make(map[string]blockchain.AssetInfoTuple),
		Rates:        make(map[string]int64),
		MethodErrors: make(map[string]error),
		AssetErrors:  make(map[string]error),
		FeedErrors:   make(map[uint64]error),
	}
	for _, f := range DefaultFeeds {
		l.Feeds[f.FeedIndex] = blockchain.FeedHealthResult{
			IsHealthy:        true,
			Price:            big.NewInt(prices[f.FeedIndex]),
			LastUpdated:      updated,
			HoursSinceUpdate: big.NewInt(0),
		}
		l.Assets[f.Symbol] = blockchain.AssetInfoTuple{
			Symbol:           f.Symbol,
			PriceIndex:       new(big.Int).SetUint64(f.FeedIndex),
			BaseBorrowRate:   big.NewInt(rates[f.Symbol]),
			CollateralFactor: big.NewInt(7500),
			IsActive:         true,
		}
		l.Rates[f.Symbol] = rates[f.Symbol]
	}
	return l
}

// Update mutates the ledger under its lock.
func (l *LedgerState) Update(fn func(l *LedgerState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

// Account returns the state of addr, creating an unverified empty account.
// Callers outside Update must not mutate the result concurrently with queries.
func (l *LedgerState) Account(addr common.Address) *AccountState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(addr)
}

func (l *LedgerState) account(addr common.Address) *AccountState {
	a, ok := l.Accounts[addr]
	if !ok {
		a = &AccountState{
			Deposit:          new(big.Int),
			Borrowed:         new(big.Int),
			LiquidationPrice: new(big.Int),
			Position: blockchain.UserPositionTuple{
				CollateralValue:    new(big.Int),
				BorrowedValue:      new(big.Int),
				LastInterestUpdate: new(big.Int),
			},
			DID: blockchain.DIDInfoTuple{
				VerificationTime: new(big.Int),
				CreditScore:      new(big.Int),
				ReputationPoints: new(big.Int),
				TotalBorrowed:    new(big.Int),
				TotalRepaid:      new(big.Int),
			},
		}
		l.Accounts[addr] = a
	}
	return a
}

// Verify marks addr verified with a DID and credit score, as verifyDIDAndAccess does.
func (l *LedgerState) Verify(addr common.Address, did string, score int64) {
	l.Update(func(l *LedgerState) {
		a := l.account(addr)
		a.Verified = true
		a.DID.Did = did
		a.DID.CreditScore = big.NewInt(score)
		a.DID.IsActive = true
	})
}

// Query answers a read the way the lending pool would.
func (l *LedgerState) Query(_ context.Context, method string, args ...any) ([]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.MethodErrors[method]; ok {
		return nil, err
	}

	switch method {
	case blockchain.MethodCheckUserAccess, blockchain.MethodIsVerified:
		return []any{l.account(argAddress(args)).Verified}, nil
	case blockchain.MethodGetDepositBalance:
		return []any{new(big.Int).Set(l.account(argAddress(args)).Deposit)}, nil
	case blockchain.MethodBorrowedAmounts:
		return []any{new(big.Int).Set(l.account(argAddress(args)).Borrowed)}, nil
	case blockchain.MethodGetUserPosition:
		return []any{l.account(argAddress(args)).Position}, nil
	case blockchain.MethodGetDIDInfo:
		return []any{l.account(argAddress(args)).DID}, nil
	case blockchain.MethodGetCollateralRatio:
		return []any{big.NewInt(l.account(argAddress(args)).RatioBps)}, nil
	case blockchain.MethodGetLiquidationPrice:
		return []any{new(big.Int).Set(l.account(argAddress(args)).LiquidationPrice)}, nil
	case blockchain.MethodGetAssetInfo:
		symbol := argString(args)
		if err, ok := l.AssetErrors[symbol]; ok {
			return nil, err
		}
		return []any{l.Assets[symbol]}, nil
	case blockchain.MethodGetDynamicBorrowRate:
		symbol := argString(args)
		if err, ok := l.AssetErrors[symbol]; ok {
			return nil, err
		}
		return []any{big.NewInt(l.Rates[symbol])}, nil
	case blockchain.MethodCheckPriceFeedHealth:
		index := argIndex(args)
		if err, ok := l.FeedErrors[index]; ok {
			return nil, err
		}
		f, ok := l.Feeds[index]
		if !ok {
			return nil, entity.NewRevertedError("Invalid price feed index")
		}
		return []any{f.IsHealthy, f.Price, f.LastUpdated, f.HoursSinceUpdate}, nil
	case blockchain.MethodGetPriceFormatted:
		index := argIndex(args)
		if err, ok := l.FeedErrors[index]; ok {
			return nil, err
		}
		f, ok := l.Feeds[index]
		if !ok || !f.IsHealthy {
			return nil, entity.NewRevertedError("Price data is stale")
		}
		return []any{entity.NewAmount(f.Price, entity.PriceDecimals).StringFixed(2)}, nil
	case blockchain.MethodCheckUpkeep:
		return []any{false, []byte{}}, nil
	case blockchain.MethodMinUSDCPrice:
		return []any{big.NewInt(99_000_000)}, nil
	case blockchain.MethodLiquidationThreshold:
		return []any{big.NewInt(8000)}, nil
	case blockchain.MethodLiquidationBonus:
		return []any{big.NewInt(500)}, nil
	case blockchain.MethodInterestRatePrecision:
		return []any{big.NewInt(10_000)}, nil
	case blockchain.MethodUSDPrecision:
		return []any{big.NewInt(100_000_000)}, nil
	}
	return nil, fmt.Errorf("ledger state: unsupported method %s", method)
}

func argAddress(args []any) common.Address {
	if len(args) > 0 {
		if a, ok := args[0].(common.Address); ok {
			return a
		}
	}
	return common.Address{}
}

func argString(args []any) string {
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			return s
		}
	}
	return ""
}

func argIndex(args []any) uint64 {
	if len(args) > 0 {
		if v, ok := args[0].(*big.Int); ok {
			return v.Uint64()
		}
	}
	return 0
}
