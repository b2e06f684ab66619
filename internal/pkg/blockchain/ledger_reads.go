package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/chainguard/internal/domain/entity"
)

// Lending pool read methods.
const (
	MethodCheckUserAccess      = "checkUserAccess"
	MethodIsVerified           = "isVerified"
	MethodGetDepositBalance    = "getDepositBalance"
	MethodBorrowedAmounts      = "borrowedAmounts"
	MethodGetUserPosition      = "getUserPosition"
	MethodGetDIDInfo           = "getDIDInfo"
	MethodGetAssetInfo         = "getAssetInfo"
	MethodGetDynamicBorrowRate = "getDynamicBorrowRate"
	MethodGetCollateralRatio   = "getCollateralRatio"
	MethodGetLiquidationPrice  = "getLiquidationPrice"
	MethodCheckPriceFeedHealth = "checkPriceFeedHealth"
	MethodGetPriceFormatted    = "getPriceFormatted"
	MethodCheckUpkeep          = "checkUpkeep"

	MethodMinUSDCPrice          = "MIN_USDC_PRICE"
	MethodLiquidationThreshold  = "LIQUIDATION_THRESHOLD"
	MethodLiquidationBonus      = "LIQUIDATION_BONUS"
	MethodInterestRatePrecision = "INTEREST_RATE_PRECISION"
	MethodUSDPrecision          = "USD_PRECISION"
)

// Querier is the read half of outbound.LedgerGateway.
type Querier interface {
	Query(ctx context.Context, method string, args ...any) ([]any, error)
}

// UserPositionTuple matches the getUserPosition output tuple.
type UserPositionTuple struct {
	CollateralValue    *big.Int
	BorrowedValue      *big.Int
	LastInterestUpdate *big.Int
	IsLiquidatable     bool
}

// DIDInfoTuple matches the getDIDInfo output tuple.
type DIDInfoTuple struct {
	Did              string
	VerificationTime *big.Int
	CreditScore      *big.Int
	IsActive         bool
	ReputationPoints *big.Int
	TotalBorrowed    *big.Int
	TotalRepaid      *big.Int
}

// AssetInfoTuple matches the getAssetInfo output tuple.
type AssetInfoTuple struct {
	Symbol           string
	PriceIndex       *big.Int
	BaseBorrowRate   *big.Int
	CollateralFactor *big.Int
	IsActive         bool
}

// FeedHealthResult is the checkPriceFeedHealth output.
type FeedHealthResult struct {
	IsHealthy        bool
	Price            *big.Int
	LastUpdated      *big.Int
	HoursSinceUpdate *big.Int
}

var errEmptyOutput = errors.New("empty output")

// convertTuple converts an unpacked ABI tuple into T. abi.ConvertType panics
// on a shape mismatch; that is reported as an error instead.
func convertTuple[T any](method string, out []any) (t T, err error) {
	if len(out) == 0 {
		return t, fmt.Errorf("decode %s: %w", method, errEmptyOutput)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode %s: unexpected output %T: %v", method, out[0], r)
		}
	}()
	return *abi.ConvertType(out[0], new(T)).(*T), nil
}

func outputAt[T any](method string, out []any, i int) (T, error) {
	var zero T
	if len(out) <= i {
		return zero, fmt.Errorf("decode %s: %w", method, errEmptyOutput)
	}
	v, ok := out[i].(T)
	if !ok {
		return zero, fmt.Errorf("decode %s: output %d is %T, want %T", method, i, out[i], zero)
	}
	return v, nil
}

func queryOne[T any](ctx context.Context, q Querier, method string, args ...any) (T, error) {
	out, err := q.Query(ctx, method, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return outputAt[T](method, out, 0)
}

func bigInt64(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

// CheckUserAccess reads whether the account has verified access.
func CheckUserAccess(ctx context.Context, q Querier, account common.Address) (bool, error) {
	return queryOne[bool](ctx, q, MethodCheckUserAccess, account)
}

// GetDepositBalance reads the account's collateral balance in wei.
func GetDepositBalance(ctx context.Context, q Querier, account common.Address) (entity.Amount, error) {
	v, err := queryOne[*big.Int](ctx, q, MethodGetDepositBalance, account)
	if err != nil {
		return entity.Amount{}, err
	}
	return entity.NewAmount(v, entity.EtherDecimals), nil
}

// GetBorrowedAmount reads the account's outstanding debt in wei.
func GetBorrowedAmount(ctx context.Context, q Querier, account common.Address) (entity.Amount, error) {
	v, err := queryOne[*big.Int](ctx, q, MethodBorrowedAmounts, account)
	if err != nil {
		return entity.Amount{}, err
	}
	return entity.NewAmount(v, entity.EtherDecimals), nil
}

// GetUserPosition reads the account's position tuple.
func GetUserPosition(ctx context.Context, q Querier, account common.Address) (*entity.UserPosition, error) {
	out, err := q.Query(ctx, MethodGetUserPosition, account)
	if err != nil {
		return nil, err
	}
	t, err := convertTuple[UserPositionTuple](MethodGetUserPosition, out)
	if err != nil {
		return nil, err
	}
	return &entity.UserPosition{
		CollateralValueUSD: entity.NewAmount(t.CollateralValue, entity.USDDecimals),
		BorrowedValueUSD:   entity.NewAmount(t.BorrowedValue, entity.USDDecimals),
		LastInterestUpdate: unixTime(t.LastInterestUpdate),
		IsLiquidatable:     t.IsLiquidatable,
	}, nil
}

// GetDIDInfo reads the account's DID registry entry.
func GetDIDInfo(ctx context.Context, q Querier, account common.Address) (*entity.DIDProfile, error) {
	out, err := q.Query(ctx, MethodGetDIDInfo, account)
	if err != nil {
		return nil, err
	}
	t, err := convertTuple[DIDInfoTuple](MethodGetDIDInfo, out)
	if err != nil {
		return nil, err
	}
	return &entity.DIDProfile{
		DID:              t.Did,
		VerificationTime: unixTime(t.VerificationTime),
		CreditScore:      bigInt64(t.CreditScore),
		IsActive:         t.IsActive,
		ReputationPoints: bigInt64(t.ReputationPoints),
		TotalBorrowed:    entity.NewAmount(t.TotalBorrowed, entity.EtherDecimals),
		TotalRepaid:      entity.NewAmount(t.TotalRepaid, entity.EtherDecimals),
	}, nil
}

// GetAssetInfo reads the supported asset entry for symbol.
func GetAssetInfo(ctx context.Context, q Querier, symbol string) (*entity.AssetInfo, error) {
	out, err := q.Query(ctx, MethodGetAssetInfo, symbol)
	if err != nil {
		return nil, err
	}
	t, err := convertTuple[AssetInfoTuple](MethodGetAssetInfo, out)
	if err != nil {
		return nil, err
	}
	var index uint64
	if t.PriceIndex != nil && t.PriceIndex.IsUint64() {
		index = t.PriceIndex.Uint64()
	}
	return &entity.AssetInfo{
		Symbol:              t.Symbol,
		PriceFeedIndex:      index,
		BaseBorrowRateBps:   bigInt64(t.BaseBorrowRate),
		CollateralFactorBps: bigInt64(t.CollateralFactor),
		IsActive:            t.IsActive,
	}, nil
}

// GetDynamicBorrowRate reads the current borrow rate for symbol in basis points.
func GetDynamicBorrowRate(ctx context.Context, q Querier, symbol string) (int64, error) {
	v, err := queryOne[*big.Int](ctx, q, MethodGetDynamicBorrowRate, symbol)
	if err != nil {
		return 0, err
	}
	return bigInt64(v), nil
}

// GetCollateralRatio reads the account's collateral ratio in basis points.
func GetCollateralRatio(ctx context.Context, q Querier, account common.Address) (int64, error) {
	v, err := queryOne[*big.Int](ctx, q, MethodGetCollateralRatio, account)
	if err != nil {
		return 0, err
	}
	return bigInt64(v), nil
}

// GetLiquidationPrice reads the collateral price at which the account becomes
// liquidatable. The contract returns it with 18 decimals.
func GetLiquidationPrice(ctx context.Context, q Querier, account common.Address) (entity.Amount, error) {
	v, err := queryOne[*big.Int](ctx, q, MethodGetLiquidationPrice, account)
	if err != nil {
		return entity.Amount{}, err
	}
	return entity.NewAmount(v, entity.EtherDecimals), nil
}

// CheckPriceFeedHealth reads the health tuple of the feed at index.
func CheckPriceFeedHealth(ctx context.Context, q Querier, index uint64) (*FeedHealthResult, error) {
	method := MethodCheckPriceFeedHealth
	out, err := q.Query(ctx, method, new(big.Int).SetUint64(index))
	if err != nil {
		return nil, err
	}
	healthy, err := outputAt[bool](method, out, 0)
	if err != nil {
		return nil, err
	}
	price, err := outputAt[*big.Int](method, out, 1)
	if err != nil {
		return nil, err
	}
	updated, err := outputAt[*big.Int](method, out, 2)
	if err != nil {
		return nil, err
	}
	hours, err := outputAt[*big.Int](method, out, 3)
	if err != nil {
		return nil, err
	}
	return &FeedHealthResult{IsHealthy: healthy, Price: price, LastUpdated: updated, HoursSinceUpdate: hours}, nil
}

// ToPriceFeedHealth converts a health result into the domain value.
func (r *FeedHealthResult) ToPriceFeedHealth(feed entity.FeedConfig, checkedAt time.Time) entity.PriceFeedHealth {
	price := entity.NewAmount(r.Price, entity.PriceDecimals)
	hours := bigInt64(r.HoursSinceUpdate)
	return entity.PriceFeedHealth{
		Symbol:           feed.Symbol,
		FeedIndex:        feed.FeedIndex,
		IsHealthy:        r.IsHealthy,
		Price:            &price,
		LastUpdated:      unixTime(r.LastUpdated),
		HoursSinceUpdate: &hours,
		CheckedAt:        checkedAt,
	}
}

// GetPriceFormatted reads the ledger's human-formatted price string. The ledger
// reverts when the feed is stale.
func GetPriceFormatted(ctx context.Context, q Querier, index uint64) (string, error) {
	return queryOne[string](ctx, q, MethodGetPriceFormatted, new(big.Int).SetUint64(index))
}

// CheckUpkeep reads whether the contract's periodic maintenance is due.
func CheckUpkeep(ctx context.Context, q Querier) (bool, error) {
	return queryOne[bool](ctx, q, MethodCheckUpkeep, []byte{})
}

// ReadConstants reads the contract's constant getters. Every getter is
// attempted; failures are joined.
func ReadConstants(ctx context.Context, q Querier) (entity.ProtocolConstants, error) {
	var c entity.ProtocolConstants
	var errs []error
	read := func(method string, dst *int64) {
		v, err := queryOne[*big.Int](ctx, q, method)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", method, err))
			return
		}
		*dst = bigInt64(v)
	}
	read(MethodMinUSDCPrice, &c.MinStablePrice)
	read(MethodLiquidationThreshold, &c.LiquidationThresholdBps)
	read(MethodLiquidationBonus, &c.LiquidationBonusBps)
	read(MethodInterestRatePrecision, &c.RatePrecision)
	read(MethodUSDPrecision, &c.USDPrecision)
	return c, errors.Join(errs...)
}
