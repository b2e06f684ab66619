package abis

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// GetLendingPoolABI returns the ABI of the DID-gated lending pool contract.
// The definition is parsed once; callers share the result and must not mutate it.
func GetLendingPoolABI() (*abi.ABI, error) {
	return lendingPoolABI()
}

var lendingPoolABI = sync.OnceValues(func() (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(lendingPoolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing lending pool ABI: %w", err)
	}
	return &parsed, nil
})

const lendingPoolABIJSON = `[
		{"inputs": [{"name": "_priceFeedAddresses", "type": "address[]"}], "stateMutability": "nonpayable", "type": "constructor"},
		{"anonymous": false, "inputs": [{"indexed": true, "name": "user", "type": "address"}], "name": "AccessGranted", "type": "event"},
		{"anonymous": false, "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "reason", "type": "string"}], "name": "AccessDenied", "type": "event"},
		{"anonymous": false, "inputs": [{"indexed": false, "name": "symbol", "type": "string"}, {"indexed": false, "name": "priceIndex", "type": "uint256"}], "name": "AssetAdded", "type": "event"},
		{"anonymous": false, "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "newScore", "type": "uint256"}], "name": "CreditScoreUpdated", "type": "event"},
		{"anonymous": false, "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "did", "type": "string"}, {"indexed": false, "name": "creditScore", "type": "uint256"}], "name": "DIDVerified", "type": "event"},
		{"anonymous": false, "inputs": [{"indexed": false, "name": "asset", "type": "string"}, {"indexed": false, "name": "newRate", "type": "uint256"}], "name": "InterestRateUpdated", "type": "event"},
		{"anonymous": false, "inputs": [{"indexed": true, "name": "user", "type": "address"}, {"indexed": false, "name": "collateralLiquidated", "type": "uint256"}, {"indexed": false, "name": "debtRepaid", "type": "uint256"}], "name": "LiquidationExecuted", "type": "event"},
		{"anonymous": false, "inputs": [{"indexed": false, "name": "newThreshold", "type": "uint256"}], "name": "PriceDataStaleThresholdUpdated", "type": "event"},
		{"inputs": [], "name": "INTEREST_RATE_PRECISION", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [], "name": "LIQUIDATION_BONUS", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [], "name": "LIQUIDATION_THRESHOLD", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [], "name": "MIN_USDC_PRICE", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [], "name": "USD_PRECISION", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "symbol", "type": "string"}, {"name": "priceIndex", "type": "uint256"}, {"name": "borrowRate", "type": "uint256"}, {"name": "collateralFactor", "type": "uint256"}], "name": "addAsset", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [{"name": "_did", "type": "string"}], "name": "addValidDID", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [{"name": "amount", "type": "uint256"}], "name": "borrow", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [{"name": "", "type": "address"}], "name": "borrowedAmounts", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "index", "type": "uint256"}], "name": "checkPriceFeedHealth", "outputs": [{"name": "isHealthy", "type": "bool"}, {"name": "price", "type": "int256"}, {"name": "lastUpdated", "type": "uint256"}, {"name": "hoursSinceUpdate", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "", "type": "bytes"}], "name": "checkUpkeep", "outputs": [{"name": "upkeepNeeded", "type": "bool"}, {"name": "performData", "type": "bytes"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "user", "type": "address"}], "name": "checkUserAccess", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
		{"inputs": [], "name": "deposit", "outputs": [], "stateMutability": "payable", "type": "function"},
		{"inputs": [{"name": "", "type": "address"}], "name": "deposits", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "", "type": "address"}], "name": "didRegistry", "outputs": [{"name": "did", "type": "string"}, {"name": "verificationTime", "type": "uint256"}, {"name": "creditScore", "type": "uint256"}, {"name": "isActive", "type": "bool"}, {"name": "reputationPoints", "type": "uint256"}, {"name": "totalBorrowed", "type": "uint256"}, {"name": "totalRepaid", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [], "name": "emergencyWithdraw", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [], "name": "getAllPrices", "outputs": [{"name": "", "type": "int256[]"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "asset", "type": "string"}], "name": "getAssetInfo", "outputs": [{"components": [{"name": "symbol", "type": "string"}, {"name": "priceIndex", "type": "uint256"}, {"name": "baseBorrowRate", "type": "uint256"}, {"name": "collateralFactor", "type": "uint256"}, {"name": "isActive", "type": "bool"}], "name": "", "type": "tuple"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "user", "type": "address"}], "name": "getCollateralRatio", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "user", "type": "address"}], "name": "getDIDInfo", "outputs": [{"components": [{"name": "did", "type": "string"}, {"name": "verificationTime", "type": "uint256"}, {"name": "creditScore", "type": "uint256"}, {"name": "isActive", "type": "bool"}, {"name": "reputationPoints", "type": "uint256"}, {"name": "totalBorrowed", "type": "uint256"}, {"name": "totalRepaid", "type": "uint256"}], "name": "", "type": "tuple"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "user", "type": "address"}], "name": "getDepositBalance", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "asset", "type": "string"}], "name": "getDynamicBorrowRate", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "index", "type": "uint256"}], "name": "getLatestPrice", "outputs": [{"name": "", "type": "int256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "index", "type": "uint256"}], "name": "getLatestPriceUnsafe", "outputs": [{"name": "", "type": "int256"}, {"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "user", "type": "address"}], "name": "getLiquidationPrice", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "index", "type": "uint256"}], "name": "getPriceFormatted", "outputs": [{"name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "user", "type": "address"}], "name": "getUserPosition", "outputs": [{"components": [{"name": "collateralValue", "type": "uint256"}, {"name": "borrowedValue", "type": "uint256"}, {"name": "lastInterestUpdate", "type": "uint256"}, {"name": "isLiquidatable", "type": "bool"}], "name": "", "type": "tuple"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "", "type": "address"}], "name": "isVerified", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
		{"inputs": [], "name": "lastUpkeepTime", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "user", "type": "address"}], "name": "liquidate", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [], "name": "owner", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
		{"inputs": [], "name": "pause", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [{"name": "", "type": "bytes"}], "name": "performUpkeep", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [], "name": "priceDataStaleThreshold", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "", "type": "uint256"}], "name": "priceFeeds", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "newThreshold", "type": "uint256"}], "name": "setPriceDataStaleThreshold", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [{"name": "", "type": "string"}], "name": "supportedAssets", "outputs": [{"name": "symbol", "type": "string"}, {"name": "priceIndex", "type": "uint256"}, {"name": "baseBorrowRate", "type": "uint256"}, {"name": "collateralFactor", "type": "uint256"}, {"name": "isActive", "type": "bool"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "newInterval", "type": "uint256"}], "name": "updateUpkeepInterval", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"inputs": [], "name": "upkeepInterval", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "", "type": "address"}], "name": "userDID", "outputs": [{"name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "", "type": "address"}], "name": "userPositions", "outputs": [{"name": "collateralValue", "type": "uint256"}, {"name": "borrowedValue", "type": "uint256"}, {"name": "lastInterestUpdate", "type": "uint256"}, {"name": "isLiquidatable", "type": "bool"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "", "type": "string"}], "name": "validDIDs", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
		{"inputs": [{"name": "_did", "type": "string"}], "name": "verifyDIDAndAccess", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
		{"stateMutability": "payable", "type": "receive"}
	]`
